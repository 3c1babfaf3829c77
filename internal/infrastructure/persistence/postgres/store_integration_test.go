//go:build integration

package postgres_test

import (
	"context"
	"math/big"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/indexkit/indexcore/internal/domain/checkpoint"
	"github.com/indexkit/indexcore/internal/domain/schema"
	"github.com/indexkit/indexcore/internal/domain/store"
	"github.com/indexkit/indexcore/internal/infrastructure/persistence/postgres"
	domerrors "github.com/indexkit/indexcore/internal/pkg/errors"
	"github.com/indexkit/indexcore/internal/pkg/metrics"
)

var testPool *pgxpool.Pool

// testMetrics is built once: metrics.New registers its vectors with the
// default Prometheus registry, which rejects a second registration.
var testMetrics = metrics.New("indexcore_test")

// TestMain brings up a disposable PostgreSQL container for the whole
// package, skipped in short mode per the project's usual
// `go test ./... -short` fast path.
func TestMain(m *testing.M) {
	if testing.Short() {
		os.Exit(0)
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:17",
		tcpostgres.WithDatabase("indexcore_test"),
		tcpostgres.WithUsername("indexcore"),
		tcpostgres.WithPassword("indexcore"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2)),
	)
	if err != nil {
		panic("failed to start postgres container: " + err.Error())
	}
	defer container.Terminate(ctx)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		panic("failed to resolve connection string: " + err.Error())
	}

	testPool, err = pgxpool.New(ctx, dsn)
	if err != nil {
		panic("failed to connect to test database: " + err.Error())
	}
	defer testPool.Close()

	os.Exit(m.Run())
}

func accountSchema(t *testing.T) schema.Schema {
	t.Helper()
	b := schema.NewBuilder()
	b.AddTable("Account", []schema.Column{
		{Name: "id", Kind: schema.KindScalar, Scalar: schema.ScalarBytes},
		{Name: "balance", Kind: schema.KindScalar, Scalar: schema.ScalarBigInt},
	})
	s, err := b.Build()
	require.NoError(t, err)
	return s
}

func newTestStore(t *testing.T) (*postgres.Store, *postgres.NamespaceManager, schema.Schema) {
	t.Helper()
	ctx := context.Background()
	s := accountSchema(t)
	ns := postgres.NewNamespaceManager(testPool, t.Name(), testMetrics)
	require.NoError(t, ns.Reload(ctx, s, []byte(`{}`)))
	return postgres.NewStore(testPool, ns.Namespace(), s, testMetrics), ns, s
}

func cp(timestamp, blockNumber uint64) string {
	return checkpoint.Encode(checkpoint.New(timestamp, 1, blockNumber, 0, 0))
}

func bigIntVal(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad bigint literal: " + s)
	}
	return n
}

func TestStore_CreateThenFindUnique_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	data := store.Row{
		"id":      store.Bytes("0x01"),
		"balance": store.BigInt(bigIntVal("100")),
	}
	_, err := s.Create(ctx, "Account", cp(1, 1), "0x01", data)
	require.NoError(t, err)

	got, err := s.FindUnique(ctx, "Account", "0x01", checkpoint.Latest)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "100", got["balance"].BigIntVal().String())
}

func TestStore_UpdateSquashesWithinSameCheckpoint_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	data := store.Row{"id": store.Bytes("0x02"), "balance": store.BigInt(bigIntVal("1"))}
	_, err := s.Create(ctx, "Account", cp(1, 1), "0x02", data)
	require.NoError(t, err)

	patch := store.StaticPatch(store.Row{"balance": store.BigInt(bigIntVal("2"))})
	_, err = s.Update(ctx, "Account", cp(1, 1), "0x02", patch)
	require.NoError(t, err)

	got, err := s.FindUnique(ctx, "Account", "0x02", checkpoint.Latest)
	require.NoError(t, err)
	require.Equal(t, "2", got["balance"].BigIntVal().String())
}

func TestStore_UpdateBranchesOnLaterCheckpoint_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	data := store.Row{"id": store.Bytes("0x03"), "balance": store.BigInt(bigIntVal("1"))}
	_, err := s.Create(ctx, "Account", cp(1, 1), "0x03", data)
	require.NoError(t, err)

	patch := store.StaticPatch(store.Row{"balance": store.BigInt(bigIntVal("2"))})
	_, err = s.Update(ctx, "Account", cp(2, 2), "0x03", patch)
	require.NoError(t, err)

	atCreate, err := s.FindUnique(ctx, "Account", "0x03", cp(1, 1))
	require.NoError(t, err)
	require.Equal(t, "1", atCreate["balance"].BigIntVal().String())

	latest, err := s.FindUnique(ctx, "Account", "0x03", checkpoint.Latest)
	require.NoError(t, err)
	require.Equal(t, "2", latest["balance"].BigIntVal().String())
}

func TestStore_DeleteInSameCheckpointRemovesRow_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	data := store.Row{"id": store.Bytes("0x05"), "balance": store.BigInt(bigIntVal("1"))}
	_, err := s.Create(ctx, "Account", cp(1, 1), "0x05", data)
	require.NoError(t, err)

	deleted, err := s.Delete(ctx, "Account", cp(1, 1), "0x05")
	require.NoError(t, err)
	require.True(t, deleted)

	got, err := s.FindUnique(ctx, "Account", "0x05", checkpoint.Latest)
	require.NoError(t, err)
	require.Nil(t, got)

	atCreate, err := s.FindUnique(ctx, "Account", "0x05", cp(1, 1))
	require.NoError(t, err)
	require.Nil(t, atCreate)
}

func TestStore_DeleteAtLaterCheckpointPreservesHistory_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	data := store.Row{"id": store.Bytes("0x06"), "balance": store.BigInt(bigIntVal("1"))}
	_, err := s.Create(ctx, "Account", cp(1, 1), "0x06", data)
	require.NoError(t, err)

	deleted, err := s.Delete(ctx, "Account", cp(2, 2), "0x06")
	require.NoError(t, err)
	require.True(t, deleted)

	latest, err := s.FindUnique(ctx, "Account", "0x06", checkpoint.Latest)
	require.NoError(t, err)
	require.Nil(t, latest)

	atCreate, err := s.FindUnique(ctx, "Account", "0x06", cp(1, 1))
	require.NoError(t, err)
	require.NotNil(t, atCreate)
	require.Equal(t, "1", atCreate["balance"].BigIntVal().String())
}

func TestStore_UpsertCreatesWhenMissing_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	create := store.Row{"id": store.Bytes("0x07"), "balance": store.BigInt(bigIntVal("5"))}
	patch := store.StaticPatch(store.Row{"balance": store.BigInt(bigIntVal("9"))})

	got, err := s.Upsert(ctx, "Account", cp(1, 1), "0x07", create, patch)
	require.NoError(t, err)
	require.Equal(t, "5", got["balance"].BigIntVal().String())

	stored, err := s.FindUnique(ctx, "Account", "0x07", checkpoint.Latest)
	require.NoError(t, err)
	require.Equal(t, "5", stored["balance"].BigIntVal().String())
}

func TestStore_UpsertUpdatesWhenPresent_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	data := store.Row{"id": store.Bytes("0x08"), "balance": store.BigInt(bigIntVal("1"))}
	_, err := s.Create(ctx, "Account", cp(1, 1), "0x08", data)
	require.NoError(t, err)

	create := store.Row{"id": store.Bytes("0x08"), "balance": store.BigInt(bigIntVal("99"))}
	patch := store.StaticPatch(store.Row{"balance": store.BigInt(bigIntVal("2"))})

	got, err := s.Upsert(ctx, "Account", cp(1, 1), "0x08", create, patch)
	require.NoError(t, err)
	require.Equal(t, "2", got["balance"].BigIntVal().String())
}

func TestStore_UpdateNonexistentRowReturnsNotFound_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	patch := store.StaticPatch(store.Row{"balance": store.BigInt(bigIntVal("2"))})
	_, err := s.Update(ctx, "Account", cp(1, 1), "0xdoesnotexist", patch)
	require.ErrorIs(t, err, domerrors.ErrNotFound)
}

func TestStore_UpdateAtEarlierCheckpointReturnsPastWrite_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	data := store.Row{"id": store.Bytes("0x09"), "balance": store.BigInt(bigIntVal("1"))}
	_, err := s.Create(ctx, "Account", cp(5, 5), "0x09", data)
	require.NoError(t, err)

	patch := store.StaticPatch(store.Row{"balance": store.BigInt(bigIntVal("2"))})
	_, err = s.Update(ctx, "Account", cp(1, 1), "0x09", patch)
	require.ErrorIs(t, err, domerrors.ErrPastWrite)
}

func TestStore_CreateMissingRequiredColumnReturnsSchemaConflict_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	data := store.Row{"id": store.Bytes("0x0a")}
	_, err := s.Create(ctx, "Account", cp(1, 1), "0x0a", data)
	require.ErrorIs(t, err, domerrors.ErrSchemaConflict)
}

func TestRevertController_ReopensRevertedRows_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}
	ctx := context.Background()
	s, ns, sch := newTestStore(t)

	data := store.Row{"id": store.Bytes("0x04"), "balance": store.BigInt(bigIntVal("1"))}
	_, err := s.Create(ctx, "Account", cp(1, 1), "0x04", data)
	require.NoError(t, err)
	patch := store.StaticPatch(store.Row{"balance": store.BigInt(bigIntVal("2"))})
	_, err = s.Update(ctx, "Account", cp(2, 2), "0x04", patch)
	require.NoError(t, err)

	revertCtl := postgres.NewRevertController(testPool, ns.Namespace(), sch, 0)
	require.NoError(t, revertCtl.Revert(ctx, cp(2, 2)))

	got, err := s.FindUnique(ctx, "Account", "0x04", checkpoint.Latest)
	require.NoError(t, err)
	require.Equal(t, "1", got["balance"].BigIntVal().String())
}
