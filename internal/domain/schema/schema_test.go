package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexkit/indexcore/internal/domain/schema"
)

func tokenSchema(t *testing.T) schema.Schema {
	t.Helper()
	b := schema.NewBuilder()
	b.AddEnum("TransferKind", []string{"mint", "burn", "move"})
	b.AddTable("Account", []schema.Column{
		{Name: "id", Kind: schema.KindScalar, Scalar: schema.ScalarBytes},
		{Name: "balance", Kind: schema.KindScalar, Scalar: schema.ScalarBigInt},
	})
	b.AddTable("Transfer", []schema.Column{
		{Name: "id", Kind: schema.KindScalar, Scalar: schema.ScalarString},
		{Name: "from", Kind: schema.KindReference, RefTable: "Account"},
		{Name: "to", Kind: schema.KindReference, RefTable: "Account"},
		{Name: "amount", Kind: schema.KindScalar, Scalar: schema.ScalarBigInt},
		{Name: "kind", Kind: schema.KindEnum, EnumName: "TransferKind"},
		{Name: "tags", Kind: schema.KindScalar, Scalar: schema.ScalarString, List: true, Optional: true},
		{Name: "transfers", Kind: schema.KindMany, RefTable: "Transfer"},
	})
	s, err := b.Build()
	require.NoError(t, err)
	return s
}

func TestBuildValidSchema(t *testing.T) {
	s := tokenSchema(t)
	assert.ElementsMatch(t, []string{"Account", "Transfer"}, s.TableNames())

	transfer := s.Tables["Transfer"]
	assert.Len(t, transfer.MaterializedColumns(), 6) // "transfers" (many) is virtual

	amount, ok := transfer.Column("amount")
	require.True(t, ok)
	assert.Equal(t, schema.ScalarBigInt, amount.Scalar)
}

func TestRejectsMissingIDColumn(t *testing.T) {
	b := schema.NewBuilder()
	b.AddTable("Bad", []schema.Column{
		{Name: "name", Kind: schema.KindScalar, Scalar: schema.ScalarString},
	})
	_, err := b.Build()
	assert.Error(t, err)
}

func TestRejectsOptionalOrListID(t *testing.T) {
	for _, col := range []schema.Column{
		{Name: "id", Kind: schema.KindScalar, Scalar: schema.ScalarString, Optional: true},
		{Name: "id", Kind: schema.KindScalar, Scalar: schema.ScalarString, List: true},
	} {
		b := schema.NewBuilder()
		b.AddTable("Bad", []schema.Column{col})
		_, err := b.Build()
		assert.Error(t, err)
	}
}

func TestRejectsDanglingReference(t *testing.T) {
	b := schema.NewBuilder()
	b.AddTable("Transfer", []schema.Column{
		{Name: "id", Kind: schema.KindScalar, Scalar: schema.ScalarString},
		{Name: "from", Kind: schema.KindReference, RefTable: "DoesNotExist"},
	})
	_, err := b.Build()
	assert.Error(t, err)
}

func TestRejectsUndeclaredEnum(t *testing.T) {
	b := schema.NewBuilder()
	b.AddTable("Transfer", []schema.Column{
		{Name: "id", Kind: schema.KindScalar, Scalar: schema.ScalarString},
		{Name: "kind", Kind: schema.KindEnum, EnumName: "Nope"},
	})
	_, err := b.Build()
	assert.Error(t, err)
}

func TestRejectsDuplicateEnumValues(t *testing.T) {
	b := schema.NewBuilder()
	b.AddEnum("Bad", []string{"a", "a"})
	b.AddTable("T", []schema.Column{
		{Name: "id", Kind: schema.KindScalar, Scalar: schema.ScalarString},
		{Name: "x", Kind: schema.KindEnum, EnumName: "Bad"},
	})
	_, err := b.Build()
	assert.Error(t, err)
}

func TestRejectsReservedColumnNames(t *testing.T) {
	for _, reserved := range []string{"effectiveFromCheckpoint", "effectiveToCheckpoint"} {
		b := schema.NewBuilder()
		b.AddTable("T", []schema.Column{
			{Name: "id", Kind: schema.KindScalar, Scalar: schema.ScalarString},
			{Name: reserved, Kind: schema.KindScalar, Scalar: schema.ScalarInt},
		})
		_, err := b.Build()
		assert.Error(t, err)
	}
}

func TestRejectsDuplicateColumnNames(t *testing.T) {
	b := schema.NewBuilder()
	b.AddTable("T", []schema.Column{
		{Name: "id", Kind: schema.KindScalar, Scalar: schema.ScalarString},
		{Name: "id", Kind: schema.KindScalar, Scalar: schema.ScalarInt},
	})
	_, err := b.Build()
	assert.Error(t, err)
}
