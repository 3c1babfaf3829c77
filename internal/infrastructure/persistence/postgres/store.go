// Package postgres implements the bitemporal IndexingStore, the
// namespace manager, and the revert controller against PostgreSQL,
// using plain SQL strings with explicit transactions rather than an
// ORM or query builder.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/indexkit/indexcore/internal/domain/checkpoint"
	"github.com/indexkit/indexcore/internal/domain/schema"
	"github.com/indexkit/indexcore/internal/domain/store"
	domerrors "github.com/indexkit/indexcore/internal/pkg/errors"
	"github.com/indexkit/indexcore/internal/pkg/metrics"
)

// tracer emits spans for every IndexingStore operation against whatever
// TracerProvider the embedder has registered globally; with none
// registered it's a harmless no-op, per OTel convention.
var tracer = otel.Tracer("github.com/indexkit/indexcore/internal/infrastructure/persistence/postgres")

// startSpan opens a client-kind span for a store operation, tagging it
// with the target table so traces can be sliced per table in a backend
// like Jaeger or Tempo.
func startSpan(ctx context.Context, op, table string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "store."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("indexcore.table", table)))
}

// endSpan records err on span, if any, and closes it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// MaxBatchSize bounds createMany's per-statement chunk size (§4.5).
const MaxBatchSize = 1000

// DefaultPageSize is used by FindMany when args.Take is zero.
const DefaultPageSize = 100

// MaxPageSize is the hard ceiling FindMany enforces on Take.
const MaxPageSize = 1000

// Store is the Postgres-backed implementation of store.Store. One
// Store instance is bound to a single namespace (schema) and the
// schema.Schema describing its tables.
type Store struct {
	pool      *pgxpool.Pool
	namespace string
	schema    schema.Schema
	metrics   *metrics.Recorder
}

// NewStore wraps pool with namespace ns and the validated schema s.
func NewStore(pool *pgxpool.Pool, ns string, s schema.Schema, m *metrics.Recorder) *Store {
	return &Store{pool: pool, namespace: ns, schema: s, metrics: m}
}

func (st *Store) table(name string) (schema.Table, error) {
	t, ok := st.schema.Tables[name]
	if !ok {
		return schema.Table{}, domerrors.InvalidInput("table", "unknown table: "+name)
	}
	return t, nil
}

func (st *Store) observe(method, table string, start time.Time) {
	if st.metrics != nil {
		st.metrics.ObserveStoreMethod(method, table, time.Since(start))
	}
}

// Create implements store.Store.
func (st *Store) Create(ctx context.Context, table, checkpointStr, id string, data store.Row) (row store.Row, err error) {
	defer st.observe("create", table, time.Now())
	ctx, span := startSpan(ctx, "Create", table)
	defer func() { endSpan(span, err) }()

	t, err := st.table(table)
	if err != nil {
		return nil, err
	}

	cols, vals, err := encodeRow(t, id, data)
	if err != nil {
		return nil, err
	}

	colNames := make([]string, 0, len(cols)+3)
	placeholders := make([]string, 0, len(cols)+3)
	args := make([]any, 0, len(cols)+3)
	for i, c := range cols {
		colNames = append(colNames, quoteIdent(c))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, vals[i])
	}
	colNames = append(colNames, `"effectiveFromCheckpoint"`, `"effectiveToCheckpoint"`)
	placeholders = append(placeholders,
		fmt.Sprintf("$%d", len(args)+1), fmt.Sprintf("$%d", len(args)+2))
	args = append(args, checkpointStr, checkpoint.Latest)

	idCol := quoteIdent(t.IDColumn().Name)
	query := fmt.Sprintf(
		`INSERT INTO %s (%s) SELECT %s WHERE NOT EXISTS (SELECT 1 FROM %s WHERE %s = $%d AND "effectiveToCheckpoint" = $%d)`,
		qualify(st.namespace, versionedTableName(table)), strings.Join(colNames, ", "),
		strings.Join(placeholders, ", "),
		qualify(st.namespace, versionedTableName(table)), idCol, len(args)+1, len(args)+2,
	)
	args = append(args, idFromSQLArg(vals, t), checkpoint.Latest)

	tag, err := st.pool.Exec(ctx, query, args...)
	if err != nil {
		return nil, mapWriteError(table, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domerrors.AlreadyExists(table, id)
	}
	return data, nil
}

// idFromSQLArg finds the already-encoded id value among vals, matching
// by column position of the id column within t's materialized columns.
func idFromSQLArg(vals []any, t schema.Table) any {
	for i, c := range t.MaterializedColumns() {
		if c.Name == t.IDColumn().Name {
			return vals[i]
		}
	}
	return nil
}

// CreateMany implements store.Store, chunking at MaxBatchSize and
// treating each chunk as its own transaction (§5: non-atomic across
// chunks).
func (st *Store) CreateMany(ctx context.Context, table, checkpointStr string, rows []store.RowWithID) (out []store.Row, err error) {
	defer st.observe("createMany", table, time.Now())
	ctx, span := startSpan(ctx, "CreateMany", table)
	span.SetAttributes(attribute.Int("indexcore.row_count", len(rows)))
	defer func() { endSpan(span, err) }()

	out = make([]store.Row, 0, len(rows))
	for start := 0; start < len(rows); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]
		if err := st.insertChunk(ctx, table, checkpointStr, chunk); err != nil {
			return out, err
		}
		for _, r := range chunk {
			out = append(out, r.Data)
		}
	}
	return out, nil
}

func (st *Store) insertChunk(ctx context.Context, table, checkpointStr string, rows []store.RowWithID) error {
	t, err := st.table(table)
	if err != nil {
		return err
	}

	tx, err := st.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("createMany: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	cols := t.MaterializedColumns()
	colNames := make([]string, 0, len(cols)+2)
	for _, c := range cols {
		colNames = append(colNames, quoteIdent(c.Name))
	}
	colNames = append(colNames, `"effectiveFromCheckpoint"`, `"effectiveToCheckpoint"`)

	valueRows := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*(len(cols)+2))
	argN := 1
	for _, r := range rows {
		_, vals, err := encodeRow(t, r.ID, r.Data)
		if err != nil {
			return err
		}
		placeholders := make([]string, 0, len(vals)+2)
		for _, v := range vals {
			placeholders = append(placeholders, fmt.Sprintf("$%d", argN))
			args = append(args, v)
			argN++
		}
		placeholders = append(placeholders, fmt.Sprintf("$%d", argN), fmt.Sprintf("$%d", argN+1))
		args = append(args, checkpointStr, checkpoint.Latest)
		argN += 2
		valueRows = append(valueRows, "("+strings.Join(placeholders, ", ")+")")
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		qualify(st.namespace, versionedTableName(table)),
		strings.Join(colNames, ", "), strings.Join(valueRows, ", "))

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return mapWriteError(table, err)
	}
	return tx.Commit(ctx)
}

// Update implements store.Store's squash/branch rule (§4.5 step 4/5).
func (st *Store) Update(ctx context.Context, table, checkpointStr, id string, patch store.Patch) (row store.Row, err error) {
	defer st.observe("update", table, time.Now())
	ctx, span := startSpan(ctx, "Update", table)
	defer func() { endSpan(span, err) }()

	t, err := st.table(table)
	if err != nil {
		return nil, err
	}

	tx, err := st.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("update: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	current, fromCp, err := st.loadCurrentForUpdate(ctx, tx, t, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domerrors.NotFound(table, id)
	}

	if checkpoint.Less(checkpointStr, fromCp) {
		return nil, domerrors.PastWrite(table, id, fromCp, checkpointStr)
	}

	resolved, err := patch.Resolve(*current)
	if err != nil {
		return nil, err
	}
	merged := current.Merge(resolved)

	if fromCp == checkpointStr {
		if err := st.squashUpdate(ctx, tx, t, id, merged); err != nil {
			return nil, err
		}
	} else {
		if err := st.branchUpdate(ctx, tx, t, id, checkpointStr, merged); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("update: commit: %w", err)
	}
	return merged, nil
}

func (st *Store) loadCurrentForUpdate(ctx context.Context, tx pgx.Tx, t schema.Table, id string) (*store.Row, string, error) {
	cols := t.MaterializedColumns()
	selected := make([]string, len(cols))
	for i, c := range cols {
		selected[i] = quoteIdent(c.Name)
	}
	query := fmt.Sprintf(`SELECT %s, "effectiveFromCheckpoint" FROM %s WHERE %s = $1 AND "effectiveToCheckpoint" = $2 FOR UPDATE`,
		strings.Join(selected, ", "), qualify(st.namespace, versionedTableName(t.Name)), quoteIdent(t.IDColumn().Name))

	idArg, err := encodeIDArg(t, id)
	if err != nil {
		return nil, "", err
	}
	row := tx.QueryRow(ctx, query, idArg, checkpoint.Latest)

	dest := make([]any, len(cols)+1)
	raws := make([]any, len(cols))
	for i := range cols {
		dest[i] = &raws[i]
	}
	var fromCp string
	dest[len(cols)] = &fromCp

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("update: load current: %w", err)
	}

	decoded, err := decodeRow(t, cols, raws)
	if err != nil {
		return nil, "", err
	}
	return &decoded, fromCp, nil
}

func (st *Store) squashUpdate(ctx context.Context, tx pgx.Tx, t schema.Table, id string, merged store.Row) error {
	cols := t.MaterializedColumns()
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+2)
	for i, c := range cols {
		v, err := toSQL(c, merged[c.Name])
		if err != nil {
			return err
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", quoteIdent(c.Name), i+1))
		args = append(args, v)
	}
	idArg, err := encodeIDArg(t, id)
	if err != nil {
		return err
	}
	args = append(args, idArg, checkpoint.Latest)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s = $%d AND "effectiveToCheckpoint" = $%d`,
		qualify(st.namespace, versionedTableName(t.Name)), strings.Join(sets, ", "),
		quoteIdent(t.IDColumn().Name), len(args)-1, len(args))
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return mapWriteError(t.Name, err)
	}
	return nil
}

func (st *Store) branchUpdate(ctx context.Context, tx pgx.Tx, t schema.Table, id, checkpointStr string, merged store.Row) error {
	idArg, err := encodeIDArg(t, id)
	if err != nil {
		return err
	}
	closeQuery := fmt.Sprintf(`UPDATE %s SET "effectiveToCheckpoint" = $1 WHERE %s = $2 AND "effectiveToCheckpoint" = $3`,
		qualify(st.namespace, versionedTableName(t.Name)), quoteIdent(t.IDColumn().Name))
	if _, err := tx.Exec(ctx, closeQuery, checkpointStr, idArg, checkpoint.Latest); err != nil {
		return mapWriteError(t.Name, err)
	}

	cols := t.MaterializedColumns()
	colNames := make([]string, 0, len(cols)+2)
	placeholders := make([]string, 0, len(cols)+2)
	args := make([]any, 0, len(cols)+2)
	for i, c := range cols {
		v, err := toSQL(c, merged[c.Name])
		if err != nil {
			return err
		}
		colNames = append(colNames, quoteIdent(c.Name))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, v)
	}
	colNames = append(colNames, `"effectiveFromCheckpoint"`, `"effectiveToCheckpoint"`)
	placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)+1), fmt.Sprintf("$%d", len(args)+2))
	args = append(args, checkpointStr, checkpoint.Latest)

	insertQuery := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		qualify(st.namespace, versionedTableName(t.Name)), strings.Join(colNames, ", "), strings.Join(placeholders, ", "))
	if _, err := tx.Exec(ctx, insertQuery, args...); err != nil {
		return mapWriteError(t.Name, err)
	}
	return nil
}

// UpdateMany implements store.Store, applying the single-row update
// rule (§4.5) to every matching row by calling Update once per row.
// Each row's update commits in its own transaction, so the rows are not
// updated atomically: an error part-way through leaves the rows updated
// before it committed.
func (st *Store) UpdateMany(ctx context.Context, table, checkpointStr string, where store.Where, patch store.Patch) (out []store.Row, err error) {
	defer st.observe("updateMany", table, time.Now())
	ctx, span := startSpan(ctx, "UpdateMany", table)
	defer func() { endSpan(span, err) }()

	t, err := st.table(table)
	if err != nil {
		return nil, err
	}

	ids, err := st.currentIDs(ctx, t, where)
	if err != nil {
		return nil, err
	}

	out = make([]store.Row, 0, len(ids))
	for _, id := range ids {
		row, err := st.Update(ctx, table, checkpointStr, id, patch)
		if err != nil {
			return out, err
		}
		out = append(out, row)
	}
	return out, nil
}

func (st *Store) currentIDs(ctx context.Context, t schema.Table, where store.Where) ([]string, error) {
	idCol := t.IDColumn()
	clause, args, err := buildWhere(t, where, checkpoint.Latest, true)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s`,
		quoteIdent(idCol.Name), qualify(st.namespace, versionedTableName(t.Name)), clause)

	rows, err := st.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("updateMany: select ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		ids = append(ids, fmt.Sprint(raw))
	}
	return ids, rows.Err()
}

// Upsert implements store.Store.
func (st *Store) Upsert(ctx context.Context, table, checkpointStr, id string, create store.Row, update store.Patch) (row store.Row, err error) {
	defer st.observe("upsert", table, time.Now())
	ctx, span := startSpan(ctx, "Upsert", table)
	defer func() { endSpan(span, err) }()

	row, err = st.Update(ctx, table, checkpointStr, id, update)
	if errors.Is(err, domerrors.ErrNotFound) {
		return st.Create(ctx, table, checkpointStr, id, create)
	}
	return row, err
}

// Delete implements store.Store's two-step delete rule (§4.5).
func (st *Store) Delete(ctx context.Context, table, checkpointStr, id string) (deleted bool, err error) {
	defer st.observe("delete", table, time.Now())
	ctx, span := startSpan(ctx, "Delete", table)
	defer func() { endSpan(span, err) }()

	t, err := st.table(table)
	if err != nil {
		return false, err
	}
	idArg, err := encodeIDArg(t, id)
	if err != nil {
		return false, err
	}

	tx, err := st.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("delete: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	delQuery := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND "effectiveFromCheckpoint" = $2 AND "effectiveToCheckpoint" = $3`,
		qualify(st.namespace, versionedTableName(table)), quoteIdent(t.IDColumn().Name))
	tag, err := tx.Exec(ctx, delQuery, idArg, checkpointStr, checkpoint.Latest)
	if err != nil {
		return false, mapWriteError(table, err)
	}
	affected := tag.RowsAffected() > 0

	if !affected {
		truncQuery := fmt.Sprintf(`UPDATE %s SET "effectiveToCheckpoint" = $1 WHERE %s = $2 AND "effectiveToCheckpoint" = $3`,
			qualify(st.namespace, versionedTableName(table)), quoteIdent(t.IDColumn().Name))
		tag, err = tx.Exec(ctx, truncQuery, checkpointStr, idArg, checkpoint.Latest)
		if err != nil {
			return false, mapWriteError(table, err)
		}
		affected = tag.RowsAffected() > 0
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("delete: commit: %w", err)
	}
	return affected, nil
}

// FindUnique implements store.Store.
func (st *Store) FindUnique(ctx context.Context, table, id, checkpointStr string) (row store.Row, err error) {
	defer st.observe("findUnique", table, time.Now())
	ctx, span := startSpan(ctx, "FindUnique", table)
	defer func() { endSpan(span, err) }()

	t, err := st.table(table)
	if err != nil {
		return nil, err
	}
	if checkpointStr == "" {
		checkpointStr = checkpoint.Latest
	}

	cols := t.MaterializedColumns()
	selected := make([]string, len(cols))
	for i, c := range cols {
		selected[i] = quoteIdent(c.Name)
	}

	idArg, err := encodeIDArg(t, id)
	if err != nil {
		return nil, err
	}

	var query string
	var args []any
	if checkpointStr == checkpoint.Latest {
		query = fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 AND "effectiveToCheckpoint" = $2`,
			strings.Join(selected, ", "), qualify(st.namespace, versionedTableName(table)), quoteIdent(t.IDColumn().Name))
		args = []any{idArg, checkpoint.Latest}
	} else {
		query = fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 AND "effectiveFromCheckpoint" <= $2 AND ("effectiveToCheckpoint" > $2 OR "effectiveToCheckpoint" = $3)`,
			strings.Join(selected, ", "), qualify(st.namespace, versionedTableName(table)), quoteIdent(t.IDColumn().Name))
		args = []any{idArg, checkpointStr, checkpoint.Latest}
	}

	qrow := st.pool.QueryRow(ctx, query, args...)
	raws := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range cols {
		dest[i] = &raws[i]
	}
	if err := qrow.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("findUnique: %w", err)
	}

	decoded, err := decodeRow(t, cols, raws)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

// FindMany implements store.Store.
func (st *Store) FindMany(ctx context.Context, table string, args store.FindManyArgs) (out []store.Row, err error) {
	defer st.observe("findMany", table, time.Now())
	ctx, span := startSpan(ctx, "FindMany", table)
	defer func() { endSpan(span, err) }()

	t, err := st.table(table)
	if err != nil {
		return nil, err
	}

	cp := args.Checkpoint
	if cp == "" {
		cp = checkpoint.Latest
	}
	take := args.Take
	if take == 0 {
		take = DefaultPageSize
	}
	if take > MaxPageSize {
		return nil, domerrors.InvalidInput("take", fmt.Sprintf("take exceeds max page size %d", MaxPageSize))
	}

	clause, whereArgs, err := buildWhere(t, args.Where, cp, false)
	if err != nil {
		return nil, err
	}

	cols := t.MaterializedColumns()
	selected := make([]string, len(cols))
	for i, c := range cols {
		selected[i] = quoteIdent(c.Name)
	}

	order := buildOrderBy(args.OrderBy)

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s %s LIMIT %d OFFSET %d`,
		strings.Join(selected, ", "), qualify(st.namespace, versionedTableName(table)), clause, order, take, args.Skip)

	rows, err := st.pool.Query(ctx, query, whereArgs...)
	if err != nil {
		return nil, fmt.Errorf("findMany: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		raws := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range cols {
			dest[i] = &raws[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		decoded, err := decodeRow(t, cols, raws)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
	return out, rows.Err()
}

func buildOrderBy(order []store.OrderBy) string {
	if len(order) == 0 {
		return ""
	}
	parts := make([]string, len(order))
	for i, o := range order {
		switch o.Direction {
		case store.Desc:
			parts[i] = quoteIdent(o.Column) + " DESC NULLS LAST"
		default:
			parts[i] = quoteIdent(o.Column) + " ASC NULLS FIRST"
		}
	}
	return "ORDER BY " + strings.Join(parts, ", ")
}

func buildWhere(t schema.Table, where store.Where, cp string, currentOnly bool) (string, []any, error) {
	var clauses []string
	var args []any
	argN := 1

	if currentOnly || cp == checkpoint.Latest {
		clauses = append(clauses, fmt.Sprintf(`"effectiveToCheckpoint" = $%d`, argN))
		args = append(args, checkpoint.Latest)
		argN++
	} else {
		clauses = append(clauses, fmt.Sprintf(`"effectiveFromCheckpoint" <= $%d AND ("effectiveToCheckpoint" > $%d OR "effectiveToCheckpoint" = $%d)`, argN, argN, argN+1))
		args = append(args, cp, checkpoint.Latest)
		argN += 2
	}

	for _, cond := range where {
		col, ok := t.Column(cond.Column)
		if !ok {
			return "", nil, domerrors.InvalidInput("where."+cond.Column, "unknown column")
		}
		clause, vals, next, err := renderCondition(col, cond, argN)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, vals...)
		argN = next
	}

	return strings.Join(clauses, " AND "), args, nil
}

func renderCondition(col schema.Column, cond store.Condition, argN int) (string, []any, int, error) {
	ident := quoteIdent(col.Name)
	bytesCompare := col.Kind == schema.KindScalar && col.Scalar == schema.ScalarBytes

	sqlOp := map[store.Op]string{
		store.OpEq: "=", store.OpNotEq: "<>", store.OpGT: ">",
		store.OpGTE: ">=", store.OpLT: "<", store.OpLTE: "<=",
	}

	switch cond.Op {
	case store.OpIn:
		placeholders := make([]string, len(cond.Values))
		args := make([]any, len(cond.Values))
		for i, v := range cond.Values {
			raw, err := scalarToSQL(col, v)
			if err != nil {
				return "", nil, argN, err
			}
			placeholders[i] = fmt.Sprintf("$%d", argN+i)
			args[i] = raw
		}
		return fmt.Sprintf("%s IN (%s)", ident, strings.Join(placeholders, ", ")), args, argN + len(args), nil
	default:
		op, ok := sqlOp[cond.Op]
		if !ok {
			return "", nil, argN, domerrors.InvalidInput("where."+col.Name, "unsupported operator: "+string(cond.Op))
		}
		raw, err := scalarToSQL(col, cond.Value)
		if err != nil {
			return "", nil, argN, err
		}
		if bytesCompare && cond.Op == store.OpEq {
			return fmt.Sprintf("lower(%s) = lower($%d)", ident, argN), []any{raw}, argN + 1, nil
		}
		return fmt.Sprintf("%s %s $%d", ident, op, argN), []any{raw}, argN + 1, nil
	}
}

func encodeRow(t schema.Table, id string, data store.Row) ([]string, []any, error) {
	cols := t.MaterializedColumns()
	names := make([]string, len(cols))
	vals := make([]any, len(cols))
	for i, c := range cols {
		v, ok := data[c.Name]
		if !ok {
			if c.Name == t.IDColumn().Name {
				v = idValueForColumn(c, id)
			} else if !c.Optional {
				return nil, nil, domerrors.SchemaConflict(t.Name, "missing required column: "+c.Name, nil)
			} else {
				v = storeNull()
			}
		}
		raw, err := toSQL(c, v)
		if err != nil {
			return nil, nil, err
		}
		names[i] = c.Name
		vals[i] = raw
	}
	return names, vals, nil
}

func decodeRow(t schema.Table, cols []schema.Column, raws []any) (store.Row, error) {
	out := make(store.Row, len(cols))
	for i, c := range cols {
		v, err := fromSQL(c, raws[i])
		if err != nil {
			return nil, err
		}
		out[c.Name] = v
	}
	return out, nil
}

func encodeIDArg(t schema.Table, id string) (any, error) {
	return scalarToSQL(t.IDColumn(), idValueForColumn(t.IDColumn(), id))
}

// mapWriteError recognizes Postgres constraint-violation codes and
// surfaces them as SchemaConflict per §7; anything else passes through.
func mapWriteError(table string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23514", "23502", "42703": // check_violation, not_null_violation, undefined_column
			return domerrors.SchemaConflict(table, pgErr.Message, err)
		}
	}
	return fmt.Errorf("store: %s: %w", table, err)
}
