package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/indexkit/indexcore/internal/domain/schema"
	domerrors "github.com/indexkit/indexcore/internal/pkg/errors"
	"github.com/indexkit/indexcore/internal/pkg/metrics"
)

const (
	publicSchema       = "public"
	namespacePrefix     = "ponder_"
	metadataTable       = "ponder_metadata"
	namespacePublishedChannel = "namespace_published"
)

// NamespaceManager owns one run's private schema and the public-schema
// publish step, per spec.md §4.6 (C6).
type NamespaceManager struct {
	pool      *pgxpool.Pool
	namespace string
	metrics   *metrics.Recorder
}

// NewNamespaceManager names a private namespace uniquely for this run,
// tagged with a monotonic value (conventionally a millisecond
// timestamp) chosen by the caller; the manager does not read the clock
// to pick it.
func NewNamespaceManager(pool *pgxpool.Pool, tag string, m *metrics.Recorder) *NamespaceManager {
	return &NamespaceManager{pool: pool, namespace: namespacePrefix + tag, metrics: m}
}

// Namespace returns the private schema name this manager owns.
func (n *NamespaceManager) Namespace() string { return n.namespace }

// Reload implements §4.6's reload step: create the private schema,
// upsert its ponder_metadata row, install the publish-notify trigger,
// and (re)create every table from s.
func (n *NamespaceManager) Reload(ctx context.Context, s schema.Schema, schemaJSON []byte) error {
	tx, err := n.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("namespace reload: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, createSchemaSQL(publicSchema)); err != nil {
		return fmt.Errorf("namespace reload: create public schema: %w", err)
	}
	if err := ensureMetadataTable(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, createSchemaSQL(n.namespace)); err != nil {
		return fmt.Errorf("namespace reload: create private schema: %w", err)
	}

	upsert := fmt.Sprintf(`
		INSERT INTO %s (namespace_version, schema, is_published)
		VALUES ($1, $2, false)
		ON CONFLICT (namespace_version) DO UPDATE SET schema = $2`,
		qualify(publicSchema, metadataTable))
	if _, err := tx.Exec(ctx, upsert, n.namespace, schemaJSON); err != nil {
		return fmt.Errorf("namespace reload: upsert metadata: %w", err)
	}

	if err := installPublishTrigger(ctx, tx); err != nil {
		return err
	}

	for _, tableName := range s.TableNames() {
		t := s.Tables[tableName]
		if _, err := tx.Exec(ctx, dropTableSQL(n.namespace, t.Name)); err != nil {
			return fmt.Errorf("namespace reload: drop %s: %w", t.Name, err)
		}
		createSQL, err := createTableSQL(s, n.namespace, t)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, createSQL); err != nil {
			return fmt.Errorf("namespace reload: create %s: %w", t.Name, err)
		}
	}

	return tx.Commit(ctx)
}

func ensureMetadataTable(ctx context.Context, tx pgx.Tx) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		namespace_version TEXT PRIMARY KEY,
		schema JSONB NOT NULL,
		is_published BOOLEAN NOT NULL DEFAULT false
	)`, qualify(publicSchema, metadataTable))
	_, err := tx.Exec(ctx, ddl)
	return err
}

func installPublishTrigger(ctx context.Context, tx pgx.Tx) error {
	funcSQL := fmt.Sprintf(`
		CREATE OR REPLACE FUNCTION %s.notify_namespace_published() RETURNS trigger AS $$
		BEGIN
			IF NEW.is_published AND (TG_OP = 'INSERT' OR NOT OLD.is_published) THEN
				PERFORM pg_notify('%s', row_to_json(NEW)::text);
			END IF;
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`, quoteIdent(publicSchema), namespacePublishedChannel)
	if _, err := tx.Exec(ctx, funcSQL); err != nil {
		return fmt.Errorf("namespace reload: install trigger function: %w", err)
	}

	triggerSQL := fmt.Sprintf(`
		DROP TRIGGER IF EXISTS namespace_published_trigger ON %s;
		CREATE TRIGGER namespace_published_trigger
			AFTER INSERT OR UPDATE ON %s
			FOR EACH ROW EXECUTE FUNCTION %s.notify_namespace_published()`,
		qualify(publicSchema, metadataTable), qualify(publicSchema, metadataTable), quoteIdent(publicSchema))
	_, err := tx.Exec(ctx, triggerSQL)
	return err
}

// Publish implements §4.6's publish step atomically: mark this
// namespace published, drop every older ponder_* schema, and install
// the public views.
func (n *NamespaceManager) Publish(ctx context.Context, s schema.Schema) error {
	tx, err := n.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("namespace publish: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	markPublished := fmt.Sprintf(`UPDATE %s SET is_published = true WHERE namespace_version = $1`,
		qualify(publicSchema, metadataTable))
	if _, err := tx.Exec(ctx, markPublished, n.namespace); err != nil {
		return fmt.Errorf("namespace publish: mark published: %w", err)
	}

	rows, err := tx.Query(ctx, fmt.Sprintf(`SELECT namespace_version FROM %s WHERE namespace_version <> $1`,
		qualify(publicSchema, metadataTable)), n.namespace)
	if err != nil {
		return fmt.Errorf("namespace publish: list older namespaces: %w", err)
	}
	var older []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			rows.Close()
			return err
		}
		older = append(older, ns)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	deleteMetadata := fmt.Sprintf(`DELETE FROM %s WHERE namespace_version <> $1`, qualify(publicSchema, metadataTable))
	if _, err := tx.Exec(ctx, deleteMetadata, n.namespace); err != nil {
		return fmt.Errorf("namespace publish: delete old metadata: %w", err)
	}

	// Every drop is awaited in this same transaction, resolving the
	// source's fire-and-forget publish cleanup as an open question in
	// favor of synchronous, awaited drops.
	for _, ns := range older {
		if !strings.HasPrefix(ns, namespacePrefix) {
			continue
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", quoteIdent(ns))); err != nil {
			return fmt.Errorf("namespace publish: drop schema %s: %w", ns, err)
		}
	}

	for _, tableName := range s.TableNames() {
		t := s.Tables[tableName]
		versioned := versionedTableName(t.Name)
		if _, err := tx.Exec(ctx, fmt.Sprintf("DROP VIEW IF EXISTS %s CASCADE", qualify(publicSchema, versioned))); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf("DROP VIEW IF EXISTS %s CASCADE", qualify(publicSchema, t.Name))); err != nil {
			return err
		}
		full, current := publicViewSQL(publicSchema, n.namespace, t)
		if _, err := tx.Exec(ctx, full); err != nil {
			return fmt.Errorf("namespace publish: create view %s_versioned: %w", t.Name, err)
		}
		if _, err := tx.Exec(ctx, current); err != nil {
			return fmt.Errorf("namespace publish: create view %s: %w", t.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("namespace publish: commit: %w", err)
	}
	if n.metrics != nil {
		n.metrics.NamespacePublished(n.namespace)
	}
	return nil
}

// ActivePublishedNamespace reports the namespace of the current
// published ponder_metadata row, or "" if none has published yet —
// readers fall back to the latest unpublished private namespace in
// that case, per §4.6.
func ActivePublishedNamespace(ctx context.Context, pool *pgxpool.Pool) (string, error) {
	var ns string
	query := fmt.Sprintf(`SELECT namespace_version FROM %s WHERE is_published = true LIMIT 1`,
		qualify(publicSchema, metadataTable))
	err := pool.QueryRow(ctx, query).Scan(&ns)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("active namespace: %w", err)
	}
	return ns, nil
}

// CheckIntegrity reports NamespaceCorruption if ponder_metadata
// describes no namespaces but versioned tables still exist in a
// ponder_* schema — the state invariant guarding §7's
// NamespaceCorruption error kind.
func CheckIntegrity(ctx context.Context, pool *pgxpool.Pool) error {
	var metadataCount int
	query := fmt.Sprintf(`SELECT count(*) FROM %s`, qualify(publicSchema, metadataTable))
	if err := pool.QueryRow(ctx, query).Scan(&metadataCount); err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			return nil
		}
		return fmt.Errorf("check integrity: %w", err)
	}
	if metadataCount > 0 {
		return nil
	}

	var orphanSchemas int
	orphanQuery := `SELECT count(*) FROM information_schema.schemata WHERE schema_name LIKE $1`
	if err := pool.QueryRow(ctx, orphanQuery, namespacePrefix+"%").Scan(&orphanSchemas); err != nil {
		return fmt.Errorf("check integrity: %w", err)
	}
	if orphanSchemas > 0 {
		return domerrors.NamespaceCorruption("ponder_metadata reports no namespaces but versioned tables exist")
	}
	return nil
}
