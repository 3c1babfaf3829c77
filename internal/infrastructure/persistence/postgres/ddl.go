package postgres

import (
	"fmt"
	"strings"

	"github.com/indexkit/indexcore/internal/domain/checkpoint"
	"github.com/indexkit/indexcore/internal/domain/schema"
)

// physicalType maps a logical scalar type to its Postgres column type,
// per spec.md §3.2's fixed storage mapping.
func physicalType(t schema.ScalarType) string {
	switch t {
	case schema.ScalarBoolean:
		return "integer"
	case schema.ScalarInt:
		return "integer"
	case schema.ScalarFloat:
		return "text"
	case schema.ScalarString:
		return "text"
	case schema.ScalarBigInt:
		return "numeric(78,0)"
	case schema.ScalarBytes:
		return "text"
	}
	return "text"
}

const checkpointColWidth = 81 // matches checkpoint.Encode's fixed output length

// quoteIdent wraps a Postgres identifier in double quotes, doubling any
// embedded quote. Table/column/schema names in this package always come
// from a validated schema.Schema, never from end-user query input.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func qualify(ns, name string) string {
	return quoteIdent(ns) + "." + quoteIdent(name)
}

func versionedTableName(table string) string {
	return table + "_versioned"
}

// columnDDL renders one materialized column's definition, including the
// enum check constraint and NOT NULL per optionality.
func columnDDL(s schema.Schema, c schema.Column) (string, error) {
	var physical string
	switch c.Kind {
	case schema.KindScalar:
		physical = physicalType(c.Scalar)
	case schema.KindEnum:
		physical = "text"
	case schema.KindReference:
		target, ok := s.Tables[c.RefTable]
		if !ok {
			return "", fmt.Errorf("ddl: column %s references undeclared table %s", c.Name, c.RefTable)
		}
		physical = physicalType(target.IDColumn().Scalar)
	default:
		return "", fmt.Errorf("ddl: column %s has non-materializable kind %s", c.Name, c.Kind)
	}

	if c.List {
		physical = "text"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", quoteIdent(c.Name), physical)
	if !c.Optional {
		b.WriteString(" NOT NULL")
	}
	if c.Kind == schema.KindEnum && !c.List {
		enum := s.Enums[c.EnumName]
		quoted := make([]string, len(enum.Values))
		for i, v := range enum.Values {
			quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
		}
		fmt.Fprintf(&b, " CHECK (%s IN (%s))", quoteIdent(c.Name), strings.Join(quoted, ", "))
	}
	return b.String(), nil
}

// createTableSQL renders the `<table>_versioned` DDL for t within
// namespace ns, per §6's persisted-schema contract.
func createTableSQL(s schema.Schema, ns string, t schema.Table) (string, error) {
	cols := t.MaterializedColumns()
	parts := make([]string, 0, len(cols)+2)
	for _, c := range cols {
		ddl, err := columnDDL(s, c)
		if err != nil {
			return "", err
		}
		parts = append(parts, "  "+ddl)
	}
	parts = append(parts,
		fmt.Sprintf(`  "effectiveFromCheckpoint" varchar(%d) NOT NULL`, checkpointColWidth),
		fmt.Sprintf(`  "effectiveToCheckpoint" varchar(%d) NOT NULL`, checkpointColWidth),
		fmt.Sprintf(`  PRIMARY KEY (%s, "effectiveToCheckpoint")`, quoteIdent(t.IDColumn().Name)),
	)

	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)",
		qualify(ns, versionedTableName(t.Name)), strings.Join(parts, ",\n")), nil
}

func dropTableSQL(ns, table string) string {
	return "DROP TABLE IF EXISTS " + qualify(ns, versionedTableName(table)) + " CASCADE"
}

func createSchemaSQL(ns string) string {
	return "CREATE SCHEMA IF NOT EXISTS " + quoteIdent(ns)
}

// publicViewSQL renders the two public-schema views publish() installs
// for t: the full history view and the current-only projection.
func publicViewSQL(publicSchema, privateNS string, t schema.Table) (full, current string) {
	versioned := versionedTableName(t.Name)
	full = fmt.Sprintf("CREATE VIEW %s AS SELECT * FROM %s",
		qualify(publicSchema, versioned), qualify(privateNS, versioned))
	current = fmt.Sprintf(`CREATE VIEW %s AS SELECT * FROM %s WHERE "effectiveToCheckpoint" = %s`,
		qualify(publicSchema, t.Name), qualify(privateNS, versioned), quoteLiteral(checkpoint.Latest))
	return full, current
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
