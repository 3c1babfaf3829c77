// Package schema models the user-declared tables, columns, enums, and
// relations that an indexer run writes into the store. It is a pure
// value layer — no I/O, no SQL.
package schema

import (
	"fmt"
	"sort"

	"github.com/indexkit/indexcore/internal/pkg/errors"
)

// ScalarType is one of the storage-mapped scalar types.
type ScalarType string

const (
	ScalarBoolean ScalarType = "boolean"
	ScalarInt     ScalarType = "int"
	ScalarFloat   ScalarType = "float"
	ScalarString  ScalarType = "string"
	ScalarBigInt  ScalarType = "bigint"
	ScalarBytes   ScalarType = "bytes"
)

func (t ScalarType) valid() bool {
	switch t {
	case ScalarBoolean, ScalarInt, ScalarFloat, ScalarString, ScalarBigInt, ScalarBytes:
		return true
	}
	return false
}

// idTypeValid reports whether t is one of the types §3.2 allows for a
// table's id column.
func idTypeValid(t ScalarType) bool {
	switch t {
	case ScalarString, ScalarInt, ScalarBigInt, ScalarBytes:
		return true
	}
	return false
}

// ColumnKind discriminates the five column descriptor shapes of §3.2.
type ColumnKind string

const (
	KindScalar    ColumnKind = "scalar"
	KindEnum      ColumnKind = "enum"
	KindReference ColumnKind = "reference"
	KindOne       ColumnKind = "one"  // virtual, ignored by the store
	KindMany      ColumnKind = "many" // virtual, ignored by the store
)

// Column is a single column descriptor within a Table.
type Column struct {
	Name       string
	Kind       ColumnKind
	Scalar     ScalarType // set when Kind == KindScalar
	EnumName   string     // set when Kind == KindEnum
	RefTable   string     // set when Kind == KindReference, KindOne, KindMany
	Optional   bool
	List       bool
}

// Virtual reports whether the column is a derived relation column that
// the store never materializes.
func (c Column) Virtual() bool {
	return c.Kind == KindOne || c.Kind == KindMany
}

// Enum is a named set of string literals declared at schema scope.
type Enum struct {
	Name   string
	Values []string
}

// Table is a named collection of columns, one of which must be `id`.
type Table struct {
	Name    string
	Columns []Column
}

// Column looks up a column by name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// IDColumn returns the table's required id column.
func (t Table) IDColumn() Column {
	c, ok := t.Column("id")
	if !ok {
		panic(fmt.Sprintf("schema: table %q has no id column (should have been rejected by Validate)", t.Name))
	}
	return c
}

// MaterializedColumns returns the columns the store actually persists,
// i.e. every column except the virtual one/many relation columns.
func (t Table) MaterializedColumns() []Column {
	out := make([]Column, 0, len(t.Columns))
	for _, c := range t.Columns {
		if !c.Virtual() {
			out = append(out, c)
		}
	}
	return out
}

// reservedColumnNames may not be used by a user-declared column: the
// store owns them.
var reservedColumnNames = map[string]bool{
	"effectiveFromCheckpoint": true,
	"effectiveToCheckpoint":   true,
}

// Schema is the full mapping from table name to table, plus the enums
// declared at schema scope.
type Schema struct {
	Tables map[string]Table
	Enums  map[string]Enum
}

// TableNames returns the schema's table names in sorted order, for
// deterministic iteration (DDL generation, namespace reload).
func (s Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builder accumulates tables and enums, producing a validated Schema.
type Builder struct {
	tables map[string]Table
	enums  map[string]Enum
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		tables: make(map[string]Table),
		enums:  make(map[string]Enum),
	}
}

// AddEnum declares a named enum. Values must be non-empty and unique.
func (b *Builder) AddEnum(name string, values []string) *Builder {
	b.enums[name] = Enum{Name: name, Values: values}
	return b
}

// AddTable declares a table with its columns.
func (b *Builder) AddTable(name string, columns []Column) *Builder {
	b.tables[name] = Table{Name: name, Columns: columns}
	return b
}

// Build validates and returns the accumulated Schema, per §4.2:
//   - every reference column's target table exists and targets `id`
//   - enum values are non-empty strings with no duplicates
//   - `id` is required, non-optional, non-list, and scalar-typed from
//     {string, int, bigint, bytes}
//   - column names never collide with the reserved checkpoint columns
func (b *Builder) Build() (Schema, error) {
	s := Schema{Tables: b.tables, Enums: b.enums}

	for _, enumName := range sortedKeys(b.enums) {
		if err := validateEnum(b.enums[enumName]); err != nil {
			return Schema{}, err
		}
	}

	for _, tableName := range sortedKeys(b.tables) {
		if err := validateTable(s, b.tables[tableName]); err != nil {
			return Schema{}, err
		}
	}

	return s, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func validateEnum(e Enum) error {
	if len(e.Values) == 0 {
		return errors.InvalidInput("enum."+e.Name, "enum must declare at least one value")
	}
	seen := make(map[string]bool, len(e.Values))
	for _, v := range e.Values {
		if v == "" {
			return errors.InvalidInput("enum."+e.Name, "enum values must be non-empty strings")
		}
		if seen[v] {
			return errors.InvalidInput("enum."+e.Name, "duplicate enum value: "+v)
		}
		seen[v] = true
	}
	return nil
}

func validateTable(s Schema, t Table) error {
	idCol, hasID := t.Column("id")
	if !hasID {
		return errors.InvalidInput("table."+t.Name, "table must declare an id column")
	}
	if idCol.Kind != KindScalar || !idTypeValid(idCol.Scalar) {
		return errors.InvalidInput("table."+t.Name+".id", "id must be a scalar string, int, bigint, or bytes column")
	}
	if idCol.Optional {
		return errors.InvalidInput("table."+t.Name+".id", "id may not be optional")
	}
	if idCol.List {
		return errors.InvalidInput("table."+t.Name+".id", "id may not be a list")
	}

	seenNames := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if seenNames[c.Name] {
			return errors.InvalidInput("table."+t.Name, "duplicate column name: "+c.Name)
		}
		seenNames[c.Name] = true

		if reservedColumnNames[c.Name] {
			return errors.InvalidInput("table."+t.Name+"."+c.Name, "column name collides with a reserved checkpoint column")
		}

		if err := validateColumn(s, t.Name, c); err != nil {
			return err
		}
	}
	return nil
}

func validateColumn(s Schema, tableName string, c Column) error {
	path := fmt.Sprintf("table.%s.%s", tableName, c.Name)

	switch c.Kind {
	case KindScalar:
		if !c.Scalar.valid() {
			return errors.InvalidInput(path, "unknown scalar type: "+string(c.Scalar))
		}
	case KindEnum:
		if _, ok := s.Enums[c.EnumName]; !ok {
			return errors.InvalidInput(path, "references undeclared enum: "+c.EnumName)
		}
	case KindReference:
		target, ok := s.Tables[c.RefTable]
		if !ok {
			return errors.InvalidInput(path, "references undeclared table: "+c.RefTable)
		}
		targetID, ok := target.Column("id")
		if !ok || targetID.Kind != KindScalar {
			return errors.InvalidInput(path, "reference target table has no scalar id column: "+c.RefTable)
		}
	case KindOne, KindMany:
		if _, ok := s.Tables[c.RefTable]; !ok {
			return errors.InvalidInput(path, "relation references undeclared table: "+c.RefTable)
		}
	default:
		return errors.InvalidInput(path, "unknown column kind: "+string(c.Kind))
	}
	return nil
}
