package sql

import (
	"database/sql"
	"encoding/json"
	"strings"
)

// Column describes one column of a Table.
type Column struct {
	Name         string `json:"name"`
	DatabaseType string `json:"databaseType,omitempty"`
	Nullable     bool   `json:"nullable"`
}

// Row holds one value per column, in column order. NULL is nil.
type Row []any

// Table is a result set materialised in memory. It stays valid after the connection is closed.
type Table struct {
	Columns []Column
	Rows    []Row
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}

	return len(t.Rows)
}

// ColumnIndex returns the position of the named column, compared case-insensitively, or -1.
func (t *Table) ColumnIndex(name string) int {
	if t == nil {
		return -1
	}

	for i, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}

	return -1
}

// Value returns the cell at row and column.
func (t *Table) Value(row int, column string) (any, bool) {
	i := t.ColumnIndex(column)
	if i < 0 || row < 0 || row >= t.Len() {
		return nil, false
	}

	return t.Rows[row][i], true
}

// Maps returns each row keyed by column name.
func (t *Table) Maps() []map[string]any {
	out := make([]map[string]any, t.Len())
	if t == nil {
		return out
	}

	for r, row := range t.Rows {
		m := make(map[string]any, len(t.Columns))
		for i, c := range t.Columns {
			m[c.Name] = row[i]
		}

		out[r] = m
	}

	return out
}

func (t *Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Maps())
}

// ReadTable drains the current result set of rows into a Table. It does not close rows.
func ReadTable(rows *sql.Rows) (*Table, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	t := &Table{Columns: make([]Column, len(types))}

	for i, ct := range types {
		nullable, _ := ct.Nullable()
		t.Columns[i] = Column{Name: ct.Name(), DatabaseType: ct.DatabaseTypeName(), Nullable: nullable}
	}

	for rows.Next() {
		values := make([]any, len(types))
		dest := make([]any, len(types))

		for i := range values {
			dest[i] = &values[i]
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		for i, v := range values {
			values[i] = normalizeCell(v, t.Columns[i].DatabaseType)
		}

		t.Rows = append(t.Rows, values)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return t, nil
}

// ReadTables drains every result set of rows.
func ReadTables(rows *sql.Rows) ([]*Table, error) {
	var tables []*Table

	for {
		t, err := ReadTable(rows)
		if err != nil {
			return nil, err
		}

		if len(t.Columns) > 0 {
			tables = append(tables, t)
		}

		if !rows.NextResultSet() {
			break
		}
	}

	return tables, rows.Err()
}

var binaryTypes = map[string]bool{
	"":           true,
	"BLOB":       true,
	"TINYBLOB":   true,
	"MEDIUMBLOB": true,
	"LONGBLOB":   true,
	"BINARY":     true,
	"VARBINARY":  true,
	"BYTEA":      true,
	"IMAGE":      true,
	"BIT":        true,
	"GEOMETRY":   true,
}

// normalizeCell turns driver byte slices of textual columns into strings. Drivers such as mysql return text as
// []byte.
func normalizeCell(v any, databaseType string) any {
	b, ok := v.([]byte)
	if !ok || binaryTypes[strings.ToUpper(databaseType)] {
		return v
	}

	return string(b)
}
