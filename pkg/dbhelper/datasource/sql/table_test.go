package sql

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queryRows(t *testing.T, build func(mock sqlmock.Sqlmock) *sqlmock.Rows) *sql.Rows {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectQuery("SELECT").WillReturnRows(build(mock))

	rows, err := db.Query("SELECT")
	require.NoError(t, err)

	t.Cleanup(func() { _ = rows.Close() })

	return rows
}

func TestReadTable(t *testing.T) {
	payload := []byte{0xde, 0xad}

	rows := queryRows(t, func(mock sqlmock.Sqlmock) *sqlmock.Rows {
		return mock.NewRowsWithColumnDefinition(
			mock.NewColumn("id").OfType("BIGINT", int64(0)),
			mock.NewColumn("name").OfType("VARCHAR", "").Nullable(true),
			mock.NewColumn("avatar").OfType("BLOB", []byte(nil)),
		).
			AddRow(int64(1), []byte("Alice"), payload).
			AddRow(int64(2), nil, nil)
	})

	table, err := ReadTable(rows)
	require.NoError(t, err)

	assert.Equal(t, []Column{
		{Name: "id", DatabaseType: "BIGINT"},
		{Name: "name", DatabaseType: "VARCHAR", Nullable: true},
		{Name: "avatar", DatabaseType: "BLOB"},
	}, table.Columns)
	assert.Equal(t, 2, table.Len())
	assert.Equal(t, Row{int64(1), "Alice", []byte{0xde, 0xad}}, table.Rows[0])
	assert.Equal(t, Row{int64(2), nil, nil}, table.Rows[1])

	payload[0] = 0
	assert.Equal(t, []byte{0xde, 0xad}, table.Rows[0][2], "cells must not alias driver buffers")

	v, ok := table.Value(1, "ID")
	assert.True(t, ok)
	assert.Equal(t, int64(2), v)

	_, ok = table.Value(5, "id")
	assert.False(t, ok)
	assert.Equal(t, -1, table.ColumnIndex("missing"))
}

func TestReadTable_RowError(t *testing.T) {
	rows := queryRows(t, func(mock sqlmock.Sqlmock) *sqlmock.Rows {
		return mock.NewRowsWithColumnDefinition(mock.NewColumn("id").OfType("INT", int64(0))).
			AddRow(int64(1)).
			AddRow(int64(2)).
			RowError(1, errors.New("connection reset"))
	})

	table, err := ReadTable(rows)

	require.Error(t, err)
	assert.Nil(t, table)
}

func TestReadTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	defer db.Close()

	first := mock.NewRowsWithColumnDefinition(mock.NewColumn("id").OfType("INT", int64(0))).AddRow(int64(1))
	second := mock.NewRowsWithColumnDefinition(mock.NewColumn("total").OfType("DECIMAL", "")).AddRow("9.50")

	mock.ExpectQuery("CALL report").WillReturnRows(first, second)

	rows, err := db.Query("CALL report()")
	require.NoError(t, err)

	defer rows.Close()

	tables, err := ReadTables(rows)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "total", tables[1].Columns[0].Name)
	assert.Equal(t, "9.50", tables[1].Rows[0][0])
}

func TestTable_Nil(t *testing.T) {
	var table *Table

	v, ok := table.Value(0, "id")

	assert.Nil(t, v)
	assert.False(t, ok)
	assert.Equal(t, -1, table.ColumnIndex("id"))
	assert.Zero(t, table.Len())
	assert.Empty(t, table.Maps())
}

func TestTable_MarshalJSON(t *testing.T) {
	table := &Table{
		Columns: []Column{{Name: "id"}, {Name: "name"}},
		Rows:    []Row{{int64(1), "Alice"}, {int64(2), nil}},
	}

	b, err := table.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1,"name":"Alice"},{"id":2,"name":null}]`, string(b))

	var nilTable *Table
	assert.Zero(t, nilTable.Len())
}

type userID int64

func TestDecode(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	i, err := Decode[int](int64(42))
	require.NoError(t, err)
	assert.Equal(t, 42, i)

	id, err := Decode[userID]("7")
	require.NoError(t, err)
	assert.Equal(t, userID(7), id)

	s, err := Decode[string]([]byte("Alice"))
	require.NoError(t, err)
	assert.Equal(t, "Alice", s)

	f, err := Decode[float64]("9.5")
	require.NoError(t, err)
	assert.InDelta(t, 9.5, f, 1e-9)

	b, err := Decode[bool](int64(1))
	require.NoError(t, err)
	assert.True(t, b)

	ts, err := Decode[time.Time](now)
	require.NoError(t, err)
	assert.Equal(t, now, ts)

	zero, err := Decode[int64](nil)
	require.NoError(t, err)
	assert.Zero(t, zero)

	testCases := []struct {
		desc   string
		decode func() error
	}{
		{"text to int", func() error { _, err := Decode[int]("Alice"); return err }},
		{"overflow", func() error { _, err := Decode[int8](int64(1000)); return err }},
		{"negative to unsigned", func() error { _, err := Decode[uint](int64(-1)); return err }},
		{"text to time", func() error { _, err := Decode[time.Time]("yesterday"); return err }},
	}

	for i, tc := range testCases {
		assert.ErrorIs(t, tc.decode(), ErrConversion, "TEST[%d]: %s failed", i, tc.desc)
	}
}
