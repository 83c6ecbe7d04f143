package main

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	dbsql "github.com/sllt/dbhelper/pkg/dbhelper/datasource/sql"
)

func write(w io.Writer, format string, v any) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		if err := enc.Encode(v); err != nil {
			return err
		}

		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q, expected json or yaml", format)
	}
}

func rows(tables ...*dbsql.Table) [][]map[string]any {
	out := make([][]map[string]any, len(tables))
	for i, t := range tables {
		out[i] = t.Maps()
	}

	return out
}

type affected struct {
	RowsAffected int64 `json:"rows_affected" yaml:"rows_affected"`
}
