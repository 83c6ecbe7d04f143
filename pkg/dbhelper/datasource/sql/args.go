package sql

import (
	"database/sql"
	"fmt"
	"reflect"
)

const maxArgLen = 64

// redactArgs renders driver arguments for logs. Strings and byte slices are reduced to their length so that
// values never reach the log output.
func redactArgs(args []any) []any {
	if len(args) == 0 {
		return nil
	}

	out := make([]any, len(args))
	for i, a := range args {
		out[i] = formatArg(a)
	}

	return out
}

func formatArg(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case sql.NamedArg:
		return "@" + x.Name + "=" + formatArg(x.Value)
	case sql.Out:
		return fmt.Sprintf("out(%T)", x.Dest)
	case string:
		return fmt.Sprintf("redacted(len=%d)", len(x))
	case []byte:
		return fmt.Sprintf("bytes(len=%d)", len(x))
	case error, fmt.Stringer:
		return fmt.Sprintf("%T(redacted)", v)
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprintf("%v", v)
	}

	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return "null"
		}

		return formatArg(rv.Elem().Interface())
	}

	s := fmt.Sprintf("%v", v)
	if len(s) > maxArgLen {
		return s[:maxArgLen] + "…"
	}

	return s
}
