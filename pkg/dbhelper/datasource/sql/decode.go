package sql

import (
	"database/sql"
	"time"
)

// Scalar bounds the types a single-value result can be decoded into.
type Scalar interface {
	~bool | ~string | ~[]byte |
		~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64 |
		time.Time
}

// Decode converts a driver value to T using database/sql's conversion rules. NULL decodes to the zero value.
// A value that cannot be represented as T fails with ErrConversion.
func Decode[T Scalar](v any) (T, error) {
	var n sql.Null[T]

	if err := n.Scan(v); err != nil {
		var zero T
		return zero, NewError(KindConversion, "decode", err)
	}

	return n.V, nil
}
