package sql

import (
	"database/sql"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"
)

// DefaultTimeout applies when a call does not set one.
const DefaultTimeout = 3600 * time.Second

// CommandType tells whether Command.Text is SQL text or a stored procedure name.
type CommandType int

const (
	Text CommandType = iota
	StoredProcedure
)

func (t CommandType) String() string {
	if t == StoredProcedure {
		return "StoredProcedure"
	}

	return "Text"
}

// Shape is the result shape requested by the caller. Some dialects render procedure calls differently per shape.
type Shape int

const (
	ShapeNonQuery Shape = iota
	ShapeTable
	ShapeScalar
)

// Command describes one database call. It is built per call and not modified afterwards.
type Command struct {
	Type             CommandType
	Text             string
	Params           Params
	Timeout          time.Duration
	Dialect          Dialect
	ConnectionString string
	Database         string
}

// NewCommand builds a Command. The parameter slice is copied so the caller's list is not retained past the call. A
// non-positive timeout means DefaultTimeout.
func NewCommand(dialect Dialect, connectionString string, typ CommandType, text string, params []Param,
	timeout time.Duration) *Command {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var ps Params
	if len(params) > 0 {
		ps = append(Params(nil), params...)
	}

	return &Command{
		Type:             typ,
		Text:             text,
		Params:           ps,
		Timeout:          timeout,
		Dialect:          dialect,
		ConnectionString: connectionString,
		Database:         dialect.DatabaseName(connectionString),
	}
}

// Bind renders the statement for the dialect and returns the query text with its driver arguments.
func (c *Command) Bind(shape Shape) (string, []any, error) {
	if strings.TrimSpace(c.Text) == "" {
		return "", nil, NewError(KindCommand, "bind", errEmptyStatement)
	}

	var (
		query string
		args  []any
		err   error
	)

	switch {
	case c.Type == StoredProcedure:
		query, args, err = c.bindProcedure(shape)
	case c.Dialect.namedBinding():
		query = c.Text
		args, err = namedArgs(c.Params)
	default:
		query, args, err = bindPositional(c.Dialect, c.Text, c.Params)
	}

	if err != nil {
		return "", nil, NewError(KindCommand, "bind", err)
	}

	return query, args, nil
}

var procedureName = regexp.MustCompile(`^[A-Za-z_\["][A-Za-z0-9_.\[\]"$#]*$`)

func (c *Command) bindProcedure(shape Shape) (string, []any, error) {
	name := strings.TrimSpace(c.Text)
	if !procedureName.MatchString(name) {
		return "", nil, fmt.Errorf("%w: %q", errInvalidProcedureName, name)
	}

	switch c.Dialect {
	case DialectSQLServer:
		// go-mssqldb issues an RPC call when the query is a bare procedure name.
		args, err := namedArgs(c.Params)
		return name, args, err
	case DialectMySQL:
		placeholders, args, err := positionalArgs(c.Dialect, c.Params)
		return "CALL " + name + "(" + placeholders + ")", args, err
	case DialectPostgres:
		placeholders, args, err := positionalArgs(c.Dialect, c.Params)

		switch shape {
		case ShapeTable:
			return "SELECT * FROM " + name + "(" + placeholders + ")", args, err
		case ShapeScalar:
			return "SELECT " + name + "(" + placeholders + ")", args, err
		default:
			return "CALL " + name + "(" + placeholders + ")", args, err
		}
	default:
		return "", nil, fmt.Errorf("%w %s", errProceduresUnsupported, c.Dialect)
	}
}

func namedArgs(params Params) ([]any, error) {
	args := make([]any, 0, len(params))
	seen := make(map[string]bool, len(params))

	for _, p := range params {
		name := p.BareName()

		if name != "" {
			key := strings.ToLower(name)
			if seen[key] {
				return nil, fmt.Errorf("%w: %s", errDuplicateParameter, p.Name)
			}

			seen[key] = true
		}

		switch p.Direction {
		case Output, InputOutput:
			if !isSettablePointer(p.Value) {
				return nil, fmt.Errorf("%w: %s", errOutputNotPointer, p.Name)
			}

			args = append(args, sql.Named(name, sql.Out{Dest: p.Value, In: p.Direction == InputOutput}))
		case ReturnValue:
			args = append(args, p.Value)
		default:
			if name == "" {
				args = append(args, p.Value)
				continue
			}

			args = append(args, sql.Named(name, p.Value))
		}
	}

	return args, nil
}

func positionalArgs(d Dialect, params Params) (string, []any, error) {
	placeholders := make([]string, len(params))
	args := make([]any, len(params))

	for i, p := range params {
		if p.Direction != Input {
			return "", nil, fmt.Errorf("%w %s: %s", errOutputUnsupported, d, p.Name)
		}

		placeholders[i] = d.placeholder(i + 1)
		args[i] = p.Value
	}

	return strings.Join(placeholders, ", "), args, nil
}

// bindPositional rewrites @name tokens into the dialect's placeholders in order of appearance. Text without tokens
// binds the parameter list in order.
func bindPositional(d Dialect, text string, params Params) (string, []any, error) {
	query, names := rewritePlaceholders(text, d)

	if len(names) == 0 {
		_, args, err := positionalArgs(d, params)
		return text, args, err
	}

	args := make([]any, len(names))

	for i, name := range names {
		p, ok := params.lookup(name)
		if !ok {
			return "", nil, fmt.Errorf("%w: @%s", errUnknownParameter, name)
		}

		if p.Direction != Input {
			return "", nil, fmt.Errorf("%w %s: %s", errOutputUnsupported, d, p.Name)
		}

		args[i] = p.Value
	}

	return query, args, nil
}

// rewritePlaceholders replaces @name tokens outside quoted literals and comments. @@name system variables are left
// alone. MySQL also treats a backslash inside quotes as an escape and # as a line comment.
func rewritePlaceholders(text string, d Dialect) (string, []string) {
	var (
		out   strings.Builder
		names []string
		quote byte
	)

	mysqlSyntax := d == DialectMySQL

	out.Grow(len(text))

	for i := 0; i < len(text); i++ {
		c := text[i]

		if quote != 0 {
			out.WriteByte(c)

			switch {
			case c == '\\' && mysqlSyntax && quote != '`' && i+1 < len(text):
				i++
				out.WriteByte(text[i])
			case c == quote:
				quote = 0
			}

			continue
		}

		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
			out.WriteByte(c)
		case c == '-' && i+1 < len(text) && text[i+1] == '-', c == '#' && mysqlSyntax:
			j := lineEnd(text, i)
			out.WriteString(text[i:j])
			i = j - 1
		case c == '/' && i+1 < len(text) && text[i+1] == '*':
			j := blockCommentEnd(text, i+2)
			out.WriteString(text[i:j])
			i = j - 1
		case c == '@' && i+1 < len(text) && text[i+1] == '@':
			j := identEnd(text, i+2)
			out.WriteString(text[i:j])
			i = j - 1
		case c == '@' && i+1 < len(text) && isIdentStart(text[i+1]):
			j := identEnd(text, i+1)
			names = append(names, text[i+1:j])
			out.WriteString(d.placeholder(len(names)))
			i = j - 1
		default:
			out.WriteByte(c)
		}
	}

	return out.String(), names
}

func lineEnd(s string, from int) int {
	if j := strings.IndexByte(s[from:], '\n'); j >= 0 {
		return from + j
	}

	return len(s)
}

// blockCommentEnd returns the index just past the */ closing a comment opened before from, or len(s) if unclosed.
func blockCommentEnd(s string, from int) int {
	if j := strings.Index(s[from:], "*/"); j >= 0 {
		return from + j + 2
	}

	return len(s)
}

func identEnd(s string, from int) int {
	j := from
	for j < len(s) && (isIdentStart(s[j]) || (s[j] >= '0' && s[j] <= '9')) {
		j++
	}

	return j
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isSettablePointer(v any) bool {
	rv := reflect.ValueOf(v)

	return rv.IsValid() && rv.Kind() == reflect.Ptr && !rv.IsNil()
}
