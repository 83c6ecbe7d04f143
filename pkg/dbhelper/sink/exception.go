package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	dbsql "github.com/sllt/dbhelper/pkg/dbhelper/datasource/sql"
)

// DatabaseException is a failure enriched with the command that produced it. It is not modified after creation.
type DatabaseException struct {
	ID               uuid.UUID
	Time             time.Time
	Message          string
	ConnectionString string
	Database         string
	SQL              string
	CommandType      dbsql.CommandType
	Parameters       dbsql.Params
	WorkstationID    string
	Err              error

	traced error
}

// NewDatabaseException enriches err with the connection, database, statement and parameters of cmd and with the
// local host name. message, when not empty, prefixes the failure text. cmd must not be nil.
func NewDatabaseException(err error, cmd *dbsql.Command, message string) *DatabaseException {
	text := "<nil>"
	if err != nil {
		text = err.Error()
	}

	if message != "" {
		text = message + " - " + text
	}

	return &DatabaseException{
		ID:               uuid.New(),
		Time:             time.Now(),
		Message:          text,
		ConnectionString: cmd.ConnectionString,
		Database:         cmd.Database,
		SQL:              cmd.Text,
		CommandType:      cmd.Type,
		Parameters:       cmd.Params,
		WorkstationID:    hostname(),
		Err:              err,
		traced:           errors.WithStack(err),
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}

	return h
}

func (e *DatabaseException) Error() string {
	return e.Message
}

func (e *DatabaseException) Unwrap() error {
	return e.Err
}

// Format prints the message with %v and %s. %+v adds the command context and the stack captured at enrichment.
func (e *DatabaseException) Format(s fmt.State, verb rune) {
	switch {
	case verb == 'v' && s.Flag('+'):
		fmt.Fprintf(s, "%s\n\tid: %s\n\tdatabase: %s\n\tworkstation: %s\n\t%s: %s\n\tparameters: %s",
			e.Message, e.ID, e.Database, e.WorkstationID, e.CommandType, clean(e.SQL), e.Parameters)

		if e.traced != nil {
			fmt.Fprintf(s, "%+v", e.traced)
		}
	case verb == 'v' || verb == 's':
		_, _ = io.WriteString(s, e.Message)
	case verb == 'q':
		fmt.Fprintf(s, "%q", e.Message)
	}
}

type exceptionJSON struct {
	ID               string       `json:"id"`
	Time             time.Time    `json:"time"`
	Message          string       `json:"message"`
	ConnectionString string       `json:"connectionString"`
	Database         string       `json:"database"`
	SQL              string       `json:"sql"`
	CommandType      string       `json:"commandType"`
	Parameters       dbsql.Params `json:"parameters"`
	WorkstationID    string       `json:"workstationId"`
	Kind             string       `json:"kind"`
}

// MarshalJSON renders the exception for publishing. Passwords in the connection string are masked.
func (e *DatabaseException) MarshalJSON() ([]byte, error) {
	return json.Marshal(exceptionJSON{
		ID:               e.ID.String(),
		Time:             e.Time,
		Message:          e.Message,
		ConnectionString: RedactConnectionString(e.ConnectionString),
		Database:         e.Database,
		SQL:              e.SQL,
		CommandType:      e.CommandType.String(),
		Parameters:       e.Parameters,
		WorkstationID:    e.WorkstationID,
		Kind:             dbsql.KindOf(e.Err).String(),
	})
}

var passwordPair = regexp.MustCompile(`(?i)((?:password|pwd)\s*=\s*)('[^']*'|[^;\s]*)`)

// RedactConnectionString masks the password of URL, key=value and ADO.NET style connection strings.
func RedactConnectionString(dsn string) string {
	if strings.Contains(dsn, "://") {
		if u, err := url.Parse(dsn); err == nil && u.User != nil {
			return u.Redacted()
		}
	}

	// mysql: user:password@tcp(host)/db
	if at := strings.LastIndex(dsn, "@"); at > 0 && !strings.ContainsAny(dsn[:at], "=;") {
		if colon := strings.Index(dsn[:at], ":"); colon >= 0 {
			return dsn[:colon+1] + "xxxxx" + dsn[at:]
		}
	}

	return passwordPair.ReplaceAllString(dsn, "${1}xxxxx")
}

var whitespace = regexp.MustCompile(`\s+`)

func clean(query string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(query, " "))
}
