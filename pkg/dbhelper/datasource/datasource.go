/*
Package datasource holds what dbhelper's data sources share. Today that is only the SQL executor's runtime in
datasource/sql.
*/
package datasource

// Logger is the logging surface a datasource needs. logging.Logger and logging.ContextLogger both satisfy it.
type Logger interface {
	Debug(args ...any)
	Debugf(pattern string, args ...any)
	Info(args ...any)
	Infof(pattern string, args ...any)
	Warnf(pattern string, args ...any)
	Error(args ...any)
	Errorf(pattern string, args ...any)
}
