package logging

// NopLogger discards everything. It is the default when no logger is configured, so call sites need no nil checks.
//
// Fatal and Fatalf do not exit.
type NopLogger struct{}

var _ Logger = NopLogger{}

func (NopLogger) Debug(...any)           {}
func (NopLogger) Debugf(string, ...any)  {}
func (NopLogger) Log(...any)             {}
func (NopLogger) Logf(string, ...any)    {}
func (NopLogger) Info(...any)            {}
func (NopLogger) Infof(string, ...any)   {}
func (NopLogger) Notice(...any)          {}
func (NopLogger) Noticef(string, ...any) {}
func (NopLogger) Warn(...any)            {}
func (NopLogger) Warnf(string, ...any)   {}
func (NopLogger) Error(...any)           {}
func (NopLogger) Errorf(string, ...any)  {}
func (NopLogger) Fatal(...any)           {}
func (NopLogger) Fatalf(string, ...any)  {}
func (NopLogger) ChangeLevel(Level)      {}
