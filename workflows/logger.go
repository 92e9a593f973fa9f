package workflow

// Logger is the printf-style logger the engine writes to
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// DefaultLogger discards everything
type DefaultLogger struct{}

func (l *DefaultLogger) Debug(format string, args ...interface{}) {}
func (l *DefaultLogger) Info(format string, args ...interface{}) {}
func (l *DefaultLogger) Warn(format string, args ...interface{}) {}
func (l *DefaultLogger) Error(format string, args ...interface{}) {}

// NewDefaultLogger creates a new default no-op logger
func NewDefaultLogger() Logger {
	return &DefaultLogger{}
}

// prefixLogger tags every line with the component that wrote it.
type prefixLogger struct {
	prefix string
	next   Logger
}

// WithPrefix returns a Logger that prepends "[prefix] " to every message.
func WithPrefix(l Logger, prefix string) Logger {
	if l == nil {
		l = NewDefaultLogger()
	}
	return &prefixLogger{prefix: "[" + prefix + "] ", next: l}
}

func (l *prefixLogger) Debug(format string, args ...interface{}) {
	l.next.Debug(l.prefix+format, args...)
}

func (l *prefixLogger) Info(format string, args ...interface{}) {
	l.next.Info(l.prefix+format, args...)
}

func (l *prefixLogger) Warn(format string, args ...interface{}) {
	l.next.Warn(l.prefix+format, args...)
}

func (l *prefixLogger) Error(format string, args ...interface{}) {
	l.next.Error(l.prefix+format, args...)
}
