package snap

// Logger provides structured logging for the snapshot core.
// The args follow slog conventions: alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger is a Logger that discards all output. Use in tests.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}

// WithAttrs returns a Logger that appends args to every record.
func WithAttrs(l Logger, args ...any) Logger {
	if len(args) == 0 {
		return l
	}
	return &attrLogger{l: l, attrs: args}
}

type attrLogger struct {
	l     Logger
	attrs []any
}

func (a *attrLogger) with(args []any) []any {
	out := make([]any, 0, len(args)+len(a.attrs))
	out = append(out, args...)
	return append(out, a.attrs...)
}

func (a *attrLogger) Debug(msg string, args ...any) { a.l.Debug(msg, a.with(args)...) }
func (a *attrLogger) Info(msg string, args ...any)  { a.l.Info(msg, a.with(args)...) }
func (a *attrLogger) Warn(msg string, args ...any)  { a.l.Warn(msg, a.with(args)...) }
func (a *attrLogger) Error(msg string, args ...any) { a.l.Error(msg, a.with(args)...) }
