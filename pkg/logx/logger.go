package logx

import "github.com/rs/zerolog"

// Logger is a lightweight structured logger.
//
//   - If created from Service, it stays "live" across Service.Apply() calls.
//   - With() returns a derived logger with additional fixed fields.
//   - Zero value is a safe no-op logger.
type Logger struct {
	svc    *Service
	base   zerolog.Logger
	hasown bool
	fields []Field
}

// Nop returns a logger that discards everything.
func Nop() Logger { return Logger{} }

// NewConsole returns a standalone console logger, useful before the
// logging service is wired up.
func NewConsole(level string) Logger {
	return Logger{
		base:   newConsoleRoot(parseLevel(level, zerolog.InfoLevel)),
		hasown: true,
	}
}

func (l Logger) IsZero() bool { return l.svc == nil && !l.hasown }

// With returns a derived logger carrying additional fixed fields.
func (l Logger) With(fields ...Field) Logger {
	out := l
	out.fields = append(append([]Field{}, l.fields...), fields...)
	return out
}

func (l Logger) root() zerolog.Logger {
	if l.svc != nil {
		return l.svc.current()
	}
	if l.hasown {
		return l.base
	}
	return zerolog.Nop()
}

func (l Logger) emit(e *zerolog.Event, msg string, fields []Field) {
	if e == nil {
		return
	}
	for _, f := range l.fields {
		f(e)
	}
	for _, f := range fields {
		f(e)
	}
	e.Msg(msg)
}

func (l Logger) Trace(msg string, fields ...Field) { r := l.root(); l.emit(r.Trace(), msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { r := l.root(); l.emit(r.Debug(), msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { r := l.root(); l.emit(r.Info(), msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { r := l.root(); l.emit(r.Warn(), msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { r := l.root(); l.emit(r.Error(), msg, fields) }
