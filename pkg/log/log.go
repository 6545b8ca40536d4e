package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is a structured log field.
type Field = zap.Field

// Logger is the logging interface used across the module.
type Logger interface {
	// info level
	Info(msg string, fields ...Field)
	Infof(format string, v ...interface{})
	Infow(msg string, keysAndValues ...interface{})

	// debug level
	Debug(msg string, fields ...Field)
	Debugf(format string, v ...interface{})
	Debugw(msg string, keysAndValues ...interface{})

	// warn level
	Warn(msg string, fields ...Field)
	Warnf(format string, v ...interface{})
	Warnw(msg string, keysAndValues ...interface{})

	// error level
	Error(msg string, fields ...Field)
	Errorf(format string, v ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// fatal level
	Fatal(msg string, fields ...Field)
	Fatalf(format string, v ...interface{})
	Fatalw(msg string, keysAndValues ...interface{})

	// WithValues adds some key-value pairs of context to a logger.
	WithValues(keysAndValues ...interface{}) Logger

	// WithName adds a new element to the logger's name. Successive calls
	// with WithName continue to append suffixes to the logger's name.
	WithName(name string) Logger

	// Flush calls the underlying Core's Sync method, flushing any buffered
	// log entries. Applications should take care to call Flush before exiting.
	Flush()
}

// Options configures the zap-backed logger.
type Options struct {
	Level         string // debug, info, warn, error
	Format        string // console or json
	DisableCaller bool
}

// NewOptions returns the default logger options.
func NewOptions() *Options {
	return &Options{
		Level:  "info",
		Format: "console",
	}
}

type zapLogger struct {
	l *zap.Logger
	s *zap.SugaredLogger
}

// Interface assertion
var _ Logger = (*zapLogger)(nil)

// New creates a zap-backed Logger from opts.
func New(opts *Options) Logger {
	if opts == nil {
		opts = NewOptions()
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	cfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Encoding:          opts.Format,
		EncoderConfig:     encoderCfg,
		DisableCaller:     opts.DisableCaller,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		l = zap.NewNop()
	}
	return &zapLogger{l: l, s: l.Sugar()}
}

func (z *zapLogger) Info(msg string, fields ...Field)  { z.l.Info(msg, fields...) }
func (z *zapLogger) Infof(format string, v ...interface{}) {
	z.s.Infof(format, v...)
}
func (z *zapLogger) Infow(msg string, keysAndValues ...interface{}) {
	z.s.Infow(msg, keysAndValues...)
}

func (z *zapLogger) Debug(msg string, fields ...Field) { z.l.Debug(msg, fields...) }
func (z *zapLogger) Debugf(format string, v ...interface{}) {
	z.s.Debugf(format, v...)
}
func (z *zapLogger) Debugw(msg string, keysAndValues ...interface{}) {
	z.s.Debugw(msg, keysAndValues...)
}

func (z *zapLogger) Warn(msg string, fields ...Field) { z.l.Warn(msg, fields...) }
func (z *zapLogger) Warnf(format string, v ...interface{}) {
	z.s.Warnf(format, v...)
}
func (z *zapLogger) Warnw(msg string, keysAndValues ...interface{}) {
	z.s.Warnw(msg, keysAndValues...)
}

func (z *zapLogger) Error(msg string, fields ...Field) { z.l.Error(msg, fields...) }
func (z *zapLogger) Errorf(format string, v ...interface{}) {
	z.s.Errorf(format, v...)
}
func (z *zapLogger) Errorw(msg string, keysAndValues ...interface{}) {
	z.s.Errorw(msg, keysAndValues...)
}

func (z *zapLogger) Fatal(msg string, fields ...Field) { z.l.Fatal(msg, fields...) }
func (z *zapLogger) Fatalf(format string, v ...interface{}) {
	z.s.Fatalf(format, v...)
}
func (z *zapLogger) Fatalw(msg string, keysAndValues ...interface{}) {
	z.s.Fatalw(msg, keysAndValues...)
}

func (z *zapLogger) WithValues(keysAndValues ...interface{}) Logger {
	s := z.s.With(keysAndValues...)
	return &zapLogger{l: s.Desugar(), s: s}
}

func (z *zapLogger) WithName(name string) Logger {
	l := z.l.Named(name)
	return &zapLogger{l: l, s: l.Sugar()}
}

func (z *zapLogger) Flush() {
	_ = z.l.Sync()
}

// std is the package-level default logger.
var std = New(NewOptions())

// ResetDefault replaces the package-level default logger.
func ResetDefault(l Logger) {
	if l != nil {
		std = l
	}
}

// WithName returns the default logger with a name element appended.
func WithName(name string) Logger { return std.WithName(name) }

func Infof(format string, v ...interface{})               { std.Infof(format, v...) }
func Infow(msg string, keysAndValues ...interface{})      { std.Infow(msg, keysAndValues...) }
func Debugw(msg string, keysAndValues ...interface{})     { std.Debugw(msg, keysAndValues...) }
func Warnw(msg string, keysAndValues ...interface{})      { std.Warnw(msg, keysAndValues...) }
func Errorw(msg string, keysAndValues ...interface{})     { std.Errorw(msg, keysAndValues...) }
func Fatalw(msg string, keysAndValues ...interface{})     { std.Fatalw(msg, keysAndValues...) }
