package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ChaneHaDa/stock-batch-server/pkg/config"
)

const serviceName = "stock-batch"

// Logger is the zerolog wrapper every package logs through. Field helpers
// return a child logger; the receiver is never mutated.
// ⭐ SSOT: 모든 로깅은 이 패키지를 통해서만 수행
type Logger struct {
	zlog zerolog.Logger
}

// New logs to stdout
func New(cfg *config.Config) *Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter logs to w. The level is set on this logger only, so tests
// and the CLI can run loggers with different levels side by side.
// console/pretty 포맷은 사람이 읽는 출력, 그 외는 JSON
func NewWithWriter(cfg *config.Config, w io.Writer) *Logger {
	out := w
	switch strings.ToLower(cfg.LogFormat) {
	case "console", "pretty":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	zlog := zerolog.New(out).
		Level(parseLogLevel(cfg.LogLevel)).
		With().
		Timestamp().
		Str("env", cfg.Env).
		Str("service", serviceName).
		Logger()

	return &Logger{zlog: zlog}
}

// Nop discards everything (tests, dry runs)
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

func parseLogLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	}
	return zerolog.InfoLevel
}

// Level reports the minimum level this logger writes
func (l *Logger) Level() zerolog.Level {
	return l.zlog.GetLevel()
}

func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.zlog.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zlog.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }

func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zlog: l.zlog.With().Interface(key, value).Logger()}
}

func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	c := l.zlog.With()
	for k, v := range fields {
		c = c.Interface(k, v)
	}
	return &Logger{zlog: c.Logger()}
}

func (l *Logger) WithError(err error) *Logger {
	return &Logger{zlog: l.zlog.With().Err(err).Logger()}
}

// WithJob tags entries with the job id and its fingerprint
func (l *Logger) WithJob(jobID, fingerprint string) *Logger {
	return &Logger{zlog: l.zlog.With().
		Str("job_id", jobID).
		Str("fingerprint", fingerprint).
		Logger()}
}

// WithChunk tags entries with a chunk index and its item count
func (l *Logger) WithChunk(index, items int) *Logger {
	return &Logger{zlog: l.zlog.With().
		Int("chunk", index).
		Int("items", items).
		Logger()}
}
