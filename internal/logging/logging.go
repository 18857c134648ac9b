// Package logging настраивает logrus для сервиса и связывает записи с трассировкой.
package logging

import (
	"context"
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// Options — уровень и формат логов.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// Setup применяет настройки к стандартному логгеру logrus.
func Setup(opts Options) error {
	return Configure(log.StandardLogger(), opts)
}

// Configure применяет настройки к переданному логгеру.
func Configure(logger *log.Logger, opts Options) error {
	level := log.InfoLevel
	if opts.Level != "" {
		parsed, err := log.ParseLevel(opts.Level)
		if err != nil {
			return fmt.Errorf("parse log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	switch strings.ToLower(opts.Format) {
	case "", FormatText:
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case FormatJSON:
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("unsupported log format %q", opts.Format)
	}

	logger.SetLevel(level)
	if opts.Output != nil {
		logger.SetOutput(opts.Output)
	}
	logger.AddHook(TraceHook{})
	return nil
}

// TraceHook добавляет trace_id и span_id, если запись сделана через WithContext
// и в контексте есть активный span.
type TraceHook struct{}

func (TraceHook) Levels() []log.Level {
	return log.AllLevels
}

func (TraceHook) Fire(entry *log.Entry) error {
	if entry.Context == nil {
		return nil
	}
	sc := trace.SpanFromContext(entry.Context).SpanContext()
	if !sc.IsValid() {
		return nil
	}
	entry.Data["trace_id"] = sc.TraceID().String()
	entry.Data["span_id"] = sc.SpanID().String()
	return nil
}

// FromContext возвращает entry, привязанный к контексту: TraceHook достанет из него span.
func FromContext(ctx context.Context, logger *log.Entry) *log.Entry {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return logger.WithContext(ctx)
}
