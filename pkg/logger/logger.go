// Package logger configures the process-wide slog logger and carries the
// coordinates of the record being processed in a context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type recordKey struct{}

type recordAttrs struct {
	topic     string
	partition int
	offset    int64
}

// New builds a logger writing to w. format "json" selects the JSON handler;
// anything else selects text.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Setup installs a stdout logger tagged with the service name as the slog
// default.
func Setup(level, format string) {
	slog.SetDefault(New(os.Stdout, level, format).With("service", "es-push"))
}

// WithRecord tags ctx with the coordinates of the record being processed.
func WithRecord(ctx context.Context, topic string, partition int, offset int64) context.Context {
	return context.WithValue(ctx, recordKey{}, recordAttrs{topic: topic, partition: partition, offset: offset})
}

// FromContext returns the default logger, extended with the coordinates
// stored by WithRecord.
func FromContext(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if rec, ok := ctx.Value(recordKey{}).(recordAttrs); ok {
		l = l.With("topic", rec.topic, "partition", rec.partition, "offset", rec.offset)
	}
	return l
}

func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
