package sink

import (
	"context"
	"log/slog"
	"sync"
)

// Log writes updates to a structured logger, but only when the rendered
// state changes. Language switches are logged at info, moves at debug.
type Log struct {
	logger *slog.Logger

	mu   sync.Mutex
	last Update
	seen bool
}

// NewLog returns a Log sink. A nil logger uses slog.Default().
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "sink")}
}

// Present implements Sink.
func (l *Log) Present(ctx context.Context, u Update) error {
	l.mu.Lock()
	prev, seen := l.last, l.seen
	l.last, l.seen = u, true
	l.mu.Unlock()

	if seen && prev.SameState(u) {
		return nil
	}

	level := slog.LevelDebug
	if !seen || prev.Lang != u.Lang {
		level = slog.LevelInfo
	}
	l.logger.Log(ctx, level, "overlay update",
		"x", u.X,
		"y", u.Y,
		"lang", string(u.Lang),
		"source", string(u.Source),
		"input_source", u.Diagnostic,
	)
	return nil
}
