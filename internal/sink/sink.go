// Package sink delivers each tick's overlay state to whatever presents it.
//
// The scheduler calls Present exactly once per tick, on its own goroutine.
// A Sink that needs to run on another thread (a UI main loop, a network
// connection) hands the Update off and returns; Chan exists for that case.
package sink

import (
	"context"
	"errors"
	"time"

	"imehud/internal/position"
	"imehud/internal/probe"
)

// Update is one tick's output. X, Y and Lang are the presentation payload;
// the remaining fields are for observability only.
type Update struct {
	X    float64    `json:"x"`
	Y    float64    `json:"y"`
	Lang probe.Lang `json:"lang"`

	Source     position.Source `json:"source,omitempty"`
	StaleCaret bool            `json:"stale_caret,omitempty"`
	Diagnostic string          `json:"diagnostic,omitempty"`
	Seq        uint64          `json:"seq,omitempty"`
	Time       time.Time       `json:"time,omitzero"`
}

// Target returns the update's overlay position.
func (u Update) Target() position.Target {
	return position.Target{X: u.X, Y: u.Y}
}

// SameState reports whether u and other would render identically.
func (u Update) SameState(other Update) bool {
	return u.X == other.X && u.Y == other.Y && u.Lang == other.Lang
}

// Sink receives one Update per tick.
type Sink interface {
	Present(ctx context.Context, u Update) error
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, u Update) error

// Present calls f.
func (f Func) Present(ctx context.Context, u Update) error {
	return f(ctx, u)
}

// Discard accepts and ignores every update.
var Discard Sink = Func(func(context.Context, Update) error { return nil })

// Multi fans an update out to several sinks. Every sink is called even when
// an earlier one fails; the errors are joined.
type Multi []Sink

// Present implements Sink.
func (m Multi) Present(ctx context.Context, u Update) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Present(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
