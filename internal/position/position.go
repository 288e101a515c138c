// Package position decides where the overlay goes on each tick.
//
// The policy trusts the precise caret geometry when it is plausible, and
// falls back to the mouse pointer when it is not:
//
//  1. A caret whose coordinates both exceed CaretMin is valid. Some hosts
//     report (0,0) or (1,1) for an uninitialized caret.
//  2. A valid caret more than StaleDistance (Manhattan) away from the
//     pointer is stale. Some applications keep reporting the caret of an
//     element that is no longer on screen.
//  3. Otherwise the pointer wins; without a pointer the fixed fallback
//     point is used so the overlay is never left unplaced.
//
// Decide is a pure function of its inputs.
package position

import (
	"errors"
	"fmt"

	"imehud/internal/probe"
)

// Target is the overlay position handed to the presentation layer, in
// logical coordinates.
type Target struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Offset is a displacement applied to a probed point.
type Offset struct {
	DX float64
	DY float64
}

// Source records which tier produced a Target.
type Source string

const (
	SourceCaret   Source = "caret"
	SourcePointer Source = "pointer"
	SourceDefault Source = "default"
)

// Decision is the outcome of one arbitration.
type Decision struct {
	Target Target
	Source Source

	// StaleCaret is set when a valid caret was overridden by the pointer
	// because the two were too far apart.
	StaleCaret bool
}

// Policy holds the arbitration parameters.
type Policy struct {
	// CaretMin is the exclusive lower bound both caret coordinates must
	// exceed for the caret to be used.
	CaretMin int

	// StaleDistance is the exclusive upper bound on the caret-to-pointer
	// Manhattan distance.
	StaleDistance int

	// CaretOffset anchors the overlay above and left of the caret.
	CaretOffset Offset

	// PointerOffset keeps the overlay off the cursor.
	PointerOffset Offset

	// Fallback is used when neither probe produced a point.
	Fallback Target
}

// DefaultPolicy returns the shipped tuning.
func DefaultPolicy() Policy {
	return Policy{
		CaretMin:      1,
		StaleDistance: 800,
		CaretOffset:   Offset{DX: -35, DY: -35},
		PointerOffset: Offset{DX: 16, DY: 16},
		Fallback:      Target{X: 100, Y: 100},
	}
}

// ErrInvalidPolicy is wrapped by Validate.
var ErrInvalidPolicy = errors.New("position: invalid policy")

// Validate checks the policy's thresholds.
func (p Policy) Validate() error {
	if p.CaretMin < 0 {
		return fmt.Errorf("%w: caret min %d is negative", ErrInvalidPolicy, p.CaretMin)
	}
	if p.StaleDistance <= 0 {
		return fmt.Errorf("%w: stale distance %d must be positive", ErrInvalidPolicy, p.StaleDistance)
	}
	return nil
}

// Decide picks the overlay position from one tick's caret and pointer
// samples.
func (p Policy) Decide(caret, pointer probe.Sample) Decision {
	if p.caretValid(caret) {
		if pointer.OK && Manhattan(caret.Point, pointer.Point) > p.StaleDistance {
			d := p.pointerDecision(pointer.Point)
			d.StaleCaret = true
			return d
		}
		return Decision{
			Target: offset(caret.Point, p.CaretOffset),
			Source: SourceCaret,
		}
	}

	if pointer.OK {
		return p.pointerDecision(pointer.Point)
	}

	return Decision{Target: p.Fallback, Source: SourceDefault}
}

func (p Policy) caretValid(caret probe.Sample) bool {
	return caret.OK && caret.X > p.CaretMin && caret.Y > p.CaretMin
}

func (p Policy) pointerDecision(pt probe.Point) Decision {
	return Decision{
		Target: offset(pt, p.PointerOffset),
		Source: SourcePointer,
	}
}

func offset(pt probe.Point, o Offset) Target {
	return Target{X: float64(pt.X) + o.DX, Y: float64(pt.Y) + o.DY}
}

// Manhattan returns |a.X-b.X| + |a.Y-b.Y|.
func Manhattan(a, b probe.Point) int {
	return abs(a.X-b.X) + abs(a.Y-b.Y)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
