package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imehud/internal/probe"
)

func TestDecidePointerOnly(t *testing.T) {
	p := DefaultPolicy()

	for _, pt := range []probe.Sample{probe.Some(0, 0), probe.Some(640, 480), probe.Some(-200, 50)} {
		got := p.Decide(probe.None, pt)
		assert.Equal(t, SourcePointer, got.Source)
		assert.Equal(t, Target{X: float64(pt.X) + 16, Y: float64(pt.Y) + 16}, got.Target)
		assert.False(t, got.StaleCaret)
	}
}

func TestDecideNothing(t *testing.T) {
	got := DefaultPolicy().Decide(probe.None, probe.None)
	assert.Equal(t, SourceDefault, got.Source)
	assert.Equal(t, Target{X: 100, Y: 100}, got.Target)
}

func TestDecideCaretOnly(t *testing.T) {
	p := DefaultPolicy()

	for _, c := range []probe.Sample{probe.Some(2, 2), probe.Some(500, 500), probe.Some(3000, 40)} {
		got := p.Decide(c, probe.None)
		assert.Equal(t, SourceCaret, got.Source)
		assert.Equal(t, Target{X: float64(c.X) - 35, Y: float64(c.Y) - 35}, got.Target)
	}
}

func TestDecideCaretValidityBoundary(t *testing.T) {
	p := DefaultPolicy()
	pointer := probe.Some(10, 10)

	tests := []struct {
		name  string
		caret probe.Sample
		want  Source
	}{
		{"origin invalid", probe.Some(0, 0), SourcePointer},
		{"(1,1) invalid", probe.Some(1, 1), SourcePointer},
		{"x at threshold", probe.Some(1, 50), SourcePointer},
		{"y at threshold", probe.Some(50, 1), SourcePointer},
		{"(2,2) valid", probe.Some(2, 2), SourceCaret},
		{"negative invalid", probe.Some(-5, 300), SourcePointer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Decide(tt.caret, pointer).Source)
		})
	}

	// Without a pointer an invalid caret drops straight to the fallback.
	got := p.Decide(probe.Some(1, 1), probe.None)
	assert.Equal(t, SourceDefault, got.Source)
	assert.Equal(t, Target{X: 100, Y: 100}, got.Target)

	got = p.Decide(probe.Some(2, 2), probe.None)
	assert.Equal(t, Target{X: -33, Y: -33}, got.Target)
}

func TestDecideStalenessBoundary(t *testing.T) {
	p := DefaultPolicy()
	caret := probe.Some(500, 500)

	tests := []struct {
		name    string
		pointer probe.Sample
		want    Source
		stale   bool
	}{
		{"distance 0", probe.Some(500, 500), SourceCaret, false},
		{"distance 799", probe.Some(900, 899), SourceCaret, false},
		{"distance 800", probe.Some(900, 900), SourceCaret, false},
		{"distance 800 negative side", probe.Some(100, 100), SourceCaret, false},
		{"distance 801", probe.Some(901, 900), SourcePointer, true},
		{"distance 801 single axis", probe.Some(500, 1301), SourcePointer, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Decide(caret, tt.pointer)
			assert.Equal(t, tt.want, got.Source)
			assert.Equal(t, tt.stale, got.StaleCaret)
		})
	}
}

func TestDecideScenarios(t *testing.T) {
	p := DefaultPolicy()

	near := p.Decide(probe.Some(500, 500), probe.Some(510, 505))
	assert.Equal(t, Target{X: 465, Y: 465}, near.Target)
	assert.Equal(t, SourceCaret, near.Source)

	far := p.Decide(probe.Some(500, 500), probe.Some(2000, 2000))
	assert.Equal(t, Target{X: 2016, Y: 2016}, far.Target)
	assert.Equal(t, SourcePointer, far.Source)
	assert.True(t, far.StaleCaret)
}

func TestDecideIdempotent(t *testing.T) {
	p := DefaultPolicy()
	inputs := []struct{ caret, pointer probe.Sample }{
		{probe.Some(500, 500), probe.Some(510, 505)},
		{probe.Some(500, 500), probe.Some(2000, 2000)},
		{probe.None, probe.Some(7, 9)},
		{probe.None, probe.None},
	}

	for _, in := range inputs {
		first := p.Decide(in.caret, in.pointer)
		second := p.Decide(in.caret, in.pointer)
		assert.Equal(t, first, second)
	}
}

func TestDecideCustomPolicy(t *testing.T) {
	p := Policy{
		CaretMin:      10,
		StaleDistance: 100,
		CaretOffset:   Offset{DX: 0, DY: -20},
		PointerOffset: Offset{DX: 8, DY: 4},
		Fallback:      Target{X: 1, Y: 2},
	}
	require.NoError(t, p.Validate())

	assert.Equal(t, SourcePointer, p.Decide(probe.Some(10, 50), probe.Some(0, 0)).Source)
	assert.Equal(t, Target{X: 11, Y: 31}, p.Decide(probe.Some(11, 51), probe.Some(20, 60)).Target)
	assert.Equal(t, Target{X: 208, Y: 204}, p.Decide(probe.Some(11, 51), probe.Some(200, 200)).Target)
	assert.Equal(t, Target{X: 1, Y: 2}, p.Decide(probe.None, probe.None).Target)
}

func TestValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.CaretMin = -1
	assert.ErrorIs(t, p.Validate(), ErrInvalidPolicy)

	p = DefaultPolicy()
	p.StaleDistance = 0
	assert.ErrorIs(t, p.Validate(), ErrInvalidPolicy)
}

func TestManhattan(t *testing.T) {
	assert.Equal(t, 15, Manhattan(probe.Point{X: 500, Y: 500}, probe.Point{X: 510, Y: 505}))
	assert.Equal(t, 3000, Manhattan(probe.Point{X: 500, Y: 500}, probe.Point{X: 2000, Y: 2000}))
	assert.Equal(t, 20, Manhattan(probe.Point{X: -5, Y: 5}, probe.Point{X: 5, Y: -5}))
}
