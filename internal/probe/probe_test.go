package probe

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSample(t *testing.T) {
	assert.False(t, None.OK)
	assert.Equal(t, "none", None.String())

	s := Some(3, -4)
	assert.True(t, s.OK)
	assert.Equal(t, Point{X: 3, Y: -4}, s.Point)
	assert.Equal(t, "(3,-4)", s.String())
}

func TestProbesDelegate(t *testing.T) {
	st := NewStatic()
	st.SetCaret(Some(10, 20))
	st.SetPointer(Some(30, 40))

	p := New(st, nil)
	require.Same(t, st, p.Platform())
	assert.Equal(t, Some(10, 20), p.Caret())
	assert.Equal(t, Some(30, 40), p.Pointer())
	assert.Equal(t, 1, st.Calls())
}

func TestProbesLanguageUnreadable(t *testing.T) {
	p := New(NewStatic(), nil)

	got := p.Language(nil)
	assert.Equal(t, LangEnglish, got.Tag)
	assert.Equal(t, "NULL", got.Diagnostic)
}

func TestProbesLanguageClassifierOverride(t *testing.T) {
	st := NewStatic()
	st.SetInputSource(InputSource{ID: "hangul", Name: "Hangul"}, true)
	p := New(st, nil)

	assert.Equal(t, LangKorean, p.Language(nil).Tag)
	assert.Equal(t, LangEnglish, p.Language(NewClassifier([]string{"pinyin"})).Tag)
}

func TestNewPlatform(t *testing.T) {
	p, err := NewPlatform()
	require.NoError(t, err)
	require.NotNil(t, p)
	defer p.Close()

	assert.NotEmpty(t, p.Name())
	_, reason := p.Available()
	assert.NotEmpty(t, reason)
}

func TestMainThreadOption(t *testing.T) {
	var ran bool
	collectOptions(nil).onMainThread(func() { ran = true })
	assert.True(t, ran, "without a caller the call runs inline")

	// A locked goroutine serving a queue stands in for the main thread.
	queue := make(chan func())
	defer close(queue)
	go func() {
		runtime.LockOSThread()
		for f := range queue {
			f()
		}
	}()

	var routed int
	call := func(f func()) {
		routed++
		done := make(chan struct{})
		queue <- func() {
			defer close(done)
			f()
		}
		<-done
	}

	opts := collectOptions([]Option{WithMainThread(call)})
	var got InputSource
	opts.onMainThread(func() { got = InputSource{ID: "com.apple.inputmethod.Korean.2SetKorean"} })
	assert.Equal(t, 1, routed)
	assert.Equal(t, "com.apple.inputmethod.Korean.2SetKorean", got.ID)
}
