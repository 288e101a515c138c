package probe

import "sync"

// Static is a Platform that returns fixed readings. It backs tests and the
// headless fallback of imehudctl. Setters may be called while a scheduler is
// reading.
type Static struct {
	mu       sync.RWMutex
	name     string
	caret    Sample
	pointer  Sample
	source   InputSource
	sourceOK bool
	calls    int
}

// NewStatic returns a Static platform with no caret, no pointer and no
// readable input source.
func NewStatic() *Static {
	return &Static{name: "static"}
}

// SetCaret sets the caret reading.
func (s *Static) SetCaret(v Sample) {
	s.mu.Lock()
	s.caret = v
	s.mu.Unlock()
}

// SetPointer sets the pointer reading.
func (s *Static) SetPointer(v Sample) {
	s.mu.Lock()
	s.pointer = v
	s.mu.Unlock()
}

// SetInputSource sets the input source reading.
func (s *Static) SetInputSource(src InputSource, ok bool) {
	s.mu.Lock()
	s.source = src
	s.sourceOK = ok
	s.mu.Unlock()
}

// Calls returns how many caret probes were served.
func (s *Static) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

func (s *Static) Name() string { return s.name }

func (s *Static) Caret() Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.caret
}

func (s *Static) Pointer() Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pointer
}

func (s *Static) InputSource() (InputSource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source, s.sourceOK
}

func (s *Static) Available() (bool, string) {
	return true, "static readings"
}

func (s *Static) Close() error { return nil }

var _ Platform = (*Static)(nil)
