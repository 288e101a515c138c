package main

import (
	"sync"

	"imehud/internal/logging"
	"imehud/internal/probe"
)

// guardedPlatform turns a panic inside a native probe into an absent
// reading. The first panic of each call writes a crash report; repeats are
// only counted so a broken probe does not fill the crash directory at 60 Hz.
type guardedPlatform struct {
	probe.Platform
	crash *logging.CrashHandler

	mu       sync.Mutex
	reported map[string]int
}

func newGuardedPlatform(p probe.Platform, crash *logging.CrashHandler) *guardedPlatform {
	return &guardedPlatform{
		Platform: p,
		crash:    crash,
		reported: make(map[string]int),
	}
}

func (g *guardedPlatform) recovered(call string, value any) {
	g.mu.Lock()
	g.reported[call]++
	n := g.reported[call]
	g.mu.Unlock()

	if n == 1 {
		g.crash.HandlePanic("probe", value, map[string]any{
			"platform": g.Platform.Name(),
			"call":     call,
		})
	}
}

// panics returns how many times call has panicked.
func (g *guardedPlatform) panics(call string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reported[call]
}

func (g *guardedPlatform) Caret() (s probe.Sample) {
	defer func() {
		if r := recover(); r != nil {
			g.recovered("caret", r)
			s = probe.None
		}
	}()
	return g.Platform.Caret()
}

func (g *guardedPlatform) Pointer() (s probe.Sample) {
	defer func() {
		if r := recover(); r != nil {
			g.recovered("pointer", r)
			s = probe.None
		}
	}()
	return g.Platform.Pointer()
}

func (g *guardedPlatform) InputSource() (src probe.InputSource, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			g.recovered("input-source", r)
			src, ok = probe.InputSource{}, false
		}
	}()
	return g.Platform.InputSource()
}

func (g *guardedPlatform) Available() (ok bool, detail string) {
	defer func() {
		if r := recover(); r != nil {
			g.recovered("available", r)
			ok, detail = false, "availability check panicked"
		}
	}()
	return g.Platform.Available()
}

func (g *guardedPlatform) Close() error {
	return g.crash.Guard("probe", map[string]any{"call": "close"}, g.Platform.Close)
}

var _ probe.Platform = (*guardedPlatform)(nil)
