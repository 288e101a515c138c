// Package probe reads the three OS signals the overlay needs on every tick:
// where the text caret is, where the mouse pointer is, and which keyboard
// input source is active.
//
// Each signal is read through the Platform capability interface. The
// implementation is selected at build time (platform_darwin.go,
// platform_windows.go, platform_linux.go, platform_other.go) and returned by
// NewPlatform. Probes never fail loudly: any OS refusal, missing attribute or
// null handle comes back as an absent Sample, which the position arbiter
// treats as "fall back one tier".
package probe

import (
	"fmt"
)

// Point is a location in the display's coordinate space. Origin and units are
// whatever the platform reports, consistently within one run.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// String implements fmt.Stringer.
func (p Point) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Sample is an optional Point. OK is false when the probe found nothing.
type Sample struct {
	Point
	OK bool
}

// None is the absent sample.
var None = Sample{}

// Some returns a present sample at (x, y).
func Some(x, y int) Sample {
	return Sample{Point: Point{X: x, Y: y}, OK: true}
}

// String implements fmt.Stringer.
func (s Sample) String() string {
	if !s.OK {
		return "none"
	}
	return s.Point.String()
}

// InputSource is the raw identity of the active keyboard input source.
type InputSource struct {
	// ID is the platform identifier (e.g. "com.apple.inputmethod.Korean.2SetKorean").
	ID string

	// Name is the localized display name (e.g. "2-Set Korean", "한글").
	Name string
}

// Platform is implemented once per operating system.
type Platform interface {
	// Name returns the platform name ("macos", "windows", "linux", "unsupported", ...).
	Name() string

	// Caret returns the point just below the text caret of the focused
	// element, or None.
	Caret() Sample

	// Pointer returns the current mouse pointer location, or None.
	Pointer() Sample

	// InputSource returns the active keyboard input source. ok is false when
	// the source could not be read.
	InputSource() (src InputSource, ok bool)

	// Available reports whether the platform can serve caret queries, with
	// a human-readable explanation (e.g. missing accessibility permission).
	Available() (bool, string)

	// Close releases long-lived resources such as bus connections.
	Close() error
}

// Probes binds a Platform to a language Classifier and exposes the three
// probe operations the scheduler drives.
type Probes struct {
	platform   Platform
	classifier *Classifier
}

// New returns Probes reading from p. A nil classifier uses the default
// Korean markers.
func New(p Platform, c *Classifier) *Probes {
	if c == nil {
		c = NewClassifier(nil)
	}
	return &Probes{platform: p, classifier: c}
}

// Platform returns the underlying platform implementation.
func (p *Probes) Platform() Platform {
	return p.platform
}

// Caret probes the text caret.
func (p *Probes) Caret() Sample {
	return p.platform.Caret()
}

// Pointer probes the mouse pointer.
func (p *Probes) Pointer() Sample {
	return p.platform.Pointer()
}

// Language probes the input source and classifies it with c, or with the
// Probes' own classifier when c is nil.
func (p *Probes) Language(c *Classifier) Language {
	if c == nil {
		c = p.classifier
	}
	src, ok := p.platform.InputSource()
	if !ok {
		return Language{Tag: LangEnglish, Diagnostic: "NULL"}
	}
	return c.Classify(src)
}
