//go:build !linux && !windows && (!darwin || !cgo)

package probe

// unsupportedPlatform reports nothing. The arbiter then always chooses its
// fixed fallback point.
type unsupportedPlatform struct{}

// NewPlatform returns a platform whose probes always report nothing.
func NewPlatform(...Option) (Platform, error) {
	return unsupportedPlatform{}, nil
}

func (unsupportedPlatform) Name() string                     { return "unsupported" }
func (unsupportedPlatform) Caret() Sample                    { return None }
func (unsupportedPlatform) Pointer() Sample                  { return None }
func (unsupportedPlatform) InputSource() (InputSource, bool) { return InputSource{}, false }
func (unsupportedPlatform) Close() error                     { return nil }

func (unsupportedPlatform) Available() (bool, string) {
	return false, "no native probes for this platform (macOS builds need cgo)"
}
