//go:build linux && !cgo

package probe

// x11Pointer needs cgo; without it the pointer probe reports nothing.
func x11Pointer() Sample {
	return None
}
