//go:build linux && cgo

package probe

import "github.com/go-vgo/robotgo"

// x11Pointer reads the pointer through XQueryPointer via robotgo.
func x11Pointer() Sample {
	x, y := robotgo.Location()
	return Some(x, y)
}
