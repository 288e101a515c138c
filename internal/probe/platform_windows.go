//go:build windows

package probe

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32   = windows.NewLazySystemDLL("user32.dll")
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procGetGUIThreadInfo  = user32.NewProc("GetGUIThreadInfo")
	procClientToScreen    = user32.NewProc("ClientToScreen")
	procGetCursorPos      = user32.NewProc("GetCursorPos")
	procGetKeyboardLayout = user32.NewProc("GetKeyboardLayout")
	procGetLocaleInfoW    = kernel32.NewProc("GetLocaleInfoW")
)

const localeSEnglishLanguageName = 0x00001001

type winPoint struct {
	X, Y int32
}

// guiThreadInfo mirrors GUITHREADINFO.
type guiThreadInfo struct {
	Size        uint32
	Flags       uint32
	Active      windows.HWND
	Focus       windows.HWND
	Capture     windows.HWND
	MenuOwner   windows.HWND
	MoveSize    windows.HWND
	CaretHandle windows.HWND
	CaretRect   windows.Rect
}

// windowsPlatform reads the system caret of the foreground thread, the
// cursor position and the foreground thread's keyboard layout.
type windowsPlatform struct{}

// NewPlatform returns the Windows platform.
func NewPlatform(...Option) (Platform, error) {
	if err := user32.Load(); err != nil {
		return nil, fmt.Errorf("load user32: %w", err)
	}
	return windowsPlatform{}, nil
}

func (windowsPlatform) Name() string {
	return "windows"
}

// foregroundThread returns the thread owning the foreground window, or 0.
func foregroundThread() uint32 {
	hwnd := windows.GetForegroundWindow()
	if hwnd == 0 {
		return 0
	}
	var pid uint32
	tid, err := windows.GetWindowThreadProcessId(hwnd, &pid)
	if err != nil {
		return 0
	}
	return tid
}

func (windowsPlatform) Caret() Sample {
	tid := foregroundThread()
	if tid == 0 {
		return None
	}

	info := guiThreadInfo{}
	info.Size = uint32(unsafe.Sizeof(info))
	r, _, _ := procGetGUIThreadInfo.Call(uintptr(tid), uintptr(unsafe.Pointer(&info)))
	if r == 0 || info.CaretHandle == 0 {
		return None
	}

	// Caret rect is in the caret window's client coordinates.
	pt := winPoint{X: info.CaretRect.Left, Y: info.CaretRect.Bottom}
	r, _, _ = procClientToScreen.Call(uintptr(info.CaretHandle), uintptr(unsafe.Pointer(&pt)))
	if r == 0 {
		return None
	}
	return Some(int(pt.X), int(pt.Y))
}

func (windowsPlatform) Pointer() Sample {
	var pt winPoint
	r, _, _ := procGetCursorPos.Call(uintptr(unsafe.Pointer(&pt)))
	if r == 0 {
		return None
	}
	return Some(int(pt.X), int(pt.Y))
}

func (windowsPlatform) InputSource() (InputSource, bool) {
	tid := foregroundThread()
	hkl, _, _ := procGetKeyboardLayout.Call(uintptr(tid))
	if hkl == 0 {
		return InputSource{}, false
	}

	langID := uint32(hkl) & 0xFFFF
	src := InputSource{
		ID:   fmt.Sprintf("%08X", uint32(hkl)),
		Name: localeLanguageName(langID),
	}
	return src, true
}

// localeLanguageName returns the English language name of an LCID, or "".
func localeLanguageName(lcid uint32) string {
	buf := make([]uint16, 85)
	n, _, _ := procGetLocaleInfoW.Call(
		uintptr(lcid),
		localeSEnglishLanguageName,
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
	)
	if n == 0 {
		return ""
	}
	return windows.UTF16ToString(buf[:n])
}

func (windowsPlatform) Available() (bool, string) {
	return true, "Win32 caret and keyboard layout available"
}

func (windowsPlatform) Close() error {
	return nil
}
