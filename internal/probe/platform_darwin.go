//go:build darwin && cgo

package probe

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework ApplicationServices -framework Carbon -framework Foundation

#include <ApplicationServices/ApplicationServices.h>
#include <Carbon/Carbon.h>
#include <stdlib.h>

// ============================================================================
// Caret via the Accessibility API
// ============================================================================
//
// focused element -> selected text range -> bounds for range -> CGRect.
// Every copied object is released on every path through the function.

static int imehud_caret(double* x, double* y) {
    int ok = 0;
    CFTypeRef focused = NULL;
    CFTypeRef range = NULL;
    CFTypeRef bounds = NULL;
    CGRect rect;

    AXUIElementRef system = AXUIElementCreateSystemWide();
    if (!system) return 0;

    if (AXUIElementCopyAttributeValue(system, kAXFocusedUIElementAttribute, &focused) != kAXErrorSuccess || !focused) {
        goto done;
    }
    if (AXUIElementCopyAttributeValue((AXUIElementRef)focused, kAXSelectedTextRangeAttribute, &range) != kAXErrorSuccess || !range) {
        goto done;
    }
    if (AXUIElementCopyParameterizedAttributeValue((AXUIElementRef)focused, kAXBoundsForRangeParameterizedAttribute, range, &bounds) != kAXErrorSuccess || !bounds) {
        goto done;
    }
    if (CFGetTypeID(bounds) != AXValueGetTypeID()) {
        goto done;
    }
    if (!AXValueGetValue((AXValueRef)bounds, kAXValueTypeCGRect, &rect)) {
        goto done;
    }

    // Bottom-left of the caret glyph.
    *x = rect.origin.x;
    *y = rect.origin.y + rect.size.height;
    ok = 1;

done:
    if (bounds) CFRelease(bounds);
    if (range) CFRelease(range);
    if (focused) CFRelease(focused);
    CFRelease(system);
    return ok;
}

// ============================================================================
// Pointer via a transient CGEvent
// ============================================================================

static int imehud_pointer(double* x, double* y) {
    CGEventRef event = CGEventCreate(NULL);
    if (!event) return 0;
    CGPoint loc = CGEventGetLocation(event);
    CFRelease(event);
    *x = loc.x;
    *y = loc.y;
    return 1;
}

// ============================================================================
// Keyboard input source via Text Input Sources
// ============================================================================

static char* imehud_copyCString(CFTypeRef value) {
    if (!value || CFGetTypeID(value) != CFStringGetTypeID()) return NULL;
    CFStringRef str = (CFStringRef)value;
    CFIndex length = CFStringGetLength(str);
    CFIndex maxSize = CFStringGetMaximumSizeForEncoding(length, kCFStringEncodingUTF8) + 1;
    char* buf = malloc(maxSize);
    if (!buf) return NULL;
    if (!CFStringGetCString(str, buf, maxSize, kCFStringEncodingUTF8)) {
        free(buf);
        return NULL;
    }
    return buf;
}

// Properties follow the get rule; only the source itself is released.
static int imehud_inputSource(char** sourceID, char** name) {
    TISInputSourceRef source = TISCopyCurrentKeyboardInputSource();
    if (!source) return 0;
    *sourceID = imehud_copyCString(TISGetInputSourceProperty(source, kTISPropertyInputSourceID));
    *name = imehud_copyCString(TISGetInputSourceProperty(source, kTISPropertyLocalizedName));
    CFRelease(source);
    return 1;
}

static int imehud_accessibilityTrusted(void) {
    return AXIsProcessTrusted() ? 1 : 0;
}
*/
import "C"

import "unsafe"

// darwinPlatform reads caret, pointer and input source through
// ApplicationServices and Carbon. Text Input Source calls go through the
// main-thread caller; everything else runs on the calling goroutine.
type darwinPlatform struct {
	opts platformOptions
}

// NewPlatform returns the macOS platform. Without WithMainThread the input
// source is read on the calling thread, which only suits single-threaded
// callers such as a one-shot CLI.
func NewPlatform(opts ...Option) (Platform, error) {
	return darwinPlatform{opts: collectOptions(opts)}, nil
}

func (darwinPlatform) Name() string {
	return "macos"
}

func (darwinPlatform) Caret() Sample {
	var x, y C.double
	if C.imehud_caret(&x, &y) == 0 {
		return None
	}
	return Some(int(x), int(y))
}

func (darwinPlatform) Pointer() Sample {
	var x, y C.double
	if C.imehud_pointer(&x, &y) == 0 {
		return None
	}
	return Some(int(x), int(y))
}

func (p darwinPlatform) InputSource() (src InputSource, ok bool) {
	p.opts.onMainThread(func() { src, ok = readInputSource() })
	return src, ok
}

func readInputSource() (InputSource, bool) {
	var cID, cName *C.char
	if C.imehud_inputSource(&cID, &cName) == 0 {
		return InputSource{}, false
	}
	defer func() {
		if cID != nil {
			C.free(unsafe.Pointer(cID))
		}
		if cName != nil {
			C.free(unsafe.Pointer(cName))
		}
	}()

	var src InputSource
	if cID != nil {
		src.ID = C.GoString(cID)
	}
	if cName != nil {
		src.Name = C.GoString(cName)
	}
	return src, true
}

func (darwinPlatform) Available() (bool, string) {
	if C.imehud_accessibilityTrusted() == 0 {
		return false, "accessibility permission not granted (System Settings > Privacy & Security > Accessibility)"
	}
	return true, "macOS accessibility available"
}

func (darwinPlatform) Close() error {
	return nil
}
