//go:build linux

package probe

import (
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
)

func atspiSignal(sender string, path dbus.ObjectPath, name, kind string, detail1 int32) *dbus.Signal {
	return &dbus.Signal{
		Sender: sender,
		Path:   path,
		Name:   name,
		Body:   []any{kind, detail1, int32(0), dbus.MakeVariant(int32(0)), map[string]dbus.Variant{}},
	}
}

func TestATSPITrackerFocus(t *testing.T) {
	const (
		editor  = ":1.42"
		browser = ":1.77"
	)
	field := dbus.ObjectPath("/org/a11y/atspi/accessible/12")
	other := dbus.ObjectPath("/org/a11y/atspi/accessible/13")

	tests := []struct {
		name    string
		start   accessibleRef
		signal  *dbus.Signal
		focused accessibleRef
	}{
		{
			name:    "focus gained",
			signal:  atspiSignal(editor, field, atspiEventObject+".StateChanged", "focused", 1),
			focused: accessibleRef{editor, field},
		},
		{
			name:    "focus lost by the focused object",
			start:   accessibleRef{editor, field},
			signal:  atspiSignal(editor, field, atspiEventObject+".StateChanged", "focused", 0),
			focused: accessibleRef{},
		},
		{
			name:    "focus lost by another object",
			start:   accessibleRef{editor, field},
			signal:  atspiSignal(editor, other, atspiEventObject+".StateChanged", "focused", 0),
			focused: accessibleRef{editor, field},
		},
		{
			name:    "other state changes ignored",
			start:   accessibleRef{editor, field},
			signal:  atspiSignal(browser, other, atspiEventObject+".StateChanged", "selected", 1),
			focused: accessibleRef{editor, field},
		},
		{
			name:    "caret move adopts the object",
			start:   accessibleRef{editor, field},
			signal:  atspiSignal(browser, other, atspiEventObject+".TextCaretMoved", "", 5),
			focused: accessibleRef{browser, other},
		},
		{
			name:    "window deactivated in the focused application",
			start:   accessibleRef{editor, field},
			signal:  atspiSignal(editor, "/org/a11y/atspi/accessible/1", atspiEventWindow+".Deactivate", "", 0),
			focused: accessibleRef{},
		},
		{
			name:    "window deactivated elsewhere",
			start:   accessibleRef{editor, field},
			signal:  atspiSignal(browser, "/org/a11y/atspi/accessible/1", atspiEventWindow+".Deactivate", "", 0),
			focused: accessibleRef{editor, field},
		},
		{
			name:    "short body ignored",
			start:   accessibleRef{editor, field},
			signal:  &dbus.Signal{Sender: browser, Path: other, Name: atspiEventObject + ".TextCaretMoved", Body: []any{""}},
			focused: accessibleRef{editor, field},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &atspiTracker{focused: tt.start}
			tr.handleSignal(tt.signal)
			assert.Equal(t, tt.focused, tr.focused)
		})
	}
}

type charBox struct{ x, y, w, h int32 }

func extentsOf(boxes map[int32]charBox) func(int32) (x, y, w, h int32, err error) {
	return func(offset int32) (x, y, w, h int32, err error) {
		b, ok := boxes[offset]
		if !ok {
			return 0, 0, 0, 0, errors.New("no such character")
		}
		return b.x, b.y, b.w, b.h, nil
	}
}

func TestCaretPoint(t *testing.T) {
	tests := []struct {
		name   string
		offset int32
		boxes  map[int32]charBox
		want   Sample
	}{
		{
			name:   "inside text",
			offset: 3,
			boxes:  map[int32]charBox{3: {x: 120, y: 300, w: 8, h: 18}},
			want:   Some(120, 318),
		},
		{
			name:   "end of text uses the previous character's right edge",
			offset: 4,
			boxes:  map[int32]charBox{3: {x: 120, y: 300, w: 8, h: 18}, 4: {}},
			want:   Some(128, 318),
		},
		{
			name:   "empty field",
			offset: 0,
			boxes:  map[int32]charBox{0: {}},
			want:   None,
		},
		{
			name:   "previous character also empty",
			offset: 2,
			boxes:  map[int32]charBox{1: {}, 2: {}},
			want:   None,
		},
		{
			name:   "extents call fails",
			offset: 9,
			boxes:  map[int32]charBox{},
			want:   None,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, caretPoint(tt.offset, extentsOf(tt.boxes)))
		})
	}
}
