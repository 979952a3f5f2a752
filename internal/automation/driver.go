package automation

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupported is returned by every driver operation on platforms
// without a desktop automation surface.
var ErrUnsupported = errors.New("automation: not supported on this platform")

// WindowSystem enumerates and manipulates top-level windows.
type WindowSystem interface {
	// EnumWindows returns every top-level window, visible or not.
	EnumWindows() ([]WindowRecord, error)

	// Activate brings a window to the foreground, restoring it first if
	// minimized.
	Activate(hwnd uintptr) error

	// FocusedElementValue reads the text value of the window's focused
	// element, used by get_focused_value and send-text validation.
	FocusedElementValue(hwnd uintptr) (string, error)
}

// Element is one accessibility-tree element. The walk in uia.go is
// written against this interface; the Windows driver adapts IUIAutomation
// elements to it.
type Element interface {
	ControlType() string
	Name() string
	AutomationID() string
	ClassName() string
	IsEnabled() bool
	IsVisible() bool
	IsKeyboardFocusable() bool
	HasKeyboardFocus() bool
	Rect() (Rect, error)
	// Value returns the element's current text value; ok is false when
	// the framework exposes no value pattern.
	Value() (value string, ok bool)
	Texts() []string
	Children() ([]Element, error)
}

// UIAProvider opens the accessibility tree of a window.
type UIAProvider interface {
	RootElement(hwnd uintptr) (Element, error)
}

// InputDriver emits synthetic keyboard and mouse events.
type InputDriver interface {
	// Click performs a single left click at the screen coordinate.
	Click(p Point) error

	// TypeText emits the text as keystrokes with per-character pacing.
	// Newlines are emitted as shift+enter so chat-style inputs don't
	// submit early.
	TypeText(ctx context.Context, text string, perChar time.Duration) error

	// SelectAll sends ctrl+a.
	SelectAll() error

	// Delete sends the delete key.
	Delete() error

	// Paste sends ctrl+v.
	Paste() error

	// Copy sends ctrl+c.
	Copy() error

	// Enter sends a plain enter keypress (the submit primitive).
	Enter() error
}

// Clipboard reads and writes the OS clipboard.
type Clipboard interface {
	ReadText() (string, error)
	WriteText(text string) error
}

// ScreenCapturer grabs pixels.
type ScreenCapturer interface {
	// CaptureScreen captures the full primary desktop as PNG bytes.
	CaptureScreen() ([]byte, error)

	// CaptureRect captures the given screen rectangle as PNG bytes.
	CaptureRect(r Rect) ([]byte, error)
}

// Driver bundles the platform implementations. NewDriver (per-platform)
// builds the real one; tests build fakes.
type Driver struct {
	Windows WindowSystem
	UIA     UIAProvider
	Input   InputDriver
	Clip    Clipboard
	Screen  ScreenCapturer
}
