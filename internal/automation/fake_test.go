package automation

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// fakeWindowSystem serves a fixed window list and records activations.
type fakeWindowSystem struct {
	windows      []WindowRecord
	activated    []uintptr
	focusedValue string
	focusedErr   error
	enumErr      error
}

func (f *fakeWindowSystem) EnumWindows() ([]WindowRecord, error) {
	if f.enumErr != nil {
		return nil, f.enumErr
	}
	return append([]WindowRecord(nil), f.windows...), nil
}

func (f *fakeWindowSystem) Activate(hwnd uintptr) error {
	f.activated = append(f.activated, hwnd)
	return nil
}

func (f *fakeWindowSystem) FocusedElementValue(hwnd uintptr) (string, error) {
	if f.focusedErr != nil {
		return "", f.focusedErr
	}
	return f.focusedValue, nil
}

// fakeElement implements Element over literal values.
type fakeElement struct {
	controlType  string
	name         string
	automationID string
	className    string
	enabled      bool
	visible      bool
	focusable    bool
	focused      bool
	rect         Rect
	rectErr      error
	value        string
	hasValue     bool
	texts        []string
	children     []Element
	childrenErr  error
}

func (f *fakeElement) ControlType() string       { return f.controlType }
func (f *fakeElement) Name() string              { return f.name }
func (f *fakeElement) AutomationID() string      { return f.automationID }
func (f *fakeElement) ClassName() string         { return f.className }
func (f *fakeElement) IsEnabled() bool           { return f.enabled }
func (f *fakeElement) IsVisible() bool           { return f.visible }
func (f *fakeElement) IsKeyboardFocusable() bool { return f.focusable }
func (f *fakeElement) HasKeyboardFocus() bool    { return f.focused }
func (f *fakeElement) Rect() (Rect, error)       { return f.rect, f.rectErr }
func (f *fakeElement) Value() (string, bool)     { return f.value, f.hasValue }
func (f *fakeElement) Texts() []string           { return f.texts }
func (f *fakeElement) Children() ([]Element, error) {
	return f.children, f.childrenErr
}

// fakeInputTarget simulates the remote text box: typed keystrokes and
// pastes mutate its buffer; select-all-copy exposes it to the clipboard.
type fakeInputTarget struct {
	buffer       string
	selected     bool
	clipboard    string
	typedRunes   int
	typingBroken bool // simulates an app that swallows keystrokes
	pasteBroken  bool
	enters       int
	clicks       []Point
}

func (f *fakeInputTarget) Click(p Point) error {
	f.clicks = append(f.clicks, p)
	return nil
}

func (f *fakeInputTarget) TypeText(ctx context.Context, text string, perChar time.Duration) error {
	if f.selected {
		f.buffer = ""
		f.selected = false
	}
	if f.typingBroken {
		// Keystrokes silently vanish; validation catches it.
		return nil
	}
	f.buffer += text
	f.typedRunes += len([]rune(text))
	return nil
}

func (f *fakeInputTarget) SelectAll() error { f.selected = true; return nil }

func (f *fakeInputTarget) Delete() error {
	if f.selected {
		f.buffer = ""
		f.selected = false
	}
	return nil
}

func (f *fakeInputTarget) Paste() error {
	if f.pasteBroken {
		return fmt.Errorf("paste blocked")
	}
	if f.selected {
		f.buffer = ""
		f.selected = false
	}
	f.buffer += f.clipboard
	return nil
}

func (f *fakeInputTarget) Copy() error {
	if f.selected {
		f.clipboard = f.buffer
		f.selected = false
	}
	return nil
}

func (f *fakeInputTarget) Enter() error { f.enters++; return nil }

// Clipboard side of the same fake.
func (f *fakeInputTarget) ReadText() (string, error)   { return f.clipboard, nil }
func (f *fakeInputTarget) WriteText(text string) error { f.clipboard = text; return nil }

// fakeScreen returns canned PNG bytes.
type fakeScreen struct {
	png []byte
	err error
}

func (f *fakeScreen) CaptureScreen() ([]byte, error)   { return f.png, f.err }
func (f *fakeScreen) CaptureRect(Rect) ([]byte, error) { return f.png, f.err }

// fakeUIA serves a fixed tree root per hwnd.
type fakeUIA struct {
	roots map[uintptr]Element
}

func (f *fakeUIA) RootElement(hwnd uintptr) (Element, error) {
	el, ok := f.roots[hwnd]
	if !ok {
		return nil, fmt.Errorf("no tree for hwnd %d", hwnd)
	}
	return el, nil
}

func newFakeDriver(target *fakeInputTarget, ws *fakeWindowSystem, uia *fakeUIA) *Driver {
	if uia == nil {
		uia = &fakeUIA{roots: map[uintptr]Element{}}
	}
	return &Driver{
		Windows: ws,
		UIA:     uia,
		Input:   target,
		Clip:    target,
		Screen:  &fakeScreen{png: []byte("png-bytes")},
	}
}

// fakeOCREngine returns canned results.
type fakeOCREngine struct {
	name    string
	results []OCRResult
	err     error
	calls   int
}

func (f *fakeOCREngine) Name() string { return f.name }

func (f *fakeOCREngine) DetectText(ctx context.Context, png []byte) ([]OCRResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]OCRResult(nil), f.results...), nil
}

// treeKeys flattens a walked tree's child keys for comparison.
func treeKeys(node *UIANode) []string {
	var out []string
	var walk func(n *UIANode, prefix string)
	walk = func(n *UIANode, prefix string) {
		keys := make([]string, 0, len(n.Children))
		for k := range n.Children {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, prefix+k)
			walk(n.Children[k], prefix+k+"/")
		}
	}
	walk(node, "")
	return out
}
