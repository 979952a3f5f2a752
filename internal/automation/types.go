// Package automation implements the GUI-automation core: window
// enumeration, UIA tree extraction, synthetic input with post-write
// validation, element scoring with adaptive position memory, screenshot
// capture, the OCR facade, and program launch. OS access goes through the
// Driver interfaces so everything above the syscall layer is portable and
// testable.
package automation

import "fmt"

// Rect is a screen-coordinate rectangle.
type Rect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Width returns the rectangle width.
func (r Rect) Width() int { return r.Right - r.Left }

// Height returns the rectangle height.
func (r Rect) Height() int { return r.Bottom - r.Top }

// Center returns the rectangle's center point.
func (r Rect) Center() Point {
	return Point{X: (r.Left + r.Right) / 2, Y: (r.Top + r.Bottom) / 2}
}

// Contains reports whether the point lies inside the rectangle.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.Left && p.X < r.Right && p.Y >= r.Top && p.Y < r.Bottom
}

func (r Rect) String() string {
	return fmt.Sprintf("(L%d, T%d, R%d, B%d)", r.Left, r.Top, r.Right, r.Bottom)
}

// Point is a screen coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// WindowRecord describes one top-level window.
type WindowRecord struct {
	HWND           uintptr `json:"hwnd"`
	Title          string  `json:"title"`
	ClassName      string  `json:"class_name"`
	ProcessID      int32   `json:"process_id"`
	ProcessName    string  `json:"process_name"`
	Rect           Rect    `json:"rect"`
	Visible        bool    `json:"visible"`
	Enabled        bool    `json:"enabled"`
	PlacementState string  `json:"placement_state"` // normal, minimized, maximized
}

// Placement states.
const (
	PlacementNormal    = "normal"
	PlacementMinimized = "minimized"
	PlacementMaximized = "maximized"
)

// UIANode is one node of an extracted accessibility tree. Children are
// keyed by stable child keys so a path through the tree addresses the
// same element across consecutive walks of an unchanged UI.
type UIANode struct {
	ControlType         string              `json:"control_type,omitempty"`
	Name                string              `json:"name,omitempty"`
	AutomationID        string              `json:"automation_id,omitempty"`
	ClassName           string              `json:"class_name,omitempty"`
	IsEnabled           bool                `json:"is_enabled,omitempty"`
	IsVisible           bool                `json:"is_visible,omitempty"`
	IsKeyboardFocusable bool                `json:"is_keyboard_focusable,omitempty"`
	HasKeyboardFocus    bool                `json:"has_keyboard_focus,omitempty"`
	Rectangle           *Rect               `json:"rectangle,omitempty"`
	Value               *string             `json:"value,omitempty"`
	Texts               []string            `json:"texts,omitempty"`
	Children            map[string]*UIANode `json:"children,omitempty"`
	Error               string              `json:"error,omitempty"`
}

// OCRResult is one detected text region from an OCR engine.
type OCRResult struct {
	BBox       Rect    `json:"bbox"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Engine     string  `json:"engine"`
}

// ProcessRecord is one row of a process listing.
type ProcessRecord struct {
	PID    int32   `json:"pid"`
	Name   string  `json:"name"`
	Exe    string  `json:"exe,omitempty"`
	CPUPct float64 `json:"cpu_percent"`
	MemMB  float64 `json:"memory_mb"`
}
