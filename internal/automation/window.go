package automation

import (
	"sort"
	"strings"
)

// chromiumWidgetClasses are the top-level window classes Electron apps
// (Cursor, VSCode) use, in match-priority order.
var chromiumWidgetClasses = []string{
	"Chrome_WidgetWin_1",
	"Chrome_WidgetWin_0",
}

// AppPredicate matches windows belonging to a named application.
type AppPredicate struct {
	// NameSubstring matches against the owning process name and the
	// window title, case-insensitively. The executable path is not
	// checked.
	NameSubstring string
	// Classes restricts matches to these window classes; empty means any.
	Classes []string
}

// CursorPredicate matches the Cursor IDE's Electron windows.
func CursorPredicate() AppPredicate {
	return AppPredicate{
		NameSubstring: "cursor",
		Classes:       chromiumWidgetClasses,
	}
}

// Matches reports whether the window satisfies the predicate.
func (p AppPredicate) Matches(w WindowRecord) bool {
	if p.NameSubstring != "" {
		sub := strings.ToLower(p.NameSubstring)
		if !strings.Contains(strings.ToLower(w.ProcessName), sub) &&
			!strings.Contains(strings.ToLower(w.Title), sub) {
			return false
		}
	}
	if len(p.Classes) > 0 {
		found := false
		for _, cls := range p.Classes {
			if w.ClassName == cls {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// GetWindows returns the visible, titled top-level windows, ordered by
// hwnd for deterministic output on a quiescent desktop.
func GetWindows(ws WindowSystem) ([]WindowRecord, error) {
	all, err := ws.EnumWindows()
	if err != nil {
		return nil, err
	}

	out := make([]WindowRecord, 0, len(all))
	for _, w := range all {
		if w.Visible && w.Title != "" {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HWND < out[j].HWND })
	return out, nil
}

// AppWindows is the result of a named-application search: the windows
// that matched the predicate, plus every chromium-widget window as a
// diagnostic pool so an operator can tell "not running" apart from
// "running but unrecognized".
type AppWindows struct {
	Matches    []WindowRecord `json:"matches"`
	Candidates []WindowRecord `json:"candidates"`
	ByProcess  map[string]int `json:"by_process"`
}

// FindAppWindows enumerates every top-level window (visible or not),
// groups by owning process, and matches against the predicate.
func FindAppWindows(ws WindowSystem, pred AppPredicate) (*AppWindows, error) {
	all, err := ws.EnumWindows()
	if err != nil {
		return nil, err
	}

	result := &AppWindows{ByProcess: make(map[string]int)}
	for _, w := range all {
		result.ByProcess[w.ProcessName]++

		if pred.Matches(w) {
			result.Matches = append(result.Matches, w)
		}
		for _, cls := range chromiumWidgetClasses {
			if w.ClassName == cls {
				result.Candidates = append(result.Candidates, w)
				break
			}
		}
	}

	sort.Slice(result.Matches, func(i, j int) bool { return result.Matches[i].HWND < result.Matches[j].HWND })
	sort.Slice(result.Candidates, func(i, j int) bool { return result.Candidates[i].HWND < result.Candidates[j].HWND })
	return result, nil
}

// AppSignature derives the position-memory key for a window: process name
// plus window class, stable across restarts of the same app.
func AppSignature(w WindowRecord) string {
	name := strings.ToLower(w.ProcessName)
	if name == "" {
		name = "unknown"
	}
	return name + "/" + w.ClassName
}
