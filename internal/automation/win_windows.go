//go:build windows
// +build windows

package automation

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"deskctl/pkg/logger"
)

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	procEnumWindows         = user32.NewProc("EnumWindows")
	procGetWindowTextW      = user32.NewProc("GetWindowTextW")
	procGetClassNameW       = user32.NewProc("GetClassNameW")
	procGetWindowThreadPID  = user32.NewProc("GetWindowThreadProcessId")
	procIsWindowVisible     = user32.NewProc("IsWindowVisible")
	procIsWindowEnabled     = user32.NewProc("IsWindowEnabled")
	procGetWindowRect       = user32.NewProc("GetWindowRect")
	procGetWindowPlacement  = user32.NewProc("GetWindowPlacement")
	procSetForegroundWindow = user32.NewProc("SetForegroundWindow")
	procShowWindow          = user32.NewProc("ShowWindow")
	procIsIconic            = user32.NewProc("IsIconic")
)

const (
	swRestore       = 9
	swShowMinimized = 2
	swShowMaximized = 3
)

type winRect struct {
	Left, Top, Right, Bottom int32
}

type windowPlacement struct {
	Length         uint32
	Flags          uint32
	ShowCmd        uint32
	MinPosition    [2]int32
	MaxPosition    [2]int32
	NormalPosition winRect
}

// win32WindowSystem implements WindowSystem over user32.
type win32WindowSystem struct {
	uia *uiaProvider
}

// EnumWindows walks every top-level window via the EnumWindows callback.
func (w *win32WindowSystem) EnumWindows() ([]WindowRecord, error) {
	var records []WindowRecord

	cb := syscall.NewCallback(func(hwnd uintptr, _ uintptr) uintptr {
		records = append(records, describeWindow(hwnd))
		return 1 // continue enumeration
	})

	ret, _, err := procEnumWindows.Call(cb, 0)
	if ret == 0 {
		return nil, fmt.Errorf("EnumWindows: %w", err)
	}
	return records, nil
}

func describeWindow(hwnd uintptr) WindowRecord {
	rec := WindowRecord{HWND: hwnd}

	var title [512]uint16
	if n, _, _ := procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&title[0])), uintptr(len(title))); n > 0 {
		rec.Title = windows.UTF16ToString(title[:n])
	}

	var class [256]uint16
	if n, _, _ := procGetClassNameW.Call(hwnd, uintptr(unsafe.Pointer(&class[0])), uintptr(len(class))); n > 0 {
		rec.ClassName = windows.UTF16ToString(class[:n])
	}

	var pid uint32
	procGetWindowThreadPID.Call(hwnd, uintptr(unsafe.Pointer(&pid)))
	rec.ProcessID = int32(pid)
	rec.ProcessName = processName(pid)

	visible, _, _ := procIsWindowVisible.Call(hwnd)
	rec.Visible = visible != 0
	enabled, _, _ := procIsWindowEnabled.Call(hwnd)
	rec.Enabled = enabled != 0

	var r winRect
	if ret, _, _ := procGetWindowRect.Call(hwnd, uintptr(unsafe.Pointer(&r))); ret != 0 {
		rec.Rect = Rect{Left: int(r.Left), Top: int(r.Top), Right: int(r.Right), Bottom: int(r.Bottom)}
	}

	var wp windowPlacement
	wp.Length = uint32(unsafe.Sizeof(wp))
	rec.PlacementState = PlacementNormal
	if ret, _, _ := procGetWindowPlacement.Call(hwnd, uintptr(unsafe.Pointer(&wp))); ret != 0 {
		switch wp.ShowCmd {
		case swShowMinimized:
			rec.PlacementState = PlacementMinimized
		case swShowMaximized:
			rec.PlacementState = PlacementMaximized
		}
	}
	return rec
}

// processName resolves a pid to its executable base name.
func processName(pid uint32) string {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return ""
	}
	defer windows.CloseHandle(h)

	var buf [windows.MAX_PATH]uint16
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return ""
	}
	full := windows.UTF16ToString(buf[:size])
	for i := len(full) - 1; i >= 0; i-- {
		if full[i] == '\\' || full[i] == '/' {
			return full[i+1:]
		}
	}
	return full
}

// Activate restores a minimized window and brings it to the foreground.
func (w *win32WindowSystem) Activate(hwnd uintptr) error {
	if iconic, _, _ := procIsIconic.Call(hwnd); iconic != 0 {
		procShowWindow.Call(hwnd, swRestore)
	}
	ret, _, err := procSetForegroundWindow.Call(hwnd)
	if ret == 0 {
		// SetForegroundWindow is famously capricious; log and report.
		logger.Named("automation").Warn().Uint64("hwnd", uint64(hwnd)).Msg("SetForegroundWindow refused")
		return fmt.Errorf("SetForegroundWindow(%d): %w", hwnd, err)
	}
	return nil
}

// FocusedElementValue reads the focused element's value through UIA.
func (w *win32WindowSystem) FocusedElementValue(hwnd uintptr) (string, error) {
	el, err := w.uia.FocusedElement()
	if err != nil {
		return "", err
	}
	defer el.release()
	if v, ok := el.Value(); ok {
		return v, nil
	}
	return "", fmt.Errorf("focused element exposes no value")
}
