package automation

import (
	"encoding/base64"
	"fmt"
)

// Screenshot captures the full desktop, or the bounding rect of hwnd when
// non-zero, returning PNG bytes.
func Screenshot(driver *Driver, hwnd uintptr) ([]byte, error) {
	if hwnd == 0 {
		return driver.Screen.CaptureScreen()
	}

	windows, err := driver.Windows.EnumWindows()
	if err != nil {
		return nil, err
	}
	for _, w := range windows {
		if w.HWND == hwnd {
			return driver.Screen.CaptureRect(w.Rect)
		}
	}
	return nil, fmt.Errorf("automation: no window with hwnd %d", hwnd)
}

// EncodeImage wraps PNG bytes for the response envelope's data payload.
func EncodeImage(png []byte) map[string]any {
	return map[string]any{
		"format":     "png",
		"image_b64":  base64.StdEncoding.EncodeToString(png),
		"size_bytes": len(png),
	}
}
