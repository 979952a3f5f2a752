//go:build windows
// +build windows

package automation

import (
	"github.com/go-ole/go-ole"
)

// NewDriver builds the Win32/UIA-backed driver. COM is initialized once
// for the process; UIA calls happen on dispatcher goroutines inside the
// single-slot gui_exclusive class, so apartment threading never sees
// concurrent calls.
func NewDriver() (*Driver, error) {
	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		if oleErr, ok := err.(*ole.OleError); !ok || (oleErr.Code() != uintptr(ole.S_OK) && oleErr.Code() != 0x00000001 /* S_FALSE */) {
			return nil, err
		}
	}

	uia, err := newUIAProvider()
	if err != nil {
		return nil, err
	}

	return &Driver{
		Windows: &win32WindowSystem{uia: uia},
		UIA:     uia,
		Input:   &win32Input{},
		Clip:    &win32Clipboard{},
		Screen:  &gdiCapturer{},
	}, nil
}
