//go:build !windows
// +build !windows

package automation

import (
	"context"
	"time"
)

// NewDriver returns a driver whose operations all fail with
// ErrUnsupported. The agent still runs on non-Windows hosts for the
// broker-facing surface (process listing, program launch, log queries);
// only the desktop-automation handlers are inert.
func NewDriver() (*Driver, error) {
	return &Driver{
		Windows: unsupportedWindows{},
		UIA:     unsupportedUIA{},
		Input:   unsupportedInput{},
		Clip:    unsupportedClipboard{},
		Screen:  unsupportedScreen{},
	}, nil
}

type unsupportedWindows struct{}

func (unsupportedWindows) EnumWindows() ([]WindowRecord, error)        { return nil, ErrUnsupported }
func (unsupportedWindows) Activate(uintptr) error                      { return ErrUnsupported }
func (unsupportedWindows) FocusedElementValue(uintptr) (string, error) { return "", ErrUnsupported }

type unsupportedUIA struct{}

func (unsupportedUIA) RootElement(uintptr) (Element, error) { return nil, ErrUnsupported }

type unsupportedInput struct{}

func (unsupportedInput) Click(Point) error                                     { return ErrUnsupported }
func (unsupportedInput) TypeText(context.Context, string, time.Duration) error { return ErrUnsupported }
func (unsupportedInput) SelectAll() error                                      { return ErrUnsupported }
func (unsupportedInput) Delete() error                                         { return ErrUnsupported }
func (unsupportedInput) Paste() error                                          { return ErrUnsupported }
func (unsupportedInput) Copy() error                                           { return ErrUnsupported }
func (unsupportedInput) Enter() error                                          { return ErrUnsupported }

type unsupportedClipboard struct{}

func (unsupportedClipboard) ReadText() (string, error) { return "", ErrUnsupported }
func (unsupportedClipboard) WriteText(string) error    { return ErrUnsupported }

type unsupportedScreen struct{}

func (unsupportedScreen) CaptureScreen() ([]byte, error)   { return nil, ErrUnsupported }
func (unsupportedScreen) CaptureRect(Rect) ([]byte, error) { return nil, ErrUnsupported }
