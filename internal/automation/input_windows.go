//go:build windows
// +build windows

package automation

import (
	"context"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	procSendInput        = user32.NewProc("SendInput")
	procSetCursorPos     = user32.NewProc("SetCursorPos")
	procVkKeyScanW       = user32.NewProc("VkKeyScanW")
	procOpenClipboard    = user32.NewProc("OpenClipboard")
	procCloseClipboard   = user32.NewProc("CloseClipboard")
	procEmptyClipboard   = user32.NewProc("EmptyClipboard")
	procGetClipboardData = user32.NewProc("GetClipboardData")
	procSetClipboardData = user32.NewProc("SetClipboardData")

	kernel32         = windows.NewLazySystemDLL("kernel32.dll")
	procGlobalAlloc  = kernel32.NewProc("GlobalAlloc")
	procGlobalLock   = kernel32.NewProc("GlobalLock")
	procGlobalUnlock = kernel32.NewProc("GlobalUnlock")
)

const (
	inputMouse    = 0
	inputKeyboard = 1

	mouseEventMove     = 0x0001
	mouseEventLeftDown = 0x0002
	mouseEventLeftUp   = 0x0004
	mouseEventAbsolute = 0x8000

	keyEventKeyUp   = 0x0002
	keyEventUnicode = 0x0004

	vkShift   = 0x10
	vkControl = 0x11
	vkReturn  = 0x0D
	vkDelete  = 0x2E
	vkTab     = 0x09

	cfUnicodeText = 13
	gmemMoveable  = 0x0002
)

// keyboardInput mirrors the INPUT struct with a KEYBDINPUT payload. The
// padding keeps the union sized like MOUSEINPUT, the largest member.
type keyboardInput struct {
	Type  uint32
	_     uint32 // alignment
	VK    uint16
	Scan  uint16
	Flags uint32
	Time  uint32
	Extra uintptr
	_     [8]byte
}

type mouseInput struct {
	Type  uint32
	_     uint32
	DX    int32
	DY    int32
	Data  uint32
	Flags uint32
	Time  uint32
	Extra uintptr
}

func sendKeyboardInputs(inputs []keyboardInput) error {
	if len(inputs) == 0 {
		return nil
	}
	n, _, err := procSendInput.Call(
		uintptr(len(inputs)),
		uintptr(unsafe.Pointer(&inputs[0])),
		unsafe.Sizeof(inputs[0]))
	if int(n) != len(inputs) {
		return fmt.Errorf("SendInput sent %d of %d: %w", n, len(inputs), err)
	}
	return nil
}

func keyDown(vk uint16) keyboardInput { return keyboardInput{Type: inputKeyboard, VK: vk} }
func keyUp(vk uint16) keyboardInput {
	return keyboardInput{Type: inputKeyboard, VK: vk, Flags: keyEventKeyUp}
}
func unicodeDown(r rune) keyboardInput {
	return keyboardInput{Type: inputKeyboard, Scan: uint16(r), Flags: keyEventUnicode}
}
func unicodeUp(r rune) keyboardInput {
	return keyboardInput{Type: inputKeyboard, Scan: uint16(r), Flags: keyEventUnicode | keyEventKeyUp}
}

// win32Input implements InputDriver with SendInput.
type win32Input struct{}

// Click moves the cursor to the point and emits a left click.
func (win32Input) Click(p Point) error {
	if ret, _, err := procSetCursorPos.Call(uintptr(p.X), uintptr(p.Y)); ret == 0 {
		return fmt.Errorf("SetCursorPos: %w", err)
	}
	time.Sleep(20 * time.Millisecond)

	down := mouseInput{Type: inputMouse, Flags: mouseEventLeftDown}
	up := mouseInput{Type: inputMouse, Flags: mouseEventLeftUp}
	for _, in := range []mouseInput{down, up} {
		in := in
		n, _, err := procSendInput.Call(1, uintptr(unsafe.Pointer(&in)), unsafe.Sizeof(in))
		if n != 1 {
			return fmt.Errorf("SendInput mouse: %w", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// TypeText emits the text as unicode key events with pacing. Newlines go
// out as shift+enter so chat inputs insert a line break instead of
// submitting.
func (win32Input) TypeText(ctx context.Context, text string, perChar time.Duration) error {
	for _, r := range text {
		if err := ctx.Err(); err != nil {
			return err
		}

		var batch []keyboardInput
		switch r {
		case '\r':
			continue
		case '\n':
			batch = []keyboardInput{keyDown(vkShift), keyDown(vkReturn), keyUp(vkReturn), keyUp(vkShift)}
		case '\t':
			batch = []keyboardInput{keyDown(vkTab), keyUp(vkTab)}
		default:
			batch = []keyboardInput{unicodeDown(r), unicodeUp(r)}
		}
		if err := sendKeyboardInputs(batch); err != nil {
			return err
		}
		time.Sleep(perChar)
	}
	return nil
}

func chord(modifier uint16, r rune) error {
	vk, _, _ := procVkKeyScanW.Call(uintptr(r))
	key := uint16(vk & 0xff)
	return sendKeyboardInputs([]keyboardInput{
		keyDown(modifier), keyDown(key), keyUp(key), keyUp(modifier),
	})
}

func (win32Input) SelectAll() error { return chord(vkControl, 'a') }
func (win32Input) Paste() error     { return chord(vkControl, 'v') }
func (win32Input) Copy() error      { return chord(vkControl, 'c') }

func (win32Input) Delete() error {
	return sendKeyboardInputs([]keyboardInput{keyDown(vkDelete), keyUp(vkDelete)})
}

func (win32Input) Enter() error {
	return sendKeyboardInputs([]keyboardInput{keyDown(vkReturn), keyUp(vkReturn)})
}

// win32Clipboard implements Clipboard with CF_UNICODETEXT.
type win32Clipboard struct{}

func withClipboard(fn func() error) error {
	opened := false
	for i := 0; i < 10; i++ {
		if ret, _, _ := procOpenClipboard.Call(0); ret != 0 {
			opened = true
			break
		}
		// Another process holds the clipboard; this resolves in tens of
		// milliseconds during normal use.
		time.Sleep(20 * time.Millisecond)
	}
	if !opened {
		return fmt.Errorf("OpenClipboard: busy")
	}
	defer procCloseClipboard.Call()
	return fn()
}

func (win32Clipboard) ReadText() (string, error) {
	var out string
	err := withClipboard(func() error {
		h, _, _ := procGetClipboardData.Call(cfUnicodeText)
		if h == 0 {
			out = ""
			return nil
		}
		ptr, _, _ := procGlobalLock.Call(h)
		if ptr == 0 {
			return fmt.Errorf("GlobalLock failed")
		}
		defer procGlobalUnlock.Call(h)
		out = windows.UTF16PtrToString((*uint16)(unsafe.Pointer(ptr)))
		return nil
	})
	return out, err
}

func (win32Clipboard) WriteText(text string) error {
	utf16, err := windows.UTF16FromString(text)
	if err != nil {
		return err
	}

	return withClipboard(func() error {
		if ret, _, e := procEmptyClipboard.Call(); ret == 0 {
			return fmt.Errorf("EmptyClipboard: %w", e)
		}

		size := uintptr(len(utf16) * 2)
		h, _, e := procGlobalAlloc.Call(gmemMoveable, size)
		if h == 0 {
			return fmt.Errorf("GlobalAlloc: %w", e)
		}
		ptr, _, e := procGlobalLock.Call(h)
		if ptr == 0 {
			return fmt.Errorf("GlobalLock: %w", e)
		}
		dst := unsafe.Slice((*uint16)(unsafe.Pointer(ptr)), len(utf16))
		copy(dst, utf16)
		procGlobalUnlock.Call(h)

		if ret, _, e := procSetClipboardData.Call(cfUnicodeText, h); ret == 0 {
			return fmt.Errorf("SetClipboardData: %w", e)
		}
		// Ownership of the handle passed to the clipboard.
		return nil
	})
}
