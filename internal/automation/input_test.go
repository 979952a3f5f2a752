package automation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastInputConfig() InputConfig {
	return InputConfig{
		FocusSettle:     time.Millisecond,
		PerChar:         0,
		InteractionKind: "send_text",
	}
}

func testWindowRecord() WindowRecord {
	return WindowRecord{
		HWND:        42,
		Title:       "Cursor",
		ClassName:   "Chrome_WidgetWin_1",
		ProcessName: "cursor.exe",
		Rect:        Rect{Left: 0, Top: 0, Right: 1200, Bottom: 800},
		Visible:     true,
	}
}

func TestSendTextKeystrokeHappyPath(t *testing.T) {
	target := &fakeInputTarget{}
	ws := &fakeWindowSystem{windows: []WindowRecord{testWindowRecord()}}
	mem := NewPositionMemory(3)
	engine := NewInputEngine(newFakeDriver(target, ws, nil), mem, fastInputConfig())

	point := Point{X: 650, Y: 740}
	result, err := engine.SendText(context.Background(), SendTarget{Window: testWindowRecord(), Point: &point}, "hello world")
	require.NoError(t, err)

	assert.Equal(t, MethodKeystroke, result.Method)
	assert.True(t, result.Validated)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, "hello world", target.buffer)
	assert.Equal(t, []uintptr{42}, ws.activated)
	assert.Equal(t, []Point{point}, target.clicks)

	// Position memory grew by one entry for the app signature.
	assert.Equal(t, 1, mem.Len())
	assert.Equal(t, 1, mem.HitCount("cursor.exe/Chrome_WidgetWin_1", "send_text", point, 2))
}

func TestSendTextNewlinesValidateWhitespaceInsensitive(t *testing.T) {
	target := &fakeInputTarget{}
	ws := &fakeWindowSystem{windows: []WindowRecord{testWindowRecord()}}
	engine := NewInputEngine(newFakeDriver(target, ws, nil), nil, fastInputConfig())

	point := Point{X: 1, Y: 1}
	result, err := engine.SendText(context.Background(), SendTarget{Window: testWindowRecord(), Point: &point}, "hello\nworld")
	require.NoError(t, err)
	assert.True(t, result.Validated)
}

func TestSendTextFallsBackToClipboard(t *testing.T) {
	target := &fakeInputTarget{typingBroken: true}
	ws := &fakeWindowSystem{windows: []WindowRecord{testWindowRecord()}}
	mem := NewPositionMemory(3)
	engine := NewInputEngine(newFakeDriver(target, ws, nil), mem, fastInputConfig())

	point := Point{X: 650, Y: 740}
	result, err := engine.SendText(context.Background(), SendTarget{Window: testWindowRecord(), Point: &point}, "fallback text")
	require.NoError(t, err)

	assert.Equal(t, MethodClipboard, result.Method)
	assert.True(t, result.Validated)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, "fallback text", target.buffer)
	assert.Equal(t, 1, mem.Len())
}

func TestSendTextNonASCIIGoesStraightToClipboard(t *testing.T) {
	target := &fakeInputTarget{}
	ws := &fakeWindowSystem{windows: []WindowRecord{testWindowRecord()}}
	engine := NewInputEngine(newFakeDriver(target, ws, nil), nil, fastInputConfig())

	point := Point{X: 1, Y: 1}
	result, err := engine.SendText(context.Background(), SendTarget{Window: testWindowRecord(), Point: &point}, "你好 Cursor")
	require.NoError(t, err)

	assert.Equal(t, MethodClipboard, result.Method)
	assert.Equal(t, 1, result.Attempts, "keystroke path skipped entirely")
	assert.Zero(t, target.typedRunes)
}

func TestSendTextBothPathsFail(t *testing.T) {
	target := &fakeInputTarget{typingBroken: true, pasteBroken: true}
	ws := &fakeWindowSystem{windows: []WindowRecord{testWindowRecord()}}
	mem := NewPositionMemory(3)
	// Pre-seed the point so the failure has something to decay.
	point := Point{X: 650, Y: 740}
	mem.RecordSuccess("cursor.exe/Chrome_WidgetWin_1", "send_text", point)

	engine := NewInputEngine(newFakeDriver(target, ws, nil), mem, fastInputConfig())

	_, err := engine.SendText(context.Background(), SendTarget{Window: testWindowRecord(), Point: &point}, "doomed")
	require.Error(t, err)

	var inputErr *InputNotAppliedError
	require.ErrorAs(t, err, &inputErr)
	assert.Len(t, inputErr.Failures, 2, "both validation outcomes reported")

	points := mem.Points("cursor.exe/Chrome_WidgetWin_1", "send_text")
	require.Len(t, points, 1)
	assert.Equal(t, 1, points[0].ConsecFails)
}

func TestSubmitSendsPlainEnter(t *testing.T) {
	target := &fakeInputTarget{}
	ws := &fakeWindowSystem{windows: []WindowRecord{testWindowRecord()}}
	engine := NewInputEngine(newFakeDriver(target, ws, nil), nil, fastInputConfig())

	require.NoError(t, engine.Submit())
	assert.Equal(t, 1, target.enters)
	assert.Zero(t, target.typedRunes, "submit never types text")
}

func TestFocusedValuePrefersAccessibilityRead(t *testing.T) {
	target := &fakeInputTarget{buffer: "typed content"}
	ws := &fakeWindowSystem{windows: []WindowRecord{testWindowRecord()}, focusedValue: "uia value"}
	engine := NewInputEngine(newFakeDriver(target, ws, nil), nil, fastInputConfig())

	v, err := engine.FocusedValue(testWindowRecord())
	require.NoError(t, err)
	assert.Equal(t, "uia value", v)
}

func TestFocusedValueFallsBackToClipboard(t *testing.T) {
	target := &fakeInputTarget{buffer: "typed content"}
	ws := &fakeWindowSystem{windows: []WindowRecord{testWindowRecord()}, focusedErr: ErrUnsupported}
	engine := NewInputEngine(newFakeDriver(target, ws, nil), nil, fastInputConfig())

	v, err := engine.FocusedValue(testWindowRecord())
	require.NoError(t, err)
	assert.Equal(t, "typed content", v)
}

func TestSendTextCancelled(t *testing.T) {
	target := &fakeInputTarget{}
	ws := &fakeWindowSystem{windows: []WindowRecord{testWindowRecord()}}
	engine := NewInputEngine(newFakeDriver(target, ws, nil), nil, fastInputConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	point := Point{X: 1, Y: 1}
	_, err := engine.SendText(ctx, SendTarget{Window: testWindowRecord(), Point: &point}, "late")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNormalizeWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", normalizeWhitespace(" a\n b\t\tc "))
	assert.Equal(t, "", normalizeWhitespace("  \n\t "))
}

func TestIsPlainASCII(t *testing.T) {
	assert.True(t, isPlainASCII("hello\nworld\ttab"))
	assert.False(t, isPlainASCII("héllo"))
	assert.False(t, isPlainASCII("emoji 🙂"))
}

func TestSendTextOCRSecondaryValidator(t *testing.T) {
	// The target swallows keystrokes and blocks paste, so the clipboard
	// read-back never matches; OCR sees the text on screen and accepts.
	target := &fakeInputTarget{typingBroken: true, pasteBroken: true}
	ws := &fakeWindowSystem{windows: []WindowRecord{testWindowRecord()}}
	ocrEngine := &fakeOCREngine{name: "stub", results: []OCRResult{
		{BBox: Rect{Left: 400, Top: 720, Right: 900, Bottom: 760}, Text: "rendered anyway", Confidence: 0.9, Engine: "stub"},
	}}

	engine := NewInputEngine(newFakeDriver(target, ws, nil), NewPositionMemory(3), fastInputConfig()).
		WithOCR(NewOCRFacade("", ocrEngine))

	point := Point{X: 650, Y: 740}
	result, err := engine.SendText(context.Background(), SendTarget{Window: testWindowRecord(), Point: &point}, "rendered anyway")
	require.NoError(t, err)
	assert.True(t, result.Validated)
	assert.Equal(t, "ocr", result.ValidatedBy)
}
