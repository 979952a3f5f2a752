package automation

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Input-method names reported in envelope metadata.
const (
	MethodKeystroke = "keystroke"
	MethodClipboard = "clipboard"
)

// InputConfig tunes the send-text state machine.
type InputConfig struct {
	// FocusSettle is the pause after the acquisition click.
	FocusSettle time.Duration
	// PerChar is the pacing between synthetic keystrokes.
	PerChar time.Duration
	// InteractionKind keys position memory; "send_text" unless a caller
	// distinguishes interactions.
	InteractionKind string
}

// DefaultInputConfig returns the defaults the prototype converged on.
func DefaultInputConfig() InputConfig {
	return InputConfig{
		FocusSettle:     300 * time.Millisecond,
		PerChar:         30 * time.Millisecond,
		InteractionKind: "send_text",
	}
}

// SendTarget names where text goes: a resolved screen point inside a
// window, or the window's currently focused element.
type SendTarget struct {
	Window WindowRecord
	// Point is the click target; nil means "use the focused element"
	// and skip the acquisition click.
	Point *Point
}

// SendResult reports a completed send-text run.
type SendResult struct {
	Method      string `json:"method"`
	Validated   bool   `json:"validated"`
	ValidatedBy string `json:"validated_by,omitempty"` // clipboard or ocr
	Attempts    int    `json:"attempts"`
	Target      Point  `json:"target"`
}

// InputEngine drives the ACQUIRE → CLEAR → WRITE → VALIDATE state machine
// over the platform drivers. It runs inside the gui_exclusive concurrency
// class, which is the serialization point for foreground and clipboard
// state.
type InputEngine struct {
	driver *Driver
	memory *PositionMemory
	ocr    *OCRFacade
	cfg    InputConfig
}

// WithOCR attaches the secondary validator: when the clipboard read-back
// disagrees, a window screenshot is handed to OCR and the write is
// accepted if the expected text appears inside the window.
func (e *InputEngine) WithOCR(facade *OCRFacade) *InputEngine {
	e.ocr = facade
	return e
}

// NewInputEngine builds an engine over the given drivers and memory.
func NewInputEngine(driver *Driver, memory *PositionMemory, cfg InputConfig) *InputEngine {
	if cfg.FocusSettle <= 0 {
		cfg.FocusSettle = 300 * time.Millisecond
	}
	if cfg.PerChar <= 0 {
		cfg.PerChar = 30 * time.Millisecond
	}
	if cfg.InteractionKind == "" {
		cfg.InteractionKind = "send_text"
	}
	return &InputEngine{driver: driver, memory: memory, cfg: cfg}
}

// SendText executes the full state machine:
//
//	ACQUIRE → CLEAR → WRITE → VALIDATE → (SUCCESS | ALT_WRITE → VALIDATE → (SUCCESS | FAIL))
//
// The primary write is paced keystrokes; the alternate is a clipboard
// paste, used up front for text outside the printable-ASCII range. A
// validated success is recorded in position memory; a failure returns the
// outcomes of both validation attempts for the error envelope.
func (e *InputEngine) SendText(ctx context.Context, target SendTarget, text string) (*SendResult, error) {
	point, err := e.acquire(target)
	if err != nil {
		return nil, err
	}

	signature := AppSignature(target.Window)
	result := &SendResult{Target: point}

	methods := []string{MethodKeystroke, MethodClipboard}
	if !isPlainASCII(text) {
		// Keystroke synthesis can't express the text; go straight to the
		// clipboard path.
		methods = []string{MethodClipboard}
	}

	var failures []string
	for _, method := range methods {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Attempts++

		if err := e.clear(); err != nil {
			return nil, err
		}
		if err := e.write(ctx, method, text); err != nil {
			failures = append(failures, fmt.Sprintf("%s write: %v", method, err))
			continue
		}

		ok, got, err := e.validate(text)
		validatedBy := "clipboard"
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s validate: %v", method, err))
			continue
		}
		if !ok && e.ocr != nil {
			// Secondary validator: the clipboard read-back can lie when
			// the target rewrites its contents; OCR sees the pixels.
			if found, ocrErr := e.ocrValidate(ctx, target.Window, text); ocrErr == nil && found {
				ok = true
				validatedBy = "ocr"
			}
		}
		if ok {
			result.Method = method
			result.Validated = true
			result.ValidatedBy = validatedBy
			if e.memory != nil {
				e.memory.RecordSuccess(signature, e.cfg.InteractionKind, point)
			}
			return result, nil
		}
		failures = append(failures, fmt.Sprintf("%s validation mismatch: got %q", method, truncate(got, 80)))
	}

	if e.memory != nil {
		e.memory.RecordFailure(signature, e.cfg.InteractionKind, point)
	}
	return result, &InputNotAppliedError{Failures: failures}
}

// Submit sends the plain enter key. Kept separate from SendText so an
// operator can stage text for human review before dispatching it.
func (e *InputEngine) Submit() error {
	return e.driver.Input.Enter()
}

// FocusedValue reads the focused element's current text from the
// accessibility tree, or through select-all-copy (the same read the
// validator uses) when that fails.
func (e *InputEngine) FocusedValue(target WindowRecord) (string, error) {
	// Prefer the accessibility read; fall back to the clipboard
	// round-trip when the framework exposes no value.
	if v, err := e.driver.Windows.FocusedElementValue(target.HWND); err == nil {
		return v, nil
	}
	if err := e.driver.Input.SelectAll(); err != nil {
		return "", err
	}
	if err := e.driver.Input.Copy(); err != nil {
		return "", err
	}
	time.Sleep(50 * time.Millisecond)
	return e.driver.Clip.ReadText()
}

// acquire brings the window foreground, clicks the target point, and
// waits for focus to settle.
func (e *InputEngine) acquire(target SendTarget) (Point, error) {
	if err := e.driver.Windows.Activate(target.Window.HWND); err != nil {
		return Point{}, fmt.Errorf("activate window %d: %w", target.Window.HWND, err)
	}

	point := target.Window.Rect.Center()
	if target.Point != nil {
		point = *target.Point
		if err := e.driver.Input.Click(point); err != nil {
			return Point{}, fmt.Errorf("click %v: %w", point, err)
		}
	}

	time.Sleep(e.cfg.FocusSettle)
	return point, nil
}

// clear empties the target input: select-all then delete.
func (e *InputEngine) clear() error {
	if err := e.driver.Input.SelectAll(); err != nil {
		return err
	}
	return e.driver.Input.Delete()
}

// write emits the text via the chosen method.
func (e *InputEngine) write(ctx context.Context, method, text string) error {
	switch method {
	case MethodKeystroke:
		return e.driver.Input.TypeText(ctx, text, e.cfg.PerChar)
	case MethodClipboard:
		if err := e.driver.Clip.WriteText(text); err != nil {
			return err
		}
		return e.driver.Input.Paste()
	default:
		return fmt.Errorf("unknown write method %s", method)
	}
}

// validate reads the input back via select-all-copy and compares
// whitespace-insensitively.
func (e *InputEngine) validate(expected string) (bool, string, error) {
	if err := e.driver.Input.SelectAll(); err != nil {
		return false, "", err
	}
	if err := e.driver.Input.Copy(); err != nil {
		return false, "", err
	}
	// The clipboard is filled asynchronously by the target app.
	time.Sleep(100 * time.Millisecond)

	got, err := e.driver.Clip.ReadText()
	if err != nil {
		return false, "", err
	}
	return normalizeWhitespace(got) == normalizeWhitespace(expected), got, nil
}

// ocrValidate captures the target window and asks OCR whether the
// expected text is visible inside it.
func (e *InputEngine) ocrValidate(ctx context.Context, window WindowRecord, expected string) (bool, error) {
	png, err := e.driver.Screen.CaptureRect(window.Rect)
	if err != nil {
		return false, err
	}
	within := window.Rect
	return e.ocr.ContainsText(ctx, png, expected, &within)
}

// InputNotAppliedError carries both validation outcomes of a failed
// send-text for the error envelope's details.
type InputNotAppliedError struct {
	Failures []string
}

func (e *InputNotAppliedError) Error() string {
	return "input not applied: " + strings.Join(e.Failures, "; ")
}

// normalizeWhitespace collapses runs of whitespace so the comparison
// tolerates the newline and spacing rewrites chat inputs perform.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// isPlainASCII reports whether every rune is printable ASCII or a
// newline/tab the keystroke path can synthesize.
func isPlainASCII(s string) bool {
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			continue
		}
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ResolveTargetPoint picks the best target for an intent-level request
// using the UIA tree, heuristics, and position memory. Returns the
// winning candidate or false when nothing clears the score threshold.
func ResolveTargetPoint(tree *UIANode, window WindowRecord, scorer *Scorer, interaction string) (Candidate, bool) {
	candidates := CandidatesFromTree(tree)
	candidates = append(candidates, HeuristicCandidates(window.Rect)...)

	ranked := scorer.Rank(candidates, window.Rect, AppSignature(window), interaction)
	if len(ranked) == 0 {
		return Candidate{}, false
	}
	return ranked[0], true
}
