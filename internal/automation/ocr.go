package automation

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// ErrNoOCREngine is returned when an OCR operation runs with no engine
// configured.
var ErrNoOCREngine = errors.New("automation: no ocr engine configured")

// OCREngine is the black-box text detector: detect_text(image) →
// [(bbox, text, confidence)]. Engines are external collaborators; the
// facade only merges and ranks their output.
type OCREngine interface {
	Name() string
	DetectText(ctx context.Context, png []byte) ([]OCRResult, error)
}

// OCRFacade fans an image out to the configured engines. With a preferred
// engine set, its results win when it succeeds; otherwise all results are
// merged with bbox-IoU + text-similarity de-duplication.
type OCRFacade struct {
	engines   []OCREngine
	preferred string
}

// NewOCRFacade builds a facade over the given engines. preferred may be
// empty.
func NewOCRFacade(preferred string, engines ...OCREngine) *OCRFacade {
	return &OCRFacade{engines: engines, preferred: preferred}
}

// Engines returns the configured engine names.
func (f *OCRFacade) Engines() []string {
	out := make([]string, 0, len(f.engines))
	for _, e := range f.engines {
		out = append(out, e.Name())
	}
	return out
}

// DetectText runs the engines and returns merged results sorted by
// confidence, best first.
func (f *OCRFacade) DetectText(ctx context.Context, png []byte) ([]OCRResult, error) {
	if len(f.engines) == 0 {
		return nil, ErrNoOCREngine
	}

	if f.preferred != "" {
		for _, e := range f.engines {
			if e.Name() != f.preferred {
				continue
			}
			results, err := e.DetectText(ctx, png)
			if err == nil {
				return sortByConfidence(results), nil
			}
			// Preferred engine failed: fall through to the merge path.
			break
		}
	}

	var merged []OCRResult
	var lastErr error
	succeeded := 0
	for _, e := range f.engines {
		results, err := e.DetectText(ctx, png)
		if err != nil {
			lastErr = err
			continue
		}
		succeeded++
		merged = mergeResults(merged, results)
	}
	if succeeded == 0 {
		return nil, lastErr
	}
	return sortByConfidence(merged), nil
}

// ContainsText reports whether the expected string appears in the
// detected regions, optionally restricted to a bounding box. Used as the
// send-text secondary validator.
func (f *OCRFacade) ContainsText(ctx context.Context, png []byte, expected string, within *Rect) (bool, error) {
	results, err := f.DetectText(ctx, png)
	if err != nil {
		return false, err
	}

	want := normalizeWhitespace(strings.ToLower(expected))
	var joined []string
	for _, r := range results {
		if within != nil && !rectsOverlap(r.BBox, *within) {
			continue
		}
		joined = append(joined, strings.ToLower(r.Text))
	}
	haystack := normalizeWhitespace(strings.Join(joined, " "))
	return strings.Contains(haystack, want), nil
}

// mergeResults folds new results into the accumulator, dropping
// duplicates (IoU >= 0.5 and similar text), keeping the higher-confidence
// reading.
func mergeResults(acc, more []OCRResult) []OCRResult {
	for _, r := range more {
		dup := false
		for i, existing := range acc {
			if iou(existing.BBox, r.BBox) >= 0.5 && similarText(existing.Text, r.Text) {
				dup = true
				if r.Confidence > existing.Confidence {
					acc[i] = r
				}
				break
			}
		}
		if !dup {
			acc = append(acc, r)
		}
	}
	return acc
}

// iou computes intersection-over-union of two rectangles.
func iou(a, b Rect) float64 {
	interLeft := maxInt(a.Left, b.Left)
	interTop := maxInt(a.Top, b.Top)
	interRight := minInt(a.Right, b.Right)
	interBottom := minInt(a.Bottom, b.Bottom)

	if interRight <= interLeft || interBottom <= interTop {
		return 0
	}
	inter := float64((interRight - interLeft) * (interBottom - interTop))
	areaA := float64(a.Width() * a.Height())
	areaB := float64(b.Width() * b.Height())
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func rectsOverlap(a, b Rect) bool { return iou(a, b) > 0 || b.Contains(a.Center()) }

// similarText compares whitespace-normalized, case-folded text.
func similarText(a, b string) bool {
	na := normalizeWhitespace(strings.ToLower(a))
	nb := normalizeWhitespace(strings.ToLower(b))
	return na == nb || strings.Contains(na, nb) || strings.Contains(nb, na)
}

func sortByConfidence(results []OCRResult) []OCRResult {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})
	return results
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
