package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPOCREngine is the thin client for an out-of-process OCR service: it
// POSTs a PNG and receives detected text regions. The model behind the
// endpoint is a black box; this is the whole contract.
type HTTPOCREngine struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPOCREngine builds a client for the given endpoint.
func NewHTTPOCREngine(name, url string) *HTTPOCREngine {
	return &HTTPOCREngine{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// Name returns the engine name used in results and for preference
// selection.
func (e *HTTPOCREngine) Name() string { return e.name }

// wire format of the OCR service.
type ocrWireResult struct {
	BBox       ocrWireBBox `json:"bbox"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
}

type ocrWireBBox struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// DetectText submits the image and decodes the detections.
func (e *HTTPOCREngine) DetectText(ctx context.Context, png []byte) ([]OCRResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(png))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/png")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ocr service returned %s: %s", resp.Status, body)
	}

	var wire []ocrWireResult
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("ocr service response: %w", err)
	}

	out := make([]OCRResult, 0, len(wire))
	for _, w := range wire {
		out = append(out, OCRResult{
			BBox:       Rect{Left: w.BBox.Left, Top: w.BBox.Top, Right: w.BBox.Right, Bottom: w.BBox.Bottom},
			Text:       w.Text,
			Confidence: w.Confidence,
			Engine:     e.name,
		})
	}
	return out, nil
}
