package automation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacadeRequiresEngine(t *testing.T) {
	f := NewOCRFacade("")
	_, err := f.DetectText(context.Background(), []byte("png"))
	assert.ErrorIs(t, err, ErrNoOCREngine)
}

func TestPreferredEngineWins(t *testing.T) {
	fast := &fakeOCREngine{name: "fast", results: []OCRResult{
		{BBox: Rect{0, 0, 100, 20}, Text: "hello", Confidence: 0.6, Engine: "fast"},
	}}
	slow := &fakeOCREngine{name: "slow", results: []OCRResult{
		{BBox: Rect{0, 0, 100, 20}, Text: "hello", Confidence: 0.9, Engine: "slow"},
	}}

	f := NewOCRFacade("fast", fast, slow)
	results, err := f.DetectText(context.Background(), []byte("png"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "fast", results[0].Engine)
	assert.Zero(t, slow.calls, "preferred engine short-circuits")
}

func TestPreferredFailureFallsBackToMerge(t *testing.T) {
	broken := &fakeOCREngine{name: "broken", err: errors.New("model gone")}
	backup := &fakeOCREngine{name: "backup", results: []OCRResult{
		{BBox: Rect{0, 0, 100, 20}, Text: "hello", Confidence: 0.8, Engine: "backup"},
	}}

	f := NewOCRFacade("broken", broken, backup)
	results, err := f.DetectText(context.Background(), []byte("png"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "backup", results[0].Engine)
}

func TestMergeDeduplicatesByIoUAndText(t *testing.T) {
	a := &fakeOCREngine{name: "a", results: []OCRResult{
		{BBox: Rect{0, 0, 100, 20}, Text: "hello world", Confidence: 0.7, Engine: "a"},
		{BBox: Rect{0, 40, 100, 60}, Text: "second line", Confidence: 0.9, Engine: "a"},
	}}
	b := &fakeOCREngine{name: "b", results: []OCRResult{
		// Near-identical region and text: deduplicated, higher confidence kept.
		{BBox: Rect{2, 1, 101, 21}, Text: "Hello  World", Confidence: 0.95, Engine: "b"},
	}}

	f := NewOCRFacade("", a, b)
	results, err := f.DetectText(context.Background(), []byte("png"))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].Engine, "higher-confidence duplicate won")
	assert.InDelta(t, 0.95, results[0].Confidence, 0.001)
}

func TestAllEnginesFailing(t *testing.T) {
	f := NewOCRFacade("",
		&fakeOCREngine{name: "a", err: errors.New("down")},
		&fakeOCREngine{name: "b", err: errors.New("also down")})
	_, err := f.DetectText(context.Background(), []byte("png"))
	assert.Error(t, err)
}

func TestContainsText(t *testing.T) {
	engine := &fakeOCREngine{name: "e", results: []OCRResult{
		{BBox: Rect{100, 700, 500, 730}, Text: "hello world", Confidence: 0.9, Engine: "e"},
		{BBox: Rect{0, 0, 80, 20}, Text: "File Edit View", Confidence: 0.9, Engine: "e"},
	}}
	f := NewOCRFacade("", engine)

	found, err := f.ContainsText(context.Background(), []byte("png"), "Hello   World", nil)
	require.NoError(t, err)
	assert.True(t, found)

	within := Rect{Left: 0, Top: 650, Right: 600, Bottom: 760}
	found, err = f.ContainsText(context.Background(), []byte("png"), "file edit", &within)
	require.NoError(t, err)
	assert.False(t, found, "menu text is outside the bounding box")
}

func TestIoU(t *testing.T) {
	a := Rect{0, 0, 100, 100}
	assert.InDelta(t, 1.0, iou(a, a), 0.001)
	assert.Zero(t, iou(a, Rect{200, 200, 300, 300}))

	half := Rect{50, 0, 150, 100}
	v := iou(a, half)
	assert.InDelta(t, 1.0/3.0, v, 0.01)
}

func TestHTTPOCREngine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "image/png" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "png-bytes" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"bbox":{"left":10,"top":20,"right":110,"bottom":40},"text":"detected","confidence":0.87}]`)
	}))
	defer srv.Close()

	engine := NewHTTPOCREngine("remote", srv.URL)
	assert.Equal(t, "remote", engine.Name())

	results, err := engine.DetectText(context.Background(), []byte("png-bytes"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "detected", results[0].Text)
	assert.Equal(t, Rect{Left: 10, Top: 20, Right: 110, Bottom: 40}, results[0].BBox)
	assert.InDelta(t, 0.87, results[0].Confidence, 0.001)
	assert.Equal(t, "remote", results[0].Engine)
}

func TestHTTPOCREngineServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPOCREngine("remote", srv.URL).DetectText(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model crashed")
}
