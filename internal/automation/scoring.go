package automation

import (
	"sort"
	"strings"
)

// Scoring weights for chat-input detection. A candidate below
// scoreThreshold is rejected outright.
const (
	weightWidthInRange    = 0.40 // 300 <= w <= 800
	weightHeightInRange   = 0.30 // 25 <= h <= 60
	weightBottomThird     = 0.30 // center-y in the window's bottom third
	weightEnabledEdit     = 0.20
	weightKnownName       = 0.30
	weightMemoryHit       = 0.25 // per remembered success near the point
	weightMemoryHitCap    = 0.50
	defaultScoreThreshold = 0.5

	// memoryHitRadius is how close (pixels) a remembered point must be to
	// count as a hit for a candidate.
	memoryHitRadius = 24
)

// chatNameHints are name/automation-id substrings that mark chat inputs
// across Cursor/VSCode builds.
var chatNameHints = []string{"chat", "message", "prompt", "composer", "input", "ask", "send"}

// Candidate is one possible interaction target: an element from the UIA
// walk, or a rectangle proposed by geometric heuristics when the tree
// exposes nothing editable.
type Candidate struct {
	Rect         Rect     `json:"rect"`
	ControlType  string   `json:"control_type,omitempty"`
	Name         string   `json:"name,omitempty"`
	AutomationID string   `json:"automation_id,omitempty"`
	IsEnabled    bool     `json:"is_enabled,omitempty"`
	Path         []string `json:"path,omitempty"`
	Source       string   `json:"source"` // uia or heuristic
	Score        float64  `json:"score"`
}

// Scorer ranks candidates for an intent-specified target ("the chat
// input of Cursor").
type Scorer struct {
	Memory    *PositionMemory
	Threshold float64
}

// NewScorer creates a scorer backed by the given position memory.
func NewScorer(memory *PositionMemory) *Scorer {
	return &Scorer{Memory: memory, Threshold: defaultScoreThreshold}
}

// Score computes the weighted sum for one candidate inside the window.
func (s *Scorer) Score(c Candidate, window Rect, signature, interaction string) float64 {
	score := 0.0

	w, h := c.Rect.Width(), c.Rect.Height()
	if w >= 300 && w <= 800 {
		score += weightWidthInRange
	}
	if h >= 25 && h <= 60 {
		score += weightHeightInRange
	}

	centerY := c.Rect.Center().Y
	bottomThirdTop := window.Top + window.Height()*2/3
	if centerY >= bottomThirdTop && centerY <= window.Bottom {
		score += weightBottomThird
	}

	if c.ControlType == "Edit" && c.IsEnabled {
		score += weightEnabledEdit
	}

	haystack := strings.ToLower(c.Name + " " + c.AutomationID)
	for _, hint := range chatNameHints {
		if strings.Contains(haystack, hint) {
			score += weightKnownName
			break
		}
	}

	if s.Memory != nil {
		hits := s.Memory.HitCount(signature, interaction, c.Rect.Center(), memoryHitRadius)
		bonus := float64(hits) * weightMemoryHit
		if bonus > weightMemoryHitCap {
			bonus = weightMemoryHitCap
		}
		score += bonus
	}

	return score
}

// Rank scores every candidate and returns the survivors above the
// threshold, best first; ties break by lowest y-coordinate.
func (s *Scorer) Rank(candidates []Candidate, window Rect, signature, interaction string) []Candidate {
	threshold := s.Threshold
	if threshold <= 0 {
		threshold = defaultScoreThreshold
	}

	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		c.Score = s.Score(c, window, signature, interaction)
		if c.Score >= threshold {
			out = append(out, c)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Rect.Top < out[j].Rect.Top
	})
	return out
}

// CandidatesFromTree converts the editable nodes of a UIA walk into
// scoring candidates.
func CandidatesFromTree(root *UIANode) []Candidate {
	var out []Candidate
	for _, en := range CollectEditable(root) {
		if en.Node.Rectangle == nil {
			continue
		}
		out = append(out, Candidate{
			Rect:         *en.Node.Rectangle,
			ControlType:  en.Node.ControlType,
			Name:         en.Node.Name,
			AutomationID: en.Node.AutomationID,
			IsEnabled:    en.Node.IsEnabled,
			Path:         en.Path,
			Source:       "uia",
		})
	}
	return out
}

// HeuristicCandidates proposes rectangles over the window's client area
// for UIs whose accessibility tree exposes nothing editable: a strip in
// the bottom 15% of the window, 40–80% of its width, centered.
func HeuristicCandidates(window Rect) []Candidate {
	width := window.Width()
	height := window.Height()
	if width <= 0 || height <= 0 {
		return nil
	}

	stripTop := window.Bottom - height*15/100
	var out []Candidate
	for _, frac := range []int{40, 60, 80} {
		w := width * frac / 100
		left := window.Left + (width-w)/2
		out = append(out, Candidate{
			Rect: Rect{
				Left:   left,
				Top:    stripTop,
				Right:  left + w,
				Bottom: window.Bottom - 8,
			},
			Source: "heuristic",
		})
	}
	return out
}
