package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testWindow = Rect{Left: 0, Top: 0, Right: 1200, Bottom: 900}

func TestScoreIdealChatInput(t *testing.T) {
	s := NewScorer(nil)

	c := Candidate{
		Rect:         Rect{Left: 400, Top: 820, Right: 900, Bottom: 860}, // 500x40, bottom third
		ControlType:  "Edit",
		IsEnabled:    true,
		AutomationID: "chat-input",
		Source:       "uia",
	}

	score := s.Score(c, testWindow, "cursor.exe/Chrome_WidgetWin_1", "send_text")
	// 0.40 (width) + 0.30 (height) + 0.30 (bottom third) + 0.20 (edit) + 0.30 (name hint)
	assert.InDelta(t, 1.5, score, 0.001)
}

func TestScoreRejectsTopOfWindow(t *testing.T) {
	s := NewScorer(nil)

	c := Candidate{
		Rect:        Rect{Left: 400, Top: 10, Right: 900, Bottom: 50},
		ControlType: "Text",
	}
	score := s.Score(c, testWindow, "sig", "send_text")
	assert.Less(t, score, 1.0)

	ranked := s.Rank([]Candidate{c}, testWindow, "sig", "send_text")
	// 0.40 + 0.30 = 0.70 still passes the 0.5 bar; a tiny one must not.
	assert.Len(t, ranked, 1)

	tiny := Candidate{Rect: Rect{Left: 0, Top: 0, Right: 20, Bottom: 10}}
	ranked = s.Rank([]Candidate{tiny}, testWindow, "sig", "send_text")
	assert.Empty(t, ranked)
}

func TestPositionMemoryBonusCapped(t *testing.T) {
	mem := NewPositionMemory(3)
	sig, kind := "cursor.exe/Chrome_WidgetWin_1", "send_text"
	p := Point{X: 650, Y: 840}
	// Three nearby remembered points: bonus would be 0.75 uncapped.
	mem.RecordSuccess(sig, kind, p)
	mem.RecordSuccess(sig, kind, Point{X: 652, Y: 842})
	mem.RecordSuccess(sig, kind, Point{X: 648, Y: 838})

	s := NewScorer(mem)
	with := s.Score(Candidate{Rect: Rect{Left: 400, Top: 820, Right: 900, Bottom: 860}}, testWindow, sig, kind)
	without := s.Score(Candidate{Rect: Rect{Left: 400, Top: 820, Right: 900, Bottom: 860}}, testWindow, "other/sig", kind)

	assert.InDelta(t, weightMemoryHitCap, with-without, 0.001)
}

func TestRankOrdersAndBreaksTiesByY(t *testing.T) {
	s := NewScorer(nil)

	lower := Candidate{Rect: Rect{Left: 400, Top: 840, Right: 900, Bottom: 880}}
	upper := Candidate{Rect: Rect{Left: 400, Top: 700, Right: 900, Bottom: 740}}
	winner := Candidate{
		Rect:        Rect{Left: 400, Top: 820, Right: 900, Bottom: 860},
		ControlType: "Edit", IsEnabled: true, Name: "chat",
	}

	ranked := s.Rank([]Candidate{lower, winner, upper}, testWindow, "sig", "send_text")
	require.NotEmpty(t, ranked)
	assert.Equal(t, "chat", ranked[0].Name)

	// lower and upper tie at 1.0 (width, height, bottom third); among
	// equals, lowest y first.
	var tied []Candidate
	for _, c := range ranked[1:] {
		tied = append(tied, c)
	}
	if len(tied) == 2 {
		assert.LessOrEqual(t, tied[0].Rect.Top, tied[1].Rect.Top)
	}
}

func TestHeuristicCandidates(t *testing.T) {
	cands := HeuristicCandidates(testWindow)
	require.Len(t, cands, 3)

	for _, c := range cands {
		assert.Equal(t, "heuristic", c.Source)
		assert.GreaterOrEqual(t, c.Rect.Top, testWindow.Bottom-testWindow.Height()*15/100)
		assert.LessOrEqual(t, c.Rect.Bottom, testWindow.Bottom)
		assert.GreaterOrEqual(t, c.Rect.Width(), testWindow.Width()*40/100)
		assert.LessOrEqual(t, c.Rect.Width(), testWindow.Width()*80/100)
	}

	assert.Empty(t, HeuristicCandidates(Rect{}))
}

func TestCandidatesFromTree(t *testing.T) {
	tree := WalkTree(chatWindowTree(), 15)
	cands := CandidatesFromTree(tree)
	require.Len(t, cands, 1)
	assert.Equal(t, "uia", cands[0].Source)
	assert.Equal(t, "chat-input", cands[0].AutomationID)
	assert.Equal(t, []string{"Pane_0", "Edit_chat_input_0"}, cands[0].Path)
}
