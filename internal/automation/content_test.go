package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contentTree() *UIANode {
	v := "typed draft"
	return &UIANode{
		ControlType: "Window", IsVisible: true,
		Children: map[string]*UIANode{
			"Document_main_0": {
				ControlType: "Document", Name: "fn main() {}", IsVisible: true,
			},
			"Pane_1": {
				ControlType: "Pane", IsVisible: true,
				Children: map[string]*UIANode{
					"Text_reply_0":  {ControlType: "Text", Name: "assistant reply", IsVisible: true},
					"Text_hidden_1": {ControlType: "Text", Name: "offscreen", IsVisible: false},
					"Edit_input_2":  {ControlType: "Edit", IsVisible: true, IsEnabled: true, Value: &v},
					"Pane_broken_3": {Error: "access denied", ControlType: "Pane"},
				},
			},
			"Button_Send_2": {ControlType: "Button", Name: "Send", IsVisible: true},
		},
	}
}

func TestCollectTexts(t *testing.T) {
	blocks := CollectTexts(contentTree())

	var texts []string
	for _, b := range blocks {
		texts = append(texts, b.Text)
	}
	assert.Contains(t, texts, "fn main() {}")
	assert.Contains(t, texts, "assistant reply")
	assert.Contains(t, texts, "typed draft")
	assert.NotContains(t, texts, "offscreen", "invisible text nodes skipped")
	assert.NotContains(t, texts, "Send", "button chrome is not content")

	for _, b := range blocks {
		if b.Text == "typed draft" {
			assert.True(t, b.Value)
			assert.Equal(t, []string{"Pane_1", "Edit_input_2"}, b.Path)
		}
	}
}

func TestCollectTextsDeterministic(t *testing.T) {
	a := CollectTexts(contentTree())
	b := CollectTexts(contentTree())
	require.Equal(t, a, b)
}

func TestJoinTextsDedupsConsecutive(t *testing.T) {
	blocks := []TextBlock{
		{Text: "one"},
		{Text: "one"},
		{Text: "two"},
		{Text: "one"},
	}
	assert.Equal(t, "one\ntwo\none", JoinTexts(blocks))
	assert.Equal(t, "", JoinTexts(nil))
}
