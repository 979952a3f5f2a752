package automation

import (
	"sort"
	"strings"
)

// TextBlock is one piece of readable text found in an extracted tree,
// with the path of the node it came from.
type TextBlock struct {
	Path  []string `json:"path"`
	Type  string   `json:"type"`
	Text  string   `json:"text"`
	Value bool     `json:"is_value"`
}

// CollectTexts walks an extracted tree and gathers its readable text:
// non-empty values and explicit text lists of any node, and names of
// visible text-bearing control types. Subtrees marked with an error are
// skipped. Higher-level "get window content" flows are a
// composition of find-window + tree walk + this, not a handler of their
// own.
func CollectTexts(root *UIANode) []TextBlock {
	var out []TextBlock
	collectTexts(root, nil, &out)
	return out
}

// textBearingTypes are the control types whose Name is content rather
// than chrome.
var textBearingTypes = map[string]bool{
	"Text":     true,
	"Document": true,
	"ListItem": true,
	"TreeItem": true,
	"DataItem": true,
}

func collectTexts(node *UIANode, path []string, out *[]TextBlock) {
	if node == nil || node.Error != "" {
		return
	}

	if node.Value != nil && strings.TrimSpace(*node.Value) != "" {
		*out = append(*out, TextBlock{
			Path:  append([]string(nil), path...),
			Type:  node.ControlType,
			Text:  *node.Value,
			Value: true,
		})
	} else if node.IsVisible && textBearingTypes[node.ControlType] && strings.TrimSpace(node.Name) != "" {
		*out = append(*out, TextBlock{
			Path: append([]string(nil), path...),
			Type: node.ControlType,
			Text: node.Name,
		})
	}
	for _, t := range node.Texts {
		if strings.TrimSpace(t) != "" && t != node.Name {
			*out = append(*out, TextBlock{
				Path: append([]string(nil), path...),
				Type: node.ControlType,
				Text: t,
			})
		}
	}

	keys := make([]string, 0, len(node.Children))
	for key := range node.Children {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		childPath := make([]string, 0, len(path)+1)
		childPath = append(childPath, path...)
		childPath = append(childPath, key)
		collectTexts(node.Children[key], childPath, out)
	}
}

// JoinTexts flattens text blocks into one newline-separated string,
// deduplicating consecutive repeats.
func JoinTexts(blocks []TextBlock) string {
	var lines []string
	last := ""
	for _, b := range blocks {
		if b.Text == last {
			continue
		}
		lines = append(lines, b.Text)
		last = b.Text
	}
	return strings.Join(lines, "\n")
}
