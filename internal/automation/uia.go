package automation

import (
	"fmt"
	"strings"
)

// maxDepthMarker is the error stamped on nodes cut off by the depth bound.
const maxDepthMarker = "max depth"

// editableControlTypes are the control types whose current value is
// captured during a walk.
var editableControlTypes = map[string]bool{
	"Edit":     true,
	"ComboBox": true,
}

// WalkTree extracts the accessibility tree under root, depth-bounded.
// Unreadable subtrees become {error: ...} nodes without aborting the
// parent; a node at maxDepth is still read, but each of its children
// becomes a max-depth marker node with no further children. Child keys
// are stable across walks of an unchanged UI.
func WalkTree(root Element, maxDepth int) *UIANode {
	return walkElement(root, 0, maxDepth)
}

func walkElement(el Element, depth, maxDepth int) *UIANode {
	if depth > maxDepth {
		return &UIANode{Error: maxDepthMarker}
	}

	node := &UIANode{
		ControlType:         el.ControlType(),
		Name:                el.Name(),
		AutomationID:        el.AutomationID(),
		ClassName:           el.ClassName(),
		IsEnabled:           el.IsEnabled(),
		IsVisible:           el.IsVisible(),
		IsKeyboardFocusable: el.IsKeyboardFocusable(),
		HasKeyboardFocus:    el.HasKeyboardFocus(),
	}

	if rect, err := el.Rect(); err == nil {
		node.Rectangle = &rect
	}

	if editableControlTypes[node.ControlType] {
		if v, ok := el.Value(); ok {
			node.Value = &v
		}
	}

	if texts := el.Texts(); len(texts) > 0 {
		node.Texts = texts
	}

	children, err := el.Children()
	if err != nil {
		node.Error = err.Error()
		return node
	}
	if len(children) == 0 {
		return node
	}

	node.Children = make(map[string]*UIANode, len(children))
	for i, child := range children {
		key := childKey(child, i)
		node.Children[key] = walkElement(child, depth+1, maxDepth)
	}
	return node
}

// childKey derives the stable key for a child element:
// {ControlType}_{AutomationID|SanitizedName}_{siblingIndex}. The sibling
// index disambiguates repeated siblings; the automation id (or name
// prefix) keeps the key meaningful when the UI reorders.
func childKey(el Element, index int) string {
	controlType := el.ControlType()
	if controlType == "" {
		controlType = "Unknown"
	}

	if id := el.AutomationID(); id != "" {
		return fmt.Sprintf("%s_%s_%d", controlType, sanitizeKeyPart(id), index)
	}
	if name := el.Name(); name != "" {
		return fmt.Sprintf("%s_%s_%d", controlType, sanitizeKeyPart(name), index)
	}
	return fmt.Sprintf("%s_%d", controlType, index)
}

// sanitizeKeyPart keeps keys addressable: alphanumerics survive,
// everything else collapses to underscores, capped at 30 runes the way
// the extractor has always done it.
func sanitizeKeyPart(s string) string {
	runes := []rune(s)
	if len(runes) > 30 {
		runes = runes[:30]
	}
	var b strings.Builder
	for _, r := range runes {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// NodeAtPath resolves a child-key path ("pane_3/Edit_input_0") through an
// extracted tree.
func NodeAtPath(root *UIANode, path []string) (*UIANode, bool) {
	node := root
	for _, key := range path {
		if node.Children == nil {
			return nil, false
		}
		child, ok := node.Children[key]
		if !ok {
			return nil, false
		}
		node = child
	}
	return node, true
}

// CollectEditable walks an extracted tree and returns every enabled
// Edit-class node with its path, the raw material for element scoring.
func CollectEditable(root *UIANode) []EditableNode {
	var out []EditableNode
	collectEditable(root, nil, &out)
	return out
}

// EditableNode pairs an editable tree node with its path from the root.
type EditableNode struct {
	Path []string
	Node *UIANode
}

func collectEditable(node *UIANode, path []string, out *[]EditableNode) {
	if node == nil {
		return
	}
	if node.ControlType == "Edit" && node.IsEnabled {
		*out = append(*out, EditableNode{Path: append([]string(nil), path...), Node: node})
	}
	for key, child := range node.Children {
		childPath := make([]string, 0, len(path)+1)
		childPath = append(childPath, path...)
		childPath = append(childPath, key)
		collectEditable(child, childPath, out)
	}
}
