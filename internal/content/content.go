// Package content models the editor's structured document tree and the
// plain-text excerpt derivation used by listings and the publish flow.
package content

import (
	"encoding/json"
	"strings"
)

// Node is one node of the document tree. A leaf carries Text, a container
// carries Content; the traversal tolerates nodes that carry both.
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

// Mark is inline formatting attached to a text node.
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// EmptyDocument is the content of a freshly created draft: a single empty
// paragraph under the document root.
func EmptyDocument() *Node {
	return &Node{
		Type:    "doc",
		Content: []Node{{Type: "paragraph"}},
	}
}

// Parse decodes a stored JSON document tree. A nil or empty payload yields
// a nil node, not an error.
func Parse(raw json.RawMessage) (*Node, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var node Node
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// CollectText concatenates every leaf text value depth-first, joining
// sibling results with a single space. Formatting and block boundaries
// collapse; this is intentionally lossy.
func CollectText(node *Node) string {
	if node == nil {
		return ""
	}
	if node.Text != "" {
		return node.Text
	}
	if len(node.Content) == 0 {
		return ""
	}
	parts := make([]string, 0, len(node.Content))
	for i := range node.Content {
		parts = append(parts, CollectText(&node.Content[i]))
	}
	return strings.Join(parts, " ")
}

// Extract derives a plain-text excerpt from the tree. A non-blank fallback
// wins over the derived text. Results longer than maxLen are cut at maxLen,
// right-trimmed, and suffixed with a single ellipsis rune.
func Extract(node *Node, fallback string, maxLen int) string {
	plain := strings.Join(strings.Fields(CollectText(node)), " ")
	base := strings.TrimSpace(fallback)
	if base == "" {
		base = plain
	}
	if base == "" {
		return ""
	}
	runes := []rune(base)
	if len(runes) <= maxLen {
		return base
	}
	return strings.TrimRight(string(runes[:maxLen]), " \t\n") + "…"
}
