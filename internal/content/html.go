package content

import (
	"fmt"
	"html"
	"strings"
)

// ToHTML renders a document tree to HTML for the public post page.
func ToHTML(node *Node) string {
	if node == nil {
		return ""
	}
	return renderNode(node)
}

func renderNode(node *Node) string {
	switch node.Type {
	case "doc":
		return renderContent(node.Content)
	case "paragraph":
		return fmt.Sprintf("<p>%s</p>\n", renderContent(node.Content))
	case "heading":
		level := 1
		if lvl, ok := node.Attrs["level"].(float64); ok {
			level = int(lvl)
		}
		body := renderContent(node.Content)
		return fmt.Sprintf("<h%d>%s</h%d>\n", level, body, level)
	case "bulletList":
		return fmt.Sprintf("<ul>\n%s</ul>\n", renderContent(node.Content))
	case "orderedList":
		return fmt.Sprintf("<ol>\n%s</ol>\n", renderContent(node.Content))
	case "listItem":
		return fmt.Sprintf("<li>%s</li>\n", renderContent(node.Content))
	case "blockquote":
		return fmt.Sprintf("<blockquote>\n%s</blockquote>\n", renderContent(node.Content))
	case "codeBlock":
		return fmt.Sprintf("<pre><code>%s</code></pre>\n", html.EscapeString(renderContent(node.Content)))
	case "text":
		return renderTextWithMarks(node.Text, node.Marks)
	case "hardBreak":
		return "<br>"
	case "horizontalRule":
		return "<hr>\n"
	case "figure":
		src, _ := node.Attrs["src"].(string)
		alt, _ := node.Attrs["alt"].(string)
		caption, _ := node.Attrs["caption"].(string)
		var b strings.Builder
		b.WriteString("<figure>")
		fmt.Fprintf(&b, `<img src=%q alt=%q>`, html.EscapeString(src), html.EscapeString(alt))
		if caption != "" {
			fmt.Fprintf(&b, "<figcaption>%s</figcaption>", html.EscapeString(caption))
		}
		b.WriteString("</figure>\n")
		return b.String()
	default:
		// Unknown node type - render content if any
		return renderContent(node.Content)
	}
}

func renderContent(nodes []Node) string {
	var result strings.Builder
	for i := range nodes {
		result.WriteString(renderNode(&nodes[i]))
	}
	return result.String()
}

func renderTextWithMarks(text string, marks []Mark) string {
	if text == "" {
		return ""
	}

	htmlText := html.EscapeString(text)

	// Apply marks from outside in
	for i := len(marks) - 1; i >= 0; i-- {
		switch marks[i].Type {
		case "bold":
			htmlText = fmt.Sprintf("<strong>%s</strong>", htmlText)
		case "italic":
			htmlText = fmt.Sprintf("<em>%s</em>", htmlText)
		case "code":
			htmlText = fmt.Sprintf("<code>%s</code>", htmlText)
		case "link":
			href, _ := marks[i].Attrs["href"].(string)
			htmlText = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), htmlText)
		case "strike":
			htmlText = fmt.Sprintf("<s>%s</s>", htmlText)
		case "underline":
			htmlText = fmt.Sprintf("<u>%s</u>", htmlText)
		}
	}

	return htmlText
}
