package google

import (
	"strings"

	"golang.org/x/net/html"
)

// HTMLToText converts newsletter HTML into readable plain text. Script
// and style contents are dropped, and anchors with http(s) targets are
// rendered as "text (url)" so links survive the conversion.
func HTMLToText(source string) string {
	doc, err := html.Parse(strings.NewReader(source))
	if err != nil {
		// Broken markup still contains usable text; fall back to the
		// raw input rather than dropping the message.
		return strings.TrimSpace(source)
	}

	var sb strings.Builder
	var render func(n *html.Node)
	render = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style":
				return
			case "a":
				text := strings.TrimSpace(nodeText(n))
				href := attrValue(n, "href")
				if strings.HasPrefix(href, "http") {
					sb.WriteString(text)
					sb.WriteString(" (")
					sb.WriteString(href)
					sb.WriteString(")\n")
					return
				}
			case "br", "p", "div", "tr", "li", "h1", "h2", "h3", "h4":
				sb.WriteString("\n")
			}
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				sb.WriteString(t)
				sb.WriteString("\n")
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			render(child)
		}
	}
	render(doc)

	return collapseBlankLines(sb.String())
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		sb.WriteString(nodeText(child))
	}
	return sb.String()
}

func attrValue(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
