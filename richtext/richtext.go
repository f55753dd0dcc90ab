// Package richtext flattens the HTML fragments Readerware stores in its
// description fields into plain text.
package richtext

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const descriptionPrefix = "Book Description\n"

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "table": true, "blockquote": true,
}

// Clean converts an HTML fragment to text. Block elements become line
// breaks, runs of blank lines collapse, and the "Book Description" header
// some imports prepend is dropped. Text without markup is only trimmed.
func Clean(s string) string {
	s = strings.ReplaceAll(s, `\u000a`, "\n")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if strings.ContainsAny(s, "<&") {
		if text, ok := extract(s); ok {
			s = text
		}
	}
	s = strings.TrimPrefix(strings.TrimLeft(s, " \t\n"), descriptionPrefix)
	return collapse(s)
}

func extract(s string) (string, bool) {
	nodes, err := html.ParseFragment(strings.NewReader(s), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return "", false
	}
	var sb strings.Builder
	for _, n := range nodes {
		extractTextRecursive(n, &sb)
	}
	return sb.String(), true
}

func extractTextRecursive(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractTextRecursive(c, sb)
	}
	if n.Type == html.ElementNode && blockElements[n.Data] {
		sb.WriteByte('\n')
	}
}

// collapse trims every line and keeps at most one blank line in a row.
func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	blank := false
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
