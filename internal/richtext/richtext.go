// ABOUTME: Plain-text extraction from rich message content (Markdown with inline HTML)
// ABOUTME: Used for list previews and to tell an empty editor payload from real text

package richtext

import (
	"bytes"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var (
	md      = goldmark.New()
	tagExpr = regexp.MustCompile(`<[^>]*>`)
)

// Plain returns the visible text of content with whitespace collapsed.
// Markup, raw HTML tags and link targets are dropped; link labels, image
// alt text and code are kept.
func Plain(content string) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}

	src := []byte(content)
	doc := md.Parser().Parse(text.NewReader(src))

	var b bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				b.WriteByte(' ')
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(node.Value)
		case *ast.AutoLink:
			b.Write(node.Label(src))
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock:
			writeLines(&b, node, src, true)
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			writeLines(&b, node, src, false)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	plain := html.UnescapeString(b.String())
	return strings.Join(strings.Fields(plain), " ")
}

func writeLines(b *bytes.Buffer, n ast.Node, src []byte, stripTags bool) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		line := seg.Value(src)
		if stripTags {
			line = tagExpr.ReplaceAll(line, []byte(" "))
		}
		b.Write(line)
		b.WriteByte(' ')
	}
}

// IsBlank reports whether content has no visible text, e.g. "", "   " or an
// editor's empty "<p><br></p>".
func IsBlank(content string) bool {
	return Plain(content) == ""
}

// Preview returns the plain text of content cut to at most maxRunes runes,
// ending in an ellipsis when truncated. maxRunes <= 0 disables truncation.
func Preview(content string, maxRunes int) string {
	plain := Plain(content)
	if maxRunes <= 0 || utf8.RuneCountInString(plain) <= maxRunes {
		return plain
	}
	if maxRunes == 1 {
		return "…"
	}

	runes := []rune(plain)
	cut := strings.TrimRight(string(runes[:maxRunes-1]), " ")
	return cut + "…"
}
