package ingest

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// extractionErrorPrefix marks content produced by a failed upstream
// extraction (e.g., an unreadable upload). Such content must never be
// indexed.
const extractionErrorPrefix = "[Error"

// markdownMimeTypes lists MIME types treated as markdown.
var markdownMimeTypes = map[string]struct{}{
	"text/markdown":   {},
	"text/x-markdown": {},
}

// Normalizer converts uploaded document bytes into plain text suitable for
// chunking. Markdown is flattened through its AST so formatting syntax does
// not pollute embeddings; everything else passes through as-is.
type Normalizer struct {
	parser goldmark.Markdown
}

// NewNormalizer creates a normalizer with table support enabled.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		parser: goldmark.New(
			goldmark.WithExtensions(extension.Table),
		),
	}
}

// Normalize returns the plain text for content. Markdown detection is by
// MIME type or filename extension.
func (n *Normalizer) Normalize(content []byte, filename, mimeType string) string {
	if isMarkdown(filename, mimeType) {
		return n.flatten(content)
	}
	return strings.TrimSpace(string(content))
}

// IsExtractionError reports whether content carries an upstream extraction
// failure marker instead of real document text.
func IsExtractionError(content string) bool {
	return strings.HasPrefix(content, extractionErrorPrefix)
}

func isMarkdown(filename, mimeType string) bool {
	if _, ok := markdownMimeTypes[mimeType]; ok {
		return true
	}
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".markdown")
}

// flatten parses markdown and walks the AST collecting text content,
// separating block-level nodes with newlines.
func (n *Normalizer) flatten(content []byte) string {
	if len(content) == 0 {
		return ""
	}

	doc := n.parser.Parser().Parse(text.NewReader(content))

	var b strings.Builder
	b.Grow(len(content))

	blockBreak := func() {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}

	_ = ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch v := node.(type) {
		case *ast.Heading, *ast.Paragraph, *ast.List, *ast.ListItem, *ast.Blockquote:
			blockBreak()
			return ast.WalkContinue, nil

		case *ast.Text:
			b.Write(v.Segment.Value(content))
			if v.HardLineBreak() || v.SoftLineBreak() {
				b.WriteByte(' ')
			}
			return ast.WalkContinue, nil

		case *ast.String:
			b.Write(v.Value)
			return ast.WalkContinue, nil

		case *ast.CodeBlock:
			blockBreak()
			writeLines(&b, v, content)
			return ast.WalkSkipChildren, nil

		case *ast.FencedCodeBlock:
			blockBreak()
			writeLines(&b, v, content)
			return ast.WalkSkipChildren, nil

		default:
			// Table rows render as pipe-separated cells
			kindName := node.Kind().String()
			if strings.Contains(kindName, "TableRow") || strings.Contains(kindName, "TableHeader") {
				blockBreak()
				b.WriteString(tableRowText(node, content))
				b.WriteByte('\n')
				return ast.WalkSkipChildren, nil
			}
			return ast.WalkContinue, nil
		}
	})

	return strings.TrimSpace(b.String())
}

// writeLines appends a code block's raw lines.
func writeLines(b *strings.Builder, node ast.Node, content []byte) {
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		b.Write(line.Value(content))
	}
}

// tableRowText extracts a table row's cells joined with " | ".
func tableRowText(row ast.Node, content []byte) string {
	var cells []string

	_ = ast.Walk(row, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if strings.Contains(node.Kind().String(), "TableCell") {
			var cell strings.Builder
			_ = ast.Walk(node, func(inner ast.Node, entering bool) (ast.WalkStatus, error) {
				if !entering {
					return ast.WalkContinue, nil
				}
				switch v := inner.(type) {
				case *ast.Text:
					cell.Write(v.Segment.Value(content))
				case *ast.String:
					cell.Write(v.Value)
				}
				return ast.WalkContinue, nil
			})
			cells = append(cells, strings.TrimSpace(cell.String()))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	return strings.Join(cells, " | ")
}
