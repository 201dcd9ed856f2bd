package ingest

import (
	"strings"
	"testing"
)

func TestNormalizeMarkdown(t *testing.T) {
	n := NewNormalizer()

	input := "# Title\n\nSome **bold** text with [a link](https://example.com).\n\n- item one\n- item two\n"
	got := n.Normalize([]byte(input), "notes.md", "text/markdown")

	for _, want := range []string{"Title", "Some bold text", "a link", "item one", "item two"} {
		if !strings.Contains(got, want) {
			t.Errorf("Normalize() = %q, missing %q", got, want)
		}
	}
	for _, syntax := range []string{"#", "**", "](", "- item"} {
		if strings.Contains(got, syntax) {
			t.Errorf("Normalize() = %q, markdown syntax %q leaked through", got, syntax)
		}
	}
}

func TestNormalizeMarkdownByExtension(t *testing.T) {
	n := NewNormalizer()

	got := n.Normalize([]byte("## Heading"), "README.MD", "application/octet-stream")
	if got != "Heading" {
		t.Errorf("Normalize() = %q, want extension-detected markdown flattened", got)
	}
}

func TestNormalizeMarkdownTable(t *testing.T) {
	n := NewNormalizer()

	input := "| Name | Color |\n| --- | --- |\n| grass | green |\n"
	got := n.Normalize([]byte(input), "table.md", "text/markdown")

	if !strings.Contains(got, "grass | green") {
		t.Errorf("Normalize() = %q, want pipe-joined table row", got)
	}
}

func TestNormalizeMarkdownCodeBlock(t *testing.T) {
	n := NewNormalizer()

	input := "Intro\n\n```go\nfunc main() {}\n```\n"
	got := n.Normalize([]byte(input), "doc.md", "text/markdown")

	if !strings.Contains(got, "func main() {}") {
		t.Errorf("Normalize() = %q, want code block content kept", got)
	}
	if strings.Contains(got, "```") {
		t.Errorf("Normalize() = %q, fence syntax leaked through", got)
	}
}

func TestNormalizePlainTextPassthrough(t *testing.T) {
	n := NewNormalizer()

	got := n.Normalize([]byte("  plain content with # not markdown  \n"), "doc.txt", "text/plain")
	if got != "plain content with # not markdown" {
		t.Errorf("Normalize() = %q, want trimmed passthrough", got)
	}
}

func TestNormalizeEmpty(t *testing.T) {
	n := NewNormalizer()
	if got := n.Normalize(nil, "empty.md", "text/markdown"); got != "" {
		t.Errorf("Normalize(nil) = %q", got)
	}
}

func TestIsExtractionError(t *testing.T) {
	tests := []struct {
		content string
		want    bool
	}{
		{"[Error extracting file: unsupported format]", true},
		{"[Error", true},
		{"regular content", false},
		{"", false},
		{" [Error not at start", false},
	}

	for _, tt := range tests {
		if got := IsExtractionError(tt.content); got != tt.want {
			t.Errorf("IsExtractionError(%q) = %v, want %v", tt.content, got, tt.want)
		}
	}
}
