package rag

import "strings"

// SplitText splits text into chunks of at most size runes with the given
// overlap between consecutive chunks. Within each window it prefers to cut
// at a sentence boundary (". " or newline), but only when the boundary
// keeps at least half the window; otherwise it cuts at the window edge.
// Size is measured in runes for consistency with embedding token estimation.
//
// The same input always produces the same chunks, and every rune of the
// input is covered by some chunk.
func SplitText(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return []string{}
	}

	runes := []rune(trimmed)
	if len(runes) <= size {
		return []string{trimmed}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			if chunk := strings.TrimSpace(string(runes[start:])); chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		cut := end
		// Backscan for the last sentence boundary in the window. A boundary
		// closer to the window start than half the size is ignored to keep
		// chunks from degenerating.
		for i := end - 1; i > start; i-- {
			if runes[i] == '\n' || (runes[i] == ' ' && runes[i-1] == '.') {
				if i+1-start >= size/2 {
					cut = i + 1
				}
				break
			}
		}

		if chunk := strings.TrimSpace(string(runes[start:cut])); chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := cut - overlap
		if next <= start {
			// Overlap would stall the scan; advance past the cut instead
			next = cut
		}
		start = next
	}

	return chunks
}
