package conversation

import (
	"strings"
	"unicode"
)

// Segmenter cuts streamed reply text into sentences, one synthesis query
// each. A boundary is punctuation followed by whitespace, so a fragment
// ending in punctuation waits for the next one.
type Segmenter struct {
	pending []rune
}

func isBoundary(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ';', ':':
		return true
	}
	return false
}

// Push adds a fragment and returns the sentences it completed.
func (s *Segmenter) Push(fragment string) []string {
	s.pending = append(s.pending, []rune(fragment)...)

	var out []string
	start := 0
	for i := 0; i+1 < len(s.pending); i++ {
		if isBoundary(s.pending[i]) && unicode.IsSpace(s.pending[i+1]) {
			if sentence := strings.TrimSpace(string(s.pending[start : i+1])); sentence != "" {
				out = append(out, sentence)
			}
			start = i + 1
		}
	}
	s.pending = append(s.pending[:0], s.pending[start:]...)
	return out
}

// Flush returns whatever is left once the reply has ended.
func (s *Segmenter) Flush() string {
	rest := strings.TrimSpace(string(s.pending))
	s.pending = s.pending[:0]
	return rest
}
