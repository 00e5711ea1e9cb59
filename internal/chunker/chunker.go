// Package chunker splits extracted text into retrieval-sized pieces on
// sentence boundaries.
package chunker

import "strings"

// DefaultMaxTokens is used when Chunk is called with maxTokens <= 0.
const DefaultMaxTokens = 1000

// Piece is one chunk of a text. Content is always text[StartChar:EndChar].
type Piece struct {
	Index      int    `json:"index"`
	Content    string `json:"content"`
	TokenCount int    `json:"tokenCount"`
	StartChar  int    `json:"startChar"`
	EndChar    int    `json:"endChar"`
}

// Chunk groups sentences into pieces of at most maxTokens tokens. A sentence
// larger than maxTokens becomes a piece on its own. The tokenizer is not
// closed; a nil tokenizer means Estimate.
func Chunk(text string, maxTokens int, tok Tokenizer) []Piece {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if tok == nil {
		tok = Estimate{}
	}

	var (
		pieces        []Piece
		start, end    int
		currentTokens int
		open          bool
	)
	flush := func() {
		content := text[start:end]
		pieces = append(pieces, Piece{
			Index:      len(pieces),
			Content:    content,
			TokenCount: tok.Count(content),
			StartChar:  start,
			EndChar:    end,
		})
		open = false
		currentTokens = 0
	}

	for _, s := range splitSentences(text) {
		sentTokens := tok.Count(text[s.start:s.end])
		if open && currentTokens+sentTokens > maxTokens {
			flush()
		}
		if !open {
			start = s.start
			open = true
		}
		end = s.end
		currentTokens += sentTokens
	}
	if open {
		flush()
	}
	return pieces
}

type span struct {
	start, end int
}

// splitSentences returns the byte spans of sentences in text. A sentence
// ends after a run of '.', '!' or '?'. Spans exclude surrounding whitespace
// and whitespace-only fragments are dropped.
func splitSentences(text string) []span {
	var spans []span
	add := func(s, e int) {
		for s < e && isSpace(text[s]) {
			s++
		}
		for e > s && isSpace(text[e-1]) {
			e--
		}
		if s < e {
			spans = append(spans, span{s, e})
		}
	}

	start := 0
	for i := 0; i < len(text); {
		if !isTerminal(text[i]) {
			i++
			continue
		}
		j := i
		for j < len(text) && isTerminal(text[j]) {
			j++
		}
		add(start, j)
		start, i = j, j
	}
	add(start, len(text))
	return spans
}

func isTerminal(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

func isSpace(b byte) bool {
	return strings.IndexByte(" \t\n\r\f\v", b) >= 0
}
