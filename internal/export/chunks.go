package export

import (
	"strings"
	"unicode/utf8"
)

// DefaultChunkRunes bounds a single rich-text block for document services
// that cap block length.
const DefaultChunkRunes = 2000

// SplitText breaks text into pieces of at most maxRunes runes, preferring
// sentence boundaries. A single sentence longer than maxRunes is cut.
func SplitText(text string, maxRunes int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxRunes <= 0 {
		maxRunes = DefaultChunkRunes
	}

	var (
		chunks  []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if piece := strings.TrimSpace(current.String()); piece != "" {
			chunks = append(chunks, piece)
		}
		current.Reset()
		size = 0
	}
	for _, sentence := range sentences(text) {
		n := utf8.RuneCountInString(sentence)
		if size+n > maxRunes && size > 0 {
			flush()
		}
		for n > maxRunes {
			runes := []rune(sentence)
			current.WriteString(string(runes[:maxRunes]))
			flush()
			sentence = string(runes[maxRunes:])
			n -= maxRunes
		}
		current.WriteString(sentence)
		size += n
	}
	flush()
	return chunks
}

// sentences splits after terminators, keeping them attached.
func sentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		switch r {
		case '.', '!', '?', '\n', '。', '！', '？':
			end := i + utf8.RuneLen(r)
			out = append(out, text[start:end])
			start = end
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}
