package knowledge

// Sentence-terminal and clause-level punctuation, in preference order.
var (
	terminalRunes = map[rune]bool{'。': true, '！': true, '？': true, '.': true, '!': true, '?': true}
	clauseRunes   = map[rune]bool{'；': true, '，': true, ';': true, ',': true, ':': true, '：': true}
)

// Chunker splits article text into overlapping pieces that respect
// sentence boundaries where possible.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker builds a chunker. Non-positive size falls back to 500,
// negative overlap to 0; overlap is clamped below size.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 500
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 10
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split breaks text into chunks of at most size runes with overlap runes
// carried between consecutive chunks. Each cut prefers a sentence-terminal
// rune, then a clause rune, scanning back from the nominal end; a hard cut
// happens only when no boundary exists in the last half of the window.
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= c.size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + c.size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		cut := c.boundary(runes, start, end)
		chunks = append(chunks, string(runes[start:cut]))

		next := cut - c.overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}

// boundary finds the cut position in (start, end]: the rune after the last
// sentence terminator in the window's second half, failing that the rune
// after the last clause separator there, failing that end itself.
func (c *Chunker) boundary(runes []rune, start, end int) int {
	half := start + c.size/2

	for i := end - 1; i > half; i-- {
		if terminalRunes[runes[i]] {
			return i + 1
		}
	}
	for i := end - 1; i > half; i-- {
		if clauseRunes[runes[i]] {
			return i + 1
		}
	}
	return end
}
