package reply

// TextChunker accumulates streamed text and cuts it into transport-sized
// pieces at natural boundaries. Emitted pieces always concatenate back
// to exactly the appended text; the chunker never trims or reflows.
type TextChunker struct {
	min int
	max int
	buf []rune
}

// NewTextChunker sizes a chunker. Pieces are cut once the buffer holds
// maxChars runes; a remainder below minChars stays buffered unless the
// drain is forced.
func NewTextChunker(minChars, maxChars int) *TextChunker {
	if maxChars < 1 {
		maxChars = 1
	}
	if minChars < 1 {
		minChars = 1
	}
	if minChars > maxChars {
		minChars = maxChars
	}
	return &TextChunker{min: minChars, max: maxChars}
}

// Append buffers text without emitting anything.
func (c *TextChunker) Append(text string) {
	if text == "" {
		return
	}
	c.buf = append(c.buf, []rune(text)...)
}

// Pending reports how many runes are buffered.
func (c *TextChunker) Pending() int {
	return len(c.buf)
}

// Drain cuts and emits pieces while the buffer holds at least the
// maximum piece size, then emits the remainder if force is set or the
// remainder has reached the minimum size. Otherwise the tail stays
// buffered for the next drain.
func (c *TextChunker) Drain(force bool, emit func(chunk string)) {
	for len(c.buf) >= c.max {
		cut := c.cutPoint()
		emit(string(c.buf[:cut]))
		c.buf = c.buf[cut:]
	}
	if len(c.buf) == 0 {
		return
	}
	if force || len(c.buf) >= c.min {
		emit(string(c.buf))
		c.buf = nil
	}
}

// cutPoint picks where to cut the next piece out of a buffer holding at
// least max runes: after the latest paragraph break, else the latest
// line break, else the latest space, all at or past min runes. With no
// boundary in range it hard-cuts at max.
func (c *TextChunker) cutPoint() int {
	window := c.buf[:c.max]
	paragraph, newline, space := -1, -1, -1
	for i := len(window) - 1; i+1 >= c.min && i >= 0; i-- {
		switch window[i] {
		case '\n':
			if newline < 0 {
				newline = i + 1
			}
			if i > 0 && window[i-1] == '\n' {
				paragraph = i + 1
			}
		case ' ', '\t':
			if space < 0 {
				space = i + 1
			}
		}
		if paragraph >= 0 {
			break
		}
	}
	switch {
	case paragraph >= 0:
		return paragraph
	case newline >= 0:
		return newline
	case space >= 0:
		return space
	}
	return c.max
}
