package reply

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainAll(c *TextChunker, force bool) []string {
	var out []string
	c.Drain(force, func(chunk string) { out = append(out, chunk) })
	return out
}

func TestChunkerCutPreference(t *testing.T) {
	tests := []struct {
		name  string
		min   int
		max   int
		input string
		first string
	}{
		{
			name:  "paragraph break wins",
			min:   4,
			max:   20,
			input: "aaaa bbbb\n\ncccc dddd eeee",
			first: "aaaa bbbb\n\n",
		},
		{
			name:  "line break when no paragraph",
			min:   4,
			max:   20,
			input: "aaaa bbbb\ncccc dddd eeee",
			first: "aaaa bbbb\n",
		},
		{
			name:  "space when no line break",
			min:   4,
			max:   20,
			input: "aaaabbbb ccccddddeeeeffff",
			first: "aaaabbbb ",
		},
		{
			name:  "hard cut when no boundary",
			min:   4,
			max:   10,
			input: "aaaaabbbbbccccc",
			first: "aaaaabbbbb",
		},
		{
			name:  "boundary before min is ignored",
			min:   8,
			max:   10,
			input: "aa bbbbbbbbbbcccc",
			first: "aa bbbbbbb",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewTextChunker(tt.min, tt.max)
			c.Append(tt.input)
			chunks := drainAll(c, true)
			require.NotEmpty(t, chunks)
			assert.Equal(t, tt.first, chunks[0])
			assert.Equal(t, tt.input, strings.Join(chunks, ""))
		})
	}
}

func TestChunkerRetainsSmallTail(t *testing.T) {
	c := NewTextChunker(10, 40)
	c.Append("short")

	assert.Empty(t, drainAll(c, false))
	assert.Equal(t, 5, c.Pending())

	chunks := drainAll(c, true)
	require.Equal(t, []string{"short"}, chunks)
	assert.Zero(t, c.Pending())
}

func TestChunkerEmitsTailAtMin(t *testing.T) {
	c := NewTextChunker(3, 40)
	c.Append("long enough")
	assert.Equal(t, []string{"long enough"}, drainAll(c, false))
}

func TestChunkerConcatenationExact(t *testing.T) {
	c := NewTextChunker(8, 25)
	input := "First sentence here.\n\nSecond paragraph with more words than fit. Third one\ntrails off"
	for _, piece := range strings.SplitAfter(input, " ") {
		c.Append(piece)
	}
	chunks := drainAll(c, true)
	assert.Equal(t, input, strings.Join(chunks, ""))
	for _, chunk := range chunks[:len(chunks)-1] {
		assert.LessOrEqual(t, len([]rune(chunk)), 25)
	}
}

func TestChunkerRuneSafety(t *testing.T) {
	c := NewTextChunker(1, 4)
	c.Append("日本語のテキスト")
	chunks := drainAll(c, true)
	assert.Equal(t, "日本語のテキスト", strings.Join(chunks, ""))
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), 4)
	}
}

func TestChunkerEmptyDrain(t *testing.T) {
	c := NewTextChunker(2, 10)
	assert.Empty(t, drainAll(c, true))
}
