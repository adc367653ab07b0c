package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/step6836/CloudRAG/internal/domain"
)

func TestWindowChunkerBoundaries(t *testing.T) {
	chunker, err := NewWindowChunker(1000, 200)
	require.NoError(t, err)

	text := strings.Repeat("x", 2500)
	chunks := chunker.Chunk(text)

	require.Len(t, chunks, 4)
	assert.Len(t, chunks[0], 1000)
	assert.Len(t, chunks[1], 1000)
	assert.Len(t, chunks[2], 900)
	assert.Len(t, chunks[3], 100)
}

func TestWindowChunkerStartOffsets(t *testing.T) {
	// Each character encodes its own offset so window starts are observable.
	var sb strings.Builder
	for i := 0; i < 2500; i++ {
		sb.WriteRune(rune(0x4e00 + i))
	}

	chunks, err := Chunk(sb.String(), 1000, 200)
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	starts := make([]int, len(chunks))
	for i, c := range chunks {
		starts[i] = int([]rune(c)[0]) - 0x4e00
	}
	assert.Equal(t, []int{0, 800, 1600, 2400}, starts)
	assert.Len(t, []rune(chunks[3]), 100)
}

func TestWindowChunkerEmpty(t *testing.T) {
	chunks, err := Chunk("", 1000, 200)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestWindowChunkerShortText(t *testing.T) {
	chunks, err := Chunk("revenue grew", 1000, 200)
	require.NoError(t, err)
	assert.Equal(t, []string{"revenue grew"}, chunks)
}

func TestWindowChunkerOverlapContent(t *testing.T) {
	chunks, err := Chunk("abcdefghij", 4, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"abcd", "cdef", "efgh", "ghij", "ij"}, chunks)
}

func TestWindowChunkerDeterministic(t *testing.T) {
	text := strings.Repeat("Cloud revenue was up 23% year over year. ", 100)
	a, err := Chunk(text, 300, 50)
	require.NoError(t, err)
	b, err := Chunk(text, 300, 50)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestWindowChunkerInvalidSettings(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
	}{
		{"overlap equals size", 1000, 1000},
		{"overlap exceeds size", 100, 200},
		{"zero size", 0, 0},
		{"negative overlap", 100, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWindowChunker(tt.size, tt.overlap)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfiguration)

			_, err = Chunk("text", tt.size, tt.overlap)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}
