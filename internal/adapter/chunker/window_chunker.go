package chunker

import (
	"fmt"

	"github.com/step6836/CloudRAG/internal/domain"
)

// Default window settings.
const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// WindowChunker splits text into overlapping fixed-size windows measured in
// characters. Windows start at 0 and advance by size-overlap; the last window
// may be shorter.
type WindowChunker struct {
	size    int
	overlap int
}

// NewWindowChunker validates the window settings.
func NewWindowChunker(size, overlap int) (*WindowChunker, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	return &WindowChunker{size: size, overlap: overlap}, nil
}

// Chunk splits text. Empty text yields no chunks.
func (c *WindowChunker) Chunk(text string) []string {
	return split(text, c.size, c.overlap)
}

// Chunk splits text with the given window settings.
func Chunk(text string, size, overlap int) ([]string, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	return split(text, size, overlap), nil
}

func validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrConfiguration, size)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: chunk overlap must not be negative, got %d", domain.ErrConfiguration, overlap)
	}
	if overlap >= size {
		return fmt.Errorf("%w: chunk overlap (%d) must be smaller than chunk size (%d)", domain.ErrConfiguration, overlap, size)
	}
	return nil
}

func split(text string, size, overlap int) []string {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	step := size - overlap

	chunks := make([]string, 0, (len(runes)+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
