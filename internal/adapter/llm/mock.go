package llm

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/step6836/CloudRAG/internal/domain"
)

// Mock answers with a fixed summary of the prompt it was given. Token counts
// are words.
type Mock struct {
	calls atomic.Int64
}

func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Complete(_ context.Context, systemPrompt, userPrompt string) (domain.Completion, error) {
	m.calls.Add(1)
	answer := fmt.Sprintf("mock answer based on %d characters of context", len(userPrompt))
	return domain.Completion{
		Text:         answer,
		InputTokens:  len(strings.Fields(systemPrompt)) + len(strings.Fields(userPrompt)),
		OutputTokens: len(strings.Fields(answer)),
	}, nil
}

// Calls returns how many completions were requested.
func (m *Mock) Calls() int {
	return int(m.calls.Load())
}

func (m *Mock) ModelName() string {
	return "mock"
}
