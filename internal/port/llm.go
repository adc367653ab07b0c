package port

import (
	"context"

	"github.com/step6836/CloudRAG/internal/domain"
)

// Completer represents a language model for grounded answer generation.
type Completer interface {
	// Complete generates text from a system prompt and a user prompt.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (domain.Completion, error)

	// ModelName returns the name of the model.
	ModelName() string
}
