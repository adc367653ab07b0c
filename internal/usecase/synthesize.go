package usecase

import (
	"context"
	"strings"

	"github.com/step6836/CloudRAG/internal/domain"
	"github.com/step6836/CloudRAG/internal/port"
)

// SystemPrompt instructs the model to answer from the retrieved context only.
const SystemPrompt = "You are analyzing earnings call transcripts from major cloud/SaaS companies. " +
	"Answer based only on the provided context. " +
	"When relevant, mention which company you're referring to. " +
	"Be specific with numbers, quotes, and strategic insights."

// Synthesizer turns retrieved chunks into a grounded answer.
type Synthesizer struct {
	completer port.Completer
}

func NewSynthesizer(completer port.Completer) *Synthesizer {
	return &Synthesizer{completer: completer}
}

// BuildContext joins chunk texts with a blank line.
func BuildContext(texts []string) string {
	return strings.Join(texts, "\n\n")
}

// BuildUserPrompt places the context block ahead of the question.
func BuildUserPrompt(question, contextBlock string) string {
	return "Context:\n" + contextBlock + "\n\nQuestion: " + question
}

// Answer asks the completion service to answer question from contextBlock.
func (s *Synthesizer) Answer(ctx context.Context, question, contextBlock string) (domain.Completion, error) {
	return s.completer.Complete(ctx, SystemPrompt, BuildUserPrompt(question, contextBlock))
}

func (s *Synthesizer) ModelName() string {
	return s.completer.ModelName()
}
