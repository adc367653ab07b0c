package usecase

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/step6836/CloudRAG/internal/domain"
	"github.com/step6836/CloudRAG/internal/port"
)

const tokensPerMillion = 1_000_000

func tokenCost(tokens int, perMillion float64) float64 {
	return float64(tokens) * perMillion / tokensPerMillion
}

// embeddingSpend reads the lifetime embedding cost. Older databases stored it
// as a string.
func embeddingSpend(ctx context.Context, docs port.DocumentStore) (float64, error) {
	v, ok, err := docs.GetMeta(ctx, domain.MetaEmbeddingCost)
	if err != nil || !ok {
		return 0, err
	}
	if f, isNum := v.Number(); isNum {
		return f, nil
	}
	f, err := strconv.ParseFloat(v.String(), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not a number: %q", domain.ErrCorruptState, domain.MetaEmbeddingCost, v.String())
	}
	return f, nil
}

// recordEmbeddingSpend adds cost to the lifetime ledger and stamps the model
// and time of the build.
func recordEmbeddingSpend(ctx context.Context, docs port.DocumentStore, cost float64, model string, at time.Time) error {
	total, err := embeddingSpend(ctx, docs)
	if err != nil {
		return err
	}
	if err := docs.SetMeta(ctx, domain.MetaEmbeddingCost, domain.NumberValue(total+cost)); err != nil {
		return err
	}
	if err := docs.SetMeta(ctx, domain.MetaEmbeddingDate, domain.StringValue(at.UTC().Format(time.RFC3339))); err != nil {
		return err
	}
	return docs.SetMeta(ctx, domain.MetaEmbeddingModel, domain.StringValue(model))
}
