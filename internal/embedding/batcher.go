package embedding

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/saiten/internal/errs"
)

// DefaultBatchSize is the number of passages sent to the embedder per call.
const DefaultBatchSize = 32

// Batcher embeds passages in fixed-size batches and checks that every batch comes
// back complete and with a consistent dimension.
type Batcher struct {
	embedder  Embedder
	batchSize int
	logger    *zap.Logger
}

// NewBatcher wraps embedder. batchSize <= 0 uses DefaultBatchSize.
func NewBatcher(embedder Embedder, batchSize int, logger *zap.Logger) *Batcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{embedder: embedder, batchSize: batchSize, logger: logger}
}

// Dimensions returns the embedder's dimension.
func (b *Batcher) Dimensions() int {
	return b.embedder.Dimensions()
}

// EmbedAll returns one vector per text, in input order. Every vector must have the
// embedder's dimension, or the first vector's when the embedder reports 0.
func (b *Batcher) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	dim := b.embedder.Dimensions()
	for start := 0; start < len(texts); start += b.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+b.batchSize, len(texts))
		batch, err := b.embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, errs.Upstream(err, "embed batch %d-%d", start, end)
		}
		if len(batch) != end-start {
			return nil, errs.Upstream(nil, "embed batch %d-%d: got %d vectors", start, end, len(batch))
		}
		if dim == 0 && len(batch) > 0 {
			dim = len(batch[0])
		}
		for i, v := range batch {
			if len(v) != dim {
				return nil, errs.Upstream(nil, "embedding %d has dimension %d, expected %d", start+i, len(v), dim)
			}
		}
		out = append(out, batch...)
		b.logger.Debug("embedded batch", zap.Int("start", start), zap.Int("size", end-start))
	}
	return out, nil
}

// EmbedQuery embeds a single query and checks its dimension against want.
func (b *Batcher) EmbedQuery(ctx context.Context, query string, want int) ([]float32, error) {
	v, err := b.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errs.Upstream(err, "embed query")
	}
	if len(v) != want {
		return nil, errs.InvalidInput("query embedding dimension %d does not match corpus dimension %d", len(v), want)
	}
	return v, nil
}
