package knowledge

import (
	"context"
	"fmt"

	"codask/internal/retry"

	"golang.org/x/time/rate"
)

// batcher splits embedding input into provider-sized requests. Each request
// waits on the limiter and is retried while retryable reports true.
type batcher struct {
	size      int
	limiter   *rate.Limiter
	policy    retry.Policy
	retryable func(error) bool
}

type embedFunc func(ctx context.Context, batch []string) ([][]float32, error)

func (b batcher) run(ctx context.Context, texts []string, fn embedFunc) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	size := b.size
	if size <= 0 {
		size = len(texts)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		batch := texts[start:min(start+size, len(texts))]
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		vecs, err := retry.Do(ctx, b.policy, func(ctx context.Context) ([][]float32, error) {
			v, err := fn(ctx, batch)
			if err != nil && b.retryable != nil && !b.retryable(err) {
				return nil, retry.Permanent(err)
			}
			return v, err
		})
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(vecs), len(batch))
		}
		out = append(out, vecs...)
	}
	return out, nil
}
