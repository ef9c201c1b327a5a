package knowledge

import (
	"context"
	"errors"
	"testing"
	"time"

	"codask/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errQuota = errors.New("429 quota")

func TestBatcher_SplitsAndRetries(t *testing.T) {
	b := batcher{
		size:      2,
		policy:    retry.Policy{Retries: 2, Backoff: time.Millisecond},
		retryable: func(err error) bool { return errors.Is(err, errQuota) },
	}
	var sizes []int
	failures := 1
	vecs, err := b.run(context.Background(), []string{"a", "b", "c", "d", "e"}, func(ctx context.Context, batch []string) ([][]float32, error) {
		sizes = append(sizes, len(batch))
		if failures > 0 {
			failures--
			return nil, errQuota
		}
		out := make([][]float32, len(batch))
		for i := range batch {
			out[i] = []float32{float32(len(batch[i]))}
		}
		return out, nil
	})
	require.NoError(t, err)
	assert.Len(t, vecs, 5)
	assert.Equal(t, []int{2, 2, 2, 1}, sizes, "first batch retried once")
}

func TestBatcher_PermanentAndMismatch(t *testing.T) {
	b := batcher{
		size:      4,
		policy:    retry.Policy{Retries: 3, Backoff: time.Millisecond},
		retryable: func(err error) bool { return errors.Is(err, errQuota) },
	}
	calls := 0
	_, err := b.run(context.Background(), []string{"a"}, func(ctx context.Context, batch []string) ([][]float32, error) {
		calls++
		return nil, errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	_, err = b.run(context.Background(), []string{"a", "b"}, func(ctx context.Context, batch []string) ([][]float32, error) {
		return [][]float32{{1}}, nil
	})
	assert.ErrorContains(t, err, "embedding count mismatch")

	vecs, err := b.run(context.Background(), nil, nil)
	assert.NoError(t, err)
	assert.Nil(t, vecs)
}
