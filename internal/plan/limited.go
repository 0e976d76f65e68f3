package plan

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limited caps the number of in-flight Complete calls on a shared Provider.
// Concurrent verification runs share one Limited so they respect the
// service's rate limits.
type Limited struct {
	Provider
	sem *semaphore.Weighted
}

// NewLimited wraps p so that at most n calls run at once.
func NewLimited(p Provider, n int) *Limited {
	if n < 1 {
		n = 1
	}
	return &Limited{Provider: p, sem: semaphore.NewWeighted(int64(n))}
}

func (l *Limited) Complete(ctx context.Context, p Prompt) (string, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer l.sem.Release(1)
	return l.Provider.Complete(ctx, p)
}
