package proposal

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Retrying wraps a Source and retries transport failures. Only
// UnavailableError is retried: a missing or malformed record is a final
// answer from the ledger and asking again cannot change it.
type Retrying struct {
	Source   Source
	Attempts int           // total attempts, including the first
	Backoff  time.Duration // linear: attempt n waits n*Backoff
	Logger   *zap.Logger
}

func (r *Retrying) Get(ctx context.Context, id string) (*Record, error) {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var rec *Record
		rec, err = r.Source.Get(ctx, id)
		if err == nil {
			return rec, nil
		}

		var unavailable *UnavailableError
		if !errors.As(err, &unavailable) || attempt == attempts {
			return nil, err
		}

		logger.Warn("proposal fetch failed, retrying",
			zap.String("proposal", id),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, &UnavailableError{ID: id, Err: ctx.Err()}
		case <-time.After(time.Duration(attempt) * r.Backoff):
		}
	}
	return nil, err
}
