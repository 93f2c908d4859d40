package report

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/storage/archive"
)

// Publisher writes documents to archive storage, retrying transient
// failures with exponential backoff.
type Publisher struct {
	storage    archive.Storage
	maxElapsed time.Duration
	logger     *zap.Logger
}

// NewPublisher creates a publisher. maxElapsed bounds the total retry time;
// zero uses 30s.
func NewPublisher(storage archive.Storage, maxElapsed time.Duration, logger *zap.Logger) *Publisher {
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{storage: storage, maxElapsed: maxElapsed, logger: logger}
}

// Publish stores doc under doc.Path() and returns that path.
func (p *Publisher) Publish(ctx context.Context, doc Persistable) (string, error) {
	data, err := encode(doc)
	if err != nil {
		return "", core.WrapError(core.ErrStorageFailed, fmt.Errorf("encoding document: %w", err))
	}
	path := doc.Path()

	attempt := 0
	operation := func() error {
		attempt++
		err := p.storage.Write(ctx, path, data)
		if err != nil {
			p.logger.Warn("archive write failed",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.MaxElapsedTime = p.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(strategy, ctx)); err != nil {
		return "", core.WrapError(core.ErrStorageFailed, fmt.Errorf("publishing %s: %w", path, err))
	}

	p.logger.Info("document published", zap.String("path", path), zap.Int("bytes", len(data)))
	return path, nil
}
