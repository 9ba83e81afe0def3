package store

import (
	"context"
	"sync"

	"github.com/geotag/gazetteer/internal/model"
)

// DefaultCommitRate is the number of queued places written per flush.
const DefaultCommitRate = 1000

// addQueue buffers prepared places and writes them in batches of rate.
// A failed batch is dropped, never retried, and reported as a *BatchError.
type addQueue struct {
	mu    sync.Mutex
	rate  int
	items []model.Place
	write func(ctx context.Context, batch []model.Place) error
}

func newAddQueue(rate int, write func(ctx context.Context, batch []model.Place) error) *addQueue {
	if rate <= 0 {
		rate = DefaultCommitRate
	}
	return &addQueue{rate: rate, write: write, items: make([]model.Place, 0, rate)}
}

func (q *addQueue) add(ctx context.Context, places ...model.Place) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, places...)
	if len(q.items) < q.rate {
		return nil
	}
	return q.flushLocked(ctx)
}

func (q *addQueue) flush(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.flushLocked(ctx)
}

func (q *addQueue) flushLocked(ctx context.Context) error {
	if len(q.items) == 0 {
		return nil
	}
	batch := q.items
	q.items = make([]model.Place, 0, q.rate)
	if err := q.write(ctx, batch); err != nil {
		return &BatchError{Rows: len(batch), Err: err}
	}
	return nil
}

func (q *addQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
