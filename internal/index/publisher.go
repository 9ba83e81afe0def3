package index

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geotag/gazetteer/internal/model"
)

const (
	DefaultAddRate    = 1000
	DefaultCommitRate = 1_000_000
)

// Publisher buffers documents and sends them to the index every AddRate
// additions, committing every CommitRate additions. A CommitRate <= 0
// disables periodic commits; Done always commits.
type Publisher struct {
	client     Client
	addRate    int
	commitRate int

	batch []Document
	count int64
	log   *zap.Logger
}

// NewPublisher returns a Publisher. addRate <= 0 uses DefaultAddRate.
func NewPublisher(client Client, addRate, commitRate int) *Publisher {
	if addRate <= 0 {
		addRate = DefaultAddRate
	}
	return &Publisher{
		client:     client,
		addRate:    addRate,
		commitRate: commitRate,
		batch:      make([]Document, 0, addRate),
		log:        zap.L().With(zap.String("component", "index.publisher")),
	}
}

// Add queues one place.
func (p *Publisher) Add(ctx context.Context, place *model.Place) error {
	p.batch = append(p.batch, NewDocument(place))
	p.count++
	return p.save(ctx, false)
}

// Done sends any buffered documents and commits.
func (p *Publisher) Done(ctx context.Context) error {
	return p.save(ctx, true)
}

// Optimize asks the index to merge its segments.
func (p *Publisher) Optimize(ctx context.Context) error {
	return p.client.Optimize(ctx)
}

// Delete removes one document by row ID.
func (p *Publisher) Delete(ctx context.Context, id int64) error {
	return p.client.Delete(ctx, id)
}

// Count returns the number of places added so far.
func (p *Publisher) Count() int64 { return p.count }

func (p *Publisher) save(ctx context.Context, done bool) error {
	if len(p.batch) > 0 && (done || p.count%int64(p.addRate) == 0) {
		if err := p.client.Add(ctx, p.batch); err != nil {
			return eris.Wrap(err, "index: publish batch")
		}
		p.batch = p.batch[:0]
	}
	if done || (p.commitRate > 0 && p.count%int64(p.commitRate) == 0) {
		if err := p.client.Commit(ctx); err != nil {
			return eris.Wrap(err, "index: publish commit")
		}
		p.log.Debug("committed", zap.Int64("count", p.count))
	}
	return nil
}
