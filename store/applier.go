package store

import (
	"context"
	"fmt"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/midbel/xquery/xquery"
)

// Batch reports the updates of one query saved in a store.
type Batch struct {
	ID      ksuid.KSUID
	Applied int
	Saved   []Entry
}

// Applier drains the pending updates of an evaluated query, applies them
// and saves every document that was modified or produced by fn:put. The
// documents of a query are saved together or not at all.
type Applier struct {
	store  Store
	logger *zap.Logger
}

func NewApplier(store Store, logger *zap.Logger) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{
		store:  store,
		logger: logger,
	}
}

func (a *Applier) Apply(ctx context.Context, q *xquery.Query) (*Batch, error) {
	res, err := q.Apply()
	if err != nil {
		return nil, err
	}
	batch := Batch{
		ID:      ksuid.New(),
		Applied: res.Applied,
	}
	logger := a.logger.With(zap.String("batch", batch.ID.String()))

	var writes []Write
	for _, doc := range res.Documents {
		if doc.URI == "" {
			continue
		}
		writes = append(writes, Write{URI: doc.URI, Document: doc})
	}
	for _, p := range res.Puts {
		writes = append(writes, Write{URI: p.URI, Document: p.Document})
	}
	if len(writes) > 0 {
		if batch.Saved, err = a.store.PutAll(ctx, writes); err != nil {
			logger.Warn("updates not saved", zap.Int("documents", len(writes)), zap.Error(err))
			return nil, fmt.Errorf("batch %s: %w", batch.ID, err)
		}
	}
	logger.Debug("updates applied",
		zap.Int("applied", batch.Applied),
		zap.Int("saved", len(batch.Saved)),
	)
	return &batch, nil
}
