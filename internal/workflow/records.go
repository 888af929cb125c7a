package workflow

import (
	"context"

	"github.com/fpang/penguin-studio/internal/history"
	"github.com/fpang/penguin-studio/internal/store"
)

// Records returns persisted records of kind merged with external history,
// newest first and capped at the configured maximum.
func (w *Workflow) Records(ctx context.Context, kind string) ([]store.MediaRecord, error) {
	k, err := w.kind(kind)
	if err != nil {
		return nil, err
	}
	records, err := w.storeFor(k)
	if err != nil {
		return nil, err
	}

	persisted, err := records.Load(ctx)
	if err != nil {
		return nil, err
	}
	external := w.history.Fetch(ctx, k)
	return history.Merge(persisted, external, w.maxRecords), nil
}

// DeleteRecord removes a persisted record.
func (w *Workflow) DeleteRecord(ctx context.Context, kind, id string) error {
	k, err := w.kind(kind)
	if err != nil {
		return err
	}
	records, err := w.storeFor(k)
	if err != nil {
		return err
	}
	return records.Delete(ctx, id)
}
