package processstore

import (
	"context"
	"errors"
	"log/slog"

	"github.com/JPcasado88/ebay-order-processor-demo/internal/storage/wal"
	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

// Journaled wraps a Store and appends every successful write to a WAL.
// Status transitions are flushed immediately; progress updates are buffered.
// A failed journal append is logged and does not fail the write.
type Journaled struct {
	Store
	wal *wal.WAL
	log *slog.Logger
}

// NewJournaled returns a Store that journals writes of inner to w.
func NewJournaled(inner Store, w *wal.WAL, logger *slog.Logger) *Journaled {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journaled{Store: inner, wal: w, log: logger}
}

func (j *Journaled) Create(ctx context.Context, state types.ProcessState) error {
	if err := j.Store.Create(ctx, state); err != nil {
		return err
	}
	j.append(wal.EventCreate, state, true)
	return nil
}

func (j *Journaled) Update(ctx context.Context, id types.ProcessID, fn Mutator) (types.ProcessState, error) {
	var before types.ProcessStatus
	next, err := j.Store.Update(ctx, id, func(s *types.ProcessState) error {
		before = s.Status
		return fn(s)
	})
	if err != nil {
		return next, err
	}
	if next.Status != before {
		j.append(wal.EventTransition, next, true)
	} else {
		j.append(wal.EventProgress, next, false)
	}
	return next, nil
}

func (j *Journaled) Delete(ctx context.Context, id types.ProcessID) error {
	prev, err := j.Store.Get(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		j.log.Warn("Failed to read process before delete", "process_id", id, "error", err)
	}
	if err := j.Store.Delete(ctx, id); err != nil {
		return err
	}
	prev.ID = id
	j.append(wal.EventDelete, prev, true)
	return nil
}

func (j *Journaled) append(t wal.EventType, state types.ProcessState, force bool) {
	if err := j.wal.Append(t, state, force); err != nil {
		j.log.Warn("Failed to journal process event", "process_id", state.ID, "event", t, "error", err)
	}
}

var _ Store = (*Journaled)(nil)
