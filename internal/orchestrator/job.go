package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JPcasado88/ebay-order-processor-demo/internal/catalog"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/classifier"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/extractor"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/jobmanager"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/processstore"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/reconciler"
	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

// outcome is how a run ended. abandoned means the stored state was finalized
// by someone else and must not be written again.
type outcome struct {
	status    types.ProcessStatus
	handle    *types.ResultHandle
	summary   *types.RunSummary
	cause     error
	abandoned bool
}

func cancelled() outcome { return outcome{status: types.StatusCancelled} }

func failed(err error) outcome { return outcome{status: types.StatusFailed, cause: err} }

// execute is the worker task of one process.
func (o *Orchestrator) execute(poolCtx context.Context, id types.ProcessID, req JobRequest) error {
	ctx, err := o.jobs.Begin(poolCtx, id)
	if err != nil {
		if errors.Is(err, jobmanager.ErrAlreadyRunning) {
			o.log.Warn("Refusing second run of in-flight process", "process_id", id)
			return nil
		}
		return err
	}
	defer o.jobs.Release(id)

	// state writes must land even after the job context is cancelled
	storeCtx := context.WithoutCancel(ctx)

	if ctx.Err() != nil {
		_, _, err := o.forceCancel(storeCtx, id, "cancelled before start", true)
		return err
	}

	started := o.now()
	_, err = o.deps.Store.Update(storeCtx, id, func(s *types.ProcessState) error {
		if s.Status != types.StatusQueued {
			return errUnchanged
		}
		s.Status = types.StatusRunning
		s.Stage = StageCatalog
		s.StartedAt = &started
		return nil
	})
	if errors.Is(err, errUnchanged) || errors.Is(err, processstore.ErrNotFound) {
		o.log.Debug("Process finalized before pickup", "process_id", id)
		return nil
	}
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordFinished(types.StatusFailed, 0, false)
		}
		return fmt.Errorf("failed to mark %s running: %w", id, err)
	}
	if o.metrics != nil {
		o.metrics.RecordStarted()
	}
	o.log.Info("Process started", "process_id", id)

	out := o.run(ctx, storeCtx, id, req)
	final := o.finish(storeCtx, id, out)

	if o.metrics != nil {
		o.metrics.RecordFinished(final, time.Since(started).Seconds(), true)
	}
	o.log.Info("Process finished",
		"process_id", id,
		"status", final,
		"duration", time.Since(started))
	if !final.IsTerminal() {
		return fmt.Errorf("process %s left in status %s", id, final)
	}
	return nil
}

// run carries a running process through the pipeline.
func (o *Orchestrator) run(ctx, storeCtx context.Context, id types.ProcessID, req JobRequest) outcome {
	snap, err := o.deps.Catalog.Load(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled()
		}
		return failed(err)
	}

	if abandoned := o.setStage(storeCtx, id, StageFetching, -1); abandoned {
		return outcome{abandoned: true}
	}
	var items []types.RawLineItem
	for _, store := range req.Stores {
		if ctx.Err() != nil {
			return cancelled()
		}
		got, err := o.deps.Orders.Fetch(ctx, store, req.DateFrom, req.DateTo)
		if err != nil {
			if ctx.Err() != nil {
				return cancelled()
			}
			return failed(fmt.Errorf("%w: store %s: %v", ErrUpstreamFetch, store, err))
		}
		items = append(items, got...)
	}

	items = orderTypeFilter(items, req.OrderTypes)
	items, stats := reconciler.Filter(items, reconciler.FilterOptions{
		IncludeDispatched: req.IncludeDispatched,
		Next24hOnly:       req.Next24hOnly,
		Now:               o.now(),
		Location:          o.cfg.Location,
	})
	o.log.Info("Orders selected", "process_id", id, "items", stats.Kept, "skipped", stats.Skipped)

	if abandoned := o.setStage(storeCtx, id, StageReconcile, len(items)); abandoned {
		return outcome{abandoned: true}
	}

	rec, err := o.newReconciler(snap)
	if err != nil {
		return failed(err)
	}

	resolved := make([]types.ResolvedLineItem, 0, len(items))
	if ctx.Err() != nil {
		return cancelled()
	}
	for i, r := range rec.Reconcile(items) {
		resolved = append(resolved, r)
		done := i + 1
		_, err := o.deps.Store.Update(storeCtx, id, func(s *types.ProcessState) error {
			s.ItemsDone = done
			return nil
		})
		if errors.Is(err, processstore.ErrTerminal) {
			return outcome{abandoned: true}
		}
		if err != nil {
			return failed(fmt.Errorf("failed to record progress: %w", err))
		}
		if ctx.Err() != nil {
			return cancelled()
		}
	}

	if abandoned := o.setStage(storeCtx, id, StageClassify, -1); abandoned {
		return outcome{abandoned: true}
	}
	all := classifier.Classify(resolved)
	selected := classifier.Select(all, req.OutputKinds)
	summary := classifier.Summarize(all, selected)

	if abandoned := o.setStage(storeCtx, id, StageRendering, -1); abandoned {
		return outcome{abandoned: true}
	}
	handle, err := o.deps.Renderer.Render(ctx, id, selected)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled()
		}
		return failed(err)
	}
	return outcome{status: types.StatusSucceeded, handle: handle, summary: &summary}
}

func (o *Orchestrator) newReconciler(snap *catalog.Snapshot) (*reconciler.Reconciler, error) {
	tables, err := o.cfg.Tables.WithOverrides(snap.ForcedOverrides())
	if err != nil {
		return nil, fmt.Errorf("invalid catalog overrides: %w", err)
	}
	exOpts := []extractor.Option{
		extractor.WithLookup(tables),
		extractor.WithKnownCodes(snap.Codes()),
	}
	if o.cfg.TitleFallback {
		exOpts = append(exOpts, extractor.WithTitleFallback())
	}

	recOpts := []reconciler.Option{reconciler.WithLogger(o.log)}
	if o.metrics != nil {
		recOpts = append(recOpts, reconciler.WithObserver(o.metrics.RecordItem))
	}
	return reconciler.New(
		extractor.New(exOpts...),
		catalog.NewMatcher(snap, catalog.WithClock(o.now)),
		recOpts...,
	), nil
}

// setStage records the stage and, when total >= 0, items_total. It reports
// true when the state was already finalized elsewhere.
func (o *Orchestrator) setStage(ctx context.Context, id types.ProcessID, stage string, total int) bool {
	_, err := o.deps.Store.Update(ctx, id, func(s *types.ProcessState) error {
		s.Stage = stage
		if total >= 0 {
			s.ItemsTotal = total
		}
		return nil
	})
	if errors.Is(err, processstore.ErrTerminal) || errors.Is(err, processstore.ErrNotFound) {
		return true
	}
	if err != nil {
		o.log.Warn("Failed to record stage", "process_id", id, "stage", stage, "error", err)
	}
	return false
}

// finish writes the terminal state and returns the status the process ended
// with.
func (o *Orchestrator) finish(ctx context.Context, id types.ProcessID, out outcome) types.ProcessStatus {
	if !out.abandoned {
		finished := o.now()
		next, err := o.deps.Store.Update(ctx, id, func(s *types.ProcessState) error {
			if s.Status.IsTerminal() {
				return errUnchanged
			}
			s.Status = out.status
			s.FinishedAt = &finished
			s.Summary = out.summary
			switch out.status {
			case types.StatusSucceeded:
				s.Stage = StageDone
				s.ResultHandle = out.handle
			case types.StatusCancelled:
				s.Stage = StageCancelled
				s.ResultHandle = nil
			case types.StatusFailed:
				s.ErrorSummary = fmt.Sprintf("failed after item %d: %v", s.ItemsDone, out.cause)
			}
			return nil
		})
		if err == nil {
			if out.status == types.StatusFailed {
				o.log.Error("Process failed", "process_id", id, "error", next.ErrorSummary)
			}
			return next.Status
		}
		if !errors.Is(err, errUnchanged) {
			o.log.Error("Failed to record final state", "process_id", id, "status", out.status, "error", err)
		}
	}

	current, err := o.deps.Store.Get(ctx, id)
	if err != nil {
		return types.StatusCancelled
	}
	return current.Status
}
