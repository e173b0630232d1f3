package orchestrator

// ============================================================================
// Orchestrator 測試
// 職責：驗證工作生命週期、取消、失敗摘要與管理操作
// ============================================================================

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JPcasado88/ebay-order-processor-demo/internal/catalog"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/jobmanager"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/metrics"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/processstore"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/source"
	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

var now = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

// fakeRenderer records the batches it was given.
type fakeRenderer struct {
	mu      sync.Mutex
	calls   int
	batches map[types.BatchKind]types.Batch
	err     error
}

func (r *fakeRenderer) Render(_ context.Context, id types.ProcessID, batches map[types.BatchKind]types.Batch) (*types.ResultHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	r.batches = batches
	files := make(map[types.BatchKind]string, len(batches))
	for k := range batches {
		files[k] = string(k) + ".xlsx"
	}
	return &types.ResultHandle{Location: "mem://" + string(id) + ".zip", Files: files}, nil
}

func (r *fakeRenderer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type catalogFunc func(ctx context.Context) (*catalog.Snapshot, error)

func (f catalogFunc) Load(ctx context.Context) (*catalog.Snapshot, error) { return f(ctx) }

// gateStore blocks the worker once items_done reaches at.
type gateStore struct {
	processstore.Store
	at      int
	reached chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGateStore(at int) *gateStore {
	return &gateStore{
		Store:   processstore.NewMemoryStore(),
		at:      at,
		reached: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gateStore) Update(ctx context.Context, id types.ProcessID, fn processstore.Mutator) (types.ProcessState, error) {
	s, err := g.Store.Update(ctx, id, fn)
	if err == nil && s.Status == types.StatusRunning && s.ItemsDone == g.at {
		g.once.Do(func() {
			close(g.reached)
			<-g.release
		})
	}
	return s, err
}

// blockingOrders holds Fetch until release is closed.
func blockingOrders(release <-chan struct{}, items []types.RawLineItem) source.Func {
	return func(ctx context.Context, store string, from, to time.Time) ([]types.RawLineItem, error) {
		select {
		case <-release:
			return items, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func lineItems(n int) []types.RawLineItem {
	items := make([]types.RawLineItem, n)
	for i := range items {
		items[i] = types.RawLineItem{
			OrderID:  fmt.Sprintf("ORD-%03d", i),
			LineID:   "1",
			SKU:      "Q227 CVT",
			Title:    "Honda Civic 2016-2022 Custom Car Mats Black",
			Quantity: 1,
			StoreID:  source.DemoStore1,
			BuyerKey: fmt.Sprintf("buyer-%d", i),
		}
	}
	return items
}

func newTestOrchestrator(t *testing.T, cfg Config, deps Dependencies, opts ...Option) *Orchestrator {
	t.Helper()
	if deps.Store == nil {
		deps.Store = processstore.NewMemoryStore()
	}
	if deps.Catalog == nil {
		deps.Catalog = source.DemoCatalog{}
	}
	if deps.Orders == nil {
		deps.Orders = source.NewDemo(clock)
	}
	if deps.Renderer == nil {
		deps.Renderer = &fakeRenderer{}
	}
	if cfg.WorkerCount == 0 {
		cfg.WorkerCount = 2
	}
	o, err := New(cfg, deps, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, o.Start())
	t.Cleanup(o.Stop)
	return o
}

func demoRequest() JobRequest {
	return JobRequest{Stores: []string{source.DemoStore1, source.DemoStore2, source.DemoStore3}}
}

// waitTerminal polls until the process reaches a terminal status.
func waitTerminal(t *testing.T, o *Orchestrator, id types.ProcessID) types.ProcessState {
	t.Helper()
	var st types.ProcessState
	require.Eventually(t, func() bool {
		s, err := o.Get(context.Background(), id)
		if err != nil {
			return false
		}
		st = s
		return s.Status.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)
	return st
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Dependencies{})
	assert.Error(t, err)

	_, err = New(Config{}, Dependencies{
		Store:   processstore.NewMemoryStore(),
		Catalog: source.DemoCatalog{},
		Orders:  source.NewDemo(clock),
	})
	assert.ErrorContains(t, err, "renderer")
}

func TestSubmit_BeforeStartAndAfterStop(t *testing.T) {
	o, err := New(Config{}, Dependencies{
		Store:    processstore.NewMemoryStore(),
		Catalog:  source.DemoCatalog{},
		Orders:   source.NewDemo(clock),
		Renderer: &fakeRenderer{},
	})
	require.NoError(t, err)

	_, err = o.Submit(context.Background(), demoRequest())
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, o.Start())
	o.Stop()
	_, err = o.Submit(context.Background(), demoRequest())
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, o.Start(), ErrStopped)
}

func TestSubmit_RunsToSucceeded(t *testing.T) {
	renderer := &fakeRenderer{}
	reg := prometheus.NewRegistry()
	o := newTestOrchestrator(t, Config{}, Dependencies{Renderer: renderer},
		WithMetrics(metrics.NewCollector(reg)))

	id, err := o.Submit(context.Background(), demoRequest())
	require.NoError(t, err)
	assert.Regexp(t, `^proc_[0-9a-f]{32}$`, string(id))

	st := waitTerminal(t, o, id)
	require.Equal(t, types.StatusSucceeded, st.Status, st.ErrorSummary)
	assert.Equal(t, StageDone, st.Stage)
	assert.Equal(t, 10, st.ItemsTotal)
	assert.Equal(t, st.ItemsTotal, st.ItemsDone)
	require.NotNil(t, st.ResultHandle)
	assert.Equal(t, "mem://"+string(id)+".zip", st.ResultHandle.Location)
	require.NotNil(t, st.StartedAt)
	require.NotNil(t, st.FinishedAt)
	assert.Empty(t, st.ErrorSummary)

	// every input line appears exactly once, matched or not
	require.NotNil(t, st.Summary)
	assert.Equal(t, 10, st.Summary.Items)
	assert.Equal(t, st.Summary.Items, st.Summary.Matched+st.Summary.Unmatched)
	seen := make(map[string]int)
	for _, r := range renderer.batches[types.BatchCourierMaster].Items {
		seen[r.Item.LineKey()]++
	}
	for _, r := range renderer.batches[types.BatchUnmatched].Items {
		seen[r.Item.LineKey()]++
	}
	assert.Len(t, seen, 10)
	for key, n := range seen {
		assert.Equal(t, 1, n, key)
	}

	// the demo repeats one buyer's order
	assert.Equal(t, 2, st.Summary.Duplicates)
}

func TestSubmit_UnmatchedItemsStillSucceed(t *testing.T) {
	items := []types.RawLineItem{
		{OrderID: "A", LineID: "1", SKU: "Q227", Quantity: 1, StoreID: "s1"},
		{OrderID: "B", LineID: "1", SKU: "???", Title: "something unrelated", Quantity: 1, StoreID: "s1"},
	}
	o := newTestOrchestrator(t, Config{}, Dependencies{
		Orders: source.Func(func(context.Context, string, time.Time, time.Time) ([]types.RawLineItem, error) {
			return items, nil
		}),
	})

	id, err := o.Submit(context.Background(), JobRequest{Stores: []string{"s1"}})
	require.NoError(t, err)

	st := waitTerminal(t, o, id)
	require.Equal(t, types.StatusSucceeded, st.Status)
	assert.Equal(t, 1, st.Summary.Matched)
	assert.Equal(t, 1, st.Summary.Unmatched)
	assert.Equal(t, 1, st.Summary.Batches[types.BatchUnmatched])
}

func TestSubmit_ImmediatePollIsNotTerminal(t *testing.T) {
	release := make(chan struct{})
	o := newTestOrchestrator(t, Config{}, Dependencies{Orders: blockingOrders(release, lineItems(3))})

	id, err := o.Submit(context.Background(), JobRequest{Stores: []string{source.DemoStore1}})
	require.NoError(t, err)

	st, err := o.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Contains(t, []types.ProcessStatus{types.StatusQueued, types.StatusRunning}, st.Status)
	assert.Equal(t, 0, st.ItemsDone)
	assert.Nil(t, st.ResultHandle)

	close(release)
	st = waitTerminal(t, o, id)
	assert.Equal(t, types.StatusSucceeded, st.Status)
	assert.Equal(t, 3, st.ItemsDone)
}

func TestCancel_RunningDiscardsArtifacts(t *testing.T) {
	store := newGateStore(2)
	renderer := &fakeRenderer{}
	o := newTestOrchestrator(t, Config{}, Dependencies{
		Store:    store,
		Renderer: renderer,
		Orders: source.Func(func(context.Context, string, time.Time, time.Time) ([]types.RawLineItem, error) {
			return lineItems(5), nil
		}),
	})

	id, err := o.Submit(context.Background(), JobRequest{Stores: []string{source.DemoStore1}})
	require.NoError(t, err)

	select {
	case <-store.reached:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never reached item 2")
	}
	st, err := o.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, st.Status, "running jobs stop at the next item")
	close(store.release)

	st = waitTerminal(t, o, id)
	assert.Equal(t, types.StatusCancelled, st.Status)
	assert.Nil(t, st.ResultHandle)
	assert.Equal(t, 2, st.ItemsDone)
	assert.Equal(t, 5, st.ItemsTotal)
	assert.Equal(t, 0, renderer.Calls(), "no artifacts for a cancelled job")

	_, err = o.Cancel(context.Background(), id)
	assert.ErrorIs(t, err, processstore.ErrTerminal)
}

func TestCancel_QueuedIsImmediate(t *testing.T) {
	release := make(chan struct{})
	o := newTestOrchestrator(t, Config{WorkerCount: 1}, Dependencies{Orders: blockingOrders(release, lineItems(1))})

	first, err := o.Submit(context.Background(), JobRequest{Stores: []string{"s1"}})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, _ := o.Get(context.Background(), first)
		return s.Status == types.StatusRunning
	}, 5*time.Second, 5*time.Millisecond)

	second, err := o.Submit(context.Background(), JobRequest{Stores: []string{"s1"}})
	require.NoError(t, err)

	st, err := o.Cancel(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, st.Status)
	assert.Nil(t, st.StartedAt)
	require.NotNil(t, st.FinishedAt)

	close(release)
	assert.Equal(t, types.StatusSucceeded, waitTerminal(t, o, first).Status)

	// the worker skips the cancelled task once it reaches it
	require.Eventually(t, func() bool { return o.Stats()["reserved"] == 0 }, 5*time.Second, 5*time.Millisecond)
	st, err = o.Get(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, st.Status)
}

func TestCancel_Unknown(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, Dependencies{})
	_, err := o.Cancel(context.Background(), "proc_missing")
	assert.ErrorIs(t, err, processstore.ErrNotFound)
}

func TestCatalogUnavailable_Fails(t *testing.T) {
	renderer := &fakeRenderer{}
	o := newTestOrchestrator(t, Config{}, Dependencies{
		Renderer: renderer,
		Catalog: catalogFunc(func(context.Context) (*catalog.Snapshot, error) {
			return nil, fmt.Errorf("%w: reference file missing", catalog.ErrCatalogUnavailable)
		}),
	})

	id, err := o.Submit(context.Background(), demoRequest())
	require.NoError(t, err)

	st := waitTerminal(t, o, id)
	assert.Equal(t, types.StatusFailed, st.Status)
	assert.Equal(t, "failed after item 0: catalog unavailable: reference file missing", st.ErrorSummary)
	assert.Nil(t, st.ResultHandle)
	assert.Equal(t, 0, renderer.Calls())
}

func TestUpstreamFetchFailed_Fails(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, Dependencies{
		Orders: source.Func(func(_ context.Context, store string, _, _ time.Time) ([]types.RawLineItem, error) {
			return nil, errors.New("token refresh exhausted")
		}),
	})

	id, err := o.Submit(context.Background(), JobRequest{Stores: []string{"north"}})
	require.NoError(t, err)

	st := waitTerminal(t, o, id)
	assert.Equal(t, types.StatusFailed, st.Status)
	assert.Contains(t, st.ErrorSummary, ErrUpstreamFetch.Error())
	assert.Contains(t, st.ErrorSummary, "store north")
	assert.Contains(t, st.ErrorSummary, "token refresh exhausted")
}

func TestRenderFailure_Fails(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, Dependencies{Renderer: &fakeRenderer{err: errors.New("disk full")}})

	id, err := o.Submit(context.Background(), demoRequest())
	require.NoError(t, err)

	st := waitTerminal(t, o, id)
	assert.Equal(t, types.StatusFailed, st.Status)
	assert.Equal(t, "failed after item 10: disk full", st.ErrorSummary)
}

func TestSubmit_InvalidRequest(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, Dependencies{})

	tests := []struct {
		name string
		req  JobRequest
	}{
		{"no stores", JobRequest{}},
		{"blank store", JobRequest{Stores: []string{"  "}}},
		{"unknown output kind", JobRequest{Stores: []string{"s1"}, OutputKinds: []types.BatchKind{"labels"}}},
		{"inverted window", JobRequest{
			Stores:   []string{"s1"},
			DateFrom: now,
			DateTo:   now.Add(-time.Hour),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Submit(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	states, err := o.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, states, "rejected requests leave no state behind")
}

func TestSubmit_OutputKindsProjectBatches(t *testing.T) {
	renderer := &fakeRenderer{}
	o := newTestOrchestrator(t, Config{}, Dependencies{Renderer: renderer})

	req := demoRequest()
	req.OutputKinds = []types.BatchKind{types.BatchRun24h, types.BatchDuplicates}
	id, err := o.Submit(context.Background(), req)
	require.NoError(t, err)

	st := waitTerminal(t, o, id)
	require.Equal(t, types.StatusSucceeded, st.Status)
	assert.Len(t, renderer.batches, 2)
	assert.Contains(t, renderer.batches, types.BatchRun24h)
	assert.Contains(t, renderer.batches, types.BatchDuplicates)
	// counts still cover the full classification
	assert.Equal(t, 10, st.Summary.Items)
}

func TestSubmit_SecondRunOfInFlightIDRefused(t *testing.T) {
	release := make(chan struct{})
	o := newTestOrchestrator(t, Config{}, Dependencies{Orders: blockingOrders(release, lineItems(1))},
		withIDGenerator(func() types.ProcessID { return "proc_fixed" }))

	id, err := o.Submit(context.Background(), JobRequest{Stores: []string{"s1"}})
	require.NoError(t, err)

	_, err = o.Submit(context.Background(), JobRequest{Stores: []string{"s1"}})
	assert.ErrorIs(t, err, jobmanager.ErrAlreadyRunning)

	close(release)
	assert.Equal(t, types.StatusSucceeded, waitTerminal(t, o, id).Status)
}

func TestReset_CancelsStaleRunningEntries(t *testing.T) {
	store := processstore.NewMemoryStore()
	started := now.Add(-6 * time.Hour)
	// left behind by a process that crashed mid-job
	require.NoError(t, store.Create(context.Background(), types.ProcessState{
		ID:         "proc_stale",
		Status:     types.StatusRunning,
		ItemsTotal: 40,
		ItemsDone:  17,
		CreatedAt:  started,
		StartedAt:  &started,
	}))
	require.NoError(t, store.Create(context.Background(), types.ProcessState{
		ID:        "proc_done",
		Status:    types.StatusSucceeded,
		CreatedAt: started,
	}))

	o := newTestOrchestrator(t, Config{}, Dependencies{Store: store})
	reset, err := o.Reset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.ProcessID{"proc_stale"}, reset)

	st, err := o.Get(context.Background(), "proc_stale")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, st.Status)
	assert.Equal(t, resetSummary, st.ErrorSummary)
	assert.Equal(t, 17, st.ItemsDone)

	st, err = o.Get(context.Background(), "proc_done")
	require.NoError(t, err)
	assert.Equal(t, types.StatusSucceeded, st.Status)
}

func TestReset_StopsRunningJob(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	o := newTestOrchestrator(t, Config{}, Dependencies{Orders: blockingOrders(release, lineItems(2))})

	id, err := o.Submit(context.Background(), JobRequest{Stores: []string{"s1"}})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, _ := o.Get(context.Background(), id)
		return s.Status == types.StatusRunning
	}, 5*time.Second, 5*time.Millisecond)

	reset, err := o.Reset(context.Background())
	require.NoError(t, err)
	assert.Contains(t, reset, id)
	assert.Equal(t, types.StatusCancelled, waitTerminal(t, o, id).Status)
}

func TestReap_RemovesOldTerminalStates(t *testing.T) {
	store := processstore.NewMemoryStore()
	old := now.Add(-48 * time.Hour)
	recent := now.Add(-time.Hour)
	for id, finished := range map[types.ProcessID]time.Time{"proc_old": old, "proc_recent": recent} {
		require.NoError(t, store.Create(context.Background(), types.ProcessState{
			ID:         id,
			Status:     types.StatusFailed,
			CreatedAt:  finished,
			FinishedAt: &finished,
		}))
	}
	require.NoError(t, store.Create(context.Background(), types.ProcessState{
		ID: "proc_queued", Status: types.StatusQueued, CreatedAt: old,
	}))

	o := newTestOrchestrator(t, Config{}, Dependencies{Store: store})
	removed, err := o.Reap(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = o.Get(context.Background(), "proc_old")
	assert.ErrorIs(t, err, processstore.ErrNotFound)
	_, err = o.Get(context.Background(), "proc_recent")
	assert.NoError(t, err)
	_, err = o.Get(context.Background(), "proc_queued")
	assert.NoError(t, err, "non-terminal states are never reaped")
}

func TestJobRequest_WithDefaults(t *testing.T) {
	r := JobRequest{Stores: []string{" a ", "a", "b"}}.withDefaults(now, 0)
	assert.Equal(t, now, r.DateTo)
	assert.Equal(t, now.AddDate(0, 0, -DefaultLookbackDays), r.DateFrom)
	assert.Equal(t, []string{"a", "b"}, r.Stores)

	from := now.Add(-72 * time.Hour)
	r = JobRequest{Stores: []string{"a"}, DateFrom: from}.withDefaults(now, 7)
	assert.Equal(t, from, r.DateFrom)
}

func TestOrderTypeFilter(t *testing.T) {
	items := []types.RawLineItem{
		{OrderID: "1", OrderStatus: "Completed"},
		{OrderID: "2", OrderStatus: "Active"},
		{OrderID: "3", OrderStatus: ""},
	}
	assert.Len(t, orderTypeFilter(items, nil), 3)
	assert.Len(t, orderTypeFilter(items, []string{"all"}), 3)

	kept := orderTypeFilter(items, []string{" completed "})
	require.Len(t, kept, 1)
	assert.Equal(t, "1", kept[0].OrderID)
}
