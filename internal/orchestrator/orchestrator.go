// ============================================================================
// Job Orchestrator - 對帳工作協調器
// ============================================================================
//
// Package: internal/orchestrator
// 文件: orchestrator.go
// 功能: 接收工作請求，交給 worker pool 在背景執行，並維護可輪詢的狀態
//
// 架構設計:
//   協調以下組件：
//   - processstore.Store: 持久化 ProcessState（queued/running/終止狀態）
//   - JobManager: 記錄本程序內登記中與執行中的工作及其取消函式
//   - WorkerPool: 固定數量的 worker，一個工作一個任務
//   - CatalogSource / OrderSource / ArtifactRenderer: 外部協作者
//
// 工作流程:
//   Submit  -> 驗證請求 -> Reserve -> 建立 queued 狀態 -> 提交任務（不阻塞）
//   Worker  -> Begin -> running -> 載入目錄 -> 取得訂單 -> 篩選
//           -> 逐筆對帳（每筆更新 items_done、檢查取消）
//           -> 分批 -> 輸出檔案 -> succeeded
//
// 取消:
//   - queued 的工作直接標記為 cancelled，worker 取到時跳過
//   - running 的工作透過 ctx 在下一筆明細前停止，不產生任何檔案
//
// 關閉順序:
//  1. 標記 stopped，不再接受 Submit
//  2. CancelAll -> 所有登記中的工作收到取消
//  3. pool.Stop() -> worker 把佇列中剩下的任務跑完（皆為取消），關閉結果通道
//  4. loopWg.Wait() -> resultLoop 退出
//
// ============================================================================

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/JPcasado88/ebay-order-processor-demo/internal/catalog"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/extractor"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/jobmanager"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/metrics"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/processstore"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/worker"
	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrUpstreamFetch 訂單來源無法取得訂單
	ErrUpstreamFetch = errors.New("upstream order fetch failed")
	// ErrInvalidRequest 工作請求未通過驗證
	ErrInvalidRequest = errors.New("invalid job request")
	// ErrNotStarted Start 尚未呼叫
	ErrNotStarted = errors.New("orchestrator not started")
	// ErrStopped Stop 之後不再接受工作
	ErrStopped = errors.New("orchestrator stopped")
)

// 工作階段，寫入 ProcessState.Stage
const (
	StageQueued     = "queued"
	StageCatalog    = "loading_catalog"
	StageFetching   = "fetching_orders"
	StageReconcile  = "reconciling"
	StageClassify   = "classifying"
	StageRendering  = "rendering"
	StageDone       = "done"
	StageCancelled  = "cancelled"
	resetSummary    = "reset by administrator"
	stoppedSummary  = "orchestrator stopped"
	processIDPrefix = "proc_"
)

// ============================================================================
// 協作者介面
// ============================================================================

// CatalogSource loads a catalog snapshot at job start.
type CatalogSource interface {
	Load(ctx context.Context) (*catalog.Snapshot, error)
}

// OrderSource returns one store's line items for a date window.
type OrderSource interface {
	Fetch(ctx context.Context, store string, from, to time.Time) ([]types.RawLineItem, error)
}

// ArtifactRenderer turns batches into downloadable output.
type ArtifactRenderer interface {
	Render(ctx context.Context, id types.ProcessID, batches map[types.BatchKind]types.Batch) (*types.ResultHandle, error)
}

// ============================================================================
// 資料結構定義
// ============================================================================

// Config Orchestrator 配置
type Config struct {
	WorkerCount   int               // Worker 數量
	QueueSize     int               // 等待中的工作上限
	LookbackDays  int               // 未指定 date_from 時的回溯天數
	Tables        *extractor.Tables // 覆寫與對照表，nil 使用內建表
	TitleFallback bool              // SKU 無法辨識時嘗試從標題取代碼
	Location      *time.Location    // 出貨日計算時區，nil 為 Europe/London
}

// Dependencies Orchestrator 的外部協作者
type Dependencies struct {
	Store    processstore.Store
	Catalog  CatalogSource
	Orders   OrderSource
	Renderer ArtifactRenderer
}

// Orchestrator 對帳工作協調器
type Orchestrator struct {
	mu       sync.Mutex // 保護 started / stopped
	cfg      Config
	deps     Dependencies
	jobs     *jobmanager.JobManager
	pool     *worker.Pool
	metrics  *metrics.Collector
	validate *validator.Validate
	log      *slog.Logger
	now      func() time.Time
	newID    func() types.ProcessID
	started  bool
	stopped  bool
	loopWg   sync.WaitGroup
}

// Option 設定 Orchestrator
type Option func(*Orchestrator)

// WithLogger 指定 logger
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics 記錄 Prometheus 指標
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = c }
}

// WithClock 指定時間來源
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// withIDGenerator 測試用固定 id
func withIDGenerator(fn func() types.ProcessID) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// NewProcessID 產生 proc_<32 hex> 形式的 id
func NewProcessID() types.ProcessID {
	return types.ProcessID(processIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// ============================================================================
// 核心方法實作
// ============================================================================

// New 建立 Orchestrator
//
// 錯誤處理：缺少任何協作者時回傳錯誤
func New(cfg Config, deps Dependencies, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("orchestrator: process store is required")
	case deps.Catalog == nil:
		return nil, errors.New("orchestrator: catalog source is required")
	case deps.Orders == nil:
		return nil, errors.New("orchestrator: order source is required")
	case deps.Renderer == nil:
		return nil, errors.New("orchestrator: renderer is required")
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 16
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = DefaultLookbackDays
	}
	if cfg.Tables == nil {
		cfg.Tables = extractor.DefaultTables()
	}

	o := &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		jobs:     jobmanager.NewJobManager(),
		validate: validator.New(),
		log:      slog.Default(),
		now:      time.Now,
		newID:    NewProcessID,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.pool = worker.NewPool(cfg.QueueSize, worker.WithLogger(o.log))
	return o, nil
}

// Start 啟動 worker pool 與結果循環
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return ErrStopped
	}
	if o.started {
		return errors.New("orchestrator already started")
	}
	if err := o.pool.Start(o.cfg.WorkerCount); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	o.started = true

	o.loopWg.Add(1)
	go o.resultLoop()

	o.log.Info("Orchestrator started", "workers", o.cfg.WorkerCount, "queue_size", o.cfg.QueueSize)
	return nil
}

// Stop 取消所有工作並等待 worker 結束
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	wasStarted := o.started
	o.mu.Unlock()

	o.log.Info("Stopping orchestrator...")
	cancelled := o.jobs.CancelAll()

	o.pool.Stop()
	if wasStarted {
		o.loopWg.Wait()
	}
	o.log.Info("Orchestrator stopped", "cancelled", len(cancelled))
}

// Submit 驗證請求、建立 queued 狀態並提交背景任務，立即返回
//
// 錯誤處理：
//   - ErrInvalidRequest: 請求未通過驗證
//   - worker.ErrQueueFull: 佇列已滿，queued 狀態會被移除
//   - ErrNotStarted / ErrStopped
func (o *Orchestrator) Submit(ctx context.Context, req JobRequest) (types.ProcessID, error) {
	o.mu.Lock()
	started, stopped := o.started, o.stopped
	o.mu.Unlock()
	if stopped {
		return "", ErrStopped
	}
	if !started {
		return "", ErrNotStarted
	}

	now := o.now()
	req = req.withDefaults(now, o.cfg.LookbackDays)
	if err := validate(o.validate, req); err != nil {
		return "", err
	}

	id := o.newID()
	if err := o.jobs.Reserve(id); err != nil {
		return "", err
	}

	state := types.ProcessState{
		ID:        id,
		Status:    types.StatusQueued,
		Stage:     StageQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.deps.Store.Create(ctx, state); err != nil {
		o.jobs.Release(id)
		return "", fmt.Errorf("failed to create process state: %w", err)
	}
	if o.metrics != nil {
		o.metrics.RecordSubmitted()
	}

	task := worker.Task{
		ID:  id,
		Run: func(taskCtx context.Context) error { return o.execute(taskCtx, id, req) },
	}
	if err := o.pool.Submit(task); err != nil {
		o.jobs.Release(id)
		if delErr := o.deps.Store.Delete(context.WithoutCancel(ctx), id); delErr != nil {
			o.log.Error("Failed to remove rejected process", "process_id", id, "error", delErr)
		}
		if o.metrics != nil {
			o.metrics.RecordRejected()
		}
		return "", fmt.Errorf("failed to enqueue %s: %w", id, err)
	}

	o.log.Info("Process submitted",
		"process_id", id,
		"stores", req.Stores,
		"from", req.DateFrom.Format(time.RFC3339),
		"to", req.DateTo.Format(time.RFC3339))
	return id, nil
}

// Get 取得目前狀態
func (o *Orchestrator) Get(ctx context.Context, id types.ProcessID) (types.ProcessState, error) {
	return o.deps.Store.Get(ctx, id)
}

// List 列出所有狀態，依建立時間排序
func (o *Orchestrator) List(ctx context.Context) ([]types.ProcessState, error) {
	return o.deps.Store.List(ctx)
}

// Cancel 要求取消工作
//
// queued 的工作立即變成 cancelled；running 的工作在下一筆明細前停止，
// 回傳的狀態可能仍是 running。已終止的工作回傳 processstore.ErrTerminal。
func (o *Orchestrator) Cancel(ctx context.Context, id types.ProcessID) (types.ProcessState, error) {
	state, err := o.deps.Store.Get(ctx, id)
	if err != nil {
		return types.ProcessState{}, err
	}
	if state.Status.IsTerminal() {
		return state, fmt.Errorf("%w: %s is %s", processstore.ErrTerminal, id, state.Status)
	}

	registered := o.jobs.Cancel(id) == nil
	if !registered || state.Status == types.StatusQueued {
		next, changed, err := o.forceCancel(ctx, id, "cancelled by request", registered)
		if err != nil {
			return next, err
		}
		if changed {
			o.log.Info("Process cancelled", "process_id", id, "was", state.Status)
		}
		return next, nil
	}

	o.log.Info("Cancellation requested", "process_id", id)
	return o.deps.Store.Get(ctx, id)
}

// Reset 取消所有未終止的工作，包括崩潰前遺留的 running 項目
//
// 返回值：被處理的 process id
func (o *Orchestrator) Reset(ctx context.Context) ([]types.ProcessID, error) {
	o.jobs.CancelAll()

	states, err := o.deps.Store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	var reset []types.ProcessID
	for _, s := range states {
		if s.Status.IsTerminal() {
			continue
		}
		info, registered := o.jobs.Get(s.ID)
		if registered && info.Phase == jobmanager.PhaseInFlight {
			// 執行中的 worker 自己會寫入 cancelled
			reset = append(reset, s.ID)
			continue
		}
		if _, changed, err := o.forceCancel(ctx, s.ID, resetSummary, registered); err != nil {
			o.log.Error("Failed to reset process", "process_id", s.ID, "error", err)
			continue
		} else if changed {
			reset = append(reset, s.ID)
		}
	}

	o.log.Warn("Processes reset", "count", len(reset))
	return reset, nil
}

// Reap 刪除早於 olderThan 結束的終止狀態
func (o *Orchestrator) Reap(ctx context.Context, olderThan time.Duration) (int, error) {
	states, err := o.deps.Store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list processes: %w", err)
	}
	cutoff := o.now().Add(-olderThan)
	removed := 0
	for _, s := range states {
		if !s.Status.IsTerminal() {
			continue
		}
		finished := s.UpdatedAt
		if s.FinishedAt != nil {
			finished = *s.FinishedAt
		}
		if finished.After(cutoff) {
			continue
		}
		if err := o.deps.Store.Delete(ctx, s.ID); err != nil {
			if errors.Is(err, processstore.ErrNotFound) {
				continue
			}
			return removed, fmt.Errorf("failed to delete %s: %w", s.ID, err)
		}
		removed++
	}
	if removed > 0 {
		o.log.Info("Reaped finished processes", "count", removed, "older_than", olderThan)
	}
	return removed, nil
}

// Stats 回傳目前登記中的工作數量
func (o *Orchestrator) Stats() map[string]int {
	stats := o.jobs.GetStats()
	return map[string]int{
		"reserved":  stats[jobmanager.PhaseReserved],
		"in_flight": stats[jobmanager.PhaseInFlight],
		"pending":   o.pool.Pending(),
		"workers":   o.pool.GetWorkerCount(),
	}
}

// forceCancel 把未終止的狀態改為 cancelled。counted 表示這個工作在本程序
// 的 queued 指標中。
func (o *Orchestrator) forceCancel(ctx context.Context, id types.ProcessID, summary string, counted bool) (types.ProcessState, bool, error) {
	var wasQueued bool
	finished := o.now()
	next, err := o.deps.Store.Update(ctx, id, func(s *types.ProcessState) error {
		if s.Status.IsTerminal() {
			return errUnchanged
		}
		wasQueued = s.Status == types.StatusQueued
		s.Status = types.StatusCancelled
		s.Stage = StageCancelled
		s.ErrorSummary = summary
		s.FinishedAt = &finished
		s.ResultHandle = nil
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return next, false, nil
	}
	if err != nil {
		return next, false, err
	}
	if o.metrics != nil && counted && wasQueued {
		o.metrics.RecordFinished(types.StatusCancelled, 0, false)
	}
	return next, true, nil
}

var errUnchanged = errors.New("state unchanged")

// resultLoop 處理 worker 回傳的結果
// 注意：此循環會一直運行到 Pool 關閉為止
func (o *Orchestrator) resultLoop() {
	defer o.loopWg.Done()
	for {
		result, err := o.pool.ReceiveResult()
		if err != nil {
			o.log.Info("Result loop stopped")
			return
		}
		o.handleResult(result)
	}
}

// handleResult 任務本身出錯（例如 panic 或狀態寫入失敗）時把狀態標記為 failed
func (o *Orchestrator) handleResult(result worker.Result) {
	if result.Success {
		o.log.Debug("Task finished", "process_id", result.ProcessID, "duration", result.Duration)
		return
	}
	o.log.Error("Task failed", "process_id", result.ProcessID, "duration", result.Duration, "error", result.Error)

	ctx := context.Background()
	finished := o.now()
	_, err := o.deps.Store.Update(ctx, result.ProcessID, func(s *types.ProcessState) error {
		if s.Status.IsTerminal() {
			return errUnchanged
		}
		s.Status = types.StatusFailed
		s.ErrorSummary = fmt.Sprintf("failed after item %d: %v", s.ItemsDone, result.Error)
		s.FinishedAt = &finished
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		o.log.Error("Failed to record task failure", "process_id", result.ProcessID, "error", err)
	}
}
