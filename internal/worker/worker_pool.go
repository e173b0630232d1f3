// ============================================================================
// Worker Pool - 並發任務執行器
// ============================================================================
//
// Package: internal/worker
// 文件: worker_pool.go
// 功能: 管理多個 Worker goroutine 的生命週期和任務分發
//
// 設計模式:
//   1. 固定數量的 Worker goroutine 持續運行
//   2. 通過共享的任務 channel 分發任務（一個 process 一個任務）
//   3. 通過結果 channel 收集執行結果
//
// 架構組件:
//   ┌──────────────┐
//   │ Orchestrator │ --Submit()--> taskCh
//   └──────────────┘
//         ↑
//    ReceiveResult()
//         ↑
//   ┌─────────────┐
//   │   Pool      │
//   │  ┌────────┐ │
//   │  │Worker 1│←── taskCh
//   │  │Worker 2│←── taskCh   ──→ resultCh
//   │  └────────┘ │
//   └─────────────┘
//
// 並發控制:
//   - taskCh: 帶緩衝 channel；滿了時 Submit 立即回傳 ErrQueueFull，不阻塞
//   - Submit 與 Stop 共用 mu，關閉 taskCh 時不會有並發的發送
//   - 每個任務的 ctx 衍生自 Pool 的 ctx，Stop 時取消
//
// 優雅關閉:
//   Stop() 流程：
//   1. 標記 stopped，不再接受新任務
//   2. 取消 Pool ctx，執行中的任務在下一個檢查點退出
//   3. 關閉 taskCh，Worker 取完剩餘任務後退出
//   4. WaitGroup.Wait() 等待所有 Worker 完成
//   5. 關閉 resultCh
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrPoolClosed 表示當前 Pool 已關閉，無法提交新任務
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolNotStarted 表示 Pool 尚未啟動，無法提交任務
	ErrPoolNotStarted = errors.New("worker pool not started")
	// ErrQueueFull 表示任務佇列已滿
	ErrQueueFull = errors.New("worker queue is full")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Pool 代表 Worker 池，管理多個並發的 Worker
type Pool struct {
	workers  []*Worker
	taskCh   chan Task
	resultCh chan Result
	stopCh   chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	stopped  bool
	mu       sync.Mutex // 保護 started / stopped 與 taskCh 的發送
	log      *slog.Logger
}

// Option 設定 Pool
type Option func(*Pool)

// WithLogger 指定 logger
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.log = l
		}
	}
}

// ============================================================================
// 核心方法實作
// ============================================================================

// NewPool 建立新的 Worker Pool
// 參數：
//   - bufferSize: 任務和結果通道的緩衝大小（等待中的任務上限）
func NewPool(bufferSize int, opts ...Option) *Pool {
	if bufferSize < 1 {
		bufferSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		workers:  make([]*Worker, 0),
		taskCh:   make(chan Task, bufferSize),
		resultCh: make(chan Result, bufferSize),
		stopCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start 啟動指定數量的 Worker
func (p *Pool) Start(workerCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New("pool already started")
	}
	if p.stopped {
		return ErrPoolClosed
	}
	if workerCount < 1 {
		workerCount = 1
	}

	for i := 0; i < workerCount; i++ {
		w := newWorker(p.ctx, i, p.taskCh, p.resultCh, p.log)
		p.workers = append(p.workers, w)

		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run()
		}(w)
	}

	p.started = true
	p.log.Info("Worker pool started", "workers", workerCount, "queue_size", cap(p.taskCh))
	return nil
}

// Submit 提交任務到 Worker Pool，不會阻塞
//
// 返回值：
//   - ErrPoolNotStarted / ErrPoolClosed: Pool 狀態不允許提交
//   - ErrQueueFull: 等待中的任務已達上限
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolClosed
	}

	select {
	case p.taskCh <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// ReceiveResult 從結果通道接收執行結果
func (p *Pool) ReceiveResult() (Result, error) {
	result, ok := <-p.resultCh
	if !ok {
		return Result{}, ErrPoolClosed
	}
	return result, nil
}

// Results 回傳結果通道，Stop 後關閉
func (p *Pool) Results() <-chan Result {
	return p.resultCh
}

// Done 在 Stop 開始時關閉
func (p *Pool) Done() <-chan struct{} {
	return p.stopCh
}

// Stop 優雅地關閉 Worker Pool
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.stopped = true
		p.cancel()
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stopCh)
	p.cancel()
	close(p.taskCh)
	p.mu.Unlock()

	p.wg.Wait()
	close(p.resultCh)
	p.log.Info("Worker pool stopped")
}

// GetWorkerCount 返回當前 Worker 數量
func (p *Pool) GetWorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// IsStarted 檢查 Pool 是否已啟動
func (p *Pool) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// Pending 返回等待中的任務數
func (p *Pool) Pending() int {
	return len(p.taskCh)
}
