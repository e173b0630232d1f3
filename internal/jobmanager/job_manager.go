// ============================================================================
// 任務管理器 - 執行中 process 登記表
// ============================================================================
//
// Package: internal/jobmanager
// 文件: job_manager.go
// 功能: 追蹤已提交與執行中的 process，提供取消訊號
//
// 狀態轉換:
//   (無)
//      ↓ Reserve()          Submit 時登記，尚未被 worker 取走
//   Reserved
//      ↓ Begin()            worker 開始執行，取得可取消的 ctx
//   InFlight
//      ↓ Release()          執行結束（任何結果）
//   (無)
//
// 取消:
//   - Cancel() 對 InFlight 呼叫 cancel func
//   - 對 Reserved 只記錄旗標，Begin() 會回傳已取消的 ctx
//   - CancelAll() 用於 Reset 與關機
//
// 並發安全:
//   - 使用 sync.RWMutex 保護登記表
//   - 讀操作使用 RLock，寫操作使用 Lock
//
// 這裡只保存記憶體中的執行資訊；持久化狀態在 processstore。
//
// ============================================================================

package jobmanager

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// 同一個 process 已在執行或已登記
	ErrAlreadyRunning = errors.New("process already running")
	// process 未登記
	ErrNotRegistered = errors.New("process not registered")
)

// Phase 登記項目所在階段
type Phase string

const (
	PhaseReserved Phase = "reserved"
	PhaseInFlight Phase = "in_flight"
)

type entry struct {
	phase           Phase
	cancel          context.CancelFunc
	cancelRequested bool
	reservedAt      time.Time
	startedAt       time.Time
}

// Info 登記項目的快照
type Info struct {
	ID              types.ProcessID
	Phase           Phase
	CancelRequested bool
	ReservedAt      time.Time
	StartedAt       time.Time
}

// JobManager 代表任務管理器
type JobManager struct {
	mu      sync.RWMutex
	entries map[types.ProcessID]*entry
	now     func() time.Time
}

// NewJobManager 建立新的任務管理器實例
//
// 併發安全：返回的實例是執行緒安全的
func NewJobManager() *JobManager {
	return &JobManager{
		entries: make(map[types.ProcessID]*entry),
		now:     time.Now,
	}
}

// Reserve 在提交時登記 process
//
// 錯誤處理：
//   - ErrAlreadyRunning: 同一個 id 已登記（Reserved 或 InFlight）
func (jm *JobManager) Reserve(id types.ProcessID) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if _, exists := jm.entries[id]; exists {
		return ErrAlreadyRunning
	}
	jm.entries[id] = &entry{phase: PhaseReserved, reservedAt: jm.now()}
	return nil
}

// Begin 將 process 標記為執行中，回傳衍生自 parent 的可取消 ctx
//
// 未經 Reserve 的 id 會直接登記。已經 InFlight 時回傳 ErrAlreadyRunning。
// 若在 Reserved 階段已被取消，回傳的 ctx 已經取消。
func (jm *JobManager) Begin(parent context.Context, id types.ProcessID) (context.Context, error) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	e, exists := jm.entries[id]
	if exists && e.phase == PhaseInFlight {
		return nil, ErrAlreadyRunning
	}
	if !exists {
		e = &entry{reservedAt: jm.now()}
		jm.entries[id] = e
	}

	ctx, cancel := context.WithCancel(parent)
	e.phase = PhaseInFlight
	e.cancel = cancel
	e.startedAt = jm.now()
	if e.cancelRequested {
		cancel()
	}
	return ctx, nil
}

// Release 移除登記並釋放 ctx
func (jm *JobManager) Release(id types.ProcessID) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if e, ok := jm.entries[id]; ok {
		if e.cancel != nil {
			e.cancel()
		}
		delete(jm.entries, id)
	}
}

// Cancel 請求取消 process
//
// 返回值：
//   - ErrNotRegistered: id 不在登記表中
func (jm *JobManager) Cancel(id types.ProcessID) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	e, ok := jm.entries[id]
	if !ok {
		return ErrNotRegistered
	}
	e.cancelRequested = true
	if e.cancel != nil {
		e.cancel()
	}
	return nil
}

// CancelAll 取消所有登記中的 process，回傳被取消的 id（已排序）
func (jm *JobManager) CancelAll() []types.ProcessID {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	ids := make([]types.ProcessID, 0, len(jm.entries))
	for id, e := range jm.entries {
		e.cancelRequested = true
		if e.cancel != nil {
			e.cancel()
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CancelRequested 是否已請求取消
func (jm *JobManager) CancelRequested(id types.ProcessID) bool {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	e, ok := jm.entries[id]
	return ok && e.cancelRequested
}

// IsRunning 是否處於 InFlight 階段
func (jm *JobManager) IsRunning(id types.ProcessID) bool {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	e, ok := jm.entries[id]
	return ok && e.phase == PhaseInFlight
}

// Get 回傳登記項目的快照
func (jm *JobManager) Get(id types.ProcessID) (Info, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	e, ok := jm.entries[id]
	if !ok {
		return Info{}, false
	}
	return info(id, e), true
}

// List 回傳所有登記項目，依登記時間排序
func (jm *JobManager) List() []Info {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	out := make([]Info, 0, len(jm.entries))
	for id, e := range jm.entries {
		out = append(out, info(id, e))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReservedAt.Equal(out[j].ReservedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ReservedAt.Before(out[j].ReservedAt)
	})
	return out
}

// GetStats 回傳各階段數量
func (jm *JobManager) GetStats() map[Phase]int {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	stats := map[Phase]int{PhaseReserved: 0, PhaseInFlight: 0}
	for _, e := range jm.entries {
		stats[e.phase]++
	}
	return stats
}

// Len 登記數量
func (jm *JobManager) Len() int {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	return len(jm.entries)
}

func info(id types.ProcessID, e *entry) Info {
	return Info{
		ID:              id,
		Phase:           e.phase,
		CancelRequested: e.cancelRequested,
		ReservedAt:      e.reservedAt,
		StartedAt:       e.startedAt,
	}
}
