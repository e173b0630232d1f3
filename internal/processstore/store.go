// ============================================================================
// Process State Store - 背景工作狀態儲存
// ============================================================================
//
// Package: internal/processstore
// 文件: store.go
// 功能: 定義狀態儲存介面、錯誤與所有實作共用的更新驗證
//
// 實作:
//   - FileStore:   每個 process 一個 JSON 檔（原子寫入）
//   - SQLiteStore: modernc.org/sqlite，內嵌 schema
//   - RedisStore:  go-redis v9，JSON 值 + key prefix
//   - MemoryStore: 測試與 demo 使用
//
// 不變條件（所有實作的 Update 都會檢查）:
//   1. 終止狀態（succeeded / failed / cancelled）之後不得再修改
//   2. 狀態轉換必須符合 queued -> running -> 終止狀態
//   3. items_done 只能遞增
//
// ============================================================================

package processstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrNotFound            = errors.New("process not found")
	ErrExists              = errors.New("process already exists")
	ErrInvalidID           = errors.New("invalid process id")
	ErrTerminal            = errors.New("process is in a terminal state")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrProgressRegression  = errors.New("items_done cannot decrease")
	ErrIncompatibleVersion = errors.New("stored process schema version is incompatible")
)

// Mutator edits a copy of the stored state inside Update.
type Mutator func(*types.ProcessState) error

// Store persists ProcessState entries keyed by ProcessID.
//
// Update reads the current entry, applies fn to a copy, validates the result
// with ValidateUpdate and writes it back. Implementations serialize updates
// to the same id.
type Store interface {
	Create(ctx context.Context, state types.ProcessState) error
	Get(ctx context.Context, id types.ProcessID) (types.ProcessState, error)
	Update(ctx context.Context, id types.ProcessID, fn Mutator) (types.ProcessState, error)
	Delete(ctx context.Context, id types.ProcessID) error
	List(ctx context.Context) ([]types.ProcessState, error)
}

var reID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateID rejects ids that are unsafe as file names or keys.
func ValidateID(id types.ProcessID) error {
	if !reID.MatchString(string(id)) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// ValidateUpdate checks that next is a legal successor of prev.
func ValidateUpdate(prev, next types.ProcessState) error {
	if prev.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, prev.ID, prev.Status)
	}
	if !prev.Status.CanTransition(next.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.Status, next.Status)
	}
	if next.ItemsDone < prev.ItemsDone {
		return fmt.Errorf("%w: %d -> %d", ErrProgressRegression, prev.ItemsDone, next.ItemsDone)
	}
	if next.ID != prev.ID {
		return fmt.Errorf("%w: id changed from %s to %s", ErrInvalidID, prev.ID, next.ID)
	}
	return nil
}

// apply runs fn on a copy of prev and validates the result. UpdatedAt is
// stamped with now.
func apply(prev types.ProcessState, fn Mutator, now time.Time) (types.ProcessState, error) {
	next := clone(prev)
	if err := fn(&next); err != nil {
		return prev, err
	}
	if err := ValidateUpdate(prev, next); err != nil {
		return prev, err
	}
	next.UpdatedAt = now
	return next, nil
}

func clone(s types.ProcessState) types.ProcessState {
	c := s
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}
	if s.ResultHandle != nil {
		h := *s.ResultHandle
		if s.ResultHandle.Files != nil {
			h.Files = make(map[types.BatchKind]string, len(s.ResultHandle.Files))
			for k, v := range s.ResultHandle.Files {
				h.Files[k] = v
			}
		}
		c.ResultHandle = &h
	}
	if s.Summary != nil {
		sum := *s.Summary
		if s.Summary.Batches != nil {
			sum.Batches = make(map[types.BatchKind]int, len(s.Summary.Batches))
			for k, v := range s.Summary.Batches {
				sum.Batches[k] = v
			}
		}
		c.Summary = &sum
	}
	return c
}

func sortByCreated(states []types.ProcessState) {
	sort.SliceStable(states, func(i, j int) bool {
		if states[i].CreatedAt.Equal(states[j].CreatedAt) {
			return states[i].ID < states[j].ID
		}
		return states[i].CreatedAt.Before(states[j].CreatedAt)
	})
}

// ============================================================================
// MemoryStore
// ============================================================================

// MemoryStore keeps states in a map. It is safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[types.ProcessID]types.ProcessState
	now    func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[types.ProcessID]types.ProcessState),
		now:    time.Now,
	}
}

func (m *MemoryStore) Create(ctx context.Context, state types.ProcessState) error {
	if err := ValidateID(state.ID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[state.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, state.ID)
	}
	m.states[state.ID] = clone(state)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id types.ProcessID) (types.ProcessState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[id]
	if !ok {
		return types.ProcessState{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clone(s), nil
}

func (m *MemoryStore) Update(ctx context.Context, id types.ProcessID, fn Mutator) (types.ProcessState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.states[id]
	if !ok {
		return types.ProcessState{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next, err := apply(prev, fn, m.now())
	if err != nil {
		return clone(prev), err
	}
	m.states[id] = next
	return clone(next), nil
}

func (m *MemoryStore) Delete(ctx context.Context, id types.ProcessID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.states, id)
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]types.ProcessState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.ProcessState, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, clone(s))
	}
	sortByCreated(out)
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
