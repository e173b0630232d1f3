package processstore

// ============================================================================
// FileStore - 每個 process 一個 JSON 檔
// 職責說明：
// 1. 將 ProcessState 序列化為 <dir>/<id>.json
// 2. 使用原子性寫入（temp file + rename）防止損壞
// 3. 載入時驗證 schema 版本相容性
// 4. 損壞或空白的檔案直接刪除，視為不存在
// ============================================================================

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

const schemaVersion = 1

// record 磁碟上的格式
type record struct {
	SchemaVer int                `json:"schema_ver"`
	State     types.ProcessState `json:"state"`
}

// FileStore 以目錄保存狀態檔
type FileStore struct {
	dir string
	mu  sync.RWMutex // 單一寫入者，讀取者使用 RLock
	log *slog.Logger
	now func() time.Time
}

// FileOption 設定 FileStore
type FileOption func(*FileStore)

// WithFileLogger 指定 logger
func WithFileLogger(l *slog.Logger) FileOption {
	return func(s *FileStore) {
		if l != nil {
			s.log = l
		}
	}
}

// NewFileStore 建立 FileStore，目錄不存在時會建立
func NewFileStore(dir string, opts ...FileOption) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	s := &FileStore{dir: dir, log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir 回傳狀態目錄
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(id types.ProcessID) string {
	return filepath.Join(s.dir, string(id)+".json")
}

func (s *FileStore) Create(ctx context.Context, state types.ProcessState) error {
	if err := ValidateID(state.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path(state.ID)); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, state.ID)
	}
	return s.write(state)
}

func (s *FileStore) Get(ctx context.Context, id types.ProcessID) (types.ProcessState, error) {
	if err := ValidateID(id); err != nil {
		return types.ProcessState{}, err
	}
	s.mu.RLock()
	state, err := s.read(id)
	s.mu.RUnlock()

	if !errors.Is(err, errCorrupt) {
		return state, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// 可能已被其他寫入者修復
	if state, err = s.read(id); errors.Is(err, errCorrupt) {
		s.discard(id, err)
		return types.ProcessState{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return state, err
}

func (s *FileStore) Update(ctx context.Context, id types.ProcessID, fn Mutator) (types.ProcessState, error) {
	if err := ValidateID(id); err != nil {
		return types.ProcessState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.read(id)
	if errors.Is(err, errCorrupt) {
		s.discard(id, err)
		return types.ProcessState{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return types.ProcessState{}, err
	}
	next, err := apply(prev, fn, s.now())
	if err != nil {
		return prev, err
	}
	if err := s.write(next); err != nil {
		return prev, err
	}
	return next, nil
}

func (s *FileStore) Delete(ctx context.Context, id types.ProcessID) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// List 讀取目錄內所有狀態檔，損壞的檔案會被刪除並略過
func (s *FileStore) List(ctx context.Context) ([]types.ProcessState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list state dir: %w", err)
	}
	var out []types.ProcessState
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := types.ProcessID(strings.TrimSuffix(name, ".json"))
		if ValidateID(id) != nil {
			continue
		}
		state, err := s.read(id)
		switch {
		case errors.Is(err, errCorrupt):
			s.discard(id, err)
			continue
		case errors.Is(err, ErrNotFound):
			continue
		case err != nil:
			return nil, err
		}
		out = append(out, state)
	}
	sortByCreated(out)
	return out, nil
}

// ============================================================================
// 檔案操作
// ============================================================================

var errCorrupt = errors.New("state file is corrupted")

// write 原子性寫入
//
// 1. 寫入臨時檔案（.tmp）
// 2. 使用 os.Rename 原子性替換原始檔案
func (s *FileStore) write(state types.ProcessState) error {
	data, err := json.MarshalIndent(record{SchemaVer: schemaVersion, State: state}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	path := s.path(state.ID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp state: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename state: %w", err)
	}
	return nil
}

func (s *FileStore) read(id types.ProcessID) (types.ProcessState, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.ProcessState{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return types.ProcessState{}, fmt.Errorf("failed to read state: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return types.ProcessState{}, fmt.Errorf("%w: empty file", errCorrupt)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return types.ProcessState{}, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	if rec.SchemaVer != schemaVersion {
		return types.ProcessState{}, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, rec.SchemaVer, schemaVersion)
	}
	if rec.State.ID != id {
		return types.ProcessState{}, fmt.Errorf("%w: id mismatch %q", errCorrupt, rec.State.ID)
	}
	return rec.State, nil
}

// discard 呼叫者須持有寫鎖
func (s *FileStore) discard(id types.ProcessID, cause error) {
	s.log.Warn("Removing corrupted process state", "process_id", id, "error", cause)
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Error("Failed to remove corrupted state", "process_id", id, "error", err)
	}
}

var _ Store = (*FileStore)(nil)
