package wal

// ============================================================================
// WAL 核心實作
// 職責：
// 1. 追加處理狀態事件到日誌檔案（append-only，JSON lines）
// 2. 提供重放功能，供 history 指令與除錯使用
// 3. 支援日誌旋轉（reset 後保留舊檔）
// 4. 每筆事件帶 CRC32 校驗和，確保資料完整性
// ============================================================================

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

// FileInterface 定義檔案操作所需的方法
// 這允許在測試中對檔案操作進行模擬
type FileInterface interface {
	Write(p []byte) (n int, err error)
	Sync() error
	Close() error
}

// WAL 表示 Write-Ahead Log 實例
type WAL struct {
	mu           sync.Mutex    // 保護並發寫入
	file         FileInterface // WAL 檔案
	encoder      *json.Encoder // JSON 編碼器
	path         string        // WAL 檔案路徑
	seq          uint64        // 當前事件序號
	syncOnAppend bool          // 是否每次 flush 都強制同步
	closed       bool

	buffer        []Event // 批次寫入事件緩衝區
	bufferSize    int
	lastFlushTime time.Time
	flushInterval time.Duration
	now           func() time.Time
}

// ============================================================================
// 公開介面
// ============================================================================

/*
NewWAL 建立或開啟一個 WAL 實例

行為：
- 如果檔案不存在，建立新檔案，seq 從 0 開始
- 如果檔案已存在，讀取最後一個事件的 seq 並繼續
- 以追加模式（O_APPEND）開啟，確保寫入不覆蓋

參數：

	path         - WAL 檔案路徑
	syncOnAppend - flush 時是否呼叫 fsync
*/
func NewWAL(path string, syncOnAppend bool) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open wal: %w", err)
	}

	var seq uint64
	if last, err := GetLastEvent(path); err == nil {
		seq = last.Seq
	}

	return &WAL{
		file:          file,
		encoder:       json.NewEncoder(file),
		path:          path,
		seq:           seq,
		syncOnAppend:  syncOnAppend,
		buffer:        make([]Event, 0, 64),
		bufferSize:    64,
		lastFlushTime: time.Now(),
		flushInterval: time.Second,
		now:           time.Now,
	}, nil
}

// Append 追加一個事件到 WAL
//
// 行為：
// - 自動遞增 seq 並計算 checksum
// - 先放入 buffer，forceFlush、buffer 滿或超過 flushInterval 時寫入檔案
//
// 參數：
//
//	eventType  - 事件類型（CREATE, TRANSITION, PROGRESS, DELETE）
//	state      - 事件發生後的處理狀態
//	forceFlush - 是否立即寫入（狀態轉換使用）
func (w *WAL) Append(eventType EventType, state types.ProcessState, forceFlush bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}

	w.seq++
	event := Event{
		Seq:       w.seq,
		Type:      eventType,
		ProcessID: state.ID,
		Status:    state.Status,
		ItemsDone: state.ItemsDone,
		Detail:    detailOf(state),
		Timestamp: w.now().UnixMilli(),
	}
	event.Checksum = CalculateChecksum(event)
	w.buffer = append(w.buffer, event)

	if forceFlush || len(w.buffer) >= w.bufferSize || time.Since(w.lastFlushTime) > w.flushInterval {
		return w.flushLocked()
	}
	return nil
}

// Flush 將緩衝區內的事件寫入檔案
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWALClosed
	}
	return w.flushLocked()
}

// Replay 重放所有 WAL 事件
//
// 行為：
// - 先 flush buffer，再從頭讀取 WAL 檔案
// - 驗證每個事件的 checksum
// - 呼叫 handler；handler 回傳錯誤時立即停止
func (w *WAL) Replay(handler EventHandler) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		if err := w.flushLocked(); err != nil {
			return err
		}
	}
	return ReadEvents(w.path, handler)
}

// Rotate 旋轉日誌檔案，舊檔加上時間戳保留，seq 歸零
func (w *WAL) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}

	backupPath := w.path + "." + w.now().Format("20060102_150405.000")
	if err := os.Rename(w.path, backupPath); err != nil {
		return fmt.Errorf("failed to rotate wal: %w", err)
	}

	newFile, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_TRUNC|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to reopen wal: %w", err)
	}

	w.file = newFile
	w.encoder = json.NewEncoder(newFile)
	w.seq = 0
	w.buffer = w.buffer[:0]
	w.lastFlushTime = time.Now()
	return nil
}

// Close 關閉 WAL；關閉後的實例不可再使用
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	w.closed = true
	return w.file.Close()
}

// GetLastSeq 取得當前的事件序號
func (w *WAL) GetLastSeq() uint64 {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// ============================================================================
// 內部輔助方法
// ============================================================================

// flushLocked 假設調用者已經持有 w.mu 鎖
func (w *WAL) flushLocked() error {
	for _, event := range w.buffer {
		if err := w.encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to write wal event: %w", err)
		}
	}
	w.buffer = w.buffer[:0]
	w.lastFlushTime = time.Now()
	if w.syncOnAppend {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync wal: %w", err)
		}
	}
	return nil
}

func detailOf(state types.ProcessState) string {
	if state.ErrorSummary != "" {
		return state.ErrorSummary
	}
	return state.Stage
}

// ============================================================================
// 讀取工具
// ============================================================================

// ReadEvents 依序讀取 WAL 檔案中的事件並驗證 checksum
//
// 檔案不存在視為沒有事件。遇到無法解析或校驗失敗的紀錄時停止並回傳錯誤。
func ReadEvents(path string, handler EventHandler) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open wal: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			return &CorruptionError{Line: line, Cause: err}
		}
		if expected := CalculateChecksum(event); expected != event.Checksum {
			return &ChecksumError{Seq: event.Seq, Expected: expected, Actual: event.Checksum}
		}
		if err := handler(event); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return &CorruptionError{Line: line + 1, Cause: err}
	}
	return nil
}

// GetLastEvent 讀取 WAL 檔案最後一個有效事件
//
// 回傳：
//
//	最後一個事件；檔案為空或不存在時回傳 ErrEmptyWAL
func GetLastEvent(path string) (*Event, error) {
	var last *Event
	err := ReadEvents(path, func(e Event) error {
		last = &e
		return nil
	})
	if err != nil && last == nil {
		return nil, err
	}
	if last == nil {
		return nil, ErrEmptyWAL
	}
	return last, nil
}

// History 回傳單一 process 的事件，id 為空時回傳全部
func History(path string, id types.ProcessID) ([]Event, error) {
	var out []Event
	err := ReadEvents(path, func(e Event) error {
		if id == "" || e.ProcessID == id {
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// DumpWAL 以人類可讀格式輸出事件
//
//	[seq:1] CREATE proc_ab12 queued done=0 at 2026-01-01T00:00:00Z
func DumpWAL(w io.Writer, events []Event) error {
	for _, e := range events {
		ts := time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339)
		line := fmt.Sprintf("[seq:%d] %s %s %s done=%d at %s", e.Seq, e.Type, e.ProcessID, e.Status, e.ItemsDone, ts)
		if e.Detail != "" {
			line += " (" + e.Detail + ")"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
