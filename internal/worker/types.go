package worker

import (
	"context"
	"time"

	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

// TaskFunc 任務執行邏輯，ctx 在 Pool 停止或逾時時取消
type TaskFunc func(ctx context.Context) error

// Task 代表要執行的任務
type Task struct {
	ID      types.ProcessID // 任務對應的 process
	Run     TaskFunc        // 執行邏輯
	Timeout time.Duration   // 執行超時時間，0 表示不限制
}

// Result 代表任務執行結果
type Result struct {
	ProcessID types.ProcessID // 任務 ID
	Success   bool            // 執行是否成功
	Error     error           // 錯誤訊息（如果有）
	Duration  time.Duration   // 實際執行時間
}
