package jobmanager

// ============================================================================
// JobManager 測試
// 職責：驗證登記、執行、取消與釋放的狀態轉換
// ============================================================================

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

func TestReserveRefusesDuplicates(t *testing.T) {
	jm := NewJobManager()
	require.NoError(t, jm.Reserve("proc_a"))
	assert.ErrorIs(t, jm.Reserve("proc_a"), ErrAlreadyRunning)

	info, ok := jm.Get("proc_a")
	require.True(t, ok)
	assert.Equal(t, PhaseReserved, info.Phase)
	assert.False(t, jm.IsRunning("proc_a"))
}

func TestBeginAndRelease(t *testing.T) {
	jm := NewJobManager()
	require.NoError(t, jm.Reserve("proc_a"))

	ctx, err := jm.Begin(context.Background(), "proc_a")
	require.NoError(t, err)
	assert.NoError(t, ctx.Err())
	assert.True(t, jm.IsRunning("proc_a"))

	_, err = jm.Begin(context.Background(), "proc_a")
	assert.ErrorIs(t, err, ErrAlreadyRunning, "second run of an in-flight id")
	assert.ErrorIs(t, jm.Reserve("proc_a"), ErrAlreadyRunning)

	jm.Release("proc_a")
	assert.Error(t, ctx.Err(), "release cancels the context")
	assert.Equal(t, 0, jm.Len())

	require.NoError(t, jm.Reserve("proc_a"), "id can be reused after release")
}

func TestBeginWithoutReserve(t *testing.T) {
	jm := NewJobManager()
	ctx, err := jm.Begin(context.Background(), "proc_x")
	require.NoError(t, err)
	assert.NoError(t, ctx.Err())
	assert.True(t, jm.IsRunning("proc_x"))
}

func TestCancelInFlight(t *testing.T) {
	jm := NewJobManager()
	ctx, err := jm.Begin(context.Background(), "proc_a")
	require.NoError(t, err)

	require.NoError(t, jm.Cancel("proc_a"))
	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.True(t, jm.CancelRequested("proc_a"))
}

func TestCancelBeforeBegin(t *testing.T) {
	jm := NewJobManager()
	require.NoError(t, jm.Reserve("proc_a"))
	require.NoError(t, jm.Cancel("proc_a"))

	ctx, err := jm.Begin(context.Background(), "proc_a")
	require.NoError(t, err)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestCancelUnknown(t *testing.T) {
	jm := NewJobManager()
	assert.ErrorIs(t, jm.Cancel("nope"), ErrNotRegistered)
	assert.False(t, jm.CancelRequested("nope"))
}

func TestParentCancellationPropagates(t *testing.T) {
	jm := NewJobManager()
	parent, cancel := context.WithCancel(context.Background())
	ctx, err := jm.Begin(parent, "proc_a")
	require.NoError(t, err)
	cancel()
	<-ctx.Done()
	assert.False(t, jm.CancelRequested("proc_a"), "parent cancellation is not a user request")
}

func TestCancelAll(t *testing.T) {
	jm := NewJobManager()
	require.NoError(t, jm.Reserve("proc_b"))
	ctx, err := jm.Begin(context.Background(), "proc_a")
	require.NoError(t, err)

	ids := jm.CancelAll()
	assert.Equal(t, []types.ProcessID{"proc_a", "proc_b"}, ids)
	assert.Error(t, ctx.Err())
	assert.True(t, jm.CancelRequested("proc_b"))
}

func TestListAndStats(t *testing.T) {
	jm := NewJobManager()
	require.NoError(t, jm.Reserve("proc_a"))
	require.NoError(t, jm.Reserve("proc_b"))
	_, err := jm.Begin(context.Background(), "proc_b")
	require.NoError(t, err)

	list := jm.List()
	require.Len(t, list, 2)
	ids := []types.ProcessID{list[0].ID, list[1].ID}
	assert.ElementsMatch(t, []types.ProcessID{"proc_a", "proc_b"}, ids)

	stats := jm.GetStats()
	assert.Equal(t, 1, stats[PhaseReserved])
	assert.Equal(t, 1, stats[PhaseInFlight])
}

func TestConcurrentBegin(t *testing.T) {
	jm := NewJobManager()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := jm.Begin(context.Background(), "proc_a"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins, "only one goroutine may run a process")
}
