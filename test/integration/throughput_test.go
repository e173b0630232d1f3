package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JPcasado88/ebay-order-processor-demo/internal/orchestrator"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/source"
	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

// TestConcurrentJobs 同時提交多個工作，全部都要成功且互不干擾
func TestConcurrentJobs(t *testing.T) {
	n := startNode(t, t.TempDir(), 4)
	defer n.close()
	ctx := context.Background()

	const jobs = 20
	ids := make([]types.ProcessID, 0, jobs)
	for i := 0; i < jobs; i++ {
		id, err := n.orch.Submit(ctx, orchestrator.JobRequest{Stores: source.NewDemo(nil).Stores()})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for _, id := range ids {
		st := waitFor(t, n.orch, id, 30*time.Second)
		require.Equal(t, types.StatusSucceeded, st.Status, st.ErrorSummary)
		require.Equal(t, st.ItemsTotal, st.ItemsDone)
	}
	require.Equal(t, 0, n.orch.Stats()["in_flight"])
}

func BenchmarkThroughput(b *testing.B) {
	n := startNode(b, b.TempDir(), 8)
	defer n.close()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id, err := n.orch.Submit(ctx, orchestrator.JobRequest{Stores: source.NewDemo(nil).Stores()})
		require.NoError(b, err)
		waitFor(b, n.orch, id, 30*time.Second)
	}
	b.StopTimer()
}
