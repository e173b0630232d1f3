package main

// Demo: reconcile the built-in demo orders against the demo catalog.
//
//	go run ./cmd/demo start     # run one job, print progress and batches
//	go run ./cmd/demo crash     # start a job and exit mid-run (entry left running)
//	go run ./cmd/demo recover   # reset entries left running by a crash

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/JPcasado88/ebay-order-processor-demo/internal/orchestrator"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/processstore"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/render"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/source"
	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

const dataDir = "./data/demo"

// slowOrders delays every fetch so that a crash lands mid-job.
type slowOrders struct {
	*source.Demo
	delay time.Duration
}

func (s slowOrders) Fetch(ctx context.Context, store string, from, to time.Time) ([]types.RawLineItem, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.Demo.Fetch(ctx, store, from, to)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./cmd/demo <start|crash|recover>")
		os.Exit(1)
	}

	store, err := processstore.NewFileStore(dataDir + "/processes")
	if err != nil {
		log.Fatalf("Failed to open process store: %v", err)
	}

	demo := source.NewDemo(nil)
	var orders orchestrator.OrderSource = demo
	if os.Args[1] == "crash" {
		orders = slowOrders{Demo: demo, delay: 5 * time.Second}
	}

	orch, err := orchestrator.New(orchestrator.Config{WorkerCount: 2}, orchestrator.Dependencies{
		Store:    store,
		Catalog:  source.DemoCatalog{},
		Orders:   orders,
		Renderer: render.New(dataDir + "/output"),
	})
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	ctx := context.Background()
	switch os.Args[1] {
	case "start":
		runJob(ctx, orch, demo.Stores())
	case "crash":
		if err := orch.Start(); err != nil {
			log.Fatalf("Failed to start orchestrator: %v", err)
		}
		id, err := orch.Submit(ctx, orchestrator.JobRequest{Stores: demo.Stores()})
		if err != nil {
			log.Fatalf("Submit failed: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
		st, _ := orch.Get(ctx, id)
		fmt.Printf("✓ Submitted %s, now %s (stage %s)\n", id, st.Status, st.Stage)
		fmt.Println("⚡ Exiting without shutdown: the entry stays 'running' on disk")
		fmt.Println("💡 Run 'go run ./cmd/demo recover' to clear it")
		os.Exit(2)
	case "recover":
		states, err := orch.List(ctx)
		if err != nil {
			log.Fatalf("List failed: %v", err)
		}
		fmt.Printf("📋 %d process(es) on disk\n", len(states))
		for _, s := range states {
			fmt.Printf("  %s  %-9s  %d/%d\n", s.ID, s.Status, s.ItemsDone, s.ItemsTotal)
		}
		ids, err := orch.Reset(ctx)
		if err != nil {
			log.Fatalf("Reset failed: %v", err)
		}
		fmt.Printf("\n✓ Reset %d stale process(es)\n", len(ids))
		for _, id := range ids {
			st, _ := orch.Get(ctx, id)
			fmt.Printf("  %s  %s (%s)\n", id, st.Status, st.ErrorSummary)
		}
	default:
		fmt.Printf("Unknown mode %q\n", os.Args[1])
		os.Exit(1)
	}
}

func runJob(ctx context.Context, orch *orchestrator.Orchestrator, stores []string) {
	if err := orch.Start(); err != nil {
		log.Fatalf("Failed to start orchestrator: %v", err)
	}
	defer orch.Stop()

	id, err := orch.Submit(ctx, orchestrator.JobRequest{Stores: stores})
	if err != nil {
		log.Fatalf("Submit failed: %v", err)
	}
	fmt.Printf("✓ Submitted %s\n", id)

	var st types.ProcessState
	for {
		st, err = orch.Get(ctx, id)
		if err != nil {
			log.Fatalf("Poll failed: %v", err)
		}
		fmt.Printf("  %-9s %-16s %d/%d\n", st.Status, st.Stage, st.ItemsDone, st.ItemsTotal)
		if st.Status.IsTerminal() {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Printf("\n📊 Final status: %s\n", st.Status)
	if st.ErrorSummary != "" {
		fmt.Printf("  Error: %s\n", st.ErrorSummary)
	}
	if st.Summary != nil {
		fmt.Printf("  Items:      %d\n", st.Summary.Items)
		fmt.Printf("  Matched:    %d\n", st.Summary.Matched)
		fmt.Printf("  Unmatched:  %d\n", st.Summary.Unmatched)
		fmt.Printf("  Duplicates: %d\n", st.Summary.Duplicates)
		for _, k := range types.AllBatchKinds {
			fmt.Printf("  %-15s %d\n", k, st.Summary.Batches[k])
		}
	}
	if st.ResultHandle != nil {
		fmt.Printf("\n📦 Artifacts: %s\n", st.ResultHandle.Location)
		for _, k := range types.AllBatchKinds {
			if name, ok := st.ResultHandle.Files[k]; ok {
				fmt.Printf("  %-15s %s\n", k, name)
			}
		}
	}
}
