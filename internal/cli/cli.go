// ============================================================================
// Reconciler CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree for running and operating the reconciler
//
// Command Structure:
//   reconciler                     # Root command
//   ├── serve                      # Start orchestrator + gRPC + HTTP
//   ├── run                        # Run one job in-process and wait for it
//   ├── submit                     # Submit a job to a running server (--addr)
//   ├── status [id]                # Poll one process or list all
//   ├── cancel <id>                # Cancel a process
//   ├── reset                      # Force-cancel every non-terminal process
//   ├── reap                       # Delete terminal processes past retention
//   ├── history [id] [--rotate]    # Dump (and optionally rotate) the journal
//   ├── extract <sku>              # Show how a SKU is extracted
//   └── --config, -c / --log-level
//
// Configuration:
//   YAML (default: configs/default.yaml), see Config. status / cancel / reset
//   work either against the local store or, with --addr, a remote server.
//
// Signal Handling:
//   serve and run stop on SIGINT / SIGTERM. Running jobs are cancelled at the
//   next line item and end in status cancelled without artifacts.
//
// ============================================================================

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/JPcasado88/ebay-order-processor-demo/internal/extractor"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/orchestrator"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/server"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/storage/wal"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/titleattr"
	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

const defaultConfigPath = "configs/default.yaml"

var (
	configFile string
	logLevel   string
)

// BuildCLI returns the root command.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reconciler",
		Short: "Marketplace order reconciliation and batching",
		Long: `Reconciler matches marketplace order line items against the product
catalog and groups them into production batches:
- SKU/title identifier extraction with data-driven overrides
- catalog matching that never guesses between ambiguous entries
- cancellable background jobs with durable, pollable progress`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config")

	rootCmd.AddCommand(buildServeCommand())
	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildSubmitCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildCancelCommand())
	rootCmd.AddCommand(buildResetCommand())
	rootCmd.AddCommand(buildReapCommand())
	rootCmd.AddCommand(buildHistoryCommand())
	rootCmd.AddCommand(buildExtractCommand())

	return rootCmd
}

// setup loads the config and installs the default logger.
func setup() (*Config, *slog.Logger, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	lvl, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// ============================================================================
// serve
// ============================================================================

func buildServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator with its gRPC and HTTP APIs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.orch.Start(); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}
	defer rt.orch.Stop()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", cfg.Server.GRPCPort, err)
	}
	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus(server.ServiceName, healthpb.HealthCheckResponse_SERVING)
	server.NewServer(rt.orch, logger).Register(grpcServer)

	httpOpts := []server.HTTPOption{server.WithHTTPLogger(logger)}
	if rt.registry != nil {
		httpOpts = append(httpOpts, server.WithGatherer(rt.registry))
	}
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           server.NewHTTPHandler(rt.orch, httpOpts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC server listening", "port", cfg.Server.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		logger.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	if cfg.Store.Retention > 0 {
		go reapLoop(ctx, rt.orch, cfg.Store.Retention, logger)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal, stopping gracefully...")
	case serveErr = <-errCh:
		logger.Error("Server failed", "error", serveErr)
	}

	hs.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", "error", err)
	}
	grpcServer.GracefulStop()
	return serveErr
}

// reapLoop deletes terminal processes older than retention, checking once per
// retention/4 (at least every minute).
func reapLoop(ctx context.Context, orch *orchestrator.Orchestrator, retention time.Duration, logger *slog.Logger) {
	every := max(retention/4, time.Minute)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := orch.Reap(ctx, retention); err != nil {
				logger.Warn("Reap failed", "error", err)
			}
		}
	}
}

// ============================================================================
// run / submit
// ============================================================================

// requestFlags are the job request flags shared by run and submit.
type requestFlags struct {
	stores            []string
	from, to          string
	orderTypes        []string
	kinds             []string
	next24h           bool
	includeDispatched bool
}

func (f *requestFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.stores, "store", "s", nil, "store id (repeatable)")
	cmd.Flags().StringVar(&f.from, "from", "", "start of the order window (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&f.to, "to", "", "end of the order window (default now)")
	cmd.Flags().StringSliceVar(&f.orderTypes, "order-type", nil, "keep only these order statuses")
	cmd.Flags().StringSliceVarP(&f.kinds, "kind", "k", nil, "output kinds: run, run24h, courier_master, duplicates, unmatched")
	cmd.Flags().BoolVar(&f.next24h, "next-24h", false, "only orders due for dispatch today")
	cmd.Flags().BoolVar(&f.includeDispatched, "include-dispatched", false, "include already dispatched orders")
}

func (f *requestFlags) request() (orchestrator.JobRequest, error) {
	req := orchestrator.JobRequest{
		Stores:            f.stores,
		OrderTypes:        f.orderTypes,
		Next24hOnly:       f.next24h,
		IncludeDispatched: f.includeDispatched,
	}
	var err error
	if req.DateFrom, err = parseTime(f.from); err != nil {
		return req, fmt.Errorf("--from: %w", err)
	}
	if req.DateTo, err = parseTime(f.to); err != nil {
		return req, fmt.Errorf("--to: %w", err)
	}
	for _, k := range f.kinds {
		req.OutputKinds = append(req.OutputKinds, types.BatchKind(strings.TrimSpace(k)))
	}
	return req, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

func buildRunCommand() *cobra.Command {
	var flags requestFlags
	var demo bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one reconciliation job in-process and wait for it",
		Long: `Start the orchestrator, submit one job and poll it until it reaches a
terminal status. Ctrl+C cancels the job.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if demo {
				cfg.Demo = true
			}
			req, err := flags.request()
			if err != nil {
				return err
			}
			if cfg.Demo && len(req.Stores) == 0 {
				req.Stores = []string{"demo_store_1", "demo_store_2", "demo_store_3"}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runOnce(ctx, cmd.OutOrStdout(), cfg, logger, req)
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVar(&demo, "demo", false, "use the built-in demo orders and catalog")
	return cmd
}

func runOnce(ctx context.Context, out io.Writer, cfg *Config, logger *slog.Logger, req orchestrator.JobRequest) error {
	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := rt.orch.Start(); err != nil {
		return err
	}
	defer rt.orch.Stop()

	id, err := rt.orch.Submit(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Submitted %s\n", id)

	state, err := waitFor(ctx, rt.orch, id, 200*time.Millisecond, func(s types.ProcessState) {
		fmt.Fprintf(out, "  %-9s %-16s %d/%d\n", s.Status, s.Stage, s.ItemsDone, s.ItemsTotal)
	})
	if err != nil {
		if ctx.Err() != nil {
			if _, cerr := rt.orch.Cancel(context.Background(), id); cerr != nil {
				logger.Warn("Cancel on interrupt failed", "process_id", id, "error", cerr)
			}
		}
		return err
	}
	if err := printState(out, state); err != nil {
		return err
	}
	if state.Status == types.StatusFailed {
		return fmt.Errorf("process %s failed: %s", id, state.ErrorSummary)
	}
	return nil
}

// waitFor polls until the process is terminal, calling progress whenever
// status, stage or items_done change.
func waitFor(ctx context.Context, svc server.Service, id types.ProcessID, every time.Duration, progress func(types.ProcessState)) (types.ProcessState, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	var last types.ProcessState
	for {
		s, err := svc.Get(ctx, id)
		if err != nil {
			return s, err
		}
		if progress != nil && (s.Status != last.Status || s.Stage != last.Stage || s.ItemsDone != last.ItemsDone) {
			progress(s)
		}
		last = s
		if s.Status.IsTerminal() {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-ticker.C:
		}
	}
}

func buildSubmitCommand() *cobra.Command {
	var flags requestFlags
	var addr string
	var wait bool

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job to a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request()
			if err != nil {
				return err
			}
			client, closeFn, err := dial(addr)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			id, err := client.Submit(ctx, req)
			if err != nil {
				return fmt.Errorf("submit failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			if !wait {
				return nil
			}
			state, err := waitFor(ctx, client, id, time.Second, nil)
			if err != nil {
				return err
			}
			return printState(cmd.OutOrStdout(), state)
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&addr, "addr", "localhost:50051", "server gRPC address")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the job finishes")
	return cmd
}

// dial connects to a remote server.
func dial(addr string) (*server.Client, func() error, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return server.NewClient(conn), conn.Close, nil
}

// ============================================================================
// status / cancel / reset / reap
// ============================================================================

// withService runs fn against a remote server when addr is set, otherwise
// against an orchestrator over the local store. The local orchestrator is
// never started: it only reads and finalizes stored states.
func withService(ctx context.Context, addr string, fn func(server.Service, *runtime) error) error {
	if addr != "" {
		client, closeFn, err := dial(addr)
		if err != nil {
			return err
		}
		defer closeFn()
		return fn(client, nil)
	}
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt.orch, rt)
}

func buildStatusCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status [process-id]",
		Short: "Show the status of one process, or list all local processes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return withService(cmd.Context(), addr, func(svc server.Service, rt *runtime) error {
				if len(args) == 1 {
					state, err := svc.Get(cmd.Context(), types.ProcessID(args[0]))
					if err != nil {
						return err
					}
					return printState(out, state)
				}
				if rt == nil {
					return errors.New("listing needs the local store; pass a process id with --addr")
				}
				states, err := rt.orch.List(cmd.Context())
				if err != nil {
					return err
				}
				return printTable(out, states)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "query a remote server instead of the local store")
	return cmd
}

func buildCancelCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "cancel <process-id>",
		Short: "Cancel a queued or running process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), addr, func(svc server.Service, _ *runtime) error {
				state, err := svc.Cancel(cmd.Context(), types.ProcessID(args[0]))
				if err != nil {
					return err
				}
				return printState(cmd.OutOrStdout(), state)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "cancel on a remote server instead of the local store")
	return cmd
}

func buildResetCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear temporary state: force-cancel every queued or running process",
		Long: `Marks every non-terminal process cancelled. Use it to recover entries
left running by a process that crashed; it is not part of normal operation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), addr, func(svc server.Service, _ *runtime) error {
				ids, err := svc.Reset(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d process(es)\n", len(ids))
				for _, id := range ids {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "reset a remote server instead of the local store")
	return cmd
}

func buildReapCommand() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Delete terminal processes older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), "", func(_ server.Service, rt *runtime) error {
				retention := olderThan
				if retention <= 0 {
					retention = 24 * time.Hour
				}
				n, err := rt.orch.Reap(cmd.Context(), retention)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d process(es)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "minimum age since the process finished")
	return cmd
}

// ============================================================================
// history / extract
// ============================================================================

func buildHistoryCommand() *cobra.Command {
	var (
		journal string
		rotate  bool
	)
	cmd := &cobra.Command{
		Use:   "history [process-id]",
		Short: "Dump journaled state transitions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := journal
			if path == "" {
				cfg, _, err := setup()
				if err != nil {
					return err
				}
				path = cfg.Store.Journal
			}
			if path == "" {
				return errors.New("no journal configured (store.journal or --journal)")
			}
			var id types.ProcessID
			if len(args) == 1 {
				id = types.ProcessID(args[0])
			}
			events, err := wal.History(path, id)
			if err != nil {
				return err
			}
			if err := wal.DumpWAL(cmd.OutOrStdout(), events); err != nil {
				return err
			}
			if !rotate {
				return nil
			}

			// 舊日誌保留為 <path>.<timestamp>，新日誌從 seq 1 開始
			w, err := wal.NewWAL(path, false)
			if err != nil {
				return err
			}
			if err := w.Rotate(); err != nil {
				w.Close()
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rotated %s\n", path)
			return w.Close()
		},
	}
	cmd.Flags().StringVar(&journal, "journal", "", "journal file (default: store.journal from the config)")
	cmd.Flags().BoolVar(&rotate, "rotate", false, "start a new journal after dumping (the old one is kept with a timestamp suffix)")
	return cmd
}

func buildExtractCommand() *cobra.Command {
	var title, tables string
	var titleFallback bool

	cmd := &cobra.Command{
		Use:   "extract <sku>",
		Short: "Show the canonical identifier and title attributes for a SKU",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []extractor.Option
			if tables != "" {
				t, err := extractor.LoadTables(tables)
				if err != nil {
					return err
				}
				opts = append(opts, extractor.WithLookup(t))
			}
			if titleFallback {
				opts = append(opts, extractor.WithTitleFallback())
			}
			id, diag := extractor.New(opts...).Extract(args[0], title)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "identifier: %s\n", id.Token)
			fmt.Fprintf(out, "method:     %s\n", id.MethodName())
			if diag.Rule != "" {
				fmt.Fprintf(out, "rule:       %s\n", diag.Rule)
			}
			if diag.Stripped != "" {
				fmt.Fprintf(out, "stripped:   %s\n", diag.Stripped)
			}
			if diag.Note != "" {
				fmt.Fprintf(out, "note:       %s\n", diag.Note)
			}
			if title != "" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(titleattr.Analyze(title))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "item title")
	cmd.Flags().StringVar(&tables, "tables", "", "override/remap tables YAML")
	cmd.Flags().BoolVar(&titleFallback, "title-fallback", false, "try the title when the SKU is unresolved")
	return cmd
}

// ============================================================================
// Output
// ============================================================================

func printState(w io.Writer, s types.ProcessState) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func printTable(w io.Writer, states []types.ProcessState) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROCESS\tSTATUS\tSTAGE\tPROGRESS\tCREATED")
	for _, s := range states {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\n",
			s.ID, s.Status, s.Stage, s.ItemsDone, s.ItemsTotal, s.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
