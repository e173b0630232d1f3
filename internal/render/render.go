// Package render turns classified batches into Excel workbooks and packs them
// into one zip archive per process.
//
// Output layout under the output directory:
//
//	<process_id>/RUN_CONSOLIDATED_20261014_0930.xlsx
//	<process_id>/COURIER_MASTER_CONSOLIDATED_20261014_0930.xlsx
//	...
//	<process_id>.zip
//
// Single-store batches are named with the store initials instead of
// CONSOLIDATED. Empty batches produce no file.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

// ErrRender wraps failures to produce artifacts.
var ErrRender = errors.New("render failed")

var filePrefixes = map[types.BatchKind]string{
	types.BatchRun:           "RUN",
	types.BatchRun24h:        "RUN24H",
	types.BatchCourierMaster: "COURIER_MASTER",
	types.BatchDuplicates:    "DUPLICATES",
	types.BatchUnmatched:     "UNMATCHED",
}

// Renderer writes workbooks for a process.
type Renderer struct {
	outputDir string
	initials  map[string]string
	publisher Publisher
	now       func() time.Time
	log       *slog.Logger
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithPublisher uploads the archive after it is written. The result handle
// then points at the published location.
func WithPublisher(p Publisher) Option {
	return func(r *Renderer) { r.publisher = p }
}

// WithStoreInitials maps store ids to the initials used in file names and
// barcodes.
func WithStoreInitials(m map[string]string) Option {
	return func(r *Renderer) { r.initials = m }
}

// WithClock overrides the run timestamp.
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Renderer) {
		if l != nil {
			r.log = l
		}
	}
}

// New returns a Renderer writing below outputDir.
func New(outputDir string, opts ...Option) *Renderer {
	r := &Renderer{
		outputDir: outputDir,
		now:       time.Now,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render writes one workbook per non-empty batch and archives them.
// Cancellation is checked between files; on any error the partial output
// is removed.
func (r *Renderer) Render(ctx context.Context, id types.ProcessID, batches map[types.BatchKind]types.Batch) (*types.ResultHandle, error) {
	runDate := r.now()
	dir := filepath.Join(r.outputDir, string(id))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}

	handle, err := r.render(ctx, id, dir, runDate, batches)
	if err != nil {
		os.RemoveAll(dir)
		os.Remove(r.archivePath(id))
		return nil, err
	}
	r.log.Info("Artifacts rendered", "process_id", id, "files", len(handle.Files), "location", handle.Location)
	return handle, nil
}

func (r *Renderer) render(ctx context.Context, id types.ProcessID, dir string, runDate time.Time, batches map[types.BatchKind]types.Batch) (*types.ResultHandle, error) {
	codes := AssignBarcodes(barcodeItems(batches), r.initials, runDate)

	handle := &types.ResultHandle{Files: make(map[types.BatchKind]string)}
	var names []string
	for _, kind := range types.AllBatchKinds {
		b, ok := batches[kind]
		if !ok || len(b.Items) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := r.fileName(kind, b.StoreID, runDate)
		if err := writeWorkbook(filepath.Join(dir, name), buildSheet(b, codes)); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrRender, kind, err)
		}
		handle.Files[kind] = name
		names = append(names, name)
	}

	archive := r.archivePath(id)
	if err := writeArchive(archive, dir, names); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	handle.Location = archive

	if r.publisher != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		uri, err := r.publisher.Publish(ctx, filepath.Base(archive), archive)
		if err != nil {
			return nil, fmt.Errorf("%w: publish: %v", ErrRender, err)
		}
		handle.Location = uri
	}
	return handle, nil
}

func (r *Renderer) archivePath(id types.ProcessID) string {
	return filepath.Join(r.outputDir, string(id)+".zip")
}

func (r *Renderer) fileName(kind types.BatchKind, store string, runDate time.Time) string {
	scope := "CONSOLIDATED"
	if store != "" {
		scope = storeInitials(store, r.initials, 3)
	}
	return fmt.Sprintf("%s_%s_%s.xlsx", filePrefixes[kind], scope, runDate.Format("20060102_1504"))
}

// barcodeItems numbers matched items in courier order so every sheet that
// prints a barcode agrees on it.
func barcodeItems(batches map[types.BatchKind]types.Batch) []types.ResolvedLineItem {
	if b, ok := batches[types.BatchCourierMaster]; ok && len(b.Items) > 0 {
		return b.Items
	}
	var out []types.ResolvedLineItem
	for _, kind := range []types.BatchKind{types.BatchRun24h, types.BatchRun} {
		out = append(out, batches[kind].Items...)
	}
	return out
}
