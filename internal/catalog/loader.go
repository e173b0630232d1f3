package catalog

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/JPcasado88/ebay-order-processor-demo/internal/titleattr"
	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

var log = slog.Default()

var (
	// ErrCatalogUnavailable is fatal for a job: the reference catalog could
	// not be read or has no usable rows.
	ErrCatalogUnavailable = errors.New("catalog unavailable")
)

// Catalog column headers.
const (
	ColTemplate  = "Template"
	ColCompany   = "COMPANY"
	ColModel     = "MODEL"
	ColYear      = "YEAR"
	ColMats      = "MATS"
	ColClips     = "#Clips"
	ColClipType  = "Type"
	ColForcedSKU = "ForcedMatchSKU"
)

var requiredColumns = []string{ColTemplate, ColCompany, ColModel, ColYear, ColMats, ColClips, ColClipType}

var reToPresent = regexp.MustCompile(`(?i)to\s+present`)

type loadConfig struct {
	year int
}

// LoadOption configures catalog loading.
type LoadOption func(*loadConfig)

// WithCurrentYear sets the year substituted for "to present".
func WithCurrentYear(year int) LoadOption {
	return func(c *loadConfig) {
		c.year = year
	}
}

func newLoadConfig(opts []LoadOption) loadConfig {
	c := loadConfig{year: time.Now().Year()}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// LoadCSV reads catalog rows from CSV. A UTF-8 BOM is skipped.
func LoadCSV(r io.Reader, opts ...LoadOption) ([]types.CatalogEntry, error) {
	br := bufio.NewReader(r)
	if bom, err := br.Peek(3); err == nil && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		_, _ = br.Discard(3)
	}

	cr := csv.NewReader(br)
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse csv: %v", ErrCatalogUnavailable, err)
	}
	return buildEntries(records, newLoadConfig(opts))
}

// LoadXLSX reads catalog rows from the first sheet of a workbook.
func LoadXLSX(path string, opts ...LoadOption) ([]types.CatalogEntry, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open workbook: %v", ErrCatalogUnavailable, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrCatalogUnavailable)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read sheet: %v", ErrCatalogUnavailable, err)
	}
	return buildEntries(rows, newLoadConfig(opts))
}

func buildEntries(rows [][]string, cfg loadConfig) ([]types.CatalogEntry, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: missing header", ErrCatalogUnavailable)
	}
	header := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		header[strings.TrimSpace(h)] = i
	}
	for _, col := range requiredColumns {
		if _, ok := header[col]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrCatalogUnavailable, col)
		}
	}

	get := func(row []string, col string) string {
		i, ok := header[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	present := "-" + strconv.Itoa(cfg.year)
	entries := make([]types.CatalogEntry, 0, len(rows)-1)
	for _, row := range rows[1:] {
		tpl := get(row, ColTemplate)
		if tpl == "" {
			continue
		}
		year := titleattr.NormalizeYearRange(reToPresent.ReplaceAllString(get(row, ColYear), present))
		e := types.CatalogEntry{
			Identifier: tpl,
			Make:       get(row, ColCompany),
			Model:      get(row, ColModel),
			Year:       year,
			Mats:       get(row, ColMats),
			ClipCount:  get(row, ColClips),
			ClipType:   get(row, ColClipType),
			ForcedSKU:  get(row, ColForcedSKU),
		}
		e.Description = strings.Join(strings.Fields(strings.Join([]string{e.Make, e.Model, e.Year}, " ")), " ")
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no catalog rows", ErrCatalogUnavailable)
	}
	return entries, nil
}

// FileSource loads the catalog from a .csv or .xlsx file on every call, so
// each job sees the file as it is when the job starts.
type FileSource struct {
	Path    string
	Options []LoadOption
}

// Load reads the file and returns a fresh Snapshot.
func (s FileSource) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Path == "" {
		return nil, fmt.Errorf("%w: no catalog path configured", ErrCatalogUnavailable)
	}

	var (
		entries []types.CatalogEntry
		err     error
	)
	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".xlsx", ".xlsm":
		entries, err = LoadXLSX(s.Path, s.Options...)
	default:
		f, openErr := os.Open(s.Path)
		if openErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, openErr)
		}
		defer f.Close()
		entries, err = LoadCSV(f, s.Options...)
	}
	if err != nil {
		return nil, err
	}

	snap := NewSnapshot(entries)
	log.Info("Catalog loaded", "path", s.Path, "entries", snap.Len())
	return snap, nil
}
