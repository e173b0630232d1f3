package render

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JPcasado88/ebay-order-processor-demo/internal/classifier"
	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

var runDate = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

func matched(order, line, sku, ident string, qty int, store string) types.ResolvedLineItem {
	return types.ResolvedLineItem{
		Item: types.RawLineItem{
			OrderID:  order,
			LineID:   line,
			SKU:      sku,
			Title:    "Car mats for " + ident,
			Quantity: qty,
			StoreID:  store,
			BuyerKey: "buyer-" + order,
		},
		Identifier: types.CanonicalIdentifier{Token: ident, Method: types.MethodDirect},
		Attributes: types.TitleAttributes{Color: "Black", CarpetType: "CT65", Trim: "Black"},
		Matched:    &types.CatalogEntry{Identifier: ident, Make: "BMW", Model: "3 Series", Year: "2019-2024", Mats: "4"},
		Tier:       types.TierExact,
	}
}

func unmatchedItem(order, line, sku string) types.ResolvedLineItem {
	return types.ResolvedLineItem{
		Item:       types.RawLineItem{OrderID: order, LineID: line, SKU: sku, Title: "Mystery item", Quantity: 1, StoreID: "alpha"},
		Identifier: types.CanonicalIdentifier{Token: "XYZ", Method: types.MethodRegexCase, Case: 7},
		Tier:       types.TierNone,
		Note:       "no catalog entry",
	}
}

func sampleBatches() map[types.BatchKind]types.Batch {
	return classifier.Classify([]types.ResolvedLineItem{
		matched("O1", "L1", "CT65BM001", "bm001", 2, "alpha"),
		matched("O2", "L1", "CT65AU002", "au002", 1, "alpha"),
		matched("O2", "L2", "CT65AU003", "au003", 1, "alpha"),
		unmatchedItem("O3", "L1", "??"),
	})
}

func newTestRenderer(t *testing.T, opts ...Option) (*Renderer, string) {
	t.Helper()
	dir := t.TempDir()
	opts = append([]Option{WithClock(func() time.Time { return runDate })}, opts...)
	return New(dir, opts...), dir
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	sheets := f.GetSheetList()
	require.Len(t, sheets, 1)
	rows, err := f.GetRows(sheets[0])
	require.NoError(t, err)
	return rows
}

func TestRender_WritesWorkbookPerKind(t *testing.T) {
	r, dir := newTestRenderer(t, WithStoreInitials(map[string]string{"alpha": "AL"}))

	handle, err := r.Render(context.Background(), "proc_1", sampleBatches())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "proc_1.zip"), handle.Location)
	assert.Len(t, handle.Files, 4, "duplicates batch is empty and gets no file")
	assert.Equal(t, "RUN_AL_20261014_0930.xlsx", handle.Files[types.BatchRun])
	assert.Equal(t, "COURIER_MASTER_AL_20261014_0930.xlsx", handle.Files[types.BatchCourierMaster])
	_, hasDup := handle.Files[types.BatchDuplicates]
	assert.False(t, hasDup)

	for _, name := range handle.Files {
		_, err := os.Stat(filepath.Join(dir, "proc_1", name))
		assert.NoError(t, err, name)
	}
	tmps, _ := filepath.Glob(filepath.Join(dir, "proc_1", ".tmp-*"))
	assert.Empty(t, tmps)
}

func TestRender_RunSheetExpandsQuantity(t *testing.T) {
	r, dir := newTestRenderer(t)

	handle, err := r.Render(context.Background(), "proc_qty", sampleBatches())
	require.NoError(t, err)

	rows := readRows(t, filepath.Join(dir, "proc_qty", handle.Files[types.BatchRun]))
	require.Len(t, rows, 3, "header plus two units of O1")
	assert.Equal(t, runHeaders[0], rows[0][0])
	assert.Equal(t, "BM001", rows[1][2])
	assert.Equal(t, "1", rows[1][1])
	assert.Equal(t, rows[1][17], rows[2][17], "units of one line share a barcode")
}

func TestRender_CourierSheetGroupsOrders(t *testing.T) {
	r, dir := newTestRenderer(t)

	handle, err := r.Render(context.Background(), "proc_courier", sampleBatches())
	require.NoError(t, err)

	rows := readRows(t, filepath.Join(dir, "proc_courier", handle.Files[types.BatchCourierMaster]))
	require.Len(t, rows, 3)
	assert.Equal(t, "O1", rows[1][0])
	assert.Equal(t, "2", rows[1][3])
	assert.Equal(t, "15", rows[1][6], "two units are not a light parcel")
	assert.Equal(t, "O2", rows[2][0])
	assert.Equal(t, "AU002, AU003", rows[2][4])
}

func TestRender_UnmatchedSheet(t *testing.T) {
	r, dir := newTestRenderer(t)

	handle, err := r.Render(context.Background(), "proc_unmatched", sampleBatches())
	require.NoError(t, err)

	assert.Equal(t, "UNMATCHED_ALP_20261014_0930.xlsx", handle.Files[types.BatchUnmatched])
	rows := readRows(t, filepath.Join(dir, "proc_unmatched", handle.Files[types.BatchUnmatched]))
	require.Len(t, rows, 2)
	assert.Equal(t, "regex-case-7", rows[1][7])
	assert.Equal(t, "no catalog entry", rows[1][11])
}

func TestRender_ArchiveContainsFiles(t *testing.T) {
	r, _ := newTestRenderer(t)

	handle, err := r.Render(context.Background(), "proc_zip", sampleBatches())
	require.NoError(t, err)

	zr, err := zip.OpenReader(handle.Location)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
		rc, err := f.Open()
		require.NoError(t, err)
		n, err := io.Copy(io.Discard, rc)
		rc.Close()
		require.NoError(t, err)
		assert.Positive(t, n)
	}
	var want []string
	for _, name := range handle.Files {
		want = append(want, name)
	}
	sort.Strings(names)
	sort.Strings(want)
	assert.Equal(t, want, names)
}

func TestRender_CancelledRemovesOutput(t *testing.T) {
	r, dir := newTestRenderer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	handle, err := r.Render(ctx, "proc_cancel", sampleBatches())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, handle)

	_, err = os.Stat(filepath.Join(dir, "proc_cancel"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "proc_cancel.zip"))
	assert.True(t, os.IsNotExist(err))
}

func TestRender_EmptyBatches(t *testing.T) {
	r, _ := newTestRenderer(t)

	handle, err := r.Render(context.Background(), "proc_empty", classifier.Classify(nil))
	require.NoError(t, err)
	assert.Empty(t, handle.Files)

	zr, err := zip.OpenReader(handle.Location)
	require.NoError(t, err)
	defer zr.Close()
	assert.Empty(t, zr.File)
}

type fakePutter struct {
	inputs []*s3.PutObjectInput
	body   []byte
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = b
	return &s3.PutObjectOutput{}, nil
}

func TestRender_PublishesToS3(t *testing.T) {
	putter := &fakePutter{}
	r, _ := newTestRenderer(t, WithPublisher(newS3Publisher(putter, "orders", "/exports/")))

	handle, err := r.Render(context.Background(), "proc_s3", sampleBatches())
	require.NoError(t, err)

	assert.Equal(t, "s3://orders/exports/proc_s3.zip", handle.Location)
	require.Len(t, putter.inputs, 1)
	assert.Equal(t, "orders", aws.ToString(putter.inputs[0].Bucket))
	assert.Equal(t, "exports/proc_s3.zip", aws.ToString(putter.inputs[0].Key))
	assert.Equal(t, "application/zip", aws.ToString(putter.inputs[0].ContentType))
	assert.Equal(t, []byte("PK"), putter.body[:2])
}

func TestRender_PublishFailure(t *testing.T) {
	putter := &fakePutter{err: errors.New("access denied")}
	r, dir := newTestRenderer(t, WithPublisher(newS3Publisher(putter, "orders", "")))

	_, err := r.Render(context.Background(), "proc_s3_fail", sampleBatches())
	assert.ErrorIs(t, err, ErrRender)
	_, statErr := os.Stat(filepath.Join(dir, "proc_s3_fail.zip"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestNewS3Publisher_RequiresBucket(t *testing.T) {
	_, err := NewS3Publisher(context.Background(), S3Config{})
	assert.Error(t, err)
}

func TestAssignBarcodes(t *testing.T) {
	items := []types.ResolvedLineItem{
		matched("O1", "L1", "B-SKU", "b", 1, "alpha"),
		matched("O1", "L2", "A-SKU", "a", 1, "alpha"),
		matched("O2", "L1", "C-SKU", "c", 1, "beta"),
		matched("O3", "L1", "D-SKU", "d", 1, ""),
	}
	codes := AssignBarcodes(items, map[string]string{"alpha": "AL"}, runDate)

	require.Len(t, codes, 4)
	assert.Equal(t, "AL00114102602", codes["O1/L1"], "B-SKU sorts after A-SKU")
	assert.Equal(t, "AL00214102601", codes["O1/L2"])
	assert.Equal(t, "BE003141026", codes["O2/L1"])
	assert.Equal(t, "XX004141026", codes["O3/L1"])
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "abc", sanitize("a\x00b\x1Fc"))
	assert.Equal(t, "tab\there", sanitize("tab\there"))
	assert.Equal(t, 3, sanitize(3))
}

func TestOrderWeight(t *testing.T) {
	light := matched("O1", "L1", "S", "x", 1, "a")
	assert.Equal(t, lightWeight, orderWeight([]types.ResolvedLineItem{light}))

	grey := light
	grey.Attributes.Color = "Grey"
	assert.Equal(t, standardWeight, orderWeight([]types.ResolvedLineItem{grey}))
	assert.Equal(t, standardWeight, orderWeight([]types.ResolvedLineItem{light, light}))
}
