package wal

// ============================================================================
// WAL 測試
// 職責：驗證追加、重放、校驗和、旋轉與關閉行為
// ============================================================================

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

func state(id string, status types.ProcessStatus, done int) types.ProcessState {
	return types.ProcessState{ID: types.ProcessID(id), Status: status, ItemsDone: done}
}

func openTestWAL(t *testing.T) (*WAL, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "process.wal")
	w, err := NewWAL(path, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w, path
}

func TestAppendAndReplay(t *testing.T) {
	w, _ := openTestWAL(t)

	require.NoError(t, w.Append(EventCreate, state("p1", types.StatusQueued, 0), true))
	require.NoError(t, w.Append(EventTransition, state("p1", types.StatusRunning, 0), true))
	require.NoError(t, w.Append(EventProgress, state("p1", types.StatusRunning, 5), false))

	var got []Event
	require.NoError(t, w.Replay(func(e Event) error {
		got = append(got, e)
		return nil
	}))

	require.Len(t, got, 3, "replay flushes buffered events first")
	for i, e := range got {
		assert.Equal(t, uint64(i+1), e.Seq)
		assert.True(t, VerifyChecksum(e))
	}
	assert.Equal(t, EventProgress, got[2].Type)
	assert.Equal(t, 5, got[2].ItemsDone)
	assert.Equal(t, uint64(3), w.GetLastSeq())
}

func TestReopenContinuesSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "process.wal")
	w, err := NewWAL(path, false)
	require.NoError(t, err)
	require.NoError(t, w.Append(EventCreate, state("p1", types.StatusQueued, 0), true))
	require.NoError(t, w.Append(EventCreate, state("p2", types.StatusQueued, 0), true))
	require.NoError(t, w.Close())

	w2, err := NewWAL(path, false)
	require.NoError(t, err)
	defer w2.Close()
	assert.Equal(t, uint64(2), w2.GetLastSeq())

	require.NoError(t, w2.Append(EventDelete, state("p1", types.StatusCancelled, 0), true))
	last, err := GetLastEvent(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last.Seq)
}

func TestDetailCarriesErrorOrStage(t *testing.T) {
	w, path := openTestWAL(t)

	s := state("p1", types.StatusRunning, 0)
	s.Stage = "reconciling"
	require.NoError(t, w.Append(EventProgress, s, true))

	s.Status = types.StatusFailed
	s.ErrorSummary = "failed after item 3: boom"
	require.NoError(t, w.Append(EventTransition, s, true))

	events, err := History(path, "p1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "reconciling", events[0].Detail)
	assert.Equal(t, "failed after item 3: boom", events[1].Detail)
}

func TestChecksumMismatch(t *testing.T) {
	w, path := openTestWAL(t)
	require.NoError(t, w.Append(EventCreate, state("p1", types.StatusQueued, 0), true))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := bytes.Replace(data, []byte(`"queued"`), []byte(`"running"`), 1)
	require.NoError(t, os.WriteFile(path, tampered, 0644))

	err = ReadEvents(path, func(Event) error { return nil })
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	var ce *ChecksumError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, uint64(1), ce.Seq)
}

func TestCorruptedRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "process.wal")
	require.NoError(t, os.WriteFile(path, []byte("{not json}\n"), 0644))

	err := ReadEvents(path, func(Event) error { return nil })
	assert.ErrorIs(t, err, ErrCorruptedWAL)

	_, err = GetLastEvent(path)
	assert.Error(t, err)
}

func TestMissingFileHasNoEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.wal")
	events, err := History(path, "")
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = GetLastEvent(path)
	assert.ErrorIs(t, err, ErrEmptyWAL)
}

func TestRotate(t *testing.T) {
	w, path := openTestWAL(t)
	require.NoError(t, w.Append(EventCreate, state("p1", types.StatusQueued, 0), true))
	require.NoError(t, w.Rotate())
	assert.Equal(t, uint64(0), w.GetLastSeq())

	require.NoError(t, w.Append(EventCreate, state("p2", types.StatusQueued, 0), true))
	events, err := History(path, "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.ProcessID("p2"), events[0].ProcessID)

	backups, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestClosedWAL(t *testing.T) {
	w, _ := openTestWAL(t)
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close(), "close is idempotent")
	assert.ErrorIs(t, w.Append(EventCreate, state("p1", types.StatusQueued, 0), true), ErrWALClosed)
	assert.ErrorIs(t, w.Flush(), ErrWALClosed)
}

func TestDumpWAL(t *testing.T) {
	var buf bytes.Buffer
	events := []Event{
		{Seq: 1, Type: EventCreate, ProcessID: "p1", Status: types.StatusQueued},
		{Seq: 2, Type: EventTransition, ProcessID: "p1", Status: types.StatusFailed, Detail: "boom"},
	}
	require.NoError(t, DumpWAL(&buf, events))
	out := buf.String()
	assert.Contains(t, out, "[seq:1] CREATE p1 queued done=0")
	assert.Contains(t, out, "(boom)")
}
