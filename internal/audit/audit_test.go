package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T, cfg Config) *Log {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	if cfg.FlushInterval == 0 {
		// Keep the background loop out of the way so tests control flushes.
		cfg.FlushInterval = time.Hour
	}
	l := New(cfg, nil, nil)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func readEntries(t *testing.T, dir string) []Entry {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "audit-*.jsonl"))
	require.NoError(t, err)

	var entries []Entry
	for _, path := range matches {
		file, err := os.Open(path)
		require.NoError(t, err)
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			var entry Entry
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
			entries = append(entries, entry)
		}
		require.NoError(t, scanner.Err())
		require.NoError(t, file.Close())
	}
	return entries
}

func TestLog_RecordBuffersWithoutIO(t *testing.T) {
	dir := t.TempDir()
	l := newTestLog(t, Config{Dir: dir, BufferSize: 100})

	l.Record(Entry{Type: TypeToolCall, Tool: "get-datasets", Result: "allow"})

	matches, err := filepath.Glob(filepath.Join(dir, "audit-*.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, matches, "buffered entries must not hit disk")

	recent := l.Recent(10, nil)
	require.Len(t, recent, 1)
	assert.Equal(t, "get-datasets", recent[0].Tool)
}

func TestLog_CloseFlushesBuffer(t *testing.T) {
	dir := t.TempDir()
	l := newTestLog(t, Config{Dir: dir, BufferSize: 100})

	l.Record(Entry{Type: TypeToolCall, Tool: "get-datasets", Result: "allow"})
	l.Record(Entry{Type: TypeAuthorization, Tool: "create-dataset", Result: "deny"})
	require.NoError(t, l.Close())

	entries := readEntries(t, dir)
	require.Len(t, entries, 2)
	assert.Equal(t, TypeToolCall, entries[0].Type)
	assert.Equal(t, TypeAuthorization, entries[1].Type)
	assert.Equal(t, SeverityInfo, entries[0].Severity)
}

func TestLog_ViolationFlushesSynchronously(t *testing.T) {
	dir := t.TempDir()
	l := newTestLog(t, Config{Dir: dir, BufferSize: 100})

	l.Record(Entry{Type: TypeToolCall, Tool: "get-datasets", Result: "allow"})
	l.RecordViolation(Violation{
		Type:          "RUNID_HIJACK",
		AttemptedTool: "create-dataset",
		RunID:         "run-1",
		Message:       "run does not govern tool",
	})

	// The violation and everything buffered before it are on disk already.
	entries := readEntries(t, dir)
	require.Len(t, entries, 2)
	violation := entries[1]
	assert.Equal(t, TypeViolation, violation.Type)
	assert.Equal(t, SeverityCritical, violation.Severity)
	assert.Equal(t, "deny", violation.Result)
	assert.Equal(t, "RUNID_HIJACK", violation.Metadata["violation_type"])

	got := l.SecurityViolations(10)
	require.Len(t, got, 1)
	assert.Equal(t, "create-dataset", got[0].AttemptedTool)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestLog_HashChainLinksRecords(t *testing.T) {
	dir := t.TempDir()
	l := newTestLog(t, Config{Dir: dir, BufferSize: 100})

	l.Record(Entry{Type: TypeRun, RunID: "run-1", Result: "started"})
	l.Record(Entry{Type: TypeStep, RunID: "run-1", Result: "success"})
	l.Record(Entry{Type: TypeRun, RunID: "run-1", Result: "completed"})
	require.NoError(t, l.Close())

	entries := readEntries(t, dir)
	require.Len(t, entries, 3)

	assert.Empty(t, entries[0].PrevHash)
	for i, entry := range entries {
		require.NotEmpty(t, entry.RecordHash)
		if i > 0 {
			assert.Equal(t, entries[i-1].RecordHash, entry.PrevHash, "entry %d", i)
		}
		recomputed, err := recordHash(entry, entry.PrevHash)
		require.NoError(t, err)
		assert.Equal(t, entry.RecordHash, recomputed, "entry %d", i)
	}
}

func TestLog_TamperedRecordBreaksChain(t *testing.T) {
	dir := t.TempDir()
	l := newTestLog(t, Config{Dir: dir, BufferSize: 100})

	l.Record(Entry{Type: TypeToolCall, Tool: "create-dataset", Result: "allow"})
	require.NoError(t, l.Close())

	entries := readEntries(t, dir)
	require.Len(t, entries, 1)

	tampered := entries[0]
	tampered.Result = "deny"
	recomputed, err := recordHash(tampered, tampered.PrevHash)
	require.NoError(t, err)
	assert.NotEqual(t, entries[0].RecordHash, recomputed)
}

func TestLog_RecentRespectsLimitAndFilter(t *testing.T) {
	l := newTestLog(t, Config{BufferSize: 100, RecentLimit: 4})

	for i := 0; i < 6; i++ {
		typ := TypeToolCall
		if i%2 == 0 {
			typ = TypeStep
		}
		l.Record(Entry{Type: typ, RunID: "run-1"})
	}

	all := l.Recent(10, nil)
	assert.Len(t, all, 4)

	steps := l.Recent(10, func(e Entry) bool { return e.Type == TypeStep })
	assert.Len(t, steps, 2)

	capped := l.Recent(1, nil)
	assert.Len(t, capped, 1)
}

func TestLog_CloseIsIdempotent(t *testing.T) {
	l := New(Config{Dir: t.TempDir()}, nil, nil)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}

func TestLog_ViolationsCappedAtRecentLimit(t *testing.T) {
	l := newTestLog(t, Config{BufferSize: 100, RecentLimit: 3})

	for i := 0; i < 5; i++ {
		l.RecordViolation(Violation{Type: "RUNID_HIJACK", AttemptedTool: fmt.Sprintf("tool-%d", i)})
	}

	got := l.SecurityViolations(0)
	require.Len(t, got, 3)
	assert.Equal(t, "tool-2", got[0].AttemptedTool)
	assert.Equal(t, "tool-4", got[2].AttemptedTool)
}

func TestLog_FailedFlushDoesNotRewriteEntries(t *testing.T) {
	dir := t.TempDir()
	l := newTestLog(t, Config{Dir: dir, BufferSize: 100})

	l.Record(Entry{Type: TypeToolCall, Tool: "get-datasets", Result: "allow"})
	// A channel cannot be JSON-encoded, so the flush fails mid-batch.
	l.Record(Entry{Type: TypeToolCall, Tool: "broken", Metadata: map[string]any{"ch": make(chan int)}})

	l.mu.Lock()
	err := l.flushLocked()
	l.mu.Unlock()
	require.Error(t, err)

	entries := readEntries(t, dir)
	require.Len(t, entries, 1)
	assert.Equal(t, "get-datasets", entries[0].Tool)

	// Retrying must not re-write what is already on disk.
	l.mu.Lock()
	err = l.flushLocked()
	l.mu.Unlock()
	require.Error(t, err)

	entries = readEntries(t, dir)
	require.Len(t, entries, 1)
}
