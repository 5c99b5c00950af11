package procedure

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	fetches atomic.Int64
	delay   time.Duration
	rows    []map[string]any
	err     error
}

func (f *fakeSource) FetchRows(ctx context.Context, dataset string) ([]map[string]any, error) {
	f.fetches.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.rows, f.err
}

func procRow(id, priority string, tools ...string) map[string]any {
	triggers := make([]any, 0, len(tools))
	for _, tool := range tools {
		triggers = append(triggers, tool)
	}
	return map[string]any{
		"id":       id,
		"triggers": triggers,
		"metadata": map[string]any{"priority": priority},
		"steps":    []any{map[string]any{"toolName": "create-dataset"}},
	}
}

func TestStore_ConcurrentLoadsShareOneFetch(t *testing.T) {
	source := &fakeSource{
		delay: 50 * time.Millisecond,
		rows:  []map[string]any{procRow("PROC-A", "normal", "create-dataset")},
	}
	store := NewStore(source, StoreConfig{Dataset: "governance"}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			procs, err := store.Load(context.Background(), false)
			assert.NoError(t, err)
			assert.Len(t, procs, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), source.fetches.Load(), "concurrent loads must share one fetch")
}

func TestStore_FreshCacheSkipsFetch(t *testing.T) {
	source := &fakeSource{rows: []map[string]any{procRow("PROC-A", "normal", "create-dataset")}}
	store := NewStore(source, StoreConfig{Dataset: "governance", RefreshInterval: time.Hour}, nil)

	_, err := store.Load(context.Background(), false)
	require.NoError(t, err)
	_, err = store.Load(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, int64(1), source.fetches.Load())
}

func TestStore_FetchFailureDegradesToEmpty(t *testing.T) {
	source := &fakeSource{err: errors.New("backend down")}
	store := NewStore(source, StoreConfig{Dataset: "governance"}, nil)

	procs, err := store.Load(context.Background(), true)
	assert.NoError(t, err, "fetch failure is not fatal")
	assert.Empty(t, procs)
}

func TestStore_GetBumpsAccessStats(t *testing.T) {
	source := &fakeSource{rows: []map[string]any{procRow("PROC-A", "normal", "create-dataset")}}
	store := NewStore(source, StoreConfig{Dataset: "governance"}, nil)

	_, ok := store.Get(context.Background(), "PROC-A")
	require.True(t, ok)
	_, ok = store.Get(context.Background(), "PROC-A")
	require.True(t, ok)

	count, last, ok := store.AccessStats("PROC-A")
	require.True(t, ok)
	assert.Equal(t, 2, count)
	assert.False(t, last.IsZero())
}

func TestStore_EntryTTLExpiryTriggersReload(t *testing.T) {
	source := &fakeSource{rows: []map[string]any{procRow("PROC-A", "normal", "create-dataset")}}
	store := NewStore(source, StoreConfig{Dataset: "governance", TTL: time.Minute, RefreshInterval: time.Millisecond}, nil)

	current := time.Now()
	store.now = func() time.Time { return current }

	_, ok := store.Get(context.Background(), "PROC-A")
	require.True(t, ok)
	require.Equal(t, int64(1), source.fetches.Load())

	// Past the entry TTL the cached copy is no longer trusted.
	current = current.Add(2 * time.Minute)
	_, ok = store.Get(context.Background(), "PROC-A")
	require.True(t, ok)
	assert.Equal(t, int64(2), source.fetches.Load(), "stale entry must refetch")
}

func TestStore_LRUEviction(t *testing.T) {
	source := &fakeSource{rows: []map[string]any{
		procRow("PROC-A", "normal", "a"),
		procRow("PROC-B", "normal", "b"),
		procRow("PROC-C", "normal", "c"),
	}}
	store := NewStore(source, StoreConfig{Dataset: "governance", MaxSize: 2}, nil)

	procs, err := store.Load(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, procs, 2, "cache keeps at most max_size procedures")
}

func TestStore_FindApplicableOrdersByPriority(t *testing.T) {
	source := &fakeSource{rows: []map[string]any{
		procRow("PROC-LOW", "low", "create-dataset"),
		procRow("PROC-CRIT", "critical", "create-*"),
		procRow("PROC-HIGH", "high", "create-dataset"),
		procRow("PROC-OTHER", "critical", "run-agent"),
	}}
	store := NewStore(source, StoreConfig{Dataset: "governance"}, nil)

	matched := store.FindApplicable(context.Background(), Context{Tool: "create-dataset", Operation: "write"})
	require.Len(t, matched, 3)
	assert.Equal(t, "PROC-CRIT", matched[0].ID)
	assert.Equal(t, "PROC-HIGH", matched[1].ID)
	assert.Equal(t, "PROC-LOW", matched[2].ID)
}

func TestStore_FindApplicableSkipsDateInvalid(t *testing.T) {
	row := procRow("PROC-PAST", "normal", "create-dataset")
	row["effectiveTo"] = time.Now().Add(-time.Hour).Format(time.RFC3339)
	source := &fakeSource{rows: []map[string]any{row}}
	store := NewStore(source, StoreConfig{Dataset: "governance"}, nil)

	matched := store.FindApplicable(context.Background(), Context{Tool: "create-dataset", Operation: "write"})
	assert.Empty(t, matched)
}
