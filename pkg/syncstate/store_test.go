package syncstate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memu-sync/memu-sync/pkg/backoff"
)

func TestLoadGlobalState_MissingFileReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	state := LoadGlobalState(path)
	assert.Equal(t, CurrentVersion, state.Version)
	assert.Empty(t, state.Sessions)
}

func TestLoadGlobalState_CorruptFileReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	state := LoadGlobalState(path)
	assert.Equal(t, CurrentVersion, state.Version)
}

func TestSaveAndLoadGlobalState_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations", "state.json")

	state := NewGlobalState()
	state.Sessions["main"] = Cursor{FilePath: "/sessions/main.jsonl", LastOffset: 1024, PartCount: 2}

	require.NoError(t, SaveGlobalState(path, state))

	loaded := LoadGlobalState(path)
	assert.Equal(t, CurrentVersion, loaded.Version)
	assert.Equal(t, int64(1024), loaded.Sessions["main"].LastOffset)
	assert.Equal(t, 2, loaded.Sessions["main"].PartCount)

	// temp file must not survive a successful save.
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestLoadGlobalState_PredecessorVersionMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"version":3,"sessions":{"s1":{"file_path":"/a.jsonl","last_offset":5}}}`), 0o644))

	loaded := LoadGlobalState(path)
	assert.Equal(t, CurrentVersion, loaded.Version)
	assert.Equal(t, int64(5), loaded.Sessions["s1"].LastOffset)
}

func TestLoadGlobalState_UnknownVersionDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"version":1,"sessions":{"s1":{"last_offset":5}}}`), 0o644))

	loaded := LoadGlobalState(path)
	assert.Equal(t, CurrentVersion, loaded.Version)
	assert.Empty(t, loaded.Sessions)
}

func TestMergeQueue_DedupesPreservingOrder(t *testing.T) {
	existing := []string{"/a/part001.json", "/a/part002.json"}
	incoming := []string{"/a/part002.json", "/a/part003.json"}

	merged := MergeQueue(existing, incoming)
	assert.Equal(t, []string{"/a/part001.json", "/a/part002.json", "/a/part003.json"}, merged)
}

func TestPendingQueue_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending_ingest.json")

	require.NoError(t, SavePendingQueue(path, PendingQueue{Paths: []string{"/a/part001.json"}}))

	loaded := LoadPendingQueue(path)
	assert.Equal(t, 1, loaded.Version)
	assert.Equal(t, []string{"/a/part001.json"}, loaded.Paths)
}

func TestBackoffState_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending_backoff.json")

	s := backoff.Cleared().Arm(backoff.Config{BaseSeconds: 60, MaxSeconds: 900}, time.Unix(1_700_000_000, 0))
	require.NoError(t, SaveBackoff(path, s))

	loaded := LoadBackoff(path)
	assert.Equal(t, 1, loaded.ConsecutiveRateLimits)
	assert.Equal(t, backoff.ReasonRateLimit, loaded.Reason)
}

func TestBackoffState_MissingFileIsCleared(t *testing.T) {
	loaded := LoadBackoff(filepath.Join(t.TempDir(), "pending_backoff.json"))
	assert.Equal(t, backoff.Cleared(), loaded)
}

func TestLastSyncTS_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_sync_ts")
	require.NoError(t, SaveLastSyncTS(path, 1_700_000_123.5))
	assert.InDelta(t, 1_700_000_123.5, LoadLastSyncTS(path), 0.001)
}

func TestLastSyncTS_MissingFileIsZero(t *testing.T) {
	assert.Equal(t, float64(0), LoadLastSyncTS(filepath.Join(t.TempDir(), "last_sync_ts")))
}

func TestFullScanMarker_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs_full_scan.marker")
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, SaveFullScanMarker(path, now))

	loaded, ok := LoadFullScanMarker(path)
	require.True(t, ok)
	assert.True(t, loaded.Equal(now))
}

func TestFullScanMarker_MissingFile(t *testing.T) {
	_, ok := LoadFullScanMarker(filepath.Join(t.TempDir(), "docs_full_scan.marker"))
	assert.False(t, ok)
}
