package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatSyncTS_ZeroMeansNever(t *testing.T) {
	assert.Equal(t, "never", formatSyncTS(0))
}

func TestFormatSyncTS_FormatsUnixSeconds(t *testing.T) {
	ts := float64(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).Unix())
	assert.Equal(t, "2026-01-02T03:04:05Z", formatSyncTS(ts))
}

func TestLockFilePresence_MissingFileIsFree(t *testing.T) {
	assert.Equal(t, "free", lockFilePresence("memu_sync_test_lock_definitely_absent"))
}
