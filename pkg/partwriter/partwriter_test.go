package partwriter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memu-sync/memu-sync/pkg/filter"
)

func messages(n int) []filter.Message {
	out := make([]filter.Message, 0, n)
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		out = append(out, filter.Message{Role: role, Text: "turn"})
	}
	return out
}

func TestWrite_ExactlyFullChunkProducesOnePartAndEmptyTail(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir, SessionID: "sess", MaxMessages: 60}

	plan, err := w.Write(messages(60))
	require.NoError(t, err)
	assert.Equal(t, 1, plan.PartCount)
	assert.Equal(t, 0, plan.TailPartMessages)

	_, err = os.Stat(w.partPath(0))
	assert.NoError(t, err)
	_, err = os.Stat(w.tailPath())
	assert.True(t, os.IsNotExist(err))
}

func TestWrite_RemainderIsStagedNotFinalized(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir, SessionID: "sess", MaxMessages: 60}

	plan, err := w.Write(messages(77))
	require.NoError(t, err)
	assert.Equal(t, 1, plan.PartCount)
	assert.Equal(t, 17, plan.TailPartMessages)

	_, err = os.Stat(w.tailPath())
	assert.NoError(t, err)
}

func TestWrite_SkipsWriteWhenContentUnchanged(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir, SessionID: "sess", MaxMessages: 60}

	first, err := w.Write(messages(60))
	require.NoError(t, err)
	assert.Len(t, first.PartsWritten, 1)

	second, err := w.Write(messages(60))
	require.NoError(t, err)
	assert.Empty(t, second.PartsWritten, "identical content must not be rewritten")
}

func TestWrite_LangPrefixAddsSystemEntry(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir, SessionID: "sess", MaxMessages: 2, LangPrefix: "Respond in Chinese."}

	_, err := w.Write(messages(2))
	require.NoError(t, err)

	data, err := os.ReadFile(w.partPath(0))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"role": "system"`)
	assert.Contains(t, string(data), "Respond in Chinese.")
}

func TestWrite_RebuildRemovesStaleHigherIndexParts(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir, SessionID: "sess", MaxMessages: 10}

	_, err := w.Write(messages(35)) // 3 parts + remainder
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := os.Stat(w.partPath(i))
		require.NoError(t, err)
	}

	_, err = w.Write(messages(12)) // rebuild: only 1 part now
	require.NoError(t, err)

	_, err = os.Stat(w.partPath(0))
	assert.NoError(t, err)
	_, err = os.Stat(w.partPath(1))
	assert.True(t, os.IsNotExist(err), "stale part index 1 must be removed")
	_, err = os.Stat(w.partPath(2))
	assert.True(t, os.IsNotExist(err), "stale part index 2 must be removed")
}

func TestWrite_DegenerateModeWritesSingleFile(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir, SessionID: "sess", MaxMessages: 0}

	plan, err := w.Write(messages(5))
	require.NoError(t, err)
	assert.Len(t, plan.PartsWritten, 1)

	_, err = os.Stat(filepath.Join(dir, "sess.json"))
	assert.NoError(t, err)
	_, err = os.Stat(w.tailPath())
	assert.True(t, os.IsNotExist(err))
}

func TestFinalizeTail_PromotesTailIntoNewPart(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir, SessionID: "sess", MaxMessages: 60}

	_, err := w.Write(messages(77))
	require.NoError(t, err)

	path, written, err := w.FinalizeTail(1, messages(17))
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, w.partPath(1), path)

	_, err = os.Stat(w.tailPath())
	assert.True(t, os.IsNotExist(err), "tail must be cleared after finalization")
}

func TestFinalizeTail_EmptyTailIsNoop(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir, SessionID: "sess", MaxMessages: 60}

	path, written, err := w.FinalizeTail(0, nil)
	require.NoError(t, err)
	assert.False(t, written)
	assert.Empty(t, path)
}
