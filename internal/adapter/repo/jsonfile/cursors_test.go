package jsonfile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/feedback-analyzer/internal/adapter/repo/jsonfile"
)

func TestCursorStore_GetAbsentIsZero(t *testing.T) {
	t.Parallel()
	store := jsonfile.NewCursorStore(filepath.Join(t.TempDir(), "cursors.json"))
	assert.EqualValues(t, 0, store.Get("jobA"))
}

func TestCursorStore_UpdateSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "cursors.json")
	store := jsonfile.NewCursorStore(path)
	require.NoError(t, store.Update("jobA", 5))
	require.NoError(t, store.Update("jobB", 9))
	require.NoError(t, store.Update("jobA", 7))

	reopened := jsonfile.NewCursorStore(path)
	assert.EqualValues(t, 7, reopened.Get("jobA"))
	assert.EqualValues(t, 9, reopened.Get("jobB"))
	assert.Equal(t, map[string]int64{"jobA": 7, "jobB": 9}, reopened.All())
}

func TestCursorStore_CorruptFileStartsEmpty(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cursors.json")
	require.NoError(t, os.WriteFile(path, []byte("not json at all"), 0o644))
	store := jsonfile.NewCursorStore(path)
	assert.Empty(t, store.All())
	assert.EqualValues(t, 0, store.Get("jobA"))
}

func TestCursorStore_AllReturnsSnapshot(t *testing.T) {
	t.Parallel()
	store := jsonfile.NewCursorStore(filepath.Join(t.TempDir(), "cursors.json"))
	require.NoError(t, store.Update("jobA", 1))
	snap := store.All()
	snap["jobA"] = 99
	assert.EqualValues(t, 1, store.Get("jobA"))
}
