package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/singer-io/tap-gemini/internal/config"
)

func TestFileStore_LoadMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "state.json"))

	s, err := store.Load(context.Background())

	require.NoError(t, err)
	_, ok := s.Bookmark("performance_stats", "start_date")
	assert.False(t, ok, "first run starts with an empty state")
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(path)

	s := New()
	s.SetBookmark("performance_stats", "start_date", "2024-01-16T00:00:00Z")
	s.SetBookmark("keyword_stats", "start_date", "2024-02-01T00:00:00Z")
	require.NoError(t, store.Save(context.Background(), s))

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)

	value, ok := loaded.Bookmark("performance_stats", "start_date")
	require.True(t, ok)
	assert.Equal(t, "2024-01-16T00:00:00Z", value)
	assert.Equal(t, s.Snapshot(), loaded.Snapshot())
}

func TestFileStore_SaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(path)

	s := New()
	s.SetBookmark("performance_stats", "start_date", "2024-01-01T00:00:00Z")
	require.NoError(t, store.Save(context.Background(), s))

	s.SetBookmark("performance_stats", "start_date", "2024-01-16T00:00:00Z")
	require.NoError(t, store.Save(context.Background(), s))

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	value, _ := loaded.Bookmark("performance_stats", "start_date")
	assert.Equal(t, "2024-01-16T00:00:00Z", value)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStore_LoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFileStore(path).Load(context.Background())
	require.Error(t, err)
}

func TestState_MarshalLayout(t *testing.T) {
	s := New()
	s.SetBookmark("performance_stats", "start_date", "2024-01-16T00:00:00Z")

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"bookmarks":{"performance_stats":{"start_date":"2024-01-16T00:00:00Z"}}}`, string(data))

	var loaded State
	require.NoError(t, json.Unmarshal(data, &loaded))
	value, ok := loaded.Bookmark("performance_stats", "start_date")
	require.True(t, ok)
	assert.Equal(t, "2024-01-16T00:00:00Z", value)
}

func TestNewStore_UnsupportedType(t *testing.T) {
	_, err := NewStore(config.StateConfig{Type: "etcd"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported state store type")
}

func TestNewStore_File(t *testing.T) {
	store, err := NewStore(config.StateConfig{
		Type: "file",
		Path: filepath.Join(t.TempDir(), "state.json"),
	})
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.(*FileStore)
	assert.True(t, ok)
}
