// Package state persists per-stream sync bookmarks. The model is a
// simple two-level map: stream id to bookmark key to timestamp. Several
// storage backends are supported behind one interface.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/singer-io/tap-gemini/internal/config"
)

// State is the per-stream bookmark map. Safe for concurrent use: streams
// may be synced in parallel and each persists its own bookmarks.
type State struct {
	mu        sync.RWMutex
	bookmarks map[string]map[string]string
}

// New returns an empty state.
func New() *State {
	return &State{bookmarks: make(map[string]map[string]string)}
}

// FromBookmarks builds a state from a loaded bookmark map.
func FromBookmarks(bookmarks map[string]map[string]string) *State {
	if bookmarks == nil {
		bookmarks = make(map[string]map[string]string)
	}
	return &State{bookmarks: bookmarks}
}

// Bookmark returns the stored value for a stream's bookmark key.
func (s *State) Bookmark(streamID, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.bookmarks[streamID][key]
	return value, ok
}

// SetBookmark records a bookmark value for a stream.
func (s *State) SetBookmark(streamID, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bookmarks[streamID] == nil {
		s.bookmarks[streamID] = make(map[string]string)
	}
	s.bookmarks[streamID][key] = value
}

// Snapshot returns a deep copy of the bookmark map.
func (s *State) Snapshot() map[string]map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(map[string]map[string]string, len(s.bookmarks))
	for stream, bookmarks := range s.bookmarks {
		copied := make(map[string]string, len(bookmarks))
		for key, value := range bookmarks {
			copied[key] = value
		}
		snapshot[stream] = copied
	}
	return snapshot
}

// MarshalJSON renders the state in the Singer state message layout.
func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"bookmarks": s.Snapshot(),
	})
}

// UnmarshalJSON parses the Singer state layout.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw struct {
		Bookmarks map[string]map[string]string `json:"bookmarks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Bookmarks == nil {
		raw.Bookmarks = make(map[string]map[string]string)
	}
	s.mu.Lock()
	s.bookmarks = raw.Bookmarks
	s.mu.Unlock()
	return nil
}

// Store persists state between runs. Load is called once at run start;
// Save after every window so a crash loses at most one window of
// progress.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state *State) error
	Close() error
}

// NewStore creates a state store based on configuration
func NewStore(cfg config.StateConfig) (Store, error) {
	switch cfg.Type {
	case "file":
		return NewFileStore(cfg.Path), nil
	case "dynamodb":
		return NewDynamoDBStore(cfg)
	case "mongodb":
		return NewMongoDBStore(cfg)
	case "postgresql":
		return NewPostgreSQLStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported state store type: %s", cfg.Type)
	}
}
