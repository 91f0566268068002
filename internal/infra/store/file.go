package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/webstream/internal/domain/playlist"
	"github.com/osa030/webstream/internal/domain/track"
)

const (
	playlistFile = "streams.json"
	pointerFile  = "pointer.json"
	trackLogFile = "tracklog.json"
)

// FileStore keeps each record in its own JSON file under one directory.
// Every write goes to a temporary file that is renamed over the target.
type FileStore struct {
	dir string
	now func() time.Time

	// mu serializes playlist and pointer writes; logMu covers the
	// read-modify-write cycle of the track log.
	mu    sync.Mutex
	logMu sync.Mutex
}

// NewFileStore creates a file store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("storage directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrap(err, "failed to create storage directory")
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

// Load returns the persisted playlist, or an empty one.
func (s *FileStore) Load(ctx context.Context) (playlist.Playlist, error) {
	var pl playlist.Playlist
	if !s.read(playlistFile, &pl) || pl == nil {
		return playlist.Playlist{}, nil
	}
	return pl, nil
}

// Save atomically overwrites the playlist.
func (s *FileStore) Save(ctx context.Context, pl playlist.Playlist) error {
	if pl == nil {
		pl = playlist.Playlist{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(playlistFile, pl)
}

// LoadPointer returns the persisted resume pointer, or the zero pointer.
func (s *FileStore) LoadPointer(ctx context.Context) (playlist.Pointer, error) {
	var ptr playlist.Pointer
	if !s.read(pointerFile, &ptr) {
		return playlist.Pointer{}, nil
	}
	return ptr, nil
}

// SavePointer persists the resume pointer.
func (s *FileStore) SavePointer(ctx context.Context, ptr playlist.Pointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(pointerFile, ptr)
}

// Append adds an entry under the retention policy.
func (s *FileStore) Append(ctx context.Context, entry track.LogEntry, maxAgeDays int) error {
	s.logMu.Lock()
	defer s.logMu.Unlock()

	var entries []track.LogEntry
	s.read(trackLogFile, &entries)

	return s.write(trackLogFile, track.ApplyRetention(entries, s.now(), maxAgeDays, entry))
}

// List returns the log in chronological order.
func (s *FileStore) List(ctx context.Context) ([]track.LogEntry, error) {
	s.logMu.Lock()
	defer s.logMu.Unlock()

	var entries []track.LogEntry
	if !s.read(trackLogFile, &entries) || entries == nil {
		return []track.LogEntry{}, nil
	}
	return entries, nil
}

// Clear removes all entries.
func (s *FileStore) Clear(ctx context.Context) error {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	return s.write(trackLogFile, []track.LogEntry{})
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

// read decodes name into v. It returns false when the record is absent or unreadable;
// corruption is logged and treated as absent.
func (s *FileStore) read(name string, v any) bool {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			zlog.Warn().Err(err).Msgf("store: failed to read %s, using default", name)
		}
		return false
	}
	if len(data) == 0 {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		zlog.Warn().Err(err).Msgf("store: corrupt record %s, using default", name)
		return false
	}
	return true
}

func (s *FileStore) write(name string, v any) error {
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", name)
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "failed to write %s", name)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "failed to replace %s", name)
	}
	return nil
}
