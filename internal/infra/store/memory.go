package store

import (
	"context"
	"sync"
	"time"

	"github.com/osa030/webstream/internal/domain/playlist"
	"github.com/osa030/webstream/internal/domain/track"
)

// MemoryStore is a volatile store for tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.Mutex
	playlist playlist.Playlist
	pointer  playlist.Pointer
	entries  []track.LogEntry
	now      func() time.Time

	pointerWrites []playlist.Pointer
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// Load returns a copy of the playlist.
func (s *MemoryStore) Load(ctx context.Context) (playlist.Playlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playlist.Clone(), nil
}

// Save replaces the playlist.
func (s *MemoryStore) Save(ctx context.Context, pl playlist.Playlist) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playlist = pl.Clone()
	return nil
}

// LoadPointer returns the pointer.
func (s *MemoryStore) LoadPointer(ctx context.Context) (playlist.Pointer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pointer, nil
}

// SavePointer replaces the pointer and records the write.
func (s *MemoryStore) SavePointer(ctx context.Context, ptr playlist.Pointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pointer = ptr
	s.pointerWrites = append(s.pointerWrites, ptr)
	return nil
}

// PointerWrites returns every pointer saved so far, in order.
func (s *MemoryStore) PointerWrites() []playlist.Pointer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]playlist.Pointer, len(s.pointerWrites))
	copy(out, s.pointerWrites)
	return out
}

// Append adds an entry under the retention policy.
func (s *MemoryStore) Append(ctx context.Context, entry track.LogEntry, maxAgeDays int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = track.ApplyRetention(s.entries, s.now(), maxAgeDays, entry)
	return nil
}

// List returns a copy of the log.
func (s *MemoryStore) List(ctx context.Context) ([]track.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]track.LogEntry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// Clear removes all entries.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
