// Package store provides durable storage for the playlist, the resume pointer and the track log.
package store

import (
	"context"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/osa030/webstream/internal/domain/playlist"
	"github.com/osa030/webstream/internal/domain/track"
	"github.com/osa030/webstream/internal/infra/config"
)

// PlaylistStore persists the ordered stream list and the resume pointer.
// Load and LoadPointer resolve an absent or corrupt record to the empty/zero value.
type PlaylistStore interface {
	Load(ctx context.Context) (playlist.Playlist, error)
	Save(ctx context.Context, pl playlist.Playlist) error
	LoadPointer(ctx context.Context) (playlist.Pointer, error)
	SavePointer(ctx context.Context, ptr playlist.Pointer) error
}

// TrackLogStore persists the age- and size-bounded log of played titles.
type TrackLogStore interface {
	Append(ctx context.Context, entry track.LogEntry, maxAgeDays int) error
	List(ctx context.Context) ([]track.LogEntry, error)
	Clear(ctx context.Context) error
}

// Store is a backend that implements both stores.
type Store interface {
	PlaylistStore
	TrackLogStore
	Close() error
}

// Open creates the backend selected by cfg.Driver.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "file", "":
		fs, err := NewFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case "sqlite":
		path := cfg.SQLitePath
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.Dir, path)
		}
		sq, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return sq, nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, errors.Newf("unsupported storage driver: %s", cfg.Driver)
	}
}
