package store

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/osa030/webstream/internal/domain/playlist"
	"github.com/osa030/webstream/internal/domain/track"
)

// streamRow is one playlist entry; Position carries the playback order.
type streamRow struct {
	ID       uint   `gorm:"primaryKey"`
	Position int    `gorm:"index;not null"`
	Name     string `gorm:"not null"`
	URL      string `gorm:"not null"`
	IconURL  string
}

func (streamRow) TableName() string { return "streams" }

// pointerRow is a singleton row (ID 1).
type pointerRow struct {
	ID              uint `gorm:"primaryKey"`
	LastPlayedIndex int
	LastPlayedURL   string
	UpdatedAt       time.Time
}

func (pointerRow) TableName() string { return "pointers" }

// logRow is one track-log entry; ID order is insertion order.
type logRow struct {
	ID         uint  `gorm:"primaryKey;autoIncrement"`
	Timestamp  int64 `gorm:"index;not null"`
	RawTitle   string
	StreamName string
}

func (logRow) TableName() string { return "track_log_entries" }

const pointerRowID = 1

// SQLiteStore keeps the playlist, pointer and track log in a SQLite database.
type SQLiteStore struct {
	db  *gorm.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and migrates the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite database")
	}

	// SQLite allows a single writer; one connection keeps writes ordered.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to access sql handle")
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&streamRow{}, &pointerRow{}, &logRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "failed to migrate schema")
	}

	zlog.Debug().Msgf("store: sqlite database ready: path=%s", path)
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Load returns the playlist ordered by position.
// Query failures resolve to an empty playlist.
func (s *SQLiteStore) Load(ctx context.Context) (playlist.Playlist, error) {
	var rows []streamRow
	if err := s.db.WithContext(ctx).Order("position asc").Find(&rows).Error; err != nil {
		zlog.Warn().Err(err).Msg("store: failed to load playlist, using empty list")
		return playlist.Playlist{}, nil
	}
	pl := make(playlist.Playlist, len(rows))
	for i, r := range rows {
		pl[i] = playlist.Stream{Name: r.Name, URL: r.URL, IconURL: r.IconURL}
	}
	return pl, nil
}

// Save replaces every playlist row in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, pl playlist.Playlist) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&streamRow{}).Error; err != nil {
			return errors.Wrap(err, "failed to clear playlist")
		}
		if len(pl) == 0 {
			return nil
		}
		rows := make([]streamRow, len(pl))
		for i, st := range pl {
			rows[i] = streamRow{Position: i, Name: st.Name, URL: st.URL, IconURL: st.IconURL}
		}
		if err := tx.Create(&rows).Error; err != nil {
			return errors.Wrap(err, "failed to insert playlist")
		}
		return nil
	})
}

// LoadPointer returns the resume pointer, or the zero pointer.
func (s *SQLiteStore) LoadPointer(ctx context.Context) (playlist.Pointer, error) {
	var row pointerRow
	err := s.db.WithContext(ctx).Limit(1).Find(&row, pointerRowID).Error
	if err != nil {
		zlog.Warn().Err(err).Msg("store: failed to load pointer, using default")
		return playlist.Pointer{}, nil
	}
	return playlist.Pointer{Index: row.LastPlayedIndex, URL: row.LastPlayedURL}, nil
}

// SavePointer upserts the resume pointer.
func (s *SQLiteStore) SavePointer(ctx context.Context, ptr playlist.Pointer) error {
	row := pointerRow{
		ID:              pointerRowID,
		LastPlayedIndex: ptr.Index,
		LastPlayedURL:   ptr.URL,
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return errors.Wrap(err, "failed to save pointer")
	}
	return nil
}

// Append evicts stale entries, inserts entry and trims the oldest rows above the cap,
// all in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, entry track.LogEntry, maxAgeDays int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if maxAgeDays > 0 {
			cutoff := s.now().UnixMilli() - int64(maxAgeDays)*track.DayMillis
			if err := tx.Where("timestamp < ?", cutoff).Delete(&logRow{}).Error; err != nil {
				return errors.Wrap(err, "failed to evict stale entries")
			}
		}

		row := logRow{Timestamp: entry.Timestamp, RawTitle: entry.RawTitle, StreamName: entry.StreamName}
		if err := tx.Create(&row).Error; err != nil {
			return errors.Wrap(err, "failed to insert entry")
		}

		var count int64
		if err := tx.Model(&logRow{}).Count(&count).Error; err != nil {
			return errors.Wrap(err, "failed to count entries")
		}
		excess := count - track.MaxLogEntries
		if excess <= 0 {
			return nil
		}

		var ids []uint
		if err := tx.Model(&logRow{}).Order("id asc").Limit(int(excess)).Pluck("id", &ids).Error; err != nil {
			return errors.Wrap(err, "failed to select oldest entries")
		}
		if err := tx.Delete(&logRow{}, ids).Error; err != nil {
			return errors.Wrap(err, "failed to trim entries")
		}
		return nil
	})
}

// List returns the log in insertion order.
func (s *SQLiteStore) List(ctx context.Context) ([]track.LogEntry, error) {
	var rows []logRow
	if err := s.db.WithContext(ctx).Order("id asc").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list track log")
	}
	entries := make([]track.LogEntry, len(rows))
	for i, r := range rows {
		entries[i] = track.LogEntry{Timestamp: r.Timestamp, RawTitle: r.RawTitle, StreamName: r.StreamName}
	}
	return entries, nil
}

// Clear removes all entries.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("1 = 1").Delete(&logRow{}).Error; err != nil {
		return errors.Wrap(err, "failed to clear track log")
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "failed to access sql handle")
	}
	return sqlDB.Close()
}
