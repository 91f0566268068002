// Package track provides the track-log entry and title metadata entities.
package track

import (
	"strings"
	"time"
)

const (
	// MaxLogEntries is the hard cap on stored track-log entries.
	MaxLogEntries = 8000
	// DayMillis is one day in milliseconds.
	DayMillis int64 = 86400000
)

// LogEntry represents a single played title.
type LogEntry struct {
	Timestamp  int64  `json:"timestamp"`  // Milliseconds since epoch
	RawTitle   string `json:"rawTitle"`   // Title as broadcast by the station
	StreamName string `json:"streamName"` // Station that played it
}

// NewLogEntry creates an entry stamped with t.
func NewLogEntry(t time.Time, rawTitle, streamName string) LogEntry {
	return LogEntry{
		Timestamp:  t.UnixMilli(),
		RawTitle:   rawTitle,
		StreamName: streamName,
	}
}

// Time returns the entry timestamp.
func (e LogEntry) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Info is the result of title enrichment.
type Info struct {
	RawTitle   string `json:"rawTitle"`
	Artist     string `json:"artist,omitempty"`
	Title      string `json:"title,omitempty"`
	ArtworkURL string `json:"artworkUrl,omitempty"`
}

// Enriched reports whether any attribution was found.
func (i Info) Enriched() bool {
	return i.Artist != "" || i.Title != ""
}

// DisplayTitle returns "Artist - Title" when attributed, otherwise the raw title.
func (i Info) DisplayTitle() string {
	if !i.Enriched() {
		return i.RawTitle
	}
	if i.Artist == "" {
		return i.Title
	}
	if i.Title == "" {
		return i.Artist
	}
	return i.Artist + " - " + i.Title
}

// SplitArtistTitle splits "A - B" into artist and title.
// Stations are inconsistent about the order, so the shorter part is taken as the artist.
func SplitArtistTitle(raw string) (artist, title string, ok bool) {
	parts := strings.Split(raw, " - ")
	if len(parts) < 2 {
		return "", "", false
	}
	first := strings.TrimSpace(parts[0])
	second := strings.TrimSpace(parts[1])
	if first == "" || second == "" {
		return "", "", false
	}
	if len(first) <= len(second) {
		return first, second, true
	}
	return second, first, true
}

// ApplyRetention returns the log after appending entry under the retention policy.
// Entries older than maxAgeDays are evicted first (skipped when maxAgeDays <= 0),
// then the entry is appended and the oldest entries are dropped above MaxLogEntries.
func ApplyRetention(entries []LogEntry, now time.Time, maxAgeDays int, entry LogEntry) []LogEntry {
	kept := make([]LogEntry, 0, len(entries)+1)
	if maxAgeDays > 0 {
		cutoff := now.UnixMilli() - int64(maxAgeDays)*DayMillis
		for _, e := range entries {
			if e.Timestamp >= cutoff {
				kept = append(kept, e)
			}
		}
	} else {
		kept = append(kept, entries...)
	}

	kept = append(kept, entry)

	if len(kept) > MaxLogEntries {
		kept = kept[len(kept)-MaxLogEntries:]
	}
	return kept
}
