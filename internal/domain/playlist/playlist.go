// Package playlist provides the Stream, Playlist and Pointer domain entities.
package playlist

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Stream represents a single internet-radio station.
// Identity is positional; URL acts as the natural key when resuming.
type Stream struct {
	Name    string `json:"name"`    // Display name
	URL     string `json:"url"`     // Stream URL (may point to a .pls/.m3u file)
	IconURL string `json:"iconUrl"` // Station logo URL
}

// Validate checks that the stream can be played.
func (s Stream) Validate() error {
	if strings.TrimSpace(s.URL) == "" {
		return errors.New("stream url is required")
	}
	return nil
}

// DisplayName returns the name, falling back to the URL.
func (s Stream) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.URL
}

// Playlist is an ordered list of streams. Order is playback order.
type Playlist []Stream

// Pointer is the persisted resume point.
type Pointer struct {
	Index int    `json:"lastPlayedIndex"`
	URL   string `json:"lastPlayedUrl"`
}

// Len returns the number of streams.
func (p Playlist) Len() int {
	return len(p)
}

// InRange reports whether i is a valid index.
func (p Playlist) InRange(i int) bool {
	return i >= 0 && i < len(p)
}

// IndexOfURL returns the first position whose URL equals url, or -1.
func (p Playlist) IndexOfURL(url string) int {
	if url == "" {
		return -1
	}
	for i, s := range p {
		if s.URL == url {
			return i
		}
	}
	return -1
}

// Next returns the index after i, wrapping to 0 at the end.
func (p Playlist) Next(i int) int {
	if len(p) == 0 {
		return -1
	}
	if i < 0 || i+1 >= len(p) {
		return 0
	}
	return i + 1
}

// Previous returns the index before i, wrapping to the last entry at 0.
func (p Playlist) Previous(i int) int {
	if len(p) == 0 {
		return -1
	}
	if i <= 0 || i > len(p) {
		return len(p) - 1
	}
	return i - 1
}

// Clone returns an independent copy.
func (p Playlist) Clone() Playlist {
	if p == nil {
		return Playlist{}
	}
	out := make(Playlist, len(p))
	copy(out, p)
	return out
}

// URLs returns the stream URLs in playback order.
func (p Playlist) URLs() []string {
	urls := make([]string, len(p))
	for i, s := range p {
		urls[i] = s.URL
	}
	return urls
}

// PointerAt builds the pointer for position i.
func (p Playlist) PointerAt(i int) Pointer {
	if !p.InRange(i) {
		return Pointer{}
	}
	return Pointer{Index: i, URL: p[i].URL}
}

// ResolveResumeIndex picks the index to resume from after a cold start.
// A URL match wins over the persisted numeric index; an out-of-range index falls back to 0.
// Returns -1 for an empty playlist.
func ResolveResumeIndex(p Playlist, ptr Pointer) int {
	if len(p) == 0 {
		return -1
	}
	if i := p.IndexOfURL(ptr.URL); i >= 0 {
		return i
	}
	if p.InRange(ptr.Index) {
		return ptr.Index
	}
	return 0
}

// ResolveReplacedIndex re-derives the current index against an edited playlist.
// Edits are positional, so the old position is kept when it still exists.
func ResolveReplacedIndex(p Playlist, current int) int {
	if len(p) == 0 {
		return -1
	}
	if p.InRange(current) {
		return current
	}
	return 0
}
