package store

import (
	"encoding/json"
	"io"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/webstream/internal/domain/playlist"
)

// ImportMode controls how imported streams combine with the existing list.
type ImportMode string

const (
	ImportAppend  ImportMode = "append"
	ImportReplace ImportMode = "replace"
)

// ImportResult summarizes an import.
type ImportResult struct {
	Imported int
	Skipped  int
	Total    int
}

// ImportPlaylist decodes a JSON array of streams from r and merges it into existing.
// Entries without a URL are skipped.
func ImportPlaylist(existing playlist.Playlist, r io.Reader, mode ImportMode) (playlist.Playlist, ImportResult, error) {
	var incoming []playlist.Stream
	if err := json.NewDecoder(r).Decode(&incoming); err != nil {
		return nil, ImportResult{}, errors.Wrap(err, "failed to decode playlist")
	}

	var out playlist.Playlist
	switch mode {
	case ImportAppend, "":
		out = existing.Clone()
	case ImportReplace:
		out = playlist.Playlist{}
	default:
		return nil, ImportResult{}, errors.Newf("unsupported import mode: %s", mode)
	}

	var res ImportResult
	for i, st := range incoming {
		if err := st.Validate(); err != nil {
			zlog.Warn().Msgf("store: skipping imported stream: index=%d name=%q reason=%v", i, st.Name, err)
			res.Skipped++
			continue
		}
		out = append(out, st)
		res.Imported++
	}
	res.Total = len(out)
	return out, res, nil
}

// ExportPlaylist writes pl as an indented JSON array.
func ExportPlaylist(w io.Writer, pl playlist.Playlist) error {
	if pl == nil {
		pl = playlist.Playlist{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(pl); err != nil {
		return errors.Wrap(err, "failed to encode playlist")
	}
	return nil
}
