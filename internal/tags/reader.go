package tags

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
)

// FileReader implements [Reader] with github.com/dhowden/tag (ID3v1/v2, MP4,
// FLAC, OGG, DSF).
//
// DurationMs is always 0: tag does not decode audio frames.
type FileReader struct{}

// Extract reads tags from path. A missing title falls back to the file name
// without extension, a missing album to "unknown album".
func (FileReader) Extract(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return Metadata{}, fmt.Errorf("reading tags of %s: %w", path, err)
	}

	md := Metadata{
		Artist:      clean(m.Artist()),
		Album:       clean(m.Album()),
		AlbumArtist: clean(m.AlbumArtist()),
		Title:       clean(m.Title()),
		Genre:       clean(m.Genre()),
	}

	if md.Title == "" {
		md.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	if md.Album == "" {
		md.Album = "unknown album"
	}

	return md, nil
}

// clean drops NULs and surrounding whitespace that some taggers leave in
// fixed-width fields.
func clean(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}

var _ Reader = FileReader{}
