package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/calvinalkan/musiclib/internal/dsv"
	"github.com/calvinalkan/musiclib/internal/tags"
)

// MaxStars is the highest rating.
const MaxStars = 5

// popm maps star ratings to the POPM rating byte.
var popm = [MaxStars + 1]int{0, 1, 64, 128, 196, 255}

// Rate sets a track's rating to stars (0-5): Rating holds the POPM byte and
// GroupDesc the star count.
func (l *Library) Rate(ctx context.Context, origin, path string, stars int) (Outcome, error) {
	m, err := l.rateMutation(path, stars)
	if err != nil {
		return Outcome{}, err
	}

	return l.run(ctx, origin, m, l.timeouts.Interactive, l.timeouts.Retries)
}

// SetField sets column to value for the track at path.
func (l *Library) SetField(ctx context.Context, origin, path, column, value string) (Outcome, error) {
	m, err := l.setMutation(path, column, value)
	if err != nil {
		return Outcome{}, err
	}

	return l.run(ctx, origin, m, l.timeouts.Interactive, l.timeouts.Retries)
}

// MarkPlayed records a play at time at. It makes one short attempt and
// defers on timeout, so background callers are never blocked.
func (l *Library) MarkPlayed(ctx context.Context, origin, path string, at time.Time) (Outcome, error) {
	m, err := l.playedMutation(path, at.Unix())
	if err != nil {
		return Outcome{}, err
	}

	return l.run(ctx, origin, m, l.timeouts.Background, 0)
}

// Import adds the track at path using its tag metadata. A path already in
// the store is a no-op with Changed false.
func (l *Library) Import(ctx context.Context, origin, path string) (Outcome, error) {
	m, err := l.importMutation(path)
	if err != nil {
		return Outcome{}, err
	}

	return l.run(ctx, origin, m, l.timeouts.Interactive, l.timeouts.Retries)
}

// Delete removes the track at path. It fails with [dsv.ErrNotFound] or
// [dsv.ErrAmbiguous] without touching the store.
func (l *Library) Delete(ctx context.Context, origin, path string) (Outcome, error) {
	m, err := l.deleteMutation(path)
	if err != nil {
		return Outcome{}, err
	}

	return l.run(ctx, origin, m, l.timeouts.Interactive, l.timeouts.Retries)
}

func (l *Library) rateMutation(path string, stars int) (*mutation, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}

	if stars < 0 || stars > MaxStars {
		return nil, fmt.Errorf("%w: rating must be 0-%d, got %d", ErrInvalid, MaxStars, stars)
	}

	rating := strconv.Itoa(popm[stars])
	group := strconv.Itoa(stars)

	return &mutation{
		op:   OpRate,
		path: path,
		args: []string{path, group},
		apply: func(t *dsv.Table) (bool, error) {
			row, err := t.FindExact(path)
			if err != nil {
				return false, err
			}

			err = t.SetColumn(row, dsv.ColRating, rating)
			if err != nil {
				return false, err
			}

			return true, t.SetColumn(row, dsv.ColGroupDesc, group)
		},
		tags: []tagField{{tags.KeyRating, rating}, {tags.KeyGrouping, group}},
	}, nil
}

func (l *Library) setMutation(path, column, value string) (*mutation, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}

	switch column {
	case "":
		return nil, fmt.Errorf("%w: column is required", ErrInvalid)
	case dsv.ColID, dsv.ColAlbumID, dsv.ColPath:
		return nil, fmt.Errorf("%w: column %s is managed by the store", ErrInvalid, column)
	}

	return &mutation{
		op:   OpSet,
		path: path,
		args: []string{path, column, value},
		apply: func(t *dsv.Table) (bool, error) {
			row, err := t.FindExact(path)
			if err != nil {
				return false, err
			}

			return true, t.SetColumn(row, column, value)
		},
	}, nil
}

func (l *Library) playedMutation(path string, at int64) (*mutation, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}

	if at <= 0 {
		return nil, fmt.Errorf("%w: play time must be a positive unix time", ErrInvalid)
	}

	value := strconv.FormatInt(at, 10)

	return &mutation{
		op:   OpPlayed,
		path: path,
		args: []string{path, value},
		apply: func(t *dsv.Table) (bool, error) {
			row, err := t.FindExact(path)
			if err != nil {
				return false, err
			}

			return true, t.SetColumn(row, dsv.ColLastPlayed, value)
		},
		tags: []tagField{{tags.KeyLastPlayed, value}},
	}, nil
}

func (l *Library) importMutation(path string) (*mutation, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}

	md, err := l.metadata(path)
	if err != nil {
		return nil, err
	}

	delim := string(l.store.Delimiter())
	values := map[string]string{
		dsv.ColPath:        path,
		dsv.ColArtist:      sanitize(md.Artist, delim),
		dsv.ColAlbum:       sanitize(md.Album, delim),
		dsv.ColAlbumArtist: sanitize(md.AlbumArtist, delim),
		dsv.ColTitle:       sanitize(md.Title, delim),
		dsv.ColGenre:       sanitize(md.Genre, delim),
	}

	if md.DurationMs > 0 {
		values[dsv.ColLength] = strconv.FormatInt(md.DurationMs, 10)
	}

	m := &mutation{
		op:   OpImport,
		path: path,
		args: []string{path},
	}

	m.apply = func(t *dsv.Table) (bool, error) {
		row := make(map[string]string, len(values))

		for name, v := range values {
			// Optional columns may be absent from older tables.
			if _, err := t.Column(name); err != nil && name != dsv.ColPath && name != dsv.ColAlbum {
				continue
			}

			row[name] = v
		}

		res, err := t.Append(row)
		if err != nil {
			return false, err
		}

		m.id = res.ID

		return res.Added, nil
	}

	return m, nil
}

func (l *Library) deleteMutation(path string) (*mutation, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}

	return &mutation{
		op:   OpDelete,
		path: path,
		args: []string{path},
		apply: func(t *dsv.Table) (bool, error) {
			return true, t.DeleteExact(path)
		},
	}, nil
}

// metadata reads tags from path. An existing file without readable tags
// gets the fallback title and album.
func (l *Library) metadata(path string) (tags.Metadata, error) {
	md, err := l.reader.Extract(path)
	if err == nil {
		return md, nil
	}

	if errors.Is(err, os.ErrNotExist) {
		return tags.Metadata{}, fmt.Errorf("%w: %s does not exist", ErrInvalid, path)
	}

	l.log.WithField("track_path", path).WithError(err).Warn("no readable tags, importing with defaults")

	return tags.Metadata{
		Title: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Album: "unknown album",
	}, nil
}

func checkPath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: track path is required", ErrInvalid)
	}

	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: track path must be absolute: %s", ErrInvalid, path)
	}

	return nil
}

func sanitize(v, delim string) string {
	v = strings.ReplaceAll(v, delim, " ")
	v = strings.ReplaceAll(v, "\r", " ")

	return strings.ReplaceAll(v, "\n", " ")
}

func parseStars(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: rating %q is not a number", ErrInvalid, s)
	}

	return n, nil
}

// ParseStars parses a 0-5 star rating.
func ParseStars(s string) (int, error) {
	n, err := parseStars(s)
	if err != nil {
		return 0, err
	}

	if n < 0 || n > MaxStars {
		return 0, fmt.Errorf("%w: rating must be 0-%d, got %d", ErrInvalid, MaxStars, n)
	}

	return n, nil
}

func parseEpoch(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: time %q is not a unix timestamp", ErrInvalid, s)
	}

	return n, nil
}
