// Package tags defines the collaborators that read and write audio file
// metadata. This module never parses or writes audio formats on its own
// account: writing is delegated to an external tool ([CommandWriter]) and
// reading to github.com/dhowden/tag ([FileReader]).
package tags

import (
	"context"
	"errors"
	"fmt"
)

// Tag keys written after a successful store mutation.
const (
	KeyLastPlayed = "LASTPLAYED"
	KeyRating     = "RATING"
	KeyGrouping   = "GROUPING"
)

// ErrTagWrite reports that a tag write failed even after one repair attempt.
var ErrTagWrite = errors.New("tag write failed")

// Writer updates tags inside audio files.
type Writer interface {
	// SetField writes one tag field.
	SetField(ctx context.Context, path, key, value string) error

	// Repair rebuilds the file's tag block so a failed write can be retried.
	Repair(ctx context.Context, path string) error
}

// Metadata is the subset of tag data used to import a track.
type Metadata struct {
	Artist      string
	Album       string
	AlbumArtist string
	Title       string
	Genre       string
	DurationMs  int64
}

// Reader extracts [Metadata] from an audio file.
type Reader interface {
	Extract(path string) (Metadata, error)
}

// WriteResult describes how [Write] got a field written.
type WriteResult struct {
	// Repaired is set when the write only succeeded after a repair.
	Repaired bool
}

// Write sets key=value on path, repairing the tag block and retrying exactly
// once if the first write fails. The returned error wraps [ErrTagWrite].
func Write(ctx context.Context, w Writer, path, key, value string) (WriteResult, error) {
	firstErr := w.SetField(ctx, path, key, value)
	if firstErr == nil {
		return WriteResult{}, nil
	}

	repairErr := w.Repair(ctx, path)
	if repairErr != nil {
		return WriteResult{}, fmt.Errorf("%w: %s: %w (repair: %w)", ErrTagWrite, key, firstErr, repairErr)
	}

	retryErr := w.SetField(ctx, path, key, value)
	if retryErr != nil {
		return WriteResult{}, fmt.Errorf("%w: %s after repair: %w", ErrTagWrite, key, retryErr)
	}

	return WriteResult{Repaired: true}, nil
}

// Nop is a Writer that accepts every write. It is used when no tag tool is
// configured.
type Nop struct{}

// SetField implements [Writer].
func (Nop) SetField(context.Context, string, string, string) error { return nil }

// Repair implements [Writer].
func (Nop) Repair(context.Context, string) error { return nil }

var _ Writer = Nop{}
