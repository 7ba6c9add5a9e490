package dsv

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound reports that no row matches the requested path.
	ErrNotFound = errors.New("record not found")

	// ErrAmbiguous reports that more than one row matches the requested path.
	// The table is never modified when this is returned.
	ErrAmbiguous = errors.New("ambiguous match")

	// ErrSchema reports a structural problem with the table: a missing header
	// or an expected column that is absent. Use [errors.As] with *SchemaError
	// for the column name.
	ErrSchema = errors.New("schema error")

	// ErrInvalidValue reports a field value that cannot be stored because it
	// contains the delimiter or a line break.
	ErrInvalidValue = errors.New("invalid field value")
)

// SchemaError names the column a table was expected to have.
type SchemaError struct {
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Column == "" {
		return "schema error: " + e.Reason
	}

	if e.Reason == "" {
		return "schema error: missing column " + e.Column
	}

	return "schema error: column " + e.Column + ": " + e.Reason
}

// Is makes errors.Is(err, ErrSchema) match any *SchemaError.
func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

// Error attaches the track path (the identity key) to record-level errors.
//
// The underlying error message appears first, followed by the path:
//
//	ambiguous match: 2 rows (track_path=/music/a.mp3)
//
// Use [errors.Is] to check for sentinels and [errors.As] to get the path.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	var b strings.Builder

	if e.Err != nil {
		b.WriteString(e.Err.Error())
	}

	if e.Path != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}

		b.WriteString("(track_path=" + e.Path + ")")
	}

	return b.String()
}

// Unwrap returns the underlying error for use with [errors.Is] and [errors.As].
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

func withPath(err error, path string) error {
	if err == nil {
		return nil
	}

	existing := &Error{}
	if errors.As(err, &existing) {
		if existing.Path == "" {
			existing.Path = path
		}

		return err
	}

	return &Error{Path: path, Err: err}
}
