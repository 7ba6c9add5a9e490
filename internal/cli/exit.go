package cli

import (
	"errors"

	"github.com/calvinalkan/musiclib/internal/config"
	"github.com/calvinalkan/musiclib/internal/dsv"
	"github.com/calvinalkan/musiclib/internal/library"
	"github.com/calvinalkan/musiclib/internal/queue"
	"github.com/calvinalkan/musiclib/internal/session"
)

// Process exit codes.
const (
	exitOK       = 0
	exitUser     = 1
	exitSystem   = 2
	exitDeferred = 3
)

var (
	// ErrUsage reports a wrong invocation: missing arguments, unknown
	// command or bad flags.
	ErrUsage = errors.New("usage error")

	// ErrDeferred is returned by commands whose mutation was queued.
	ErrDeferred = errors.New("deferred")
)

// userErrors are caller mistakes; they exit 1.
var userErrors = []error{
	ErrUsage,
	library.ErrInvalid,
	dsv.ErrNotFound,
	dsv.ErrInvalidValue,
	queue.ErrInvalidField,
	session.ErrInvalidID,
	session.ErrInvalidTrack,
	session.ErrNoSession,
	config.ErrConfigFileNotFound,
	config.ErrConfigFileRead,
	config.ErrConfigInvalid,
	config.ErrLibraryRequired,
	config.ErrInvalidDelimiter,
	config.ErrInvalidValue,
}

// ExitCode maps an error to the process exit code: 0 success, 1 user or
// validation error, 2 system error (lock, schema, ambiguous match, clock
// skew, I/O), 3 deferred.
func ExitCode(err error) int {
	if err == nil {
		return exitOK
	}

	if errors.Is(err, ErrDeferred) {
		return exitDeferred
	}

	for _, target := range userErrors {
		if errors.Is(err, target) {
			return exitUser
		}
	}

	return exitSystem
}
