// Package fs provides the filesystem abstraction used by the track store,
// the pending queue and the session files.
//
// The main types are:
//   - [FS]: interface for filesystem operations
//   - [File]: interface for open files (satisfied by [os.File])
//   - [Real]: production implementation using [os] package
//   - [Locker]: flock-based exclusive locks on sidecar files
//
// Example usage:
//
//	fsys := fs.NewReal()
//	data, err := fsys.ReadFile("library.dsv")
//	if err != nil {
//	    return err
//	}
//
//	// ... mutate ...
//
//	err = fsys.WriteFileAtomic("library.dsv", out, 0o644)
package fs

import (
	"io"
	"os"
)

// File is an open file. [os.File] satisfies it.
type File interface {
	io.ReadWriteCloser
	io.Seeker

	// Fd is needed by [Locker] for flock.
	Fd() uintptr
	Stat() (os.FileInfo, error)
	Sync() error
}

// FS is the set of filesystem operations the store, queue and session
// manager need. Methods behave like their [os] counterparts.
type FS interface {
	Open(path string) (File, error)
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic replaces path with data via a temp file and rename.
	// Readers see the old or the new content, never a mix.
	WriteFileAtomic(path string, data []byte, perm os.FileMode) error

	// ReadDir returns entries sorted by name.
	ReadDir(path string) ([]os.DirEntry, error)
	MkdirAll(path string, perm os.FileMode) error

	Stat(path string) (os.FileInfo, error)

	// Exists returns (false, nil) when path is missing.
	Exists(path string) (bool, error)

	Remove(path string) error
	Rename(oldpath, newpath string) error
}

var _ File = (*os.File)(nil)
