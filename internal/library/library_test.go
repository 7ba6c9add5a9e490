package library_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/musiclib/internal/dsv"
	"github.com/calvinalkan/musiclib/internal/library"
	"github.com/calvinalkan/musiclib/internal/queue"
	"github.com/calvinalkan/musiclib/internal/tags"
)

const header = "ID^AlbumID^Artist^Album^AlbumArtist^SongTitle^SongPath^Genre^Rating^GroupDesc^LastPlayed^Custom2"

type recordingWriter struct {
	calls []string
}

func (w *recordingWriter) SetField(_ context.Context, path, key, value string) error {
	w.calls = append(w.calls, path+" "+key+"="+value)

	return nil
}

func (w *recordingWriter) Repair(context.Context, string) error { return nil }

type fakeReader map[string]tags.Metadata

func (r fakeReader) Extract(path string) (tags.Metadata, error) {
	md, ok := r[path]
	if !ok {
		return tags.Metadata{}, os.ErrNotExist
	}

	return md, nil
}

type fixture struct {
	lib    *library.Library
	store  *dsv.Store
	queue  *queue.Queue
	tags   *recordingWriter
	path   string
	stateD string
}

func newFixture(t *testing.T, rows ...string) *fixture {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "library.dsv")

	content := header + "\n"
	for _, r := range rows {
		content += r + "\n"
	}

	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	f := &fixture{
		store:  dsv.NewStore(path),
		queue:  queue.New(filepath.Join(dir, "state")),
		tags:   &recordingWriter{},
		path:   path,
		stateD: filepath.Join(dir, "state"),
	}

	f.lib = library.New(f.store, f.queue,
		library.WithTagWriter(f.tags),
		library.WithReader(fakeReader{
			"/m/new.mp3": {Artist: "Band", Album: "Second", Title: "New Song", Genre: "Rock"},
		}),
		library.WithTimeouts(library.Timeouts{
			Interactive: 30 * time.Millisecond,
			Retries:     1,
			Background:  30 * time.Millisecond,
			Drain:       30 * time.Millisecond,
		}),
	)

	return f
}

func (f *fixture) value(t *testing.T, path, column string) string {
	t.Helper()

	tbl, err := f.store.Load()
	require.NoError(t, err)

	row, err := tbl.FindExact(path)
	require.NoError(t, err)

	v, err := tbl.Value(row, column)
	require.NoError(t, err)

	return v
}

const (
	rowA = "1^1^Band^First^^A^/m/a.mp3^Rock^^^^"
	rowB = "2^1^Band^First^^B^/m/b.mp3^Rock^^^^"
)

func Test_Rate_Sets_Rating_And_Writes_Tags(t *testing.T) {
	t.Parallel()

	f := newFixture(t, rowA, rowB)

	out, err := f.lib.Rate(t.Context(), "cli", "/m/a.mp3", 4)
	require.NoError(t, err)
	require.True(t, out.Changed)
	require.False(t, out.Deferred)

	require.Equal(t, "196", f.value(t, "/m/a.mp3", dsv.ColRating))
	require.Equal(t, "4", f.value(t, "/m/a.mp3", dsv.ColGroupDesc))
	require.Empty(t, f.value(t, "/m/b.mp3", dsv.ColRating))

	want := []string{"/m/a.mp3 RATING=196", "/m/a.mp3 GROUPING=4"}
	if diff := cmp.Diff(want, f.tags.calls); diff != "" {
		t.Fatalf("tag calls mismatch (-want +got):\n%s", diff)
	}
}

func Test_Rate_Returns_ErrInvalid_When_Stars_Out_Of_Range(t *testing.T) {
	t.Parallel()

	f := newFixture(t, rowA)

	_, err := f.lib.Rate(t.Context(), "cli", "/m/a.mp3", 6)
	if !errors.Is(err, library.ErrInvalid) {
		t.Fatalf("err=%v, want ErrInvalid", err)
	}
}

// Contract: a mutation that cannot get the lock is queued, reported as
// deferred and applied by the next drain.
func Test_Rate_Defers_When_Store_Locked(t *testing.T) {
	t.Parallel()

	f := newFixture(t, rowA)

	var out library.Outcome

	err := f.store.Lock().WithLock(time.Second, func() error {
		var err error

		out, err = f.lib.Rate(t.Context(), "cli", "/m/a.mp3", 5)

		return err
	})
	require.NoError(t, err)
	require.True(t, out.Deferred)
	require.Empty(t, f.value(t, "/m/a.mp3", dsv.ColRating))

	entries, err := f.queue.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, []string{"/m/a.mp3", "5"}, entries[0].Op.Args)
	require.Equal(t, "cli", entries[0].Op.Origin)

	stats, err := f.lib.Drain(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Applied)
	require.Equal(t, "255", f.value(t, "/m/a.mp3", dsv.ColRating))
}

func Test_Mutation_Drains_Queue_When_Successful(t *testing.T) {
	t.Parallel()

	f := newFixture(t, rowA, rowB)

	require.NoError(t, os.MkdirAll(f.stateD, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(f.stateD, queue.FileName),
		[]byte("1|scrobble|played|/m/b.mp3|1700000000\n2|sync|bogus|x\n"), 0o644))

	out, err := f.lib.MarkPlayed(t.Context(), "scrobble", "/m/a.mp3", time.Unix(1700000500, 0))
	require.NoError(t, err)

	if diff := cmp.Diff(queue.Stats{Applied: 1, DeadLettered: 1}, out.Drain); diff != "" {
		t.Fatalf("drain stats mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, "1700000500", f.value(t, "/m/a.mp3", dsv.ColLastPlayed))
	require.Equal(t, "1700000000", f.value(t, "/m/b.mp3", dsv.ColLastPlayed))

	if _, err := os.Stat(filepath.Join(f.stateD, queue.FileName)); !os.IsNotExist(err) {
		t.Fatalf("queue should be empty and removed, stat err=%v", err)
	}
}

func Test_MarkPlayed_Returns_ErrNotFound_When_Track_Unknown(t *testing.T) {
	t.Parallel()

	f := newFixture(t, rowA)

	_, err := f.lib.MarkPlayed(t.Context(), "scrobble", "/m/zzz.mp3", time.Unix(1700000000, 0))
	if !errors.Is(err, dsv.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func Test_Import_Appends_Row_From_Metadata_And_Is_Idempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, rowA)

	out, err := f.lib.Import(t.Context(), "import", "/m/new.mp3")
	require.NoError(t, err)
	require.True(t, out.Changed)
	require.Equal(t, 2, out.ID)

	require.Equal(t, "New Song", f.value(t, "/m/new.mp3", dsv.ColTitle))
	require.Equal(t, "2", f.value(t, "/m/new.mp3", dsv.ColAlbumID))

	before, err := os.Stat(f.path)
	require.NoError(t, err)

	out, err = f.lib.Import(t.Context(), "import", "/m/new.mp3")
	require.NoError(t, err)
	require.False(t, out.Changed)

	after, err := os.Stat(f.path)
	require.NoError(t, err)

	if !os.SameFile(before, after) {
		t.Fatal("duplicate import rewrote the store")
	}
}

func Test_Import_Returns_ErrInvalid_When_File_Missing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, rowA)

	_, err := f.lib.Import(t.Context(), "import", "/m/ghost.mp3")
	if !errors.Is(err, library.ErrInvalid) {
		t.Fatalf("err=%v, want ErrInvalid", err)
	}
}

func Test_Delete_Fails_Closed_When_Ambiguous(t *testing.T) {
	t.Parallel()

	f := newFixture(t, rowA, "9^1^Band^First^^A2^/m/a.mp3^Rock^^^^")

	before, err := os.ReadFile(f.path)
	require.NoError(t, err)

	_, err = f.lib.Delete(t.Context(), "cli", "/m/a.mp3")
	if !errors.Is(err, dsv.ErrAmbiguous) {
		t.Fatalf("err=%v, want ErrAmbiguous", err)
	}

	after, err := os.ReadFile(f.path)
	require.NoError(t, err)
	require.Equal(t, string(before), string(after))
}

func Test_Delete_Removes_Row_When_Unique(t *testing.T) {
	t.Parallel()

	f := newFixture(t, rowA, rowB)

	_, err := f.lib.Delete(t.Context(), "cli", "/m/a.mp3")
	require.NoError(t, err)

	tbl, err := f.store.Load()
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())
}

func Test_SetField_Rejects_Managed_Columns(t *testing.T) {
	t.Parallel()

	f := newFixture(t, rowA)

	for _, col := range []string{dsv.ColID, dsv.ColAlbumID, dsv.ColPath, ""} {
		_, err := f.lib.SetField(t.Context(), "cli", "/m/a.mp3", col, "1")
		if !errors.Is(err, library.ErrInvalid) {
			t.Errorf("SetField(%q) err=%v, want ErrInvalid", col, err)
		}
	}

	_, err := f.lib.SetField(t.Context(), "cli", "/m/a.mp3", dsv.ColCustom2, "fav")
	require.NoError(t, err)
	require.Equal(t, "fav", f.value(t, "/m/a.mp3", dsv.ColCustom2))
}
