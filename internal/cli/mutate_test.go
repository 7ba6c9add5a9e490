package cli_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/musiclib/internal/cli"
	"github.com/calvinalkan/musiclib/internal/fs"
	"github.com/calvinalkan/musiclib/internal/lock"
)

func row(id, title, path string) string {
	return id + "^1^Band^First^^" + title + "^" + path + "^Rock^^^^"
}

// holdLock takes the library lock until the returned func is called.
func holdLock(t *testing.T, dataPath string) func() {
	t.Helper()

	acquired := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- lock.ForFile(fs.NewReal(), dataPath).WithLock(time.Second, func() error {
			close(acquired)
			<-release

			return nil
		})
	}()

	select {
	case <-acquired:
	case err := <-done:
		t.Fatalf("holding lock: %v", err)
	}

	return func() {
		close(release)
		require.NoError(t, <-done)
	}
}

func Test_Rate_Updates_Library_When_Stars_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	a := c.Path("a.mp3")
	c.WriteLibrary(row("1", "A", a), row("2", "B", c.Path("b.mp3")))

	stdout := c.MustRun("rate", "a.mp3", "4")

	cli.AssertContains(t, stdout, "Rated "+a+": 4 stars")
	cli.AssertContains(t, c.ReadLibrary(), "^A^"+a+"^Rock^196^4^^\n")
	cli.AssertContains(t, c.ReadLibrary(), "^B^"+c.Path("b.mp3")+"^Rock^^^^\n")
}

func Test_Rate_Reads_Stars_From_Stdin_When_Omitted(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	a := c.Path("a.mp3")
	c.WriteLibrary(row("1", "A", a))

	_, stderr, exitCode := c.RunWithInput("2\n", "rate", a)
	if got, want := exitCode, 0; got != want {
		t.Fatalf("exitCode=%d, want=%d, stderr=%s", got, want, stderr)
	}

	cli.AssertContains(t, c.ReadLibrary(), "^Rock^64^2^^\n")
}

func Test_Rate_Exits_1_When_Input_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "stars out of range", args: []string{"rate", "a.mp3", "9"}, want: "rating"},
		{name: "stars not a number", args: []string{"rate", "a.mp3", "lots"}, want: "error:"},
		{name: "unknown track", args: []string{"rate", "missing.mp3", "3"}, want: "record not found"},
		{name: "missing path", args: []string{"rate"}, want: "expected <path> [stars]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := cli.NewCLI(t)
			c.WriteLibrary(row("1", "A", c.Path("a.mp3")))
			before := c.ReadLibrary()

			stdout, stderr, exitCode := c.Run(tt.args...)

			if got, want := exitCode, 1; got != want {
				t.Errorf("exitCode=%d, want=%d, stderr=%s", got, want, stderr)
			}

			if got, want := stdout, ""; got != want {
				t.Errorf("stdout=%q, want=%q", got, want)
			}

			cli.AssertContains(t, stderr, tt.want)

			if got := c.ReadLibrary(); got != before {
				t.Errorf("library changed:\n%s", got)
			}
		})
	}
}

// Contract: a mutation that cannot get the lock is queued, exits 3, and is
// applied by the next drain.
func Test_Rate_Defers_And_Drain_Applies_When_Library_Locked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteConfig(`{"library": "library.dsv", "lock_timeout": "20ms", "lock_retries": 0, "drain_lock_timeout": "1s"}`)

	a := c.Path("a.mp3")
	c.WriteLibrary(row("1", "A", a))
	before := c.ReadLibrary()

	release := holdLock(t, c.Path("library.dsv"))

	stdout, stderr, exitCode := c.Run("rate", "a.mp3", "5")

	release()

	if got, want := exitCode, 3; got != want {
		t.Fatalf("exitCode=%d, want=%d, stderr=%s", got, want, stderr)
	}

	cli.AssertContains(t, stdout, "Deferred: Rated "+a+": 5 stars")
	cli.AssertNotContains(t, stderr, "error:")

	if got := c.ReadLibrary(); got != before {
		t.Fatalf("library changed while locked:\n%s", got)
	}

	queued := c.ReadFile(".mlib/pending-ops")
	cli.AssertContains(t, queued, "|rate|rate|"+a+"|5\n")

	listing := c.MustRun("queue")
	cli.AssertContains(t, listing, "rate")
	cli.AssertContains(t, listing, a)

	drained := c.MustRun("drain")
	cli.AssertContains(t, drained, "applied 1, kept 0, dead-lettered 0")
	cli.AssertContains(t, c.ReadLibrary(), "^Rock^255^5^^\n")

	_, err := os.Stat(c.Path(".mlib/pending-ops"))
	require.True(t, os.IsNotExist(err), "queue file should be removed once empty")

	cli.AssertContains(t, c.MustRun("queue"), "Queue is empty")
}

func Test_Played_Defers_When_Library_Locked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteConfig(`{"library": "library.dsv", "background_lock_timeout": "20ms"}`)

	a := c.Path("a.mp3")
	c.WriteLibrary(row("1", "A", a))

	release := holdLock(t, c.Path("library.dsv"))

	stdout, _, exitCode := c.Run("played", "a.mp3", "--at", "1700000000")

	release()

	if got, want := exitCode, 3; got != want {
		t.Fatalf("exitCode=%d, want=%d", got, want)
	}

	cli.AssertContains(t, stdout, "Deferred:")
	cli.AssertContains(t, c.ReadFile(".mlib/pending-ops"), "|scrobble|played|"+a+"|1700000000\n")
}

func Test_Played_Sets_LastPlayed_When_Library_Free(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	a := c.Path("a.mp3")
	c.WriteLibrary(row("1", "A", a))

	stdout := c.MustRun("played", a, "--at", "1700000000")

	cli.AssertContains(t, stdout, "Played "+a+" at 1700000000")
	cli.AssertContains(t, c.ReadLibrary(), "^Rock^^^1700000000^\n")
}

func Test_Set_Rejects_Protected_Column_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteLibrary(row("1", "A", c.Path("a.mp3")))

	_, _, exitCode := c.Run("set", "a.mp3", "SongPath", "/elsewhere.mp3")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	stdout := c.MustRun("set", "a.mp3", "Custom2", "favourite")
	cli.AssertContains(t, stdout, "Set Custom2=favourite")
	cli.AssertContains(t, c.ReadLibrary(), "^Rock^^^^favourite\n")
}

// Contract: an exact path matching several rows is a system error and the
// library is left alone.
func Test_Delete_Exits_2_When_Path_Ambiguous(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	a := c.Path("a.mp3")
	c.WriteLibrary(row("1", "A", a), row("2", "A again", a))
	before := c.ReadLibrary()

	_, stderr, exitCode := c.Run("delete", a)

	if got, want := exitCode, 2; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	cli.AssertContains(t, stderr, "ambiguous match")

	if got := c.ReadLibrary(); got != before {
		t.Errorf("library changed:\n%s", got)
	}
}

func Test_Delete_Removes_Row_When_Path_Unique(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	a := c.Path("a.mp3")
	b := c.Path("b.mp3")
	c.WriteLibrary(row("1", "A", a), row("2", "B", b))

	c.MustRun("delete", a)

	lib := c.ReadLibrary()
	cli.AssertNotContains(t, lib, a)
	cli.AssertContains(t, lib, b)
}

func Test_Import_Warns_And_Exits_1_When_Every_File_Missing(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteLibrary()

	stdout, stderr, exitCode := c.Run("import", "nope.mp3")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	cli.AssertContains(t, stdout, "imported 0, already present 0, deferred 0, failed 1")
	cli.AssertContains(t, stderr, "warning: import failed")
}

func Test_Import_Skips_Existing_Track_When_Already_Present(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	a := c.Path("a.mp3")
	c.WriteLibrary(row("1", "A", a))
	require.NoError(t, os.WriteFile(a, []byte(strings.Repeat("x", 300)), 0o600))

	stdout := c.MustRun("import", filepath.Base(a))

	cli.AssertContains(t, stdout, "imported 0, already present 1, deferred 0, failed 0")
}
