package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/musiclib/internal/library"
)

// Origins recorded on queued ops.
const (
	originRate     = "rate"
	originSet      = "set"
	originScrobble = "scrobble"
	originImport   = "import"
	originDelete   = "delete"
)

// RateCmd returns the rate command.
func RateCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("rate", flag.ContinueOnError),
		Usage: "rate <path> [stars]",
		Short: "Rate a track 0-5 stars",
		Long: `Set a track's rating (0-5 stars) in the library and its tags.

Without a stars argument the rating is read from stdin (prompted on a
terminal). If the library stays locked through all retries the rating is
queued and the command exits 3.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			err := needArgs(args, 1, 2, "<path> [stars]")
			if err != nil {
				return err
			}

			var raw string
			if len(args) == 2 {
				raw = args[1]
			} else {
				raw, err = promptStars(o)
				if err != nil {
					return err
				}
			}

			stars, err := library.ParseStars(raw)
			if err != nil {
				return err
			}

			path := a.trackPath(args[0])

			out, err := a.lib.Rate(ctx, originRate, path, stars)
			if err != nil {
				return err
			}

			return report(o, out, fmt.Sprintf("Rated %s: %d stars", path, stars))
		},
	}
}

// SetCmd returns the set command.
func SetCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("set", flag.ContinueOnError),
		Usage: "set <path> <column> <value>",
		Short: "Set one column of a track",
		Long: `Set one column of the track at <path>. ID, AlbumID and SongPath are
managed by the library and cannot be set.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			err := needArgs(args, 3, 3, "<path> <column> <value>")
			if err != nil {
				return err
			}

			path := a.trackPath(args[0])

			out, err := a.lib.SetField(ctx, originSet, path, args[1], args[2])
			if err != nil {
				return err
			}

			return report(o, out, fmt.Sprintf("Set %s=%s on %s", args[1], args[2], path))
		},
	}
}

// PlayedCmd returns the played command.
func PlayedCmd(a *app) *Command {
	flags := flag.NewFlagSet("played", flag.ContinueOnError)
	at := flags.Int64("at", 0, "Play time as unix `seconds` (default now)")

	return &Command{
		Flags: flags,
		Usage: "played <path> [--at <epoch>]",
		Short: "Record a play (background, never blocks)",
		Long: `Record that a track was played. Uses the short background lock timeout
and makes a single attempt: if the library is busy the play is queued and the
command exits 3.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			err := needArgs(args, 1, 1, "<path>")
			if err != nil {
				return err
			}

			when := a.now()
			if *at != 0 {
				when = time.Unix(*at, 0)
			}

			path := a.trackPath(args[0])

			out, err := a.lib.MarkPlayed(ctx, originScrobble, path, when)
			if err != nil {
				return err
			}

			return report(o, out, fmt.Sprintf("Played %s at %d", path, when.Unix()))
		},
	}
}

// ImportCmd returns the import command.
func ImportCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("import", flag.ContinueOnError),
		Usage: "import <path>...",
		Short: "Add tracks to the library from their tags",
		Long: `Add each track to the library using its tag metadata. A track already in
the library is skipped. Per-track failures are reported as warnings; a lock or
schema failure stops the import.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			err := needArgs(args, 1, -1, "at least one <path>")
			if err != nil {
				return err
			}

			var added, skipped, deferred, failed int

			var lastErr error

			for _, arg := range args {
				path := a.trackPath(arg)

				out, err := a.lib.Import(ctx, originImport, path)
				if err != nil {
					if ExitCode(err) != exitUser {
						return err
					}

					o.Warn("import failed", err.Error())

					failed++
					lastErr = err

					continue
				}

				switch {
				case out.Deferred:
					deferred++
				case out.Changed:
					added++

					o.Println("Imported", path, "as", out.ID)
				default:
					skipped++
				}

				if out.TagErr != nil {
					o.Warn("tag write failed", out.TagErr.Error())
				}
			}

			o.Printf("imported %d, already present %d, deferred %d, failed %d\n", added, skipped, deferred, failed)

			switch {
			case failed == len(args):
				return lastErr
			case deferred > 0 && added+skipped == 0:
				return ErrDeferred
			}

			return nil
		},
	}
}

// DeleteCmd returns the delete command.
func DeleteCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("delete", flag.ContinueOnError),
		Usage: "delete <path>",
		Short: "Remove a track by exact path",
		Long: `Remove the track whose path equals <path> exactly. A path matching more
than one row is refused (exit 2) and nothing is changed.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			err := needArgs(args, 1, 1, "<path>")
			if err != nil {
				return err
			}

			path := a.trackPath(args[0])

			out, err := a.lib.Delete(ctx, originDelete, path)
			if err != nil {
				return err
			}

			return report(o, out, "Deleted "+path)
		},
	}
}

// report prints the result of a single mutation.
func report(o *IO, out library.Outcome, done string) error {
	if out.Deferred {
		o.Println("Deferred:", done, "(library busy, queued for the next drain)")

		return ErrDeferred
	}

	if out.TagErr != nil {
		o.Warn("tag write failed", out.TagErr.Error())
	}

	o.Println(done)

	if d := out.Drain; d.Applied+d.DeadLettered > 0 {
		o.Printf("Drained pending queue: %d applied, %d kept, %d dead-lettered\n", d.Applied, d.Kept, d.DeadLettered)
	}

	return nil
}

// promptStars reads a rating, with a line editor when stdin is the terminal.
func promptStars(o *IO) (string, error) {
	const prompt = "Stars (0-5): "

	if f, ok := o.in.(*os.File); ok && f == os.Stdin {
		line := liner.NewLiner()
		defer line.Close()

		line.SetCtrlCAborts(true)

		answer, err := line.Prompt(prompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return "", fmt.Errorf("%w: no rating given", ErrUsage)
			}

			return "", err
		}

		return strings.TrimSpace(answer), nil
	}

	if o.in == nil {
		return "", fmt.Errorf("%w: no rating given", ErrUsage)
	}

	answer, err := bufio.NewReader(o.in).ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || answer == "") {
		return "", fmt.Errorf("%w: no rating given", ErrUsage)
	}

	answer = strings.TrimSpace(answer)
	if _, convErr := strconv.Atoi(answer); convErr != nil {
		return "", fmt.Errorf("%w: rating %q is not a number", library.ErrInvalid, answer)
	}

	return answer, nil
}
