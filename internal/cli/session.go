package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/musiclib/internal/session"
)

// SessionCmd returns the session command group.
func SessionCmd(a *app) *Command {
	return group("session <subcommand>", "Manage upload sessions",
		sessionOpenCmd(a),
		sessionRetryCmd(a),
		sessionStatusCmd(a),
	)
}

func sessionOpenCmd(a *app) *Command {
	flags := flag.NewFlagSet("open", flag.ContinueOnError)
	id := flags.String("id", "", "Session `id` (default: a new UUIDv7)")
	at := flags.Int64("at", 0, "Upload time as unix `seconds` (default now)")

	return &Command{
		Flags: flags,
		Usage: "open [--id <id>] [--at <epoch>] <tracks-file|->",
		Short: "Open an upload session, reconciling the previous one",
		Long: `Make a new upload session current. <tracks-file> lists one track path per
line in play order; "-" reads the list from stdin.

The previous session is reconciled first: its tracks get last-played times
spread evenly over the time between the two uploads. Tracks that cannot be
updated are kept in recovery files for "session retry". Reconciliation
problems are reported as warnings and never stop the new session.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			err := needArgs(args, 1, 1, "<tracks-file|->")
			if err != nil {
				return err
			}

			tracks, err := readTracks(o, a, args[0])
			if err != nil {
				return err
			}

			sid := *id
			if sid == "" {
				u, err := uuid.NewV7()
				if err != nil {
					return err
				}

				sid = u.String()
			}

			now := a.now
			if *at != 0 {
				fixed := time.Unix(*at, 0)
				now = func() time.Time { return fixed }
			}

			res, err := a.sessions(now).Open(ctx, sid, tracks)
			if err != nil && !errors.Is(err, session.ErrReconcile) {
				return err
			}

			if err != nil {
				o.Warn("previous session not reconciled", err.Error())
			}

			if res.Outcome != session.OutcomeNone {
				printResult(o, "Reconciled", res)
			}

			o.Printf("Opened session %s (%d tracks)\n", sid, len(tracks))

			return nil
		},
	}
}

func sessionRetryCmd(a *app) *Command {
	flags := flag.NewFlagSet("retry", flag.ContinueOnError)
	all := flags.Bool("all", false, "Retry every session with recovery records")

	return &Command{
		Flags: flags,
		Usage: "retry (<id> | --all)",
		Short: "Retry tracks left over from reconciliation",
		Long: `Re-apply the stored last-played times of tracks that were missing from the
library or failed to write. Tracks still failing stay in the recovery files.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			mgr := a.sessions(a.now)

			if *all {
				err := needArgs(args, 0, 0, "no <id> with --all")
				if err != nil {
					return err
				}

				results, err := mgr.RetryAll(ctx)

				var total session.Stats

				for _, res := range results {
					printResult(o, "Retried", res)
					total.Add(res.Stats)
				}

				if err != nil {
					return err
				}

				if len(results) == 0 {
					o.Println("No sessions need a retry")

					return nil
				}

				o.Printf("Retried %d sessions: %d tracks, %d updated, %d already played, %d still pending\n",
					len(results), total.Total, total.Updated, total.SkippedInWindow, total.Failed())

				return nil
			}

			err := needArgs(args, 1, 1, "<id> or --all")
			if err != nil {
				return err
			}

			res, err := mgr.Retry(ctx, args[0])
			if err != nil {
				return err
			}

			printResult(o, "Retried", res)

			return nil
		},
	}
}

func sessionStatusCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("status", flag.ContinueOnError),
		Usage: "status",
		Short: "Show the current session and sessions awaiting retry",
		Exec: func(_ context.Context, o *IO, args []string) error {
			err := needArgs(args, 0, 0, "no arguments")
			if err != nil {
				return err
			}

			infos, err := a.sessions(a.now).Status()
			if err != nil {
				return err
			}

			if len(infos) == 0 {
				o.Println("No sessions")

				return nil
			}

			rows := make([][]string, 0, len(infos))

			for _, info := range infos {
				started := "unknown"
				if info.Start != 0 {
					started = humanize.Time(time.Unix(info.Start, 0))
				}

				current := ""
				if info.Current {
					current = "yes"
				}

				rows = append(rows, []string{
					info.ID,
					current,
					started,
					strconv.Itoa(info.Tracks),
					strconv.Itoa(info.NotInStore),
					strconv.Itoa(info.WriteFailed),
				})
			}

			return renderTable(o, []string{"Session", "Current", "Started", "Tracks", "Not in store", "Write failed"}, rows)
		},
	}
}

func printResult(o *IO, verb string, res session.Result) {
	s := res.Stats

	o.Printf("%s session %s: %s (%d tracks: %d updated, %d already played, %d not in store, %d store-write failed, %d tag-write failed)\n",
		verb, res.SessionID, res.Outcome, s.Total, s.Updated, s.SkippedInWindow, s.NotInStore, s.StoreWriteFailed, s.TagWriteFailed)

	if res.Outcome == session.OutcomePartial {
		o.Warn("session "+res.SessionID+" partially reconciled",
			fmt.Sprintf("%d tracks kept for retry, run: mlib session retry %s", s.Failed(), res.SessionID))
	}
}

// readTracks reads one path per line from name ("-" for stdin). Paths are
// taken verbatim apart from a CRLF line ending. Blank lines are skipped and
// relative paths resolved against the working directory.
func readTracks(o *IO, a *app, name string) ([]string, error) {
	var r io.Reader

	if name == "-" {
		if o.in == nil {
			return nil, fmt.Errorf("%w: no stdin to read tracks from", ErrUsage)
		}

		r = o.in
	} else {
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(a.cfg.EffectiveCwd, path)
		}

		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUsage, err)
		}
		defer f.Close()

		r = f
	}

	var tracks []string

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		tracks = append(tracks, a.trackPath(line))
	}

	err := sc.Err()
	if err != nil {
		return nil, fmt.Errorf("reading tracks: %w", err)
	}

	return tracks, nil
}
