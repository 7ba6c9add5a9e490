package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/musiclib/internal/queue"
)

// DrainCmd returns the drain command.
func DrainCmd(a *app) *Command {
	flags := flag.NewFlagSet("drain", flag.ContinueOnError)
	watch := flags.BoolP("watch", "w", false, "Keep running and drain whenever the queue changes")
	interval := flags.Duration("interval", time.Minute, "With --watch, also drain every `interval` (0 disables)")

	return &Command{
		Flags: flags,
		Usage: "drain [--watch] [--interval <d>]",
		Short: "Replay queued operations",
		Long: `Replay every queued operation against the library. Applied operations and
operations that can never succeed are removed; operations that hit a busy
library stay queued. If another drain is running this one does nothing.

With --watch the command keeps running until interrupted.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			err := needArgs(args, 0, 0, "no arguments")
			if err != nil {
				return err
			}

			if *watch {
				return a.lib.Watch(ctx, *interval, func(s queue.Stats) {
					if s.Applied+s.Kept+s.DeadLettered > 0 {
						printDrainStats(o, s)
					}
				})
			}

			stats, err := a.lib.Drain(ctx)
			if err != nil {
				return err
			}

			if stats.Busy {
				o.Println("Another drain is in progress, nothing to do")

				return nil
			}

			printDrainStats(o, stats)

			return nil
		},
	}
}

// renderTable writes rows as an aligned table to o's output.
func renderTable(o *IO, header []string, rows [][]string) error {
	table := tablewriter.NewWriter(o.Out())
	table.Header(header)

	err := table.Bulk(rows)
	if err != nil {
		return fmt.Errorf("rendering table: %w", err)
	}

	return table.Render()
}

func printDrainStats(o *IO, s queue.Stats) {
	o.Printf("applied %d, kept %d, dead-lettered %d\n", s.Applied, s.Kept, s.DeadLettered)

	if s.DeadLettered > 0 {
		o.Warn("dropped queued operations", "see log for the dead-lettered lines")
	}
}

// QueueCmd returns the queue command.
func QueueCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("queue", flag.ContinueOnError),
		Usage: "queue",
		Short: "List queued operations",
		Exec: func(_ context.Context, o *IO, args []string) error {
			err := needArgs(args, 0, 0, "no arguments")
			if err != nil {
				return err
			}

			entries, err := a.queue.List()
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				o.Println("Queue is empty")

				return nil
			}

			rows := make([][]string, 0, len(entries))

			for _, e := range entries {
				if e.Err != nil {
					rows = append(rows, []string{"?", "?", "malformed", e.Line})

					continue
				}

				rows = append(rows, []string{
					humanize.Time(time.Unix(e.Op.Time, 0)),
					e.Op.Origin,
					e.Op.Type,
					strings.Join(e.Op.Args, " "),
				})
			}

			return renderTable(o, []string{"Queued", "Origin", "Op", "Args"}, rows)
		},
	}
}
