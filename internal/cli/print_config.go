package cli

import (
	"context"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files it was loaded from.",
		Exec: func(_ context.Context, io *IO, _ []string) error {
			return execPrintConfig(io, a)
		},
	}
}

func execPrintConfig(io *IO, a *app) error {
	cfg := a.cfg

	io.Println("effective_cwd=" + cfg.EffectiveCwd)
	io.Println("library=" + cfg.LibraryAbs)
	io.Println("state_dir=" + cfg.StateDirAbs)
	io.Println("delimiter=" + cfg.Delimiter)
	io.Println("lock_timeout=" + cfg.LockTimeout.D().String())
	io.Println("lock_retries=" + strconv.Itoa(cfg.Retries()))
	io.Println("background_lock_timeout=" + cfg.BackgroundLockTimeout.D().String())
	io.Println("drain_lock_timeout=" + cfg.DrainLockTimeout.D().String())
	io.Println("min_window=" + cfg.MinWindow.D().String())
	io.Println("max_window=" + cfg.MaxWindow.D().String())
	io.Println("log_level=" + cfg.LogLevel)
	io.Println("log_format=" + cfg.LogFormat)

	if len(cfg.TagWriter.Set) > 0 {
		io.Println("tag_writer.set=" + strings.Join(cfg.TagWriter.Set, " "))
	}

	if len(cfg.TagWriter.Repair) > 0 {
		io.Println("tag_writer.repair=" + strings.Join(cfg.TagWriter.Repair, " "))
	}

	io.Println("")
	io.Println("# sources")

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" {
		io.Println("(defaults only)")
	} else {
		if cfg.Sources.Global != "" {
			io.Println("global_config=" + cfg.Sources.Global)
		}

		if cfg.Sources.Project != "" {
			io.Println("project_config=" + cfg.Sources.Project)
		}
	}

	return nil
}
