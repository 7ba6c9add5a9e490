package tags

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandWriter runs an external tag editor.
//
// Set and RepairArgs are argv templates. The placeholders {path}, {key} and
// {value} are substituted per argument; nothing is interpreted by a shell.
//
//	CommandWriter{
//	    SetArgs:    []string{"kid3-cli", "-c", "set {key} {value}", "{path}"},
//	    RepairArgs: []string{"kid3-cli", "-c", "to24", "{path}"},
//	}
type CommandWriter struct {
	SetArgs    []string
	RepairArgs []string
}

var errNoCommand = errors.New("no command configured")

// SetField implements [Writer].
func (c *CommandWriter) SetField(ctx context.Context, path, key, value string) error {
	return run(ctx, c.SetArgs, map[string]string{"{path}": path, "{key}": key, "{value}": value})
}

// Repair implements [Writer]. Without a repair template it fails, so the
// caller's single retry is skipped.
func (c *CommandWriter) Repair(ctx context.Context, path string) error {
	return run(ctx, c.RepairArgs, map[string]string{"{path}": path})
}

func run(ctx context.Context, template []string, vars map[string]string) error {
	if len(template) == 0 {
		return errNoCommand
	}

	argv := make([]string, len(template))
	for i, arg := range template {
		for placeholder, v := range vars {
			arg = strings.ReplaceAll(arg, placeholder, v)
		}

		argv[i] = arg
	}

	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // argv comes from user config
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}

		return fmt.Errorf("%s: %w", argv[0], err)
	}

	return nil
}

var _ Writer = (*CommandWriter)(nil)
