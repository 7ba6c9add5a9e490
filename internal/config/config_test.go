package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/musiclib/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func Test_Load_Uses_Defaults_When_Only_Library_Given(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: dir,
		LibraryOverride: "music/library.dsv",
		Env:             map[string]string{},
	})
	require.NoError(t, err)

	require.Equal(t, filepath.Join(dir, "music", "library.dsv"), cfg.LibraryAbs)
	require.Equal(t, filepath.Join(dir, "music", ".mlib"), cfg.StateDirAbs)
	require.Equal(t, byte('^'), cfg.DelimiterByte())
	require.Equal(t, 10*time.Second, cfg.LockTimeout.D())
	require.Equal(t, 2, cfg.Retries())
	require.Equal(t, 5*time.Minute, cfg.MinWindow.D())
	require.Equal(t, config.Sources{}, cfg.Sources)
}

func Test_Load_Returns_ErrLibraryRequired_When_Unset(t *testing.T) {
	t.Parallel()

	_, err := config.Load(config.LoadInput{WorkDirOverride: t.TempDir(), Env: map[string]string{}})
	if !errors.Is(err, config.ErrLibraryRequired) {
		t.Fatalf("err=%v, want ErrLibraryRequired", err)
	}
}

// Contract: global < project < CLI flags.
func Test_Load_Applies_Precedence_When_All_Sources_Present(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	xdg := filepath.Join(dir, "xdg")

	writeFile(t, filepath.Join(xdg, "mlib", "config.json"), `{
		// global defaults
		"library": "/global/library.dsv",
		"lock_timeout": "30s",
		"log_level": "info",
	}`)
	writeFile(t, filepath.Join(dir, config.FileName), `{"lock_timeout": "3s", "lock_retries": 0}`)

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride:  dir,
		StateDirOverride: "state",
		Env:              map[string]string{"XDG_CONFIG_HOME": xdg},
	})
	require.NoError(t, err)

	require.Equal(t, "/global/library.dsv", cfg.LibraryAbs)
	require.Equal(t, filepath.Join(dir, "state"), cfg.StateDirAbs)
	require.Equal(t, 3*time.Second, cfg.LockTimeout.D())
	require.Equal(t, 0, cfg.Retries())
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, filepath.Join(xdg, "mlib", "config.json"), cfg.Sources.Global)
	require.Equal(t, filepath.Join(dir, config.FileName), cfg.Sources.Project)
}

func Test_Load_Uses_Home_When_XDG_Unset(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "home", ".config", "mlib", "config.json"), `{"library": "lib.dsv"}`)

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: dir,
		Env:             map[string]string{"HOME": filepath.Join(dir, "home")},
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "lib.dsv"), cfg.LibraryAbs)
}

func Test_Load_Returns_ErrConfigFileNotFound_When_Explicit_Missing(t *testing.T) {
	t.Parallel()

	_, err := config.Load(config.LoadInput{
		WorkDirOverride: t.TempDir(),
		ConfigPath:      "nope.json",
		Env:             map[string]string{},
	})
	if !errors.Is(err, config.ErrConfigFileNotFound) {
		t.Fatalf("err=%v, want ErrConfigFileNotFound", err)
	}
}

func Test_Load_Reads_TagWriter_From_Explicit_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "custom.json"), `{
		"library": "lib.dsv",
		"tag_writer": {
			"set": ["kid3-cli", "-c", "set {key} {value}", "{path}"],
			"repair": ["kid3-cli", "-c", "to24", "{path}"],
		},
	}`)

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: dir,
		ConfigPath:      "custom.json",
		Env:             map[string]string{},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"kid3-cli", "-c", "set {key} {value}", "{path}"}, cfg.TagWriter.Set)
	require.Len(t, cfg.TagWriter.Repair, 4)
}

func Test_Load_Returns_ErrConfigInvalid_When_Value_Bad(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"bad duration":  `{"library": "x", "lock_timeout": "soon"}`,
		"numeric":       `{"library": "x", "min_window": 300}`,
		"empty library": `{"library": ""}`,
		"not json":      `{library: x}`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, config.FileName), content)

			_, err := config.Load(config.LoadInput{WorkDirOverride: dir, Env: map[string]string{}})
			if !errors.Is(err, config.ErrConfigInvalid) {
				t.Fatalf("err=%v, want ErrConfigInvalid", err)
			}
		})
	}
}

func Test_Load_Rejects_Invalid_Settings(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		content string
		want    error
	}{
		"pipe delimiter":   {`{"library": "x", "delimiter": "|"}`, config.ErrInvalidDelimiter},
		"long delimiter":   {`{"library": "x", "delimiter": "^^"}`, config.ErrInvalidDelimiter},
		"log level":        {`{"library": "x", "log_level": "loud"}`, config.ErrInvalidValue},
		"log format":       {`{"library": "x", "log_format": "xml"}`, config.ErrInvalidValue},
		"negative retries": {`{"library": "x", "lock_retries": -1}`, config.ErrInvalidValue},
		"window order":     {`{"library": "x", "min_window": "2h", "max_window": "1h"}`, config.ErrInvalidValue},
		"repair only":      {`{"library": "x", "tag_writer": {"repair": ["fix"]}}`, config.ErrInvalidValue},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, config.FileName), tc.content)

			_, err := config.Load(config.LoadInput{WorkDirOverride: dir, Env: map[string]string{}})
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v, want %v", err, tc.want)
			}
		})
	}
}
