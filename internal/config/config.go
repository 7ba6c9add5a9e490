// Package config loads mlib configuration from JSONC files and flags.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tailscale/hujson"
)

// Config holds all configuration options.
type Config struct {
	// From config files (serialized)
	Library               string    `json:"library"`
	StateDir              string    `json:"state_dir,omitempty"`
	Delimiter             string    `json:"delimiter,omitempty"`
	LockTimeout           Duration  `json:"lock_timeout,omitempty"`
	LockRetries           *int      `json:"lock_retries,omitempty"`
	BackgroundLockTimeout Duration  `json:"background_lock_timeout,omitempty"`
	DrainLockTimeout      Duration  `json:"drain_lock_timeout,omitempty"`
	MinWindow             Duration  `json:"min_window,omitempty"`
	MaxWindow             Duration  `json:"max_window,omitempty"`
	LogLevel              string    `json:"log_level,omitempty"`
	LogFormat             string    `json:"log_format,omitempty"`
	TagWriter             TagWriter `json:"tag_writer"`

	// Resolved paths (computed, not serialized)
	EffectiveCwd string `json:"-"` // Absolute working directory (from -C flag or os.Getwd)
	LibraryAbs   string `json:"-"` // Absolute path to the library file
	StateDirAbs  string `json:"-"` // Absolute path to the state directory

	// Sources tracks which config files were loaded (for diagnostics)
	Sources Sources `json:"-"`
}

// TagWriter holds the argv templates of the external tag tool. An empty Set
// disables tag writes.
type TagWriter struct {
	Set    []string `json:"set,omitempty"`
	Repair []string `json:"repair,omitempty"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project or explicit config if loaded, empty otherwise
}

// Duration is a time.Duration that reads and writes Go duration strings.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string

	err := json.Unmarshal(data, &s)
	if err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	if v < 0 {
		return fmt.Errorf("duration %q is negative", s)
	}

	*d = Duration(v)

	return nil
}

// Retries returns the interactive lock retry count.
func (c Config) Retries() int {
	if c.LockRetries == nil {
		return 0
	}

	return *c.LockRetries
}

// DelimiterByte returns the record store delimiter.
func (c Config) DelimiterByte() byte {
	return c.Delimiter[0]
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	retries := 2

	return Config{
		Delimiter:             "^",
		LockTimeout:           Duration(10 * time.Second),
		LockRetries:           &retries,
		BackgroundLockTimeout: Duration(2 * time.Second),
		DrainLockTimeout:      Duration(time.Second),
		MinWindow:             Duration(5 * time.Minute),
		MaxWindow:             Duration(720 * time.Hour),
		LogLevel:              "warn",
		LogFormat:             "text",
	}
}

// FileName is the default project config file name.
const FileName = ".mlib.json"

// globalPath returns the path to the global config file.
// Uses $XDG_CONFIG_HOME/mlib/config.json if set, otherwise ~/.config/mlib/config.json.
// Returns empty string if home directory cannot be determined.
func globalPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "mlib", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "mlib", "config.json")
	}

	return ""
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDirOverride  string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath       string            // -c/--config flag value
	LibraryOverride  string            // --library flag value; empty means no override
	StateDirOverride string            // --state-dir flag value; empty means no override
	Env              map[string]string // environment variables
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config (~/.config/mlib/config.json or $XDG_CONFIG_HOME/mlib/config.json)
// 3. Project config file at default location (.mlib.json, if exists)
// 4. Explicit config file via ConfigPath (replaces 3, must exist)
// 5. CLI overrides.
//
// All paths in the returned Config are resolved to absolute paths.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return Config{}, fmt.Errorf("cannot resolve working directory: %w", err)
	}

	cfg := DefaultConfig()

	globalCfg, globalCfgPath, err := loadGlobal(input.Env)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Global = globalCfgPath
	cfg = merge(cfg, globalCfg)

	projectCfg, projectPath, err := loadProject(workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Project = projectPath
	cfg = merge(cfg, projectCfg)

	if input.LibraryOverride != "" {
		cfg.Library = input.LibraryOverride
	}

	if input.StateDirOverride != "" {
		cfg.StateDir = input.StateDirOverride
	}

	err = validate(cfg)
	if err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir
	cfg.LibraryAbs = absPath(workDir, cfg.Library)

	if cfg.StateDir == "" {
		cfg.StateDirAbs = filepath.Join(filepath.Dir(cfg.LibraryAbs), ".mlib")
	} else {
		cfg.StateDirAbs = absPath(workDir, cfg.StateDir)
	}

	return cfg, nil
}

func absPath(workDir, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}

	return filepath.Join(workDir, p)
}

// loadGlobal loads the global user config file if it exists.
// Returns the config, the path if loaded, and any error.
func loadGlobal(env map[string]string) (Config, string, error) {
	path := globalPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadFile(path, false)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, path, nil
}

// loadProject loads the project config file (.mlib.json) or an explicit config file.
// Returns the config, the path if loaded, and any error.
func loadProject(workDir, configPath string) (Config, string, error) {
	var (
		path      string
		mustExist bool
	)

	if configPath != "" {
		path = absPath(workDir, configPath)
		mustExist = true

		_, statErr := os.Stat(path)
		if statErr != nil {
			return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
		}
	} else {
		path = filepath.Join(workDir, FileName)
	}

	cfg, loaded, err := loadFile(path, mustExist)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, path, nil
}

// loadFile loads a config file. If mustExist is false, missing files return zero config.
func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
	}

	cfg, parseErr := parse(data)
	if parseErr != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, parseErr)
	}

	return cfg, true, nil
}

func parse(data []byte) (Config, error) {
	// Standardize JSONC to JSON
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	err = json.Unmarshal(standardized, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	// An explicit "" would otherwise be indistinguishable from "not set".
	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	for _, key := range []string{"library", "delimiter"} {
		if val, exists := raw[key]; exists {
			if str, ok := val.(string); ok && str == "" {
				return Config{}, fmt.Errorf("%w: %s cannot be empty", ErrInvalidValue, key)
			}
		}
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.Library != "" {
		base.Library = overlay.Library
	}

	if overlay.StateDir != "" {
		base.StateDir = overlay.StateDir
	}

	if overlay.Delimiter != "" {
		base.Delimiter = overlay.Delimiter
	}

	if overlay.LockTimeout != 0 {
		base.LockTimeout = overlay.LockTimeout
	}

	if overlay.LockRetries != nil {
		base.LockRetries = overlay.LockRetries
	}

	if overlay.BackgroundLockTimeout != 0 {
		base.BackgroundLockTimeout = overlay.BackgroundLockTimeout
	}

	if overlay.DrainLockTimeout != 0 {
		base.DrainLockTimeout = overlay.DrainLockTimeout
	}

	if overlay.MinWindow != 0 {
		base.MinWindow = overlay.MinWindow
	}

	if overlay.MaxWindow != 0 {
		base.MaxWindow = overlay.MaxWindow
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	if overlay.LogFormat != "" {
		base.LogFormat = overlay.LogFormat
	}

	if len(overlay.TagWriter.Set) > 0 || len(overlay.TagWriter.Repair) > 0 {
		base.TagWriter = overlay.TagWriter
	}

	return base
}

func validate(cfg Config) error {
	if cfg.Library == "" {
		return ErrLibraryRequired
	}

	d := cfg.Delimiter
	if len(d) != 1 || d[0] < 0x21 || d[0] > 0x7e || d == "|" {
		return fmt.Errorf("%w: %q", ErrInvalidDelimiter, d)
	}

	if cfg.LockRetries != nil && *cfg.LockRetries < 0 {
		return fmt.Errorf("%w: lock_retries must be >= 0", ErrInvalidValue)
	}

	if cfg.MaxWindow != 0 && cfg.MaxWindow < cfg.MinWindow {
		return fmt.Errorf("%w: max_window %s is below min_window %s", ErrInvalidValue, cfg.MaxWindow.D(), cfg.MinWindow.D())
	}

	_, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: log_level: %w", ErrInvalidValue, err)
	}

	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("%w: log_format must be \"text\" or \"json\", got %q", ErrInvalidValue, cfg.LogFormat)
	}

	if len(cfg.TagWriter.Set) == 0 && len(cfg.TagWriter.Repair) > 0 {
		return fmt.Errorf("%w: tag_writer.repair requires tag_writer.set", ErrInvalidValue)
	}

	return nil
}
