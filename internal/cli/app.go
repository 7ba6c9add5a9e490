package cli

import (
	"io"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/musiclib/internal/config"
	"github.com/calvinalkan/musiclib/internal/dsv"
	"github.com/calvinalkan/musiclib/internal/library"
	"github.com/calvinalkan/musiclib/internal/queue"
	"github.com/calvinalkan/musiclib/internal/session"
	"github.com/calvinalkan/musiclib/internal/tags"
)

// app holds the components a command works with. It is filled in after the
// config is loaded, so commands can be listed (and print help) without one.
type app struct {
	cfg   config.Config
	log   *logrus.Logger
	store *dsv.Store
	queue *queue.Queue
	lib   *library.Library
	tags  tags.Writer
	now   func() time.Time
}

func (a *app) init(cfg config.Config, errOut io.Writer) {
	a.cfg = cfg
	a.log = newLogger(errOut, cfg.LogLevel, cfg.LogFormat)

	if a.now == nil {
		a.now = time.Now
	}

	a.tags = tags.Nop{}
	if len(cfg.TagWriter.Set) > 0 {
		a.tags = &tags.CommandWriter{SetArgs: cfg.TagWriter.Set, RepairArgs: cfg.TagWriter.Repair}
	}

	a.store = dsv.NewStore(cfg.LibraryAbs, dsv.WithDelimiter(cfg.DelimiterByte()))
	a.queue = queue.New(cfg.StateDirAbs,
		queue.WithLogger(a.log.WithField("component", "queue")),
		queue.WithClock(a.now),
	)
	a.lib = library.New(a.store, a.queue,
		library.WithTagWriter(a.tags),
		library.WithLogger(a.log.WithField("component", "library")),
		library.WithTimeouts(library.Timeouts{
			Interactive: cfg.LockTimeout.D(),
			Retries:     cfg.Retries(),
			Background:  cfg.BackgroundLockTimeout.D(),
			Drain:       cfg.DrainLockTimeout.D(),
		}),
	)
}

// sessions returns a session manager whose clock reads now.
func (a *app) sessions(now func() time.Time) *session.Manager {
	return session.New(filepath.Join(a.cfg.StateDirAbs, "sessions"), a.store,
		session.WithTagWriter(a.tags),
		session.WithLockTimeout(a.cfg.BackgroundLockTimeout.D()),
		session.WithWindow(a.cfg.MinWindow.D(), a.cfg.MaxWindow.D()),
		session.WithClock(now),
		session.WithLogger(a.log.WithField("component", "session")),
	)
}

// trackPath makes p absolute against the effective working directory.
func (a *app) trackPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(a.cfg.EffectiveCwd, p)
}

// newLogger builds the per-run logger writing to stderr. level and format
// are validated by config.
func newLogger(w io.Writer, level, format string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)

	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.WarnLevel
	}

	l.SetLevel(lvl)

	return l
}
