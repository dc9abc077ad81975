// Package studystate opens a study: it loads the study config, creates or
// resumes the study's output store and directory, and seeds the per-generation
// time windows every run of the study shares.
//
// Open is the only place a study is created. The returned Handle is passed
// explicitly to the expander and launcher; nothing here is global.
package studystate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/nvandessel/simbatch/internal/constants"
	"github.com/nvandessel/simbatch/internal/logging"
	"github.com/nvandessel/simbatch/internal/pathutil"
	"github.com/nvandessel/simbatch/internal/retry"
	"github.com/nvandessel/simbatch/internal/sanitize"
	"github.com/nvandessel/simbatch/internal/store"
	"github.com/nvandessel/simbatch/internal/study"
	"github.com/nvandessel/simbatch/internal/timewindow"
)

// Options controls Open.
type Options struct {
	// ConfigDir holds the study config files.
	ConfigDir string

	// ConfigName is the config file identifier, without extension. It is also
	// the default study name.
	ConfigName string

	// Resume reuses the persisted config when the study store has one.
	Resume bool

	// DSN overrides the store location derived from the config.
	DSN string

	// Retry governs store and directory creation. The zero value uses
	// DefaultRetry.
	Retry retry.Policy

	Logger *slog.Logger

	// LogLevel enables the study event log at debug or trace.
	LogLevel string
}

// DefaultRetry is the creation policy used when Options.Retry is unset.
func DefaultRetry() retry.Policy {
	p := retry.Fixed(constants.DefaultRetryAttempts, constants.DefaultRetryWait)
	p.ShouldRetry = transient
	return p
}

// transient reports whether another setup attempt could succeed. Permission
// errors and a file where a directory belongs do not go away by waiting.
func transient(err error) bool {
	return !errors.Is(err, fs.ErrPermission) && !errors.Is(err, syscall.ENOTDIR)
}

// Handle is an open study.
type Handle struct {
	// Config is the canonical study config: the persisted one when resumed.
	Config *study.Config

	Store store.TableStore

	// Dir is <sim_root>/_simulations/<name>.
	Dir string

	// ConfigName is the identifier the config was loaded by.
	ConfigName string

	// Resumed reports whether Config came from the store.
	Resumed bool

	Events *logging.EventLog

	logger *slog.Logger
	retry  retry.Policy
	mu     sync.Mutex
}

// NewHandle wraps an already open store. Open is the normal entry point.
func NewHandle(cfg *study.Config, st store.TableStore, dir string, logger *slog.Logger) *Handle {
	return &Handle{
		Config: cfg,
		Store:  st,
		Dir:    dir,
		logger: logging.OrDiscard(logger),
		retry:  DefaultRetry(),
	}
}

// Open loads the named study config and opens its store.
//
// With Resume set and a store holding a canonical config, that config is
// returned verbatim with study.resume = true. Otherwise any existing store is
// dropped, the configs and metadata tables are created, and the loaded config
// is stored as row 0 with study.resume = false. The study directory is wiped
// and recreated only when Resume is not set.
func Open(ctx context.Context, opts Options) (*Handle, error) {
	logger := logging.OrDiscard(opts.Logger)
	policy := opts.Retry
	if policy.MaxAttempts == 0 {
		policy = DefaultRetry()
	}
	if policy.ShouldRetry == nil {
		policy.ShouldRetry = transient
	}
	if policy.OnRetry == nil {
		policy.OnRetry = func(attempt int, err error, delay time.Duration) {
			logger.Warn("retrying study setup", "attempt", attempt, "error", err, "wait", delay)
		}
	}

	cfg, dsn, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	h := &Handle{ConfigName: opts.ConfigName, logger: logger, retry: policy}

	if opts.Resume && store.Exists(dsn) {
		resumed, err := h.resume(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if resumed {
			if err := h.prepareDir(ctx, false, opts.LogLevel); err != nil {
				h.Store.Close()
				return nil, err
			}
			return h, nil
		}
	}

	if cfg.Study.OutputDatabase == "" {
		cfg.Study.OutputDatabase = dsn
	}
	cfg.Study.Resume = false
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid study config %s: %w", opts.ConfigName, err)
	}
	if err := h.create(ctx, cfg, dsn); err != nil {
		return nil, err
	}
	if err := h.prepareDir(ctx, !opts.Resume, opts.LogLevel); err != nil {
		h.Store.Close()
		return nil, err
	}
	return h, nil
}

// Inspect opens a study for reading. Nothing is created, dropped or wiped:
// the store, when there is one, is opened read-only. If it holds a canonical
// config, that config replaces the file config and Resumed is set. Store is
// nil when the study has never been opened.
func Inspect(ctx context.Context, opts Options) (*Handle, error) {
	cfg, dsn, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	dir, err := pathutil.StudyDir(cfg.Study.SimulationsRoot(), cfg.Study.Name)
	if err != nil {
		return nil, err
	}
	h := &Handle{
		Config:     cfg,
		Dir:        dir,
		ConfigName: opts.ConfigName,
		logger:     logging.OrDiscard(opts.Logger),
		retry:      DefaultRetry(),
	}
	if !store.Exists(dsn) {
		return h, nil
	}

	st, err := store.OpenSQLiteReadOnly(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening study store: %w", err)
	}
	h.Store = st

	ok, err := st.HasTable(ctx, store.ConfigsTable.Name)
	if err != nil {
		st.Close()
		return nil, err
	}
	if !ok {
		return h, nil
	}
	var persisted study.Config
	found, err := st.FindOne(ctx, store.ConfigsTable, constants.CanonicalConfigID, &persisted)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("reading canonical config: %w", err)
	}
	if found {
		h.Config = &persisted
		h.Resumed = true
	}
	return h, nil
}

// LoadConfig reads the named config file and normalizes its study name,
// exactly as a fresh Open would store it. No store is opened.
func LoadConfig(opts Options) (*study.Config, error) {
	cfg, _, err := loadConfig(opts)
	return cfg, err
}

// loadConfig loads the named config, normalizes its study name and picks the
// store DSN.
func loadConfig(opts Options) (*study.Config, string, error) {
	cfg, _, err := study.LoadNamed(opts.ConfigDir, opts.ConfigName)
	if err != nil {
		return nil, "", err
	}
	if cfg.Study.Name == "" {
		cfg.Study.Name = opts.ConfigName
	}
	cfg.Study.Name = sanitize.StudyName(cfg.Study.Name)

	dsn := opts.DSN
	if dsn == "" {
		dsn = cfg.Study.StoreDSN()
	}
	if dsn == "" {
		return nil, "", fmt.Errorf("study %s: study.output_db_location or study.output_database must be set", cfg.Study.Name)
	}
	return cfg, dsn, nil
}

// resume loads the canonical config from the store at dsn. It reports false
// when the store has no configs table.
func (h *Handle) resume(ctx context.Context, dsn string) (bool, error) {
	var st store.TableStore
	err := retry.Do(ctx, h.retry, func(ctx context.Context) error {
		s, err := store.OpenSQLite(ctx, dsn)
		if err != nil {
			return err
		}
		st = s
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("opening study store %s: %w", pathutil.RedactPath(dsn), err)
	}

	ok, err := st.HasTable(ctx, store.ConfigsTable.Name)
	if err != nil {
		st.Close()
		return false, fmt.Errorf("reading study store: %w", err)
	}
	if !ok {
		st.Close()
		h.logger.Info("study store has no saved config, starting fresh", "store", pathutil.RedactPath(dsn))
		return false, nil
	}

	var cfg study.Config
	found, err := st.FindOne(ctx, store.ConfigsTable, constants.CanonicalConfigID, &cfg)
	if err != nil {
		st.Close()
		return false, fmt.Errorf("reading saved study config: %w", err)
	}
	if !found {
		st.Close()
		h.logger.Info("study store has no saved config, starting fresh", "store", pathutil.RedactPath(dsn))
		return false, nil
	}

	cfg.Study.Resume = true
	h.Config = &cfg
	h.Store = st
	h.Resumed = true
	h.logger.Info("resuming study", "study", cfg.Study.Name, "store", pathutil.RedactPath(dsn))
	return true, nil
}

// create drops any store at dsn and writes cfg as the canonical config.
func (h *Handle) create(ctx context.Context, cfg *study.Config, dsn string) error {
	var st store.TableStore
	err := retry.Do(ctx, h.retry, func(ctx context.Context) error {
		if err := store.Drop(dsn); err != nil {
			return err
		}
		s, err := store.OpenSQLite(ctx, dsn)
		if err != nil {
			return err
		}
		for _, t := range []store.Table{store.ConfigsTable, store.MetadataTable} {
			if err := s.CreateTable(ctx, t); err != nil {
				s.Close()
				return err
			}
		}
		st = s
		return nil
	})
	if err != nil {
		return fmt.Errorf("creating study store %s: %w", pathutil.RedactPath(dsn), err)
	}

	if err := st.Insert(ctx, store.ConfigsTable, constants.CanonicalConfigID, cfg); err != nil {
		st.Close()
		return fmt.Errorf("saving study config: %w", err)
	}

	h.Config = cfg
	h.Store = st
	h.logger.Info("created study", "study", cfg.Study.Name, "store", pathutil.RedactPath(dsn))
	return nil
}

// prepareDir resolves the study directory and creates it. With reset set an
// existing directory is removed first.
func (h *Handle) prepareDir(ctx context.Context, reset bool, level string) error {
	root := h.Config.Study.SimulationsRoot()
	dir, err := pathutil.StudyDir(root, h.Config.Study.Name)
	if err != nil {
		return err
	}
	h.Dir = dir

	err = retry.Do(ctx, h.retry, func(ctx context.Context) error {
		if reset {
			if err := os.RemoveAll(dir); err != nil {
				return err
			}
		}
		return os.MkdirAll(dir, 0755)
	})
	if err != nil {
		return fmt.Errorf("creating study directory %s: %w", pathutil.RedactPath(dir), err)
	}

	h.Events = logging.NewEventLog(dir, level)
	h.Events.Log("study_opened", map[string]any{
		"study":   h.Config.Study.Name,
		"resumed": h.Resumed,
	})
	return nil
}

// EnsureGenerations makes sure the study directory exists and every
// generation has a persisted time window. Missing windows are derived with d;
// existing ones are never recomputed. Safe to call repeatedly.
func (h *Handle) EnsureGenerations(ctx context.Context, d *timewindow.Deriver) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	err := retry.Do(ctx, h.retry, func(ctx context.Context) error {
		return os.MkdirAll(h.Dir, 0755)
	})
	if err != nil {
		return fmt.Errorf("creating study directory %s: %w", pathutil.RedactPath(h.Dir), err)
	}

	if err := h.Store.CreateTable(ctx, store.MetadataTable); err != nil {
		return fmt.Errorf("creating generation metadata: %w", err)
	}

	s := h.Config.Study
	for g := 0; g < s.Generations; g++ {
		var existing timewindow.Window
		found, err := h.Store.FindOne(ctx, store.MetadataTable, int64(g), &existing)
		if err != nil {
			return fmt.Errorf("reading generation %d metadata: %w", g, err)
		}
		if found {
			continue
		}

		w, err := d.Window(s, g)
		if err != nil {
			return fmt.Errorf("generation %d: %w", g, err)
		}
		if err := h.Store.Insert(ctx, store.MetadataTable, int64(g), w); err != nil && !errors.Is(err, store.ErrDuplicateKey) {
			return fmt.Errorf("saving generation %d metadata: %w", g, err)
		}
		h.logger.Debug("seeded generation", "generation", g, "start", w.Start, "end", w.End)
		h.Events.Log("generation_seeded", map[string]any{
			"generation": g,
			"start":      w.Start,
			"end":        w.End,
		})
	}
	return nil
}

// Generations returns the persisted windows ordered by generation.
func (h *Handle) Generations(ctx context.Context) ([]timewindow.Window, error) {
	if h.Store == nil {
		return nil, nil
	}
	ok, err := h.Store.HasTable(ctx, store.MetadataTable.Name)
	if err != nil || !ok {
		return nil, err
	}
	rows, err := h.Store.List(ctx, store.MetadataTable)
	if err != nil {
		return nil, err
	}
	out := make([]timewindow.Window, 0, len(rows))
	for _, r := range rows {
		var w timewindow.Window
		if err := json.Unmarshal(r.Data, &w); err != nil {
			return nil, fmt.Errorf("decoding generation %d metadata: %w", r.Key, err)
		}
		out = append(out, w)
	}
	return out, nil
}

// Logger returns the handle's logger.
func (h *Handle) Logger() *slog.Logger {
	return logging.OrDiscard(h.logger)
}

// Close releases the store and event log.
func (h *Handle) Close() error {
	h.Events.Close()
	if h.Store == nil {
		return nil
	}
	return h.Store.Close()
}
