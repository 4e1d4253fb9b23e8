package runtime

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/multierr"

	cfgpkg "github.com/rzbill/vrlog/internal/config"
	"github.com/rzbill/vrlog/internal/oplog"
	pebblestore "github.com/rzbill/vrlog/internal/storage/pebble"
	"github.com/rzbill/vrlog/internal/transfer"
	"github.com/rzbill/vrlog/pkg/id"
	logpkg "github.com/rzbill/vrlog/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	// Replica is stamped into session ids minted by NewSession.
	Replica uint32
	// Logger overrides the logger built from Config.Logging.
	Logger logpkg.Logger
}

// Runtime wires config, logging and the spool store for one replica process.
type Runtime struct {
	db      *pebblestore.DB
	config  cfgpkg.Config
	logger  logpkg.Logger
	ids     *id.Generator
	replica uint32
}

// Open validates the configuration, opens the spool store and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		var err error
		if logger, err = logpkg.ApplyConfig(&cfg.Logging); err != nil {
			return nil, errors.Wrap(err, "build logger")
		}
	}
	logger = logger.WithField(logpkg.ReplicaKey, opts.Replica)

	fsync, err := pebblestore.ParseFsyncMode(cfg.Transfer.Fsync)
	if err != nil {
		return nil, err
	}
	dir := cfgpkg.SpoolDir(cfg.Transfer.DataDir)
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       dir,
		Fsync:         fsync,
		FsyncInterval: time.Duration(cfg.Transfer.FsyncIntervalMs) * time.Millisecond,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("runtime opened", logpkg.Str("spool_dir", dir), logpkg.Str("fsync", cfg.Transfer.Fsync))
	return &Runtime{
		db:      db,
		config:  cfg,
		logger:  logger,
		ids:     id.NewGenerator(opts.Replica),
		replica: opts.Replica,
	}, nil
}

// Close closes underlying resources. It is safe to call more than once.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	err := multierr.Combine(r.db.Flush(), r.db.Close())
	r.db = nil
	if err != nil {
		r.logger.Error("runtime closed with errors", logpkg.Err(err))
	}
	return err
}

// CheckHealth verifies the spool store can serve reads.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.db == nil {
		return errors.New("runtime: store not open")
	}
	return r.db.Ping()
}

// LogOptions converts the log section of the configuration.
func (r *Runtime) LogOptions() (oplog.Options, error) {
	c := r.config.Log
	opts := oplog.Options{
		UseHash:  c.UseHash,
		Start:    c.Start,
		Capacity: c.Capacity,
		Paranoid: c.Paranoid,
		Logger:   r.logger,
	}
	if h := strings.TrimSpace(c.InitialHash); h != "" {
		seed, err := oplog.ParseHash(h)
		if err != nil {
			return oplog.Options{}, errors.Wrap(err, "log.initialHash")
		}
		opts.InitialHash = seed
	}
	return opts, nil
}

// NewSession mints a fresh state-transfer session id.
func (r *Runtime) NewSession() string { return r.ids.Next().String() }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// Logger returns the runtime's logger.
func (r *Runtime) Logger() logpkg.Logger { return r.logger }

// NewLog builds an empty operation log from the runtime's configuration.
func NewLog[D any](r *Runtime) (*oplog.Log[D], error) {
	opts, err := r.LogOptions()
	if err != nil {
		return nil, err
	}
	return oplog.New[D](opts)
}

// OpenSpool returns a spool over the runtime's store.
func OpenSpool[D any](r *Runtime, codec transfer.DataCodec[D]) *transfer.Spool[D] {
	return transfer.NewSpool[D](r.db, codec, transfer.SpoolOptions{
		BatchSize: r.config.Transfer.BatchSize,
		Logger:    r.logger,
	})
}
