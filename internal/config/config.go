package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	logpkg "github.com/rzbill/vrlog/pkg/log"
)

// ErrInvalid marks configuration that failed validation.
var ErrInvalid = errors.New("invalid configuration")

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Log      LogConfig      `json:"log" yaml:"log"`
	Transfer TransferConfig `json:"transfer" yaml:"transfer"`
	Logging  logpkg.Config  `json:"logging" yaml:"logging"`
}

// LogConfig mirrors oplog.Options.
type LogConfig struct {
	UseHash bool   `json:"useHash" yaml:"useHash"`
	Start   uint64 `json:"start" yaml:"start"`
	// InitialHash is the hex seed of the chain; empty means all-zero.
	InitialHash string `json:"initialHash" yaml:"initialHash"`
	Capacity    int    `json:"capacity" yaml:"capacity"`
	Paranoid    bool   `json:"paranoid" yaml:"paranoid"`
}

// TransferConfig configures the state-transfer spool.
type TransferConfig struct {
	// DataDir holds the spool store. Empty selects DefaultDataDir().
	DataDir         string `json:"dataDir" yaml:"dataDir"`
	Fsync           string `json:"fsync" yaml:"fsync"`
	FsyncIntervalMs int    `json:"fsyncIntervalMs" yaml:"fsyncIntervalMs"`
	// BatchSize is the number of entries per spool commit.
	BatchSize int `json:"batchSize" yaml:"batchSize"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Log: LogConfig{
			UseHash:  true,
			Start:    1,
			Capacity: 1 << 16,
			Paranoid: true,
		},
		Transfer: TransferConfig{
			Fsync:           "interval",
			FsyncIntervalMs: 5,
			BatchSize:       256,
		},
		Logging: logpkg.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a JSON or YAML file (by extension) on top of
// the defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parse yaml config %s", path)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parse json config %s", path)
		}
	}
	return cfg, nil
}

// Validate reports the first inconsistency, marked with ErrInvalid.
func (c Config) Validate() error {
	if c.Log.Capacity < 0 {
		return errors.Mark(errors.Newf("log.capacity=%d must not be negative", c.Log.Capacity), ErrInvalid)
	}
	if h := strings.TrimSpace(c.Log.InitialHash); h != "" {
		if len(h) != 40 {
			return errors.Mark(errors.Newf("log.initialHash must be 40 hex characters, got %d", len(h)), ErrInvalid)
		}
		if strings.Trim(h, "0") != "" && c.Log.Start <= 1 {
			return errors.Mark(errors.New("log.initialHash requires log.start > 1"), ErrInvalid)
		}
	}
	switch c.Transfer.Fsync {
	case "", "always", "interval", "never":
	default:
		return errors.Mark(errors.Newf("transfer.fsync=%q; use always|interval|never", c.Transfer.Fsync), ErrInvalid)
	}
	if c.Transfer.BatchSize < 0 {
		return errors.Mark(errors.Newf("transfer.batchSize=%d must not be negative", c.Transfer.BatchSize), ErrInvalid)
	}
	if _, err := logpkg.ParseLevel(c.Logging.Level); err != nil {
		return errors.Mark(err, ErrInvalid)
	}
	return nil
}
