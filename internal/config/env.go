package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays VRLOG_* environment variables onto cfg. Unparseable
// values are ignored.
func FromEnv(cfg *Config) {
	if v := os.Getenv("VRLOG_USE_HASH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Log.UseHash = b
		}
	}
	if v := os.Getenv("VRLOG_START"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Log.Start = n
		}
	}
	if v := os.Getenv("VRLOG_INITIAL_HASH"); v != "" {
		cfg.Log.InitialHash = strings.TrimSpace(v)
	}
	if v := os.Getenv("VRLOG_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Log.Capacity = n
		}
	}
	if v := os.Getenv("VRLOG_PARANOID"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Log.Paranoid = b
		}
	}
	if v := os.Getenv("VRLOG_DATA_DIR"); v != "" {
		cfg.Transfer.DataDir = v
	}
	if v := os.Getenv("VRLOG_FSYNC"); v != "" {
		cfg.Transfer.Fsync = strings.ToLower(v)
	}
	if v := os.Getenv("VRLOG_FSYNC_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Transfer.FsyncIntervalMs = n
		}
	}
	if v := os.Getenv("VRLOG_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Transfer.BatchSize = n
		}
	}
	if v := os.Getenv("VRLOG_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VRLOG_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
