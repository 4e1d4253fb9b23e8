package inspect

import (
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	cfgpkg "github.com/rzbill/vrlog/internal/config"
	"github.com/rzbill/vrlog/internal/oplog"
	"github.com/rzbill/vrlog/internal/runtime"
	logpkg "github.com/rzbill/vrlog/pkg/log"
)

// NewRoot constructs the `vrlog` root command with the hash and spool groups.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "vrlog",
		Short:         "Inspect replica operation logs and state-transfer spools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Config file (.json, .yaml)")
	root.PersistentFlags().String("data-dir", "", "Data directory (overrides config and VRLOG_DATA_DIR)")
	root.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error")
	root.PersistentFlags().Uint32("replica", 0, "Replica index stamped into new session ids")

	root.AddCommand(newHashCommand(), newSpoolCommand())
	return root
}

// loadConfig resolves file, environment and flag configuration in that order.
func loadConfig(cmd *cobra.Command) (cfgpkg.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfgpkg.Config{}, err
	}
	cfgpkg.FromEnv(&cfg)
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Transfer.DataDir = dir
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	return cfg, cfg.Validate()
}

// withRuntime opens a runtime for the duration of fn.
func withRuntime(cmd *cobra.Command, fn func(*runtime.Runtime) error) (err error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logpkg.ApplyConfig(&cfg.Logging)
	if err != nil {
		return err
	}
	logpkg.RedirectStdLog(logger)
	replica, _ := cmd.Flags().GetUint32("replica")
	rt, err := runtime.Open(runtime.Options{Config: cfg, Replica: replica, Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(rt)
}

// seedFlag returns --seed, falling back to the configured initial hash.
func seedFlag(cmd *cobra.Command, rt *runtime.Runtime) (oplog.Hash, error) {
	s, _ := cmd.Flags().GetString("seed")
	if s == "" && rt != nil {
		s = rt.Config().Log.InitialHash
	}
	if s == "" {
		return oplog.EmptyHash, nil
	}
	h, err := oplog.ParseHash(s)
	if err != nil {
		return oplog.Hash{}, errors.Wrap(err, "invalid --seed")
	}
	return h, nil
}
