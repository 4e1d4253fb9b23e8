// Package config provides loading and environment overlay for vrlog
// configuration: the operation log options, the state-transfer spool and
// logging. It exposes a Default() baseline, file loading (JSON or YAML) and a
// VRLOG_* environment overlay.
//
// Example:
//
//	cfg, err := config.Load("/etc/vrlog.yaml")
//	if err != nil { /* handle */ }
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil { /* handle */ }
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
package config
