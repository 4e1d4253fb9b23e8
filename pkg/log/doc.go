// Package log provides vrlog's structured logging facade and utilities.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Internally it is backed by Go's
// standard library slog via a custom handler that feeds a formatter/outputs
// pipeline, so output stays consistent across the codebase.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("oplog"), log.Uint64("replica", 2))
//	l.Info("log truncated", log.Uint64("opnum", 41))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config, supporting JSON
// or text formatting and multiple outputs (console, file, null). Redaction and
// sampling are applied as handler wrappers.
//
// # Interop
//
// Logger's printf-style methods satisfy pebble.Logger. Libraries that log
// through the standard library can be captured with RedirectStdLog or
// ToStdLogger.
package log
