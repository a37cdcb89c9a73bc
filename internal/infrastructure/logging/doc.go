// Package logging provides structured logging for the HomematicIP bridge.
//
// It wraps log/slog with a JSON (or text) handler and attaches service and
// version fields to every record. Components derive child loggers with
// Component or With:
//
//	logger := logging.New(cfg.Logging, version)
//	hmipLog := logger.Component("hmip")
//	hmipLog.Info("device bound", "device_id", id)
package logging
