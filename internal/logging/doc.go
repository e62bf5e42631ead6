// Package logging provides structured logging for the ObaDB storage core.
//
// # Overview
//
// Components log through the Logger interface, which takes a message plus
// alternating key/value pairs. The default implementation is backed by zap.
//
//	logger := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "/var/log/obadb/obadb.log",
//	})
//
// File outputs are rotated by lumberjack once they reach MaxSizeMB.
//
// For tests, use a no-op logger:
//
//	logger := logging.NewNop()
//
// # Contextual Fields
//
// Create loggers with persistent fields:
//
//	txLogger := logger.WithFields("coordinator", label, "txn", id)
//	txLogger.Debug("prepare")
//	txLogger.Debug("commit", "version", v)
package logging
