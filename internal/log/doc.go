// Package log provides the logging setup shared by the command line
// tools, built on top of the standard slog package.
//
// Fuzzing sessions log payloads and victim responses, which are
// arbitrary binary blobs of arbitrary size. The PayloadHandler wraps
// any slog.Handler and keeps such attributes readable:
//   - []byte values are rendered as hex
//   - long values are truncated with a length marker
//   - control characters never reach the terminal
//
// # Usage
//
//	logger := log.NewLogger(os.Stderr, true) // verbose=true
//	logger.Debug("transmitted",
//	    "payload", payload, // hex, truncated to a sane width
//	    "test", 42,
//	)
//	slog.SetDefault(logger)
package log
