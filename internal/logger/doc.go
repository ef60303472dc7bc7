// Package logger provides a small leveled logging facade over zap.
//
// The logger supports four levels: Debug, Info, Warn, and Error.
// Each log entry includes a timestamp, level, optional session ID, and message.
//
// # Basic Usage
//
// Using the default logger:
//
//	logger.Info("", "Run started")
//	logger.Info("testuser_4821_377", "Logged in")
//	logger.Error("testuser_4821_377", "Failed: %v", err)
//
// Creating a custom logger:
//
//	l := logger.New(os.Stderr, logger.LevelDebug)
//	l.Debug("testuser_4821_377", "Debug message")
//
// # Log Levels
//
// Messages below the configured level are filtered:
//   - LevelDebug: all messages
//   - LevelInfo: Info, Warn, Error
//   - LevelWarn: Warn, Error
//   - LevelError: Error only
//
// # Thread Safety
//
// The underlying zap core is wrapped in a locked writer and the level is an
// atomic value, so all operations are safe for concurrent use.
package logger
