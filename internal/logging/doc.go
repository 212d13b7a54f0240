// Package logging provides structured logging for patchloop runs.
//
// Every entry is one JSON object written through log/slog. Child loggers carry
// the run ID, the loop phase, the active milestone and the global attempt
// number, so a single log file can be filtered per attempt after the fact.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(".patchloop", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	attemptLog := logger.WithRun(runID).WithMilestone("m1").WithAttempt(3)
//	attemptLog.Info("patch applied", "paths", paths)
//
// Passing an empty directory writes to stderr. [NopLogger] discards output
// and is the default for library callers that do not configure logging.
//
// # Rotation
//
// [NewLoggerWithRotation] wraps the file in a [RotatingWriter] that renames the
// log to patchloop.log.1 once it exceeds the configured size.
package logging
