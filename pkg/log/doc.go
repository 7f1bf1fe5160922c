// Package log provides the structured logger used across poolbroker.
//
// It wraps zerolog with a single global Logger configured once at startup
// via Init. Component loggers are derived with With* helpers rather than
// passed through every call signature:
//
//	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
//	opLog := log.WithOperationID(op.ID)
//	opLog.Info().Str("status", string(op.Status)).Msg("operation created")
//
// JSONOutput selects zerolog's native JSON encoder for production; when
// false, output goes through zerolog.ConsoleWriter for local development.
package log
