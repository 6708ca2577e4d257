package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// WithSnapshot adds snapshot_id context to logger.
func (l *Logger) WithSnapshot(snapshotID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("snapshot_id", snapshotID).Logger(),
	}
}

// WithUser adds the acting OS user to logger context, mirroring the
// control plane's audit actor.
func (l *Logger) WithUser(user string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("user", user).Logger(),
	}
}

// WithSource adds the snapshot source path and its on-disk size to logger
// context.
func (l *Logger) WithSource(sourcePath string, sourceSize int64) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("source_path", sourcePath).
			Int64("source_size", sourceSize).
			Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// SnapshotStarted logs the start of a snapshot creation run.
func (l *Logger) SnapshotStarted(snapshotID, sourcePath, label string) {
	l.logger.Info().
		Str("snapshot_id", snapshotID).
		Str("source_path", sourcePath).
		Str("label", label).
		Msg("snapshot creation started")
}

// SnapshotFileChunked logs a single file's chunking result during a
// snapshot walk.
func (l *Logger) SnapshotFileChunked(snapshotID, path string, size int64, chunkCount int) {
	l.logger.Debug().
		Str("snapshot_id", snapshotID).
		Str("path", path).
		Int64("size", size).
		Int("chunk_count", chunkCount).
		Msg("file chunked into store")
}

// SnapshotCompleted logs successful snapshot creation.
func (l *Logger) SnapshotCompleted(snapshotID string, totalFiles, totalChunks int, duration time.Duration, merkleRoot string) {
	l.logger.Info().
		Str("snapshot_id", snapshotID).
		Int("total_files", totalFiles).
		Int("total_chunks", totalChunks).
		Float64("duration_seconds", duration.Seconds()).
		Str("merkle_root", merkleRoot).
		Msg("snapshot creation completed")
}

// SnapshotAborted logs a snapshot creation that was rolled back.
func (l *Logger) SnapshotAborted(snapshotID string, err error) {
	l.logger.Error().
		Str("snapshot_id", snapshotID).
		Err(err).
		Msg("snapshot creation aborted and cleaned up")
}

// VerifyResult logs the outcome of a verify operation.
func (l *Logger) VerifyResult(snapshotID string, ok bool, kind, reason string) {
	ev := l.logger.Info()
	if !ok {
		ev = l.logger.Warn()
	}
	ev.
		Str("snapshot_id", snapshotID).
		Bool("ok", ok).
		Str("kind", kind).
		Str("reason", reason).
		Msg("snapshot verification result")
}

// RestoreCompleted logs a completed restore.
func (l *Logger) RestoreCompleted(snapshotID, targetPath string, totalFiles int, duration time.Duration) {
	l.logger.Info().
		Str("snapshot_id", snapshotID).
		Str("target_path", targetPath).
		Int("total_files", totalFiles).
		Float64("duration_seconds", duration.Seconds()).
		Msg("restore completed")
}

// PolicyDenied logs a command the policy engine refused before it ran.
func (l *Logger) PolicyDenied(user, command string) {
	l.logger.Warn().
		Str("user", user).
		Str("command", command).
		Msg("command denied by policy")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
