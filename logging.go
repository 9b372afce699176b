package dynfilter

import (
	"log/slog"
	"os"

	"github.com/joeycumines/logiface"
	islog "github.com/joeycumines/logiface-slog"
)

// Logger is the logger type used throughout this package for diagnostics:
// mprotect failures, unresolved call sites, slot exhaustion, and fatal host
// contract violations.
type Logger = logiface.Logger[*islog.Event]

// NewLogger builds the default diagnostics logger: structured text to
// stderr, so it never competes with anything the host writes to stdout.
// The caller chooses the level; cmd/scorep-dynfilter-plugin passes
// LevelWarning, matching the error-handling policy of logging rather than
// aborting on recoverable conditions.
func NewLogger(level logiface.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, nil)
	return islog.L.New(
		islog.L.WithSlogHandler(handler),
		logiface.WithLevel[*islog.Event](level),
	)
}
