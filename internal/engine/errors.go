package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/plugsync/internal/autosort"
	"github.com/dshills/plugsync/internal/catalog"
	"github.com/dshills/plugsync/internal/loadorder"
	"github.com/dshills/plugsync/internal/notify"
	"github.com/dshills/plugsync/internal/persist"
)

// Engine errors.
var (
	// ErrClosed indicates the engine has been shut down.
	ErrClosed = errors.New("engine closed")

	// ErrNoSession indicates no profile is active.
	ErrNoSession = errors.New("no active profile")

	// ErrSessionInactive indicates the session was deactivated.
	ErrSessionInactive = errors.New("profile no longer active")

	// ErrNoPluginDir indicates the game has no plugin directory configured.
	ErrNoPluginDir = errors.New("no plugin directory configured")

	// ErrAutosortUnavailable indicates no sort oracle is configured.
	ErrAutosortUnavailable = errors.New("no sort oracle configured")

	// ErrNoHistory indicates the history store is not configured.
	ErrNoHistory = errors.New("history not configured")

	// ErrForeignSnapshot indicates a snapshot belongs to another game.
	ErrForeignSnapshot = errors.New("snapshot belongs to another game")
)

// OperationError wraps a failed session operation.
type OperationError struct {
	Op     string
	GameID string
	Err    error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.GameID, e.Err)
}

// Unwrap returns the underlying error.
func (e *OperationError) Unwrap() error {
	return e.Err
}

// classify maps an error onto the warning taxonomy. ok is false for errors
// that are not reported as warnings, such as cancellation.
func classify(err error) (kind notify.WarningKind, plugins []string, ok bool) {
	var conflict *autosort.ConflictError
	var partial *catalog.PartialScanError
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, ErrSessionInactive):
		return 0, nil, false
	case errors.Is(err, loadorder.ErrUnknownPlugin), errors.Is(err, loadorder.ErrNativePlugin):
		// Rejected user input, returned to the caller only.
		return 0, nil, false
	case errors.As(err, &conflict):
		return notify.KindOracleConflict, conflict.Plugins, true
	case errors.Is(err, autosort.ErrOracleUnreachable), errors.Is(err, context.DeadlineExceeded):
		return notify.KindOracleUnreachable, nil, true
	case errors.Is(err, loadorder.ErrOrderInvalid):
		return notify.KindOrderInvalid, nil, true
	case errors.As(err, &partial):
		return notify.KindPartialScan, partial.Mods, true
	default:
		var lw *persist.LineWarning
		if errors.As(err, &lw) {
			return notify.KindParseCorruption, nil, true
		}
		return notify.KindIOUnavailable, nil, true
	}
}
