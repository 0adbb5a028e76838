package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphaelgruber/patrolsync/internal/db"
)

// Sentinel errors returned by the entry points. Each is wrapped with a
// display-ready reason; test with errors.Is.
var (
	ErrInvalidCode           = errors.New("invalid code")
	ErrConfiguration         = errors.New("configuration error")
	ErrNetworkUnavailable    = errors.New("network unavailable")
	ErrTimeout               = errors.New("remote write timed out")
	ErrConflictAlreadyActive = errors.New("a round is already in progress")
	ErrInvalidQueueEntry     = errors.New("structurally invalid queue entry")
	ErrNotEligible           = errors.New("round not eligible")
	ErrNoActiveRound         = errors.New("no active round")
	ErrAlreadyScanned        = errors.New("checkpoint already scanned")
	ErrScannerBusy           = errors.New("scanner already open")
	ErrNoPendingScan         = errors.New("no scan in progress")
	ErrRoundClosed           = errors.New("round already completed for this slot")
)

func reason(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// classifyRemote maps a remote failure onto the network sentinels so callers
// can decide between the offline path and a hard error.
func classifyRemote(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, db.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	return err
}

// offline reports whether err means the remote store could not be reached.
func offline(err error) bool {
	return errors.Is(err, ErrNetworkUnavailable) || errors.Is(err, ErrTimeout)
}
