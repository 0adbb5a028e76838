package service

import (
	"strings"

	"github.com/raphaelgruber/patrolsync/internal/models"
)

// checkpointAt returns checkpoint i of r, or ErrConfiguration when the index
// has no checkpoint or the checkpoint has no expected code.
func checkpointAt(r *models.Round, i int) (models.Checkpoint, error) {
	if i < 0 || i >= len(r.Checkpoints) {
		return models.Checkpoint{}, reason(ErrConfiguration, "round has no checkpoint %d", i+1)
	}
	cp := r.Checkpoints[i]
	if strings.TrimSpace(cp.Code) == "" {
		return models.Checkpoint{}, reason(ErrConfiguration, "checkpoint %q has no expected code", cp.Name)
	}
	return cp, nil
}

// ValidateScan compares a scanned code against checkpoint i of r. Both sides
// are trimmed and must match exactly.
func ValidateScan(r *models.Round, i int, code string) (models.Checkpoint, error) {
	cp, err := checkpointAt(r, i)
	if err != nil {
		return cp, err
	}
	if r.Records[i].Scanned {
		return cp, reason(ErrAlreadyScanned, "checkpoint %q was already scanned", cp.Name)
	}
	got := strings.TrimSpace(code)
	if got != strings.TrimSpace(cp.Code) {
		return cp, reason(ErrInvalidCode, "code %q does not belong to checkpoint %q", got, cp.Name)
	}
	return cp, nil
}
