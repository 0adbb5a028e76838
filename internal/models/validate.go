package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ErrInvalid wraps every boundary validation failure.
var ErrInvalid = errors.New("invalid document")

// Validate checks the struct tags of v and reports the failing fields.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(fields, ", "))
}

// ValidateRound checks a round read from the cache or the remote store.
// The record map must cover exactly the configured checkpoints.
func ValidateRound(r *Round) error {
	if r == nil {
		return fmt.Errorf("%w: nil round", ErrInvalid)
	}
	if err := Validate(r); err != nil {
		return err
	}
	if len(r.Records) != len(r.Checkpoints) {
		return fmt.Errorf("%w: round %s has %d records for %d checkpoints",
			ErrInvalid, r.ID, len(r.Records), len(r.Checkpoints))
	}
	for i := range r.Checkpoints {
		if _, ok := r.Records[i]; !ok {
			return fmt.Errorf("%w: round %s missing record %d", ErrInvalid, r.ID, i)
		}
	}
	return nil
}

type updateRouting struct {
	DocPath string `validate:"required"`
	Client  string `validate:"required"`
	Unit    string `validate:"required"`
}

// ValidateRouting checks that a field-update entry can be routed: it needs a
// document path plus client and unit tags for media folders.
func ValidateRouting(p PendingOp) error {
	u, ok := p.Op.(UpdateFields)
	if !ok {
		return nil
	}
	return Validate(updateRouting{DocPath: strings.TrimSpace(u.DocPath), Client: p.Client, Unit: p.Unit})
}
