package license

import (
	"errors"
	"fmt"
)

var (
	ErrQuotaExceeded = errors.New("question paper quota exceeded")
	ErrGrantInactive = errors.New("license grant has expired")

	ErrNotLicensed      = errors.New("subject is not covered by any active license grant")
	ErrNoPaperAllowance = errors.New("no active license grant allows question papers")
)

// MissingUsageConfigurationError stops a recomputation for an organization without a usage limit.
type MissingUsageConfigurationError struct {
	OrganizationID string
}

func (e *MissingUsageConfigurationError) Error() string {
	return fmt.Sprintf("organization %s has no usage limit configured", e.OrganizationID)
}

// RecomputationError wraps any other failure of a recomputation. Nothing it would have
// written was committed.
type RecomputationError struct {
	OrganizationID string
	Err            error
}

func (e *RecomputationError) Error() string {
	return fmt.Sprintf("recomputing licenses of organization %s: %v", e.OrganizationID, e.Err)
}

func (e *RecomputationError) Unwrap() error { return e.Err }

// PaperLimitError reports an organization at its draft or published question paper limit.
type PaperLimitError struct {
	Published bool
	Limit     int
}

func (e *PaperLimitError) Error() string {
	if e.Published {
		return fmt.Sprintf("limit of %d published papers reached, unpublish one first", e.Limit)
	}
	return fmt.Sprintf("limit of %d draft papers reached, publish or delete a draft first", e.Limit)
}
