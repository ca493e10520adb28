package app

import (
	"errors"

	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/domain"
)

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrNotAMember          = errors.New("account is not a member of the community")
	ErrNotSubmissionOwner  = errors.New("submission belongs to another account")
	ErrAlreadyMember       = errors.New("account already joined the community")
	ErrDuplicateSubmission = errors.New("already certified today")
	ErrConcurrencyConflict = errors.New("concurrent update conflict, retry the request")
	ErrSweepInProgress     = errors.New("penalty sweep already running")
)

// DuplicateSubmissionError is returned when the account already holds a
// submission for the local day. It carries that submission.
type DuplicateSubmissionError struct {
	Existing *domain.Submission
}

func (e *DuplicateSubmissionError) Error() string {
	return ErrDuplicateSubmission.Error()
}

func (e *DuplicateSubmissionError) Unwrap() error {
	return ErrDuplicateSubmission
}
