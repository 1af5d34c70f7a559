package attempt

import "github.com/pkg/errors"

var (
	ErrNotFound               = errors.New("attempt not found")
	ErrPeriodNotOpen          = errors.New("assessment is not open for attempts")
	ErrPrerequisiteNotMet     = errors.New("materials must be completed before starting the assessment")
	ErrAlreadySubmitted       = errors.New("attempt already submitted")
	ErrAttemptClosed          = errors.New("attempt is closed, answers can no longer change")
	ErrUnknownQuestion        = errors.New("question does not belong to this assessment")
	ErrReviewNotOpen          = errors.New("review is not open yet")
	ErrNotSubmitted           = errors.New("attempt has not been submitted yet")
	ErrSessionActiveElsewhere = errors.New("an assessment session is already active on another device")
)

// AlreadySubmittedError carries the existing Result. errors.Is(err, ErrAlreadySubmitted) matches it.
type AlreadySubmittedError struct {
	Result Result
}

func (err *AlreadySubmittedError) Error() string {
	return ErrAlreadySubmitted.Error()
}

func (err *AlreadySubmittedError) Is(target error) bool {
	return target == ErrAlreadySubmitted
}
