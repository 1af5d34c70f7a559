package period

import "time"

// DeriveStatus maps the stored status of `p` to the one it should have at `now`.
//
// draft and finished are never derived: a draft waits for Publish and a finished period is frozen.
// Otherwise, with start <= end and an optional reviewEnd:
//	now < start                 -> scheduled
//	start <= now < end          -> active
//	end <= now < reviewEnd      -> review (forever when reviewEnd is unset)
//	reviewEnd <= now            -> finished
// When start == end the active window is empty and the period goes straight to review.
func DeriveStatus(now time.Time, p Period) Status {
	if p.Status.IsFrozen() || !p.HasSchedule() {
		return p.Status
	}
	return statusAt(now, *p.StartsAt, *p.EndsAt, p.ReviewEndsAt)
}

func statusAt(now, start, end time.Time, reviewEnd *time.Time) Status {
	switch {
	case now.Before(start):
		return StatusScheduled
	case now.Before(end):
		return StatusActive
	case reviewEnd == nil || now.Before(*reviewEnd):
		return StatusReview
	default:
		return StatusFinished
	}
}

// CanAttempt is true only while the period is active.
func CanAttempt(p Period) bool {
	return p.Status == StatusActive
}

// CanReview is true once the answer key may be disclosed.
func CanReview(p Period) bool {
	return p.Status == StatusReview || p.Status == StatusFinished
}
