package points

import "errors"

var (
	ErrInvalidActionKind  = errors.New("invalid action kind")
	ErrUnknownUser        = errors.New("unknown user")
	ErrAlreadyReviewed    = errors.New("submission already reviewed")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrScoreNotFound      = errors.New("score not found")
	ErrForbidden          = errors.New("permission denied")

	// ErrConcurrentUpdate is returned by a Repository when a versioned write lost a race.
	// Service retries it and never returns it.
	ErrConcurrentUpdate = errors.New("concurrent update conflict")

	// ErrAggregationFailed means the retries on ErrConcurrentUpdate ran out. The caller may retry later.
	ErrAggregationFailed = errors.New("could not update score, please try again")

	errInvalidTimeRange = errors.New("time_range must be one of all, month or week")
	errInvalidMetric    = errors.New("metric must be one of points, notes, questions, flashcards or posts")
)
