package capture

import (
	"context"
	"errors"
	"net"
)

// ErrorClass buckets failures for retry policy. Exactly one function in the
// engine assigns classes; everything else matches on the result.
type ErrorClass string

// Error classes.
const (
	ClassTransient ErrorClass = "transient"
	ClassPermanent ErrorClass = "permanent"
	ClassSystem    ErrorClass = "system"
)

// Sentinel errors returned by store, source and processor boundaries.
var (
	ErrNotFound         = errors.New("resource not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrRepoInaccessible = errors.New("repository archived or private")
	ErrInvalidInput     = errors.New("invalid input")
	ErrRateLimited      = errors.New("external rate limit hit")
	ErrUnavailable      = errors.New("temporarily unavailable")
	ErrClaimLost        = errors.New("job claim lost")
	ErrDuplicateJob     = errors.New("active job already exists for key")
	ErrQueueClosed      = errors.New("queue closed")
	ErrStoreDown        = errors.New("persistent store unavailable")
	ErrProcessorDown    = errors.New("processor capability unavailable")
	ErrBudgetCorrupt    = errors.New("rate budget state corrupt")
)

// Classify maps an execution error into the retry taxonomy. Unknown errors
// are treated as transient so a flaky dependency cannot strand a job.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassTransient
	case errors.Is(err, ErrStoreDown),
		errors.Is(err, ErrProcessorDown),
		errors.Is(err, ErrBudgetCorrupt):
		return ClassSystem
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrRepoInaccessible),
		errors.Is(err, ErrInvalidInput):
		return ClassPermanent
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrUnavailable),
		errors.Is(err, ErrClaimLost),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}
	return ClassTransient
}
