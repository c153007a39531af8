package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxActions caps the actions one run may catch when
// Config.MaxActions is zero.
const DefaultMaxActions = 10000

// ErrCodeQuota indicates a run caught more actions than its quota allows.
const ErrCodeQuota ErrorCode = "ACTION_QUOTA_EXCEEDED"

// actionQuota counts caught actions and enforces Config.MaxActions.
//
// A store whose effect layer feeds itself keeps dispatching until the run
// times out. The quota ends such runs early.
type actionQuota struct {
	limit   int
	current int
}

func newActionQuota(limit int) *actionQuota {
	return &actionQuota{limit: limit}
}

// Check counts one action and returns QuotaExceededError once the limit is
// passed. A negative limit disables the quota.
func (q *actionQuota) Check(runID string) error {
	q.current++
	if q.limit >= 0 && q.current > q.limit {
		return &QuotaExceededError{
			Code:    ErrCodeQuota,
			RunID:   runID,
			Actions: q.current,
			Limit:   q.limit,
		}
	}
	return nil
}

// QuotaExceededError is returned when a run exceeds Config.MaxActions.
type QuotaExceededError struct {
	Code    ErrorCode
	RunID   string
	Actions int
	Limit   int
}

// Error implements the error interface.
func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s: run %s caught %d actions > %d limit", e.Code, e.RunID, e.Actions, e.Limit)
}

// IsQuotaExceeded returns true if err is or wraps a QuotaExceededError.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}
