package model

import "time"

// JobKind names one independently scheduled job.
type JobKind string

const (
	JobDirectory    JobKind = "directory"
	JobFundamentals JobKind = "fundamentals"
	JobValuation    JobKind = "valuation"
)

// JobLock is the advisory "job in progress" record for one JobKind.
type JobLock struct {
	Kind       JobKind   `json:"kind" badgerhold:"key"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the lock is stale at now.
func (l JobLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
