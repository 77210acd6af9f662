package reconciler

import (
	"time"
)

// Status is what happened to one resource.
type Status string

const (
	StatusTagged             Status = "tagged"
	StatusSkippedDryRun      Status = "skipped-dry-run"
	StatusSkippedNotUntagged Status = "skipped-not-untagged" // created in the window but not in the untagged set
	StatusSkippedNotFound    Status = "skipped-not-found"    // untagged but no creation record in the window
	StatusFailed             Status = "failed"
)

// TagOutcome is the result for one resource identifier.
type TagOutcome struct {
	ResourceID string `json:"resource_id"`
	Owner      string `json:"owner,omitempty"`
	Status     Status `json:"status"`
	Reason     string `json:"reason,omitempty"`
}

// Task is the account and region side of a triple, plus the tag policy.
type Task struct {
	Account   string // label used in logs and reports
	AccountID string
	Region    string
	OwnerTag  string
	DryRun    bool
}

// Result is the outcome of one (account, region, kind) reconciliation.
type Result struct {
	Account  string        `json:"account"`
	Region   string        `json:"region"`
	Kind     string        `json:"kind"`
	DryRun   bool          `json:"dry_run,omitempty"`
	Events   int           `json:"events"`
	Outcomes []TagOutcome  `json:"outcomes"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the triple failed as a whole or for any resource.
// Dry-run and not-found skips are not failures.
func (r Result) Failed() bool {
	if r.Err != nil {
		return true
	}
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Count returns the number of outcomes with status s.
func (r Result) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}
