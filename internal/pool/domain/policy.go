package domain

import "context"

// ValidationResult collects the policy verdict for one pool.
type ValidationResult struct {
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r ValidationResult) Valid() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) AddError(reason string) {
	r.Errors = append(r.Errors, reason)
}

func (r *ValidationResult) AddWarning(reason string) {
	r.Warnings = append(r.Warnings, reason)
}

// EnforcementPolicy decides whether a consumer may draw the requested
// quantity from a pool. Implementations must not mutate the pool.
type EnforcementPolicy interface {
	Validate(ctx context.Context, consumerID string, pool *Pool, quantity int64) ValidationResult
}
