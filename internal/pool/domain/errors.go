package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrInvalidConsumer     = errors.New("invalid_consumer")
	ErrInvalidPoolID       = errors.New("invalid_pool_id")
	ErrInvalidQuantity     = errors.New("invalid_quantity")
	ErrPoolNotFound        = errors.New("pool_not_found")
	ErrEntitlementNotFound = errors.New("entitlement_not_found")
	ErrPoolInUse           = errors.New("pool_in_use")

	// ErrServiceUnavailable wraps capacity store outages so callers can
	// retry instead of treating them as terminal failures.
	ErrServiceUnavailable = errors.New("service_unavailable")

	// ErrInvariantViolation marks accounting corruption detected outside
	// the normal check-and-consume path. Never expected to surface.
	ErrInvariantViolation = errors.New("invariant_violation")
)

// EntitlementRefusedError carries the per-pool policy rejections for a
// refused batch.
type EntitlementRefusedError struct {
	Results map[string]ValidationResult
}

func (e *EntitlementRefusedError) Error() string {
	pools := make([]string, 0, len(e.Results))
	for poolID := range e.Results {
		pools = append(pools, poolID)
	}
	sort.Strings(pools)
	return fmt.Sprintf("entitlement_refused: pools [%s]", strings.Join(pools, ", "))
}

// Refused returns the rejection for one pool, if any.
func (e *EntitlementRefusedError) Refused(poolID string) (ValidationResult, bool) {
	result, ok := e.Results[poolID]
	return result, ok
}
