package stacking

import "fmt"

// StackerStatus is the participation status reported by the stacker-info
// provider.
type StackerStatus string

const (
	StackerNotStarted         StackerStatus = "not-started"
	StackerPendingContactCall StackerStatus = "pending-contact-call"
	StackerActive             StackerStatus = "active"
	StackerPreCycle           StackerStatus = "pre-cycle"
	StackerPost               StackerStatus = "post"
	StackerError              StackerStatus = "error"
)

// ParseStackerStatus validates a status string.
func ParseStackerStatus(s string) (StackerStatus, error) {
	switch st := StackerStatus(s); st {
	case StackerNotStarted, StackerPendingContactCall, StackerActive,
		StackerPreCycle, StackerPost, StackerError:
		return st, nil
	}
	return "", fmt.Errorf("unknown stacker status %q", s)
}

// StackerInfo is the stacker-info feed value.
type StackerInfo struct {
	Status StackerStatus `json:"status"`
	// BlocksUntilStackingCycleBegins is set while status is pre-cycle.
	BlocksUntilStackingCycleBegins *int64 `json:"blocks_until_stacking_cycle_begins,omitempty"`
}

// FeedFlags carries one boolean per sub-feed the classifier depends on.
type FeedFlags struct {
	Balance     bool `json:"balance"`
	StackerInfo bool `json:"stacker_info"`
	Delegation  bool `json:"delegation"`
}

// StatusVector is the partially loaded input to Classify. Nil values mean the
// feed has not produced a value yet. All amounts are in micro-STX.
type StatusVector struct {
	Balance         *uint64      `json:"balance,omitempty"`
	Locked          *uint64      `json:"locked,omitempty"`
	Spendable       *uint64      `json:"spendable,omitempty"`
	Delegated       *bool        `json:"delegated,omitempty"`
	StackerInfo     *StackerInfo `json:"stacker_info,omitempty"`
	MinimumRequired *uint64      `json:"minimum_required,omitempty"`
	// Loading marks feeds with a fetch in flight. A feed that already holds
	// a value counts as loaded whatever this says.
	Loading FeedFlags `json:"loading"`
	Errors  FeedFlags `json:"errors"`
}

// firstLoadPending reports whether a feed has not produced a value and has
// no settled failure. A failed feed that is being fetched again is back on
// its first load; a refreshing feed that already has a value is loaded.
func firstLoadPending(hasValue, loading, errored bool) bool {
	return !hasValue && (loading || !errored)
}

// StillLoading reports whether any required feed is still on its first load.
func (v StatusVector) StillLoading() bool {
	return firstLoadPending(v.Balance != nil, v.Loading.Balance, v.Errors.Balance) ||
		firstLoadPending(v.StackerInfo != nil, v.Loading.StackerInfo, v.Errors.StackerInfo) ||
		firstLoadPending(v.Delegated != nil, v.Loading.Delegation, v.Errors.Delegation)
}

// Classify maps a status vector to exactly one card. Rules are evaluated in
// order and the first match wins.
func Classify(v StatusVector) HomeCardState {
	if v.StillLoading() {
		return LoadingResources
	}
	if v.Errors.StackerInfo || (v.StackerInfo != nil && v.StackerInfo.Status == StackerError) {
		return StackingError
	}
	if v.StackerInfo != nil {
		switch v.StackerInfo.Status {
		case StackerPost:
			return PostStacking
		case StackerActive:
			return StackingActive
		case StackerPreCycle:
			return StackingPreCycle
		case StackerPendingContactCall:
			return StackingPendingContactCall
		}
	}
	// The balance rules need both a balance and a threshold. A balance feed
	// that failed before ever producing a value, or an unknown threshold,
	// leaves the card loading.
	if v.Balance == nil || v.MinimumRequired == nil {
		return LoadingResources
	}
	if *v.Balance < *v.MinimumRequired {
		return NotEnoughStx
	}
	return EligibleToParticipate
}

// BlocksUntilCycle returns the countdown shown on the pre-cycle card, if any.
func (v StatusVector) BlocksUntilCycle() *int64 {
	if v.StackerInfo == nil || v.StackerInfo.Status != StackerPreCycle {
		return nil
	}
	return v.StackerInfo.BlocksUntilStackingCycleBegins
}
