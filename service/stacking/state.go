// Package stacking classifies the stacking status of a wallet into the single
// card the home screen should show.
package stacking

import "fmt"

// HomeCardState is the closed set of home stacking cards.
type HomeCardState int

const (
	LoadingResources HomeCardState = iota
	StackingError
	PostStacking
	StackingActive
	StackingPreCycle
	StackingPendingContactCall
	NotEnoughStx
	EligibleToParticipate
)

var cardStateNames = [...]string{
	LoadingResources:           "LoadingResources",
	StackingError:              "StackingError",
	PostStacking:               "PostStacking",
	StackingActive:             "StackingActive",
	StackingPreCycle:           "StackingPreCycle",
	StackingPendingContactCall: "StackingPendingContactCall",
	NotEnoughStx:               "NotEnoughStx",
	EligibleToParticipate:      "EligibleToParticipate",
}

// AllCardStates lists every state in precedence order.
func AllCardStates() []HomeCardState {
	out := make([]HomeCardState, len(cardStateNames))
	for i := range cardStateNames {
		out[i] = HomeCardState(i)
	}
	return out
}

func (s HomeCardState) String() string {
	if s < 0 || int(s) >= len(cardStateNames) {
		return fmt.Sprintf("HomeCardState(%d)", int(s))
	}
	return cardStateNames[s]
}

// ParseHomeCardState is the inverse of String.
func ParseHomeCardState(name string) (HomeCardState, error) {
	for i, n := range cardStateNames {
		if n == name {
			return HomeCardState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown home card state %q", name)
}

func (s HomeCardState) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(cardStateNames) {
		return nil, fmt.Errorf("invalid home card state %d", int(s))
	}
	return []byte(cardStateNames[s]), nil
}

func (s *HomeCardState) UnmarshalText(text []byte) error {
	v, err := ParseHomeCardState(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
