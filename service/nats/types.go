package nats

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brojonat/stackhome/service/home"
	"github.com/brojonat/stackhome/service/stacking"
)

// FeedEvent is one feed refresh for a wallet.
// This is published to the subject "feeds.{wallet_address}" in JetStream.
type FeedEvent struct {
	EventID       string    `json:"event_id"`
	WalletAddress string    `json:"wallet_address"`
	Kind          string    `json:"kind"`
	ObservedAt    time.Time `json:"observed_at"`
	Loading       bool      `json:"loading,omitempty"`
	Error         string    `json:"error,omitempty"`

	// Exactly one payload matching Kind is set on success.
	Balances        *home.Balances        `json:"balances,omitempty"`
	Transactions    *home.TransactionFeed `json:"transactions,omitempty"`
	StackerInfo     *stacking.StackerInfo `json:"stacker_info,omitempty"`
	Delegated       *bool                 `json:"delegated,omitempty"`
	MinimumRequired *uint64               `json:"minimum_required,omitempty"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// FeedEventID names one observation of one feed. Publishing the same
// observation twice yields the same id, so JetStream drops the second copy.
// Updates without an observation time get a random id.
func FeedEventID(address string, u home.Update) string {
	if u.ObservedAt.IsZero() {
		return uuid.NewString()
	}
	state := "value"
	switch {
	case u.Loading:
		state = "loading"
	case u.Err != "":
		state = "error"
	}
	return fmt.Sprintf("%s.%s.%s.%d", address, u.Kind, state, u.ObservedAt.UnixNano())
}

// FromUpdate converts a feed update into an event for publishing.
func FromUpdate(address string, u home.Update) *FeedEvent {
	return &FeedEvent{
		EventID:         FeedEventID(address, u),
		WalletAddress:   address,
		Kind:            string(u.Kind),
		ObservedAt:      u.ObservedAt,
		Loading:         u.Loading,
		Error:           u.Err,
		Balances:        u.Balances,
		Transactions:    u.Transactions,
		StackerInfo:     u.StackerInfo,
		Delegated:       u.Delegated,
		MinimumRequired: u.MinimumRequired,
		PublishedAt:     time.Now().UTC(),
	}
}

// ToUpdate converts a received event back into a feed update.
func (e *FeedEvent) ToUpdate() (home.Update, error) {
	kind, err := home.ParseFeedKind(e.Kind)
	if err != nil {
		return home.Update{}, err
	}
	if e.WalletAddress == "" {
		return home.Update{}, fmt.Errorf("feed event %s has no wallet address", e.EventID)
	}
	return home.Update{
		Kind:            kind,
		ObservedAt:      e.ObservedAt,
		Loading:         e.Loading,
		Err:             e.Error,
		Balances:        e.Balances,
		Transactions:    e.Transactions,
		StackerInfo:     e.StackerInfo,
		Delegated:       e.Delegated,
		MinimumRequired: e.MinimumRequired,
	}, nil
}

// HomeViewEvent is a rendered home view for one session.
// This is published to the subject "home.{wallet_address}.{session_id}".
type HomeViewEvent struct {
	EventID       string    `json:"event_id"`
	SessionID     string    `json:"session_id"`
	WalletAddress string    `json:"wallet_address"`
	View          home.View `json:"view"`
	PublishedAt   time.Time `json:"published_at"`
}

// FromView wraps a view for publishing.
func FromView(v home.View) *HomeViewEvent {
	return &HomeViewEvent{
		EventID:       uuid.NewString(),
		SessionID:     v.SessionID,
		WalletAddress: v.Address,
		View:          v,
		PublishedAt:   time.Now().UTC(),
	}
}

// FeedSubject is the subject feed events for address are published on.
func FeedSubject(address string) string {
	return fmt.Sprintf("feeds.%s", address)
}

// HomeSubject is the subject home views of one session are published on.
func HomeSubject(address, sessionID string) string {
	return fmt.Sprintf("home.%s.%s", address, sessionID)
}
