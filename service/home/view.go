package home

import (
	"time"

	"github.com/brojonat/stackhome/service/reconcile"
	"github.com/brojonat/stackhome/service/stacking"
)

// Card is the stacking card tag the home screen renders. It is the
// classifier state name, or CardDelegation when the account is delegated.
type Card string

const CardDelegation Card = "Delegation"

// View is everything the home screen needs for one render.
type View struct {
	SessionID string `json:"session_id"`
	Address   string `json:"address"`

	Transactions []reconcile.Transaction `json:"transactions"`
	PendingCount int                     `json:"pending_count"`
	// TransactionCount is the total of pending and confirmed transactions,
	// including confirmed ones older than the page in Transactions.
	TransactionCount int                  `json:"transaction_count"`
	Focus            reconcile.FocusToken `json:"focus"`
	FocusIndex       int                  `json:"focus_index"`
	ScrollToFocus    bool                 `json:"scroll_to_focus"`

	CardState          stacking.HomeCardState `json:"card_state"`
	Card               Card                   `json:"card"`
	ShowDelegationCard bool                   `json:"show_delegation_card"`
	// BlocksUntilStackingCycleBegins is set for the pre-cycle card.
	BlocksUntilStackingCycleBegins *int64                `json:"blocks_until_stacking_cycle_begins,omitempty"`
	Status                         stacking.StatusVector `json:"status"`

	TransactionsLoading bool                `json:"transactions_loading"`
	FeedErrors          map[string]string   `json:"feed_errors,omitempty"`
	Warnings            []reconcile.Warning `json:"warnings,omitempty"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// cardFor applies the delegation override on top of the classifier state.
func cardFor(state stacking.HomeCardState, delegated *bool) (Card, bool) {
	if delegated != nil && *delegated {
		return CardDelegation, true
	}
	return Card(state.String()), false
}

func buildView(id, address string, feeds FeedState, vector stacking.StatusVector, res reconcile.Result, now time.Time) View {
	state := stacking.Classify(vector)
	card, delegated := cardFor(state, vector.Delegated)

	v := View{
		SessionID:                      id,
		Address:                        address,
		Transactions:                   res.Transactions,
		PendingCount:                   res.PendingCount(),
		Focus:                          res.Focus,
		FocusIndex:                     res.FocusIndex,
		ScrollToFocus:                  res.FocusMoved,
		CardState:                      state,
		Card:                           card,
		ShowDelegationCard:             delegated,
		BlocksUntilStackingCycleBegins: vector.BlocksUntilCycle(),
		Status:                         vector,
		TransactionsLoading:            feeds.Transactions == nil && (feeds.Err(FeedTransactions) == "" || feeds.Loading(FeedTransactions)),
		FeedErrors:                     feeds.Errors(),
		Warnings:                       res.Warnings,
		UpdatedAt:                      now,
	}
	if feeds.Transactions != nil {
		v.TransactionCount = v.PendingCount + feeds.Transactions.ConfirmedCount()
	}
	if v.Transactions == nil {
		v.Transactions = []reconcile.Transaction{}
	}
	return v
}
