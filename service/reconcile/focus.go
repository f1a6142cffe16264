package reconcile

// FocusToken records which row a view is keeping visible.
//
// A bound token follows its TxID wherever it moves in the list. An unbound
// token follows the head of the list.
type FocusToken struct {
	TxID  string `json:"tx_id,omitempty"`
	Bound bool   `json:"bound"`
}

// Bind returns a token bound to txID.
func Bind(txID string) FocusToken {
	if txID == "" {
		return FocusToken{}
	}
	return FocusToken{TxID: txID, Bound: true}
}

// Unbound returns a token that follows the head of the list.
func (f FocusToken) Unbound() FocusToken {
	return FocusToken{TxID: f.TxID}
}

func indexOf(txs []Transaction, txID string) int {
	if txID == "" {
		return -1
	}
	for i, tx := range txs {
		if tx.TxID == txID {
			return i
		}
	}
	return -1
}

// resolveFocus applies the focus rules to an ordered list.
func resolveFocus(prev FocusToken, txs []Transaction) (next FocusToken, index int, moved bool) {
	if prev.Bound {
		if i := indexOf(txs, prev.TxID); i >= 0 {
			return prev, i, false
		}
	}
	if len(txs) == 0 {
		next = FocusToken{}
		return next, -1, prev.TxID != ""
	}
	// The list is pending-first, so the head is the most recent pending
	// entry when one exists, otherwise the most recent confirmed one.
	next = FocusToken{TxID: txs[0].TxID}
	return next, 0, next.TxID != prev.TxID
}
