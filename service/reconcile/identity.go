package reconcile

// Resolution is the outcome of matching a pending entry against the confirmed
// feed.
type Resolution int

const (
	StillPending Resolution = iota
	Superseded
)

func (r Resolution) String() string {
	if r == Superseded {
		return "superseded"
	}
	return "still-pending"
}

// Match carries the resolution and, when superseded, the confirmed record that
// replaces the pending one.
type Match struct {
	Resolution Resolution
	Confirmed  *Transaction
}

// Resolve decides whether a pending entry has been confirmed. Only an exact
// TxID match supersedes; amount, origin or nonce similarity never does.
func Resolve(pending Transaction, confirmed map[string]Transaction) Match {
	if pending.TxID == "" {
		return Match{Resolution: StillPending}
	}
	c, ok := confirmed[pending.TxID]
	if !ok {
		return Match{Resolution: StillPending}
	}
	return Match{Resolution: Superseded, Confirmed: &c}
}

type originNonce struct {
	origin string
	nonce  uint64
}

// nonceIndex maps origin+nonce to the TxID of the confirmed entry that used it.
type nonceIndex map[originNonce]string

func indexByNonce(confirmed []Transaction) nonceIndex {
	idx := make(nonceIndex)
	for _, c := range confirmed {
		if c.Origin == "" || c.Nonce == nil {
			continue
		}
		k := originNonce{origin: c.Origin, nonce: *c.Nonce}
		if _, ok := idx[k]; !ok {
			idx[k] = c.TxID
		}
	}
	return idx
}

// SuspectedDuplicate returns the TxID of a confirmed entry that spent the same
// origin nonce as pending under a different id. The caller only warns about
// it; the two entries are never merged.
func SuspectedDuplicate(pending Transaction, confirmed []Transaction) (string, bool) {
	return indexByNonce(confirmed).lookup(pending)
}

func (idx nonceIndex) lookup(pending Transaction) (string, bool) {
	if pending.Origin == "" || pending.Nonce == nil {
		return "", false
	}
	id, ok := idx[originNonce{origin: pending.Origin, nonce: *pending.Nonce}]
	if !ok || id == pending.TxID {
		return "", false
	}
	return id, true
}
