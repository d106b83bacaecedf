package reconcile

// Status is where a locally known entry stands with the server.
//
//	Pending ──persist ok / echo──▶ Confirmed
//	   │
//	   └──persist failed / timed out──▶ Stale ──RetryStale──▶ Pending
//
// There is no Reverted state: a Stale entry stays counted in the totals.
type Status int

const (
	StatusUnknown Status = iota
	StatusPending
	StatusConfirmed
	StatusStale
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Outcome is the result of ApplyRemote.
type Outcome int

const (
	// Applied means the entry was new and has been folded into the totals.
	Applied Outcome = iota + 1
	// Ignored means the id was already known (or belongs to another
	// account) and the totals did not change.
	Ignored
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Ignored:
		return "ignored"
	default:
		return "unknown"
	}
}
