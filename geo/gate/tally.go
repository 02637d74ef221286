package gate

import "github.com/strideworks/trackd/types/fix"

// Tally counts pipeline outcomes for one session.
// Accepted + Rejected always equals the number of fixes observed.
type Tally struct {
	Accepted int
	Rejected int
	Reasons  map[fix.RejectionReason]int
}

func NewTally() *Tally {
	return &Tally{Reasons: make(map[fix.RejectionReason]int)}
}

func (t *Tally) Accept() {
	t.Accepted++
}

func (t *Tally) Reject(reason fix.RejectionReason) {
	t.Rejected++
	t.Reasons[reason]++
}

func (t *Tally) Observed() int {
	return t.Accepted + t.Rejected
}

// RejectionRate is rejected over observed, 0 when nothing observed yet.
func (t *Tally) RejectionRate() float64 {
	n := t.Observed()
	if n == 0 {
		return 0
	}
	return float64(t.Rejected) / float64(n)
}

// ReasonCounts copies the per-category counters, with every known
// category present so persisted metadata has a stable shape.
func (t *Tally) ReasonCounts() map[fix.RejectionReason]int {
	out := make(map[fix.RejectionReason]int, len(fix.Reasons()))
	for _, r := range fix.Reasons() {
		out[r] = t.Reasons[r]
	}
	return out
}

// Restore rebuilds the tally from checkpointed counters.
func (t *Tally) Restore(accepted, rejected int, reasons map[fix.RejectionReason]int) {
	t.Accepted = accepted
	t.Rejected = rejected
	t.Reasons = make(map[fix.RejectionReason]int, len(reasons))
	for r, n := range reasons {
		t.Reasons[r] = n
	}
}
