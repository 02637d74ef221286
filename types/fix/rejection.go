package fix

// RejectionReason categorizes why a gate dropped a fix.
// A rejected fix is a counted event, not an error.
type RejectionReason string

const (
	RejectAccuracy  RejectionReason = "accuracy"
	RejectDuplicate RejectionReason = "duplicate"
	RejectStale     RejectionReason = "stale"
	RejectSpeed     RejectionReason = "speed"
	RejectJitter    RejectionReason = "jitter"
)

// Reasons lists every rejection category, in gate order.
func Reasons() []RejectionReason {
	return []RejectionReason{
		RejectAccuracy,
		RejectDuplicate,
		RejectStale,
		RejectSpeed,
		RejectJitter,
	}
}
