package lifecycle

import "github.com/angelmondragon/materialflow/pkg/enums"

// transitions is the only place line status moves are defined.
// DeliveryPending closes directly only when nothing was received and the
// whole order moved to backorders; received units go through quality first.
var transitions = map[enums.LineStatus][]enums.LineStatus{
	enums.LineStatusRequested:       {enums.LineStatusCeoApproved, enums.LineStatusCancelled},
	enums.LineStatusCeoApproved:     {enums.LineStatusPoRaised, enums.LineStatusCancelled},
	enums.LineStatusPoRaised:        {enums.LineStatusDeliveryPending},
	enums.LineStatusDeliveryPending: {enums.LineStatusQcPending, enums.LineStatusClosed},
	enums.LineStatusQcPending:       {enums.LineStatusQcCleared, enums.LineStatusQcRejected, enums.LineStatusQcHold},
	enums.LineStatusQcHold:          {enums.LineStatusQcCleared, enums.LineStatusQcRejected, enums.LineStatusReturnCreated},
	enums.LineStatusQcRejected:      {enums.LineStatusReturnCreated, enums.LineStatusClosed},
	enums.LineStatusReturnCreated:   {enums.LineStatusClosed},
	enums.LineStatusQcCleared:       {enums.LineStatusClosed},
}

// manualTargets may be requested directly through Transition. The rest are
// reached only through the operation that owns them.
var manualTargets = map[enums.LineStatus]bool{
	enums.LineStatusDeliveryPending: true,
	enums.LineStatusQcPending:       true,
	enums.LineStatusQcCleared:       true,
	enums.LineStatusQcRejected:      true,
	enums.LineStatusQcHold:          true,
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to enums.LineStatus) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Targets lists the statuses reachable from s.
func Targets(s enums.LineStatus) []enums.LineStatus {
	out := make([]enums.LineStatus, len(transitions[s]))
	copy(out, transitions[s])
	return out
}

// RequiresNote reports whether entering s needs a justification.
func RequiresNote(s enums.LineStatus) bool {
	return s == enums.LineStatusQcHold || s == enums.LineStatusQcRejected
}

// closable statuses may move to Closed once quantities settle.
func closable(s enums.LineStatus) bool {
	return CanTransition(s, enums.LineStatusClosed)
}

// ReturnEligible reports whether failed stock on a line in s can go back to the vendor.
func ReturnEligible(s enums.LineStatus) bool {
	return s == enums.LineStatusQcRejected || s == enums.LineStatusQcHold || s == enums.LineStatusReturnCreated
}
