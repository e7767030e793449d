package enums

import "fmt"

// LineStatus is the lifecycle state of a component line.
type LineStatus string

const (
	LineStatusRequested       LineStatus = "requested"
	LineStatusCeoApproved     LineStatus = "ceo_approved"
	LineStatusPoRaised        LineStatus = "po_raised"
	LineStatusDeliveryPending LineStatus = "delivery_pending"
	LineStatusQcPending       LineStatus = "qc_pending"
	LineStatusQcCleared       LineStatus = "qc_cleared"
	LineStatusQcRejected      LineStatus = "qc_rejected"
	LineStatusQcHold          LineStatus = "qc_hold"
	LineStatusReturnCreated   LineStatus = "return_created"
	LineStatusClosed          LineStatus = "closed"
	LineStatusCancelled       LineStatus = "cancelled"
)

var validLineStatuses = []LineStatus{
	LineStatusRequested,
	LineStatusCeoApproved,
	LineStatusPoRaised,
	LineStatusDeliveryPending,
	LineStatusQcPending,
	LineStatusQcCleared,
	LineStatusQcRejected,
	LineStatusQcHold,
	LineStatusReturnCreated,
	LineStatusClosed,
	LineStatusCancelled,
}

// String implements fmt.Stringer.
func (s LineStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known LineStatus.
func (s LineStatus) IsValid() bool {
	for _, candidate := range validLineStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave the status.
func (s LineStatus) IsTerminal() bool {
	return s == LineStatusClosed || s == LineStatusCancelled
}

// OpenLineStatuses lists every non-terminal status.
func OpenLineStatuses() []LineStatus {
	out := make([]LineStatus, 0, len(validLineStatuses))
	for _, s := range validLineStatuses {
		if !s.IsTerminal() {
			out = append(out, s)
		}
	}
	return out
}

// ParseLineStatus converts raw input into a LineStatus.
func ParseLineStatus(value string) (LineStatus, error) {
	for _, candidate := range validLineStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid line status %q", value)
}
