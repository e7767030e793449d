package enums

import "fmt"

// OutboxAggregateType identifies the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateComponentLine OutboxAggregateType = "component_line"
	AggregateApprovalChain OutboxAggregateType = "approval_chain"
	AggregatePurchaseOrder OutboxAggregateType = "purchase_order"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateComponentLine,
	AggregateApprovalChain,
	AggregatePurchaseOrder,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a domain event stored in the outbox.
type OutboxEventType string

const (
	EventPurchaseOrderRaised OutboxEventType = "purchase_order_raised"
	EventLineStateChanged    OutboxEventType = "component_line_state_changed"
	EventLineSpawned         OutboxEventType = "component_line_spawned"
	EventDirectPORequested   OutboxEventType = "direct_po_requested"
	EventDirectPOApproved    OutboxEventType = "direct_po_approved"
	EventDirectPORejected    OutboxEventType = "direct_po_rejected"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPurchaseOrderRaised,
	EventLineStateChanged,
	EventLineSpawned,
	EventDirectPORequested,
	EventDirectPOApproved,
	EventDirectPORejected,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}

type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
