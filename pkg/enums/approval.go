package enums

import (
	"fmt"
	"strings"
)

// ApprovalRole is an actor role participating in a direct-PO chain.
type ApprovalRole string

const (
	ApprovalRoleRequester    ApprovalRole = "requester"
	ApprovalRolePurchaseHead ApprovalRole = "purchase_head"
	ApprovalRoleCEO          ApprovalRole = "ceo"
)

// ParseApprovalRole normalizes a role name. Roles are configurable so any
// non-empty snake_case name is accepted.
func ParseApprovalRole(value string) (ApprovalRole, error) {
	role := strings.ToLower(strings.TrimSpace(value))
	if role == "" {
		return "", fmt.Errorf("approval role is required")
	}
	if strings.ContainsAny(role, " \t:/") {
		return "", fmt.Errorf("invalid approval role %q", value)
	}
	return ApprovalRole(role), nil
}

func (r ApprovalRole) String() string {
	return string(r)
}

// ApprovalDecision is the verdict recorded in a chain slot.
type ApprovalDecision string

const (
	ApprovalApprove ApprovalDecision = "approve"
	ApprovalReject  ApprovalDecision = "reject"
)

func (d ApprovalDecision) IsValid() bool {
	return d == ApprovalApprove || d == ApprovalReject
}

func ParseApprovalDecision(value string) (ApprovalDecision, error) {
	d := ApprovalDecision(strings.ToLower(strings.TrimSpace(value)))
	if !d.IsValid() {
		return "", fmt.Errorf("invalid approval decision %q", value)
	}
	return d, nil
}

// ApprovalChainStatus tracks the chain as a whole.
type ApprovalChainStatus string

const (
	ApprovalChainOpen     ApprovalChainStatus = "open"
	ApprovalChainApproved ApprovalChainStatus = "approved"
	ApprovalChainRejected ApprovalChainStatus = "rejected"
	ApprovalChainPoRaised ApprovalChainStatus = "po_raised"
)

func (s ApprovalChainStatus) String() string {
	return string(s)
}
