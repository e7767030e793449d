package enums

import "fmt"

// SequenceKind scopes allocated identifiers.
type SequenceKind string

const (
	SequencePurchaseOrder SequenceKind = "PO"
	SequenceDirectPO      SequenceKind = "DIRECT_PO"
	SequenceBackorder     SequenceKind = "BACKORDER"
	SequenceReturn        SequenceKind = "RETURN"
)

var validSequenceKinds = []SequenceKind{
	SequencePurchaseOrder,
	SequenceDirectPO,
	SequenceBackorder,
	SequenceReturn,
}

// Prefix is the human-readable prefix rendered in front of allocated ids.
func (k SequenceKind) Prefix() string {
	switch k {
	case SequencePurchaseOrder:
		return "PO"
	case SequenceDirectPO:
		return "DPO"
	case SequenceBackorder:
		return "BO"
	case SequenceReturn:
		return "RET"
	default:
		return ""
	}
}

// Width is the zero-padded width of the counter portion.
func (k SequenceKind) Width() int {
	switch k {
	case SequenceBackorder, SequenceReturn:
		return 2
	default:
		return 4
	}
}

func (k SequenceKind) String() string {
	return string(k)
}

func (k SequenceKind) IsValid() bool {
	for _, candidate := range validSequenceKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

func ParseSequenceKind(value string) (SequenceKind, error) {
	for _, candidate := range validSequenceKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid sequence kind %q", value)
}
