package enums

import "fmt"

// LedgerField names the quantity a ledger delta increases.
type LedgerField string

const (
	LedgerReceived    LedgerField = "received"
	LedgerPassed      LedgerField = "passed"
	LedgerFailed      LedgerField = "failed"
	LedgerReturned    LedgerField = "returned"
	LedgerReordered   LedgerField = "reordered"
	LedgerWrittenOff  LedgerField = "written_off"
	LedgerShortClosed LedgerField = "short_closed"
)

var validLedgerFields = []LedgerField{
	LedgerReceived,
	LedgerPassed,
	LedgerFailed,
	LedgerReturned,
	LedgerReordered,
	LedgerWrittenOff,
	LedgerShortClosed,
}

func (f LedgerField) String() string {
	return string(f)
}

func (f LedgerField) IsValid() bool {
	for _, candidate := range validLedgerFields {
		if candidate == f {
			return true
		}
	}
	return false
}

func ParseLedgerField(value string) (LedgerField, error) {
	for _, candidate := range validLedgerFields {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger field %q", value)
}

// WriteOffScope selects which open quantity a write-off settles.
type WriteOffScope string

const (
	WriteOffRejected  WriteOffScope = "rejected"
	WriteOffShortfall WriteOffScope = "shortfall"
)

// LedgerField maps the scope onto the ledger field it increases.
func (s WriteOffScope) LedgerField() (LedgerField, error) {
	switch s {
	case WriteOffRejected:
		return LedgerWrittenOff, nil
	case WriteOffShortfall:
		return LedgerShortClosed, nil
	default:
		return "", fmt.Errorf("invalid write-off scope %q", s)
	}
}

func ParseWriteOffScope(value string) (WriteOffScope, error) {
	switch WriteOffScope(value) {
	case WriteOffRejected, WriteOffShortfall:
		return WriteOffScope(value), nil
	default:
		return "", fmt.Errorf("invalid write-off scope %q", value)
	}
}
