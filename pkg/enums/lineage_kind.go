package enums

import "fmt"

// LineageKind distinguishes main order lines from spawned children.
type LineageKind string

const (
	LineageMain      LineageKind = "main"
	LineageBackorder LineageKind = "backorder"
	LineageReturn    LineageKind = "return"
)

// MainLineageID is the lineage id carried by every line raised directly on an order.
const MainLineageID = "MAIN"

var validLineageKinds = []LineageKind{
	LineageMain,
	LineageBackorder,
	LineageReturn,
}

func (k LineageKind) String() string {
	return string(k)
}

func (k LineageKind) IsValid() bool {
	for _, candidate := range validLineageKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

func ParseLineageKind(value string) (LineageKind, error) {
	for _, candidate := range validLineageKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid lineage kind %q", value)
}
