package lifecycle

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/angelmondragon/materialflow/pkg/db/models"
	"github.com/angelmondragon/materialflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/materialflow/pkg/errors"
)

const (
	maxMPNLength = 128
	maxUOMLength = 16
)

var hundred = decimal.NewFromInt(100)

// NewLineInput describes one part on a newly raised order.
type NewLineInput struct {
	MPN         string
	Description string
	UOM         string
	Quantity    int
	RatePerUnit decimal.Decimal
	GSTPercent  decimal.Decimal
}

// ValidateNewLines checks every line and reports all problems at once.
func ValidateNewLines(lines []NewLineInput) error {
	if len(lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one line is required")
	}

	var errs error
	seen := make(map[string]int, len(lines))
	for i, line := range lines {
		mpn := strings.TrimSpace(line.MPN)
		switch {
		case mpn == "":
			errs = multierr.Append(errs, fmt.Errorf("lines[%d]: mpn is required", i))
		case len(mpn) > maxMPNLength:
			errs = multierr.Append(errs, fmt.Errorf("lines[%d]: mpn exceeds %d characters", i, maxMPNLength))
		}
		if first, dup := seen[mpn]; dup && mpn != "" {
			errs = multierr.Append(errs, fmt.Errorf("lines[%d]: mpn %s already listed at lines[%d]", i, mpn, first))
		} else {
			seen[mpn] = i
		}
		if uom := strings.TrimSpace(line.UOM); uom == "" || len(uom) > maxUOMLength {
			errs = multierr.Append(errs, fmt.Errorf("lines[%d]: uom must be 1-%d characters", i, maxUOMLength))
		}
		if line.Quantity <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("lines[%d]: quantity must be positive", i))
		}
		if line.RatePerUnit.IsNegative() {
			errs = multierr.Append(errs, fmt.Errorf("lines[%d]: rate per unit cannot be negative", i))
		}
		if line.GSTPercent.IsNegative() || line.GSTPercent.GreaterThan(hundred) {
			errs = multierr.Append(errs, fmt.Errorf("lines[%d]: gst percent must be between 0 and 100", i))
		}
	}
	if errs == nil {
		return nil
	}

	problems := multierr.Errors(errs)
	messages := make([]string, 0, len(problems))
	for _, p := range problems {
		messages = append(messages, p.Error())
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, errs, "invalid order lines").WithDetails(messages)
}

// NewMainLine builds the main line for one input on orderNumber.
func NewMainLine(orderNumber string, in NewLineInput, status enums.LineStatus) *models.ComponentLine {
	return &models.ComponentLine{
		OrderNumber: orderNumber,
		MPN:         strings.TrimSpace(in.MPN),
		LineageID:   enums.MainLineageID,
		LineageKind: enums.LineageMain,
		Description: strings.TrimSpace(in.Description),
		UOM:         strings.TrimSpace(in.UOM),
		RatePerUnit: in.RatePerUnit,
		GSTPercent:  in.GSTPercent,
		OrderedQty:  in.Quantity,
		Status:      status,
	}
}
