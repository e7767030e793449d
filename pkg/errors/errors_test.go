package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, detailsOK: true},
		{code: CodeNotFound, status: http.StatusNotFound},
		{code: CodeForbidden, status: http.StatusForbidden, detailsOK: true},
		{code: CodeConflict, status: http.StatusConflict},
		{code: CodeInternal, status: http.StatusInternalServerError, retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, retryable: true, detailsOK: true},
		{code: CodeInvariantViolation, status: http.StatusUnprocessableEntity, detailsOK: true},
		{code: CodeIllegalTransition, status: http.StatusConflict, detailsOK: true},
		{code: CodeMissingJustification, status: http.StatusUnprocessableEntity, detailsOK: true},
		{code: CodeOutOfSequence, status: http.StatusConflict, detailsOK: true},
		{code: CodeNothingToSpawn, status: http.StatusUnprocessableEntity, detailsOK: true},
		{code: CodeParentNotEligible, status: http.StatusConflict, detailsOK: true},
		{code: CodeDuplicateSpawnToken, status: http.StatusConflict, detailsOK: true},
		{code: CodeConcurrentModification, status: http.StatusConflict, retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage == "" {
			t.Fatalf("code %s has no public message", tt.code)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	base.WithDetails(map[string]any{"field": "foo"})
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}

	formatted := Newf(CodeNothingToSpawn, "shortfall is %d", 0)
	if formatted.Message() != "shortfall is 0" {
		t.Fatalf("unexpected message %q", formatted.Message())
	}
}

func TestIsCodeAndRetryableThroughWrapping(t *testing.T) {
	err := fmt.Errorf("record delivery: %w", New(CodeConcurrentModification, "version moved"))
	if !IsCode(err, CodeConcurrentModification) {
		t.Fatalf("expected concurrent modification code through wrap")
	}
	if !Retryable(err) {
		t.Fatalf("concurrent modification must be retryable")
	}
	if Retryable(New(CodeInvariantViolation, "over receipt")) {
		t.Fatalf("invariant violation must not be retryable")
	}
	if Retryable(stdErrors.New("plain")) {
		t.Fatalf("untyped errors are not retryable")
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeOutOfSequence, "not your turn")
	if got := As(err); got == nil || got.Code() != CodeOutOfSequence {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestDiagnoseCollectsChainAndPostgresFields(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "uq_component_lines_key", TableName: "component_lines"}
	err := Wrap(CodeConflict, fmt.Errorf("insert line: %w", pgErr), "line already exists")

	d := Diagnose(err)
	if d.Code != CodeConflict {
		t.Fatalf("expected conflict code, got %s", d.Code)
	}
	if len(d.Chain) != 3 {
		t.Fatalf("expected three layers, got %v", d.Chain)
	}
	fields := d.Fields()
	if fields["sql_state"] != "23505" || fields["sql_constraint"] != "uq_component_lines_key" {
		t.Fatalf("postgres fields missing: %v", fields)
	}
	if _, ok := fields["sql_column"]; ok {
		t.Fatalf("empty fields should be omitted: %v", fields)
	}
}

func TestDiagnoseNil(t *testing.T) {
	if d := Diagnose(nil); d.Message != "" || d.Chain != nil {
		t.Fatalf("expected zero diagnosis, got %+v", d)
	}
}
