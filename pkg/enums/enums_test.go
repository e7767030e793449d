package enums

import "testing"

func TestParseLineStatus(t *testing.T) {
	for _, s := range validLineStatuses {
		got, err := ParseLineStatus(string(s))
		if err != nil || got != s {
			t.Fatalf("ParseLineStatus(%q) = %q, %v", s, got, err)
		}
	}
	if _, err := ParseLineStatus("QC_PENDING"); err == nil {
		t.Fatalf("expected case-sensitive parse to reject upper case")
	}
}

func TestOpenLineStatusesExcludeTerminal(t *testing.T) {
	for _, s := range OpenLineStatuses() {
		if s.IsTerminal() {
			t.Fatalf("open statuses must not include %s", s)
		}
	}
	if len(OpenLineStatuses()) != len(validLineStatuses)-2 {
		t.Fatalf("expected exactly two terminal statuses")
	}
}

func TestSequenceKindPrefixes(t *testing.T) {
	cases := map[SequenceKind]string{
		SequencePurchaseOrder: "PO",
		SequenceDirectPO:      "DPO",
		SequenceBackorder:     "BO",
		SequenceReturn:        "RET",
	}
	for kind, want := range cases {
		if kind.Prefix() != want {
			t.Fatalf("%s prefix = %q, want %q", kind, kind.Prefix(), want)
		}
	}
	if SequenceBackorder.Width() != 2 || SequencePurchaseOrder.Width() != 4 {
		t.Fatalf("unexpected widths")
	}
}

func TestWriteOffScopeMapsToLedgerField(t *testing.T) {
	f, err := WriteOffRejected.LedgerField()
	if err != nil || f != LedgerWrittenOff {
		t.Fatalf("rejected scope mapped to %q, %v", f, err)
	}
	f, err = WriteOffShortfall.LedgerField()
	if err != nil || f != LedgerShortClosed {
		t.Fatalf("shortfall scope mapped to %q, %v", f, err)
	}
	if _, err := WriteOffScope("everything").LedgerField(); err == nil {
		t.Fatalf("expected unknown scope error")
	}
}

func TestParseApprovalRoleAndDecision(t *testing.T) {
	role, err := ParseApprovalRole("  Purchase_Head ")
	if err != nil || role != ApprovalRolePurchaseHead {
		t.Fatalf("unexpected role %q err=%v", role, err)
	}
	if _, err := ParseApprovalRole(""); err == nil {
		t.Fatalf("empty role must fail")
	}
	if _, err := ParseApprovalDecision("maybe"); err == nil {
		t.Fatalf("unknown decision must fail")
	}
	if d, err := ParseApprovalDecision("REJECT"); err != nil || d != ApprovalReject {
		t.Fatalf("unexpected decision %q err=%v", d, err)
	}
}
