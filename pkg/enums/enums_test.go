package enums

import "testing"

func TestRoleOwnerChain(t *testing.T) {
	cases := []struct {
		role     Role
		owner    Role
		hasOwner bool
	}{
		{RoleTechnician, RoleTeamLeader, true},
		{RoleTechnicalExecutive, RoleTeamLeader, true},
		{RoleTeamLeader, RoleManager, true},
		{RoleManager, "", false},
		{RoleAdmin, "", false},
	}
	for _, tc := range cases {
		owner, ok := tc.role.OwnerRole()
		if ok != tc.hasOwner || owner != tc.owner {
			t.Fatalf("role %s: expected owner %q/%v got %q/%v", tc.role, tc.owner, tc.hasOwner, owner, ok)
		}
		if ok && owner.Level() != tc.role.Level()+1 {
			t.Fatalf("role %s: owner must be exactly one level up", tc.role)
		}
	}
}

func TestParseRoleRejectsUnknown(t *testing.T) {
	if _, err := ParseRole("supervisor"); err == nil {
		t.Fatal("expected error for unknown role")
	}
	role, err := ParseRole("technical_executive")
	if err != nil || role != RoleTechnicalExecutive {
		t.Fatalf("unexpected parse result %q %v", role, err)
	}
}

func TestReportStatusDerivesApprovalStatus(t *testing.T) {
	cases := map[ReportStatus]ApprovalStatus{
		ReportStatusDraft:     ApprovalStatusNone,
		ReportStatusSubmitted: ApprovalStatusPending,
		ReportStatusApproved:  ApprovalStatusApprove,
		ReportStatusRejected:  ApprovalStatusReject,
	}
	for status, want := range cases {
		if got := status.ApprovalStatus(); got != want {
			t.Fatalf("status %s: expected %q got %q", status, want, got)
		}
	}
	if !ReportStatusApproved.IsTerminal() || !ReportStatusRejected.IsTerminal() || ReportStatusSubmitted.IsTerminal() {
		t.Fatal("unexpected terminal classification")
	}
}

func TestDecisionEvent(t *testing.T) {
	if DecisionApprove.Event() != ReportEventApprove || DecisionReject.Event() != ReportEventReject {
		t.Fatal("decision to event mapping broken")
	}
	if _, err := ParseDecision("escalate"); err == nil {
		t.Fatal("expected invalid decision error")
	}
	if AuditActionForEvent(ReportEventReject) != AuditActionReject {
		t.Fatal("reject should audit as REJECT")
	}
}
