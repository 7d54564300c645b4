package stage_test

import (
	"errors"
	"testing"

	"caseflow/internal/domain"
	"caseflow/internal/stage"
)

func baseCase() *domain.Case {
	return &domain.Case{
		ID:     "FP2025001",
		Client: domain.ClientInfo{Name: "Li Wei"},
		Target: domain.TargetInfo{Name: "Li Na"},
		Stage:  domain.StageForm,
	}
}

func TestCRMGateNeedsNames(t *testing.T) {
	c := baseCase()
	c.Target.Name = ""
	err := stage.CheckAdvance(c, domain.StageCRM)
	var pe *stage.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	if pe.Stage != domain.StageCRM {
		t.Fatalf("unexpected stage %v", pe.Stage)
	}
	c.Target.Name = "Li Na"
	if err := stage.CheckAdvance(c, domain.StageCRM); err != nil {
		t.Fatalf("expected open gate: %v", err)
	}
}

func TestLegalGateNeedsAssignment(t *testing.T) {
	c := baseCase()
	if err := stage.CheckAdvance(c, domain.StageLegal); err == nil {
		t.Fatal("expected gate closed without assignment")
	}
	team := "crm_team"
	c.AssignedTo = &team
	if err := stage.CheckAdvance(c, domain.StageLegal); err != nil {
		t.Fatalf("expected open gate: %v", err)
	}
}

func TestQuoteGateScansTimeline(t *testing.T) {
	c := baseCase()
	// The flag alone must not open the gate; the timeline is authoritative.
	c.LegalApproved = true
	if err := stage.CheckAdvance(c, domain.StageQuote); err == nil {
		t.Fatal("expected gate closed without approval entry")
	}
	c.Timeline = append(c.Timeline, domain.AuditEntry{
		Stage: "legal", Action: domain.ActionLegalApproved, Operator: "legal_user",
	})
	if err := stage.CheckAdvance(c, domain.StageQuote); err != nil {
		t.Fatalf("expected open gate: %v", err)
	}
}

func TestExecutionGateNeedsContractAndDeposit(t *testing.T) {
	c := baseCase()
	c.Documents = append(c.Documents, domain.Document{Type: domain.DocumentContract})
	if err := stage.CheckAdvance(c, domain.StageExecution); err == nil {
		t.Fatal("contract alone must not open the gate")
	}
	c.Payments = append(c.Payments, domain.Payment{Type: domain.PaymentDeposit, Status: domain.PaymentPending})
	if err := stage.CheckAdvance(c, domain.StageExecution); err == nil {
		t.Fatal("pending deposit must not open the gate")
	}
	c.Payments[0].Status = domain.PaymentCompleted
	if err := stage.CheckAdvance(c, domain.StageExecution); err != nil {
		t.Fatalf("expected open gate: %v", err)
	}
}

func TestArchiveGateNeedsFinalPayment(t *testing.T) {
	c := baseCase()
	c.Payments = append(c.Payments, domain.Payment{Type: domain.PaymentDeposit, Status: domain.PaymentCompleted})
	if err := stage.CheckAdvance(c, domain.StageArchive); err == nil {
		t.Fatal("deposit must not satisfy the final payment gate")
	}
	c.Payments = append(c.Payments, domain.Payment{Type: domain.PaymentFinal, Status: domain.PaymentCompleted})
	if err := stage.CheckAdvance(c, domain.StageArchive); err != nil {
		t.Fatalf("expected open gate: %v", err)
	}
}

func TestTeamForIsTotalPastForm(t *testing.T) {
	if _, ok := stage.TeamFor(domain.StageForm); ok {
		t.Fatal("form must have no team")
	}
	for _, s := range domain.Stages()[1:] {
		if _, ok := stage.TeamFor(s); !ok {
			t.Fatalf("stage %s has no team", s)
		}
	}
}
