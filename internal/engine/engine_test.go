package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"caseflow/internal/db"
	"caseflow/internal/domain"
	"caseflow/internal/migrate"
	"caseflow/internal/repo"
	"caseflow/internal/stage"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestEngine(t *testing.T) (Engine, *fakeClock) {
	t.Helper()
	conn, err := db.Open(db.Config{DSN: filepath.Join(t.TempDir(), "cases.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	e := New(conn)
	e.Now = clock.Now
	return e, clock
}

func sampleForm() FormInput {
	return FormInput{
		ClientName:        "Li Wei",
		ClientPhone:       "13800000000",
		Relationship:      "sibling",
		TargetName:        "Li Na",
		LastKnownLocation: "Chengdu",
		Reason:            "lost contact in 2019",
		Operator:          "admin",
	}
}

func mustCreate(t *testing.T, e Engine, in FormInput) *domain.Case {
	t.Helper()
	c, err := e.CreateCase(context.Background(), in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return c
}

func mustAdvance(t *testing.T, e Engine, id string) *domain.Case {
	t.Helper()
	c, err := e.AdvanceCase(context.Background(), id, "admin", "")
	if err != nil {
		t.Fatalf("advance %s: %v", id, err)
	}
	return c
}

// fulfil satisfies the precondition for leaving the case's current stage.
func fulfil(t *testing.T, e Engine, c *domain.Case) {
	t.Helper()
	ctx := context.Background()
	var err error
	switch c.Stage {
	case domain.StageLegal:
		_, err = e.LegalReview(ctx, c.ID, true, "legal_team", "grounds verified")
	case domain.StageQuote:
		if _, err = e.GenerateQuote(ctx, c.ID, QuoteInput{Amount: 12000}); err != nil {
			break
		}
		if _, err = e.UploadDocument(ctx, c.ID, DocumentInput{Type: domain.DocumentContract, Name: "contract.pdf"}); err != nil {
			break
		}
		_, err = e.RecordPayment(ctx, c.ID, PaymentInput{Type: domain.PaymentDeposit, Amount: 5000})
	case domain.StageExecution:
		_, err = e.CompleteExecution(ctx, c.ID, "", true, "target located")
	case domain.StageReport:
		_, err = e.UploadDocument(ctx, c.ID, DocumentInput{Type: domain.DocumentReport, Name: "final-report.pdf"})
	case domain.StageFinance:
		_, err = e.RecordPayment(ctx, c.ID, PaymentInput{Type: domain.PaymentFinal, Amount: 7000})
	}
	if err != nil {
		t.Fatalf("fulfil %s: %v", c.Stage, err)
	}
}

func driveTo(t *testing.T, e Engine, id string, target domain.Stage) *domain.Case {
	t.Helper()
	c, err := e.GetCase(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for c.Stage < target {
		fulfil(t, e, c)
		c = mustAdvance(t, e, id)
	}
	return c
}

func TestCreateCaseSequentialIDs(t *testing.T) {
	e, _ := newTestEngine(t)
	a := mustCreate(t, e, sampleForm())
	b := mustCreate(t, e, sampleForm())

	year := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC).Year()
	if want := fmt.Sprintf("FP%d001", year); a.ID != want {
		t.Errorf("first id = %s, want %s", a.ID, want)
	}
	if want := fmt.Sprintf("FP%d002", year); b.ID != want {
		t.Errorf("second id = %s, want %s", b.ID, want)
	}
	if a.Stage != domain.StageForm {
		t.Errorf("stage = %s, want form", a.Stage)
	}
	if len(a.Timeline) != 1 || a.Timeline[0].Action != domain.ActionCaseCreated {
		t.Errorf("timeline = %+v", a.Timeline)
	}
	if a.Timeline[0].Operator != "admin" {
		t.Errorf("operator = %s", a.Timeline[0].Operator)
	}
}

func TestCreateCaseAcceptsIncompleteForm(t *testing.T) {
	e, _ := newTestEngine(t)
	c := mustCreate(t, e, FormInput{TargetName: "Li Na"})
	if c.Stage != domain.StageForm {
		t.Fatalf("stage = %s, want form", c.Stage)
	}

	// The missing client name surfaces at the crm gate, not at intake.
	_, err := e.AdvanceCase(context.Background(), c.ID, "admin", "")
	var pe *stage.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("advance err = %v, want precondition", err)
	}

	got, err := e.GetCase(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stage != domain.StageForm {
		t.Errorf("stage after blocked advance = %s, want form", got.Stage)
	}
}

func TestTimelineSharesEngineClock(t *testing.T) {
	e, _ := newTestEngine(t)
	c := mustCreate(t, e, sampleForm())

	if len(c.Timeline) != 1 {
		t.Fatalf("timeline length = %d, want 1", len(c.Timeline))
	}
	if c.Timeline[0].Timestamp != c.UpdatedAt {
		t.Errorf("timeline ts = %s, updated_at = %s", c.Timeline[0].Timestamp, c.UpdatedAt)
	}
	if !strings.HasPrefix(c.ID, "FP2025") {
		t.Errorf("case id %s does not carry the clock year", c.ID)
	}

	advanced := mustAdvance(t, e, c.ID)
	for _, entry := range advanced.Timeline[1:] {
		if entry.Timestamp != advanced.UpdatedAt {
			t.Errorf("entry %s ts = %s, updated_at = %s", entry.Action, entry.Timestamp, advanced.UpdatedAt)
		}
	}
}

func TestAdvanceFullLifecycle(t *testing.T) {
	e, _ := newTestEngine(t)
	c := mustCreate(t, e, sampleForm())

	c = driveTo(t, e, c.ID, domain.StageArchive)
	if c.Stage != domain.StageArchive {
		t.Fatalf("stage = %s, want archive", c.Stage)
	}
	if c.AssignedTo == nil || *c.AssignedTo != "admin_team" {
		t.Errorf("assignedTo = %v, want admin_team", c.AssignedTo)
	}

	_, err := e.AdvanceCase(context.Background(), c.ID, "admin", "")
	if !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("advance archived: err = %v, want ErrAlreadyTerminal", err)
	}
}

func TestAdvanceAssignsOwningTeam(t *testing.T) {
	e, _ := newTestEngine(t)
	c := mustCreate(t, e, sampleForm())

	c = mustAdvance(t, e, c.ID)
	if c.Stage != domain.StageCRM {
		t.Fatalf("stage = %s, want crm", c.Stage)
	}
	if c.AssignedTo == nil || *c.AssignedTo != "crm_team" {
		t.Errorf("assignedTo = %v, want crm_team", c.AssignedTo)
	}

	// One entry for the move, one for the handoff.
	var advanced, assigned int
	for _, entry := range c.Timeline {
		switch entry.Action {
		case domain.ActionStageAdvanced:
			advanced++
		case domain.ActionAutoAssigned:
			assigned++
		}
	}
	if advanced != 1 || assigned != 1 {
		t.Errorf("timeline actions = %d advanced / %d assigned, want 1/1", advanced, assigned)
	}
}

func TestAdvanceBlockedByPrecondition(t *testing.T) {
	e, _ := newTestEngine(t)
	in := sampleForm()
	in.TargetName = ""
	c := mustCreate(t, e, in)

	_, err := e.AdvanceCase(context.Background(), c.ID, "admin", "")
	var pe *stage.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want PreconditionError", err)
	}
	if pe.Stage != domain.StageCRM {
		t.Errorf("blocked stage = %s, want crm", pe.Stage)
	}

	got, err := e.GetCase(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stage != domain.StageForm {
		t.Errorf("stage moved to %s on failed advance", got.Stage)
	}
}

func TestAdvanceNotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.AdvanceCase(context.Background(), "FP2025999", "admin", "")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLegalRejectionIsTerminal(t *testing.T) {
	e, _ := newTestEngine(t)
	c := mustCreate(t, e, sampleForm())
	driveTo(t, e, c.ID, domain.StageLegal)

	got, err := e.LegalReview(context.Background(), c.ID, false, "legal_team", "insufficient grounds")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if !got.Rejected || got.Status() != domain.StatusRejected {
		t.Fatalf("rejected = %v status = %s", got.Rejected, got.Status())
	}
	if got.RejectionReason != "insufficient grounds" {
		t.Errorf("reason = %q", got.RejectionReason)
	}

	var wse *WrongStateError
	if _, err := e.AdvanceCase(context.Background(), c.ID, "admin", ""); !errors.As(err, &wse) {
		t.Fatalf("advance rejected: err = %v, want WrongStateError", err)
	}
	if _, err := e.LegalReview(context.Background(), c.ID, true, "legal_team", ""); !errors.As(err, &wse) {
		t.Fatalf("re-review rejected: err = %v, want WrongStateError", err)
	}
}

func TestLegalReviewOnlyAtLegalStage(t *testing.T) {
	e, _ := newTestEngine(t)
	c := mustCreate(t, e, sampleForm())

	var wse *WrongStateError
	if _, err := e.LegalReview(context.Background(), c.ID, true, "legal_team", ""); !errors.As(err, &wse) {
		t.Fatalf("err = %v, want WrongStateError", err)
	}
}

func TestQuoteGateNeedsApprovalEntry(t *testing.T) {
	e, _ := newTestEngine(t)
	c := mustCreate(t, e, sampleForm())
	driveTo(t, e, c.ID, domain.StageLegal)

	_, err := e.AdvanceCase(context.Background(), c.ID, "admin", "")
	var pe *stage.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want PreconditionError before approval", err)
	}

	if _, err := e.LegalReview(context.Background(), c.ID, true, "legal_team", ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	got := mustAdvance(t, e, c.ID)
	if got.Stage != domain.StageQuote {
		t.Fatalf("stage = %s, want quote", got.Stage)
	}
}

func TestExecutionGateOrderIndependent(t *testing.T) {
	// Deposit first, contract second must unlock the advance the same as the
	// reverse order.
	e, _ := newTestEngine(t)
	c := mustCreate(t, e, sampleForm())
	driveTo(t, e, c.ID, domain.StageQuote)

	ctx := context.Background()
	if _, err := e.RecordPayment(ctx, c.ID, PaymentInput{Type: domain.PaymentDeposit, Amount: 5000}); err != nil {
		t.Fatalf("payment: %v", err)
	}
	if _, err := e.AdvanceCase(ctx, c.ID, "admin", ""); err == nil {
		t.Fatal("advance allowed without contract")
	}
	if _, err := e.UploadDocument(ctx, c.ID, DocumentInput{Type: domain.DocumentContract, Name: "contract.pdf"}); err != nil {
		t.Fatalf("document: %v", err)
	}
	got := mustAdvance(t, e, c.ID)
	if got.Stage != domain.StageExecution {
		t.Fatalf("stage = %s, want execution", got.Stage)
	}
}

func TestGenerateQuoteDefaults(t *testing.T) {
	e, _ := newTestEngine(t)
	c := mustCreate(t, e, sampleForm())

	var wse *WrongStateError
	if _, err := e.GenerateQuote(context.Background(), c.ID, QuoteInput{Amount: 9500}); !errors.As(err, &wse) {
		t.Fatalf("quote at form: err = %v, want WrongStateError", err)
	}

	driveTo(t, e, c.ID, domain.StageQuote)
	q, err := e.GenerateQuote(context.Background(), c.ID, QuoteInput{Amount: 9500})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.Currency != domain.CurrencyCNY || q.Status != domain.QuotePending {
		t.Errorf("quote = %+v, want CNY/pending defaults", q)
	}
	if q.CreatedBy != "sales_team" {
		t.Errorf("createdBy = %s, want sales_team", q.CreatedBy)
	}
	if q.ID == "" || q.ID[0] != 'Q' {
		t.Errorf("id = %q, want Q prefix", q.ID)
	}

	if _, err := e.GenerateQuote(context.Background(), c.ID, QuoteInput{Amount: 0}); err == nil {
		t.Error("zero amount accepted")
	}
}

func TestRecordPaymentDefaults(t *testing.T) {
	e, _ := newTestEngine(t)
	c := mustCreate(t, e, sampleForm())

	p, err := e.RecordPayment(context.Background(), c.ID, PaymentInput{Type: domain.PaymentDeposit, Amount: 5000})
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if p.Status != domain.PaymentCompleted || p.Currency != domain.CurrencyCNY {
		t.Errorf("payment = %+v, want completed/CNY defaults", p)
	}

	got, err := e.GetCase(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	last := got.Timeline[len(got.Timeline)-1]
	if last.Action != domain.ActionPaymentReceived || last.Operator != "finance_team" {
		t.Errorf("timeline entry = %+v, want payment_received by finance_team", last)
	}

	if _, err := e.RecordPayment(context.Background(), c.ID, PaymentInput{Type: "tip", Amount: 1}); err == nil {
		t.Error("unknown payment type accepted")
	}
}

func TestCompleteExecution(t *testing.T) {
	e, _ := newTestEngine(t)
	c := mustCreate(t, e, sampleForm())

	var wse *WrongStateError
	if _, err := e.CompleteExecution(context.Background(), c.ID, "", true, ""); !errors.As(err, &wse) {
		t.Fatalf("complete at form: err = %v, want WrongStateError", err)
	}

	driveTo(t, e, c.ID, domain.StageExecution)
	got, err := e.CompleteExecution(context.Background(), c.ID, "", true, "target located")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !got.TimelineHas(domain.ActionExecutionCompleted) || !got.TimelineHas(domain.ActionCaseSucceeded) {
		t.Errorf("timeline missing completion markers: %+v", got.Timeline)
	}

	if _, err := e.CompleteExecution(context.Background(), c.ID, "", false, ""); !errors.As(err, &wse) {
		t.Fatalf("double complete: err = %v, want WrongStateError", err)
	}
}

func TestCompleteExecutionWithoutSuccessMarker(t *testing.T) {
	e, _ := newTestEngine(t)
	c := mustCreate(t, e, sampleForm())
	driveTo(t, e, c.ID, domain.StageExecution)

	got, err := e.CompleteExecution(context.Background(), c.ID, "", false, "trail went cold")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.TimelineHas(domain.ActionCaseSucceeded) {
		t.Error("failed execution carries success marker")
	}
	if !got.TimelineHas(domain.ActionExecutionCompleted) {
		t.Error("completion entry missing")
	}
}

func TestUpdatedAtMonotonic(t *testing.T) {
	e, _ := newTestEngine(t)
	c := mustCreate(t, e, sampleForm())
	prev := c.UpdatedAt

	for _, target := range []domain.Stage{domain.StageCRM, domain.StageLegal, domain.StageQuote} {
		c = driveTo(t, e, c.ID, target)
		if c.UpdatedAt <= prev {
			t.Fatalf("updated_at %s not after %s at %s", c.UpdatedAt, prev, c.Stage)
		}
		prev = c.UpdatedAt
	}
}

func TestSearchAndListThroughEngine(t *testing.T) {
	e, _ := newTestEngine(t)
	mustCreate(t, e, sampleForm())
	in := sampleForm()
	in.ClientName = "Zhang San"
	in.TargetName = "Zhang Si"
	mustCreate(t, e, in)

	found, err := e.SearchCases(context.Background(), "Zhang")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 1 || found[0].Client.Name != "Zhang San" {
		t.Errorf("found = %+v", found)
	}

	all, err := e.ListCases(context.Background(), repo.CaseFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("list = %d cases, want 2", len(all))
	}
}
