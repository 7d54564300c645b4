package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"caseflow/internal/audit"
	"caseflow/internal/domain"
	"caseflow/internal/ids"
	"caseflow/internal/notify"
	"caseflow/internal/repo"
	"caseflow/internal/stage"
)

// ErrAlreadyTerminal is returned when an advance is attempted on an archived
// case.
var ErrAlreadyTerminal = errors.New("case already archived")

// WrongStateError is returned when an operation does not apply to the case's
// current state, for example advancing a rejected case.
type WrongStateError struct {
	CaseID string
	Reason string
}

func (e *WrongStateError) Error() string {
	return fmt.Sprintf("case %s: %s", e.CaseID, e.Reason)
}

type Engine struct {
	DB    *sql.DB
	Repo  repo.Repo
	Audit *audit.Writer
	IDs   *ids.Generator
	Sink  notify.Sink
	Now   func() time.Time
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:    db,
		Repo:  repo.Repo{DB: db},
		Audit: audit.NewWriter(),
		IDs:   ids.NewGenerator(),
		Sink:  notify.Discard{},
		Now:   time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return rfc3339(e.now())
}

func rfc3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func (e Engine) notify(ctx context.Context, evt notify.Event) {
	if e.Sink != nil {
		e.Sink.Notify(ctx, evt)
	}
}

// FormInput is the intake form for a new case.
type FormInput struct {
	ClientName        string
	ClientPhone       string
	ClientEmail       string
	Relationship      string
	TargetName        string
	TargetGender      string
	TargetAge         string
	TargetBirthplace  string
	LastKnownLocation string
	LastContactTime   string
	TargetInfo        string
	Reason            string
	Operator          string
}

// CreateCase opens a case at the form stage and writes its first timeline
// entry. The case id encodes the current year and the all-time sequence
// number. Any form content is accepted; the crm gate reports missing names
// when the case tries to leave the form stage.
func (e Engine) CreateCase(ctx context.Context, in FormInput) (*domain.Case, error) {
	operator := in.Operator
	if operator == "" {
		operator = domain.OperatorSystem
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	n, err := e.Repo.CountCasesTx(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("count cases: %w", err)
	}
	at := e.now()
	now := rfc3339(at)
	c := &domain.Case{
		ID: e.IDs.CaseID(at, n+1),
		Client: domain.ClientInfo{
			Name:         strings.TrimSpace(in.ClientName),
			Phone:        in.ClientPhone,
			Email:        in.ClientEmail,
			Relationship: in.Relationship,
		},
		Target: domain.TargetInfo{
			Name:              in.TargetName,
			Gender:            in.TargetGender,
			Age:               in.TargetAge,
			Birthplace:        in.TargetBirthplace,
			LastKnownLocation: in.LastKnownLocation,
			LastContact:       in.LastContactTime,
			AdditionalInfo:    in.TargetInfo,
		},
		Reason:    in.Reason,
		Stage:     domain.StageForm,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertCaseTx(ctx, tx, c); err != nil {
		return nil, fmt.Errorf("insert case: %w", err)
	}
	entry, err := e.Audit.Append(ctx, tx, c.ID, c.Stage, now, domain.ActionCaseCreated, operator, "")
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	c.Timeline = []domain.AuditEntry{entry}
	e.notify(ctx, notify.CaseCreated{
		Case:       c.ID,
		ClientName: c.Client.Name,
		TargetName: c.Target.Name,
		TS:         entry.Timestamp,
	})
	return c, nil
}

// GetCase returns a case with its timeline, documents, payments and quotes.
func (e Engine) GetCase(ctx context.Context, id string) (*domain.Case, error) {
	return e.Repo.GetCase(ctx, id)
}

// ListCases returns cases matching the filters, newest first.
func (e Engine) ListCases(ctx context.Context, f repo.CaseFilters) ([]*domain.Case, error) {
	return e.Repo.ListCases(ctx, f)
}

// SearchCases matches against case id, client name and target name.
func (e Engine) SearchCases(ctx context.Context, q string) ([]*domain.Case, error) {
	return e.Repo.SearchCases(ctx, q)
}

// AdvanceCase moves a case to the next stage once the preconditions for
// leaving the current one hold. Reaching a stage with an owning team assigns
// the case to that team and records the handoff.
func (e Engine) AdvanceCase(ctx context.Context, caseID, operator, notes string) (*domain.Case, error) {
	if operator == "" {
		operator = domain.OperatorSystem
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Rejected {
		return nil, &WrongStateError{CaseID: caseID, Reason: "case was rejected at legal review"}
	}
	next, ok := c.Stage.Next()
	if !ok {
		return nil, ErrAlreadyTerminal
	}
	if err := stage.CheckAdvance(c, next); err != nil {
		return nil, err
	}

	from := c.Stage
	c.Stage = next
	c.UpdatedAt = e.stamp()

	var assigned string
	if team, ok := stage.TeamFor(next); ok {
		assigned = team
		c.AssignedTo = &assigned
	}
	if err := e.Repo.UpdateCaseTx(ctx, tx, c); err != nil {
		return nil, err
	}
	moved, err := e.Audit.Append(ctx, tx, c.ID, next, c.UpdatedAt, domain.ActionStageAdvanced, operator,
		advanceNotes(from, next, notes))
	if err != nil {
		return nil, err
	}
	if assigned != "" {
		if _, err := e.Audit.Append(ctx, tx, c.ID, next, c.UpdatedAt, domain.ActionAutoAssigned, domain.OperatorSystem,
			"assigned to "+assigned); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.notify(ctx, notify.StageAdvanced{
		Case:       c.ID,
		From:       from,
		To:         next,
		AssignedTo: assigned,
		Operator:   operator,
		TS:         moved.Timestamp,
	})
	return e.Repo.GetCase(ctx, caseID)
}

func advanceNotes(from, to domain.Stage, notes string) string {
	base := fmt.Sprintf("%s -> %s", from, to)
	if notes == "" {
		return base
	}
	return base + ": " + notes
}

// LegalReview approves or rejects a case at the legal stage. Rejection is
// terminal; the case keeps its stage but no longer advances.
func (e Engine) LegalReview(ctx context.Context, caseID string, approved bool, operator, reason string) (*domain.Case, error) {
	if operator == "" {
		operator = "legal_team"
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Rejected {
		return nil, &WrongStateError{CaseID: caseID, Reason: "case was already rejected"}
	}
	if c.Stage != domain.StageLegal {
		return nil, &WrongStateError{CaseID: caseID, Reason: fmt.Sprintf("legal review applies at the legal stage, case is at %s", c.Stage)}
	}

	action := domain.ActionLegalApproved
	if approved {
		c.LegalApproved = true
	} else {
		action = domain.ActionLegalRejected
		c.Rejected = true
		c.RejectionReason = reason
	}
	c.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateCaseTx(ctx, tx, c); err != nil {
		return nil, err
	}
	entry, err := e.Audit.Append(ctx, tx, c.ID, c.Stage, c.UpdatedAt, action, operator, reason)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.notify(ctx, notify.LegalReviewed{
		Case:     c.ID,
		Approved: approved,
		Operator: operator,
		Reason:   reason,
		TS:       entry.Timestamp,
	})
	return e.Repo.GetCase(ctx, caseID)
}

// QuoteInput are parameters for generating a quote.
type QuoteInput struct {
	Amount      float64
	Currency    string
	Description string
	ValidUntil  string
	Terms       string
	Operator    string
}

// GenerateQuote attaches a pending quote to the case.
func (e Engine) GenerateQuote(ctx context.Context, caseID string, in QuoteInput) (*domain.Quote, error) {
	if in.Amount <= 0 {
		return nil, errors.New("quote amount must be positive")
	}
	if in.Currency == "" {
		in.Currency = domain.CurrencyCNY
	}
	operator := in.Operator
	if operator == "" {
		operator = "sales_team"
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Rejected {
		return nil, &WrongStateError{CaseID: caseID, Reason: "case was rejected at legal review"}
	}
	if c.Stage != domain.StageQuote {
		return nil, &WrongStateError{CaseID: caseID, Reason: fmt.Sprintf("quotes are generated at the quote stage, case is at %s", c.Stage)}
	}
	at := e.now()
	q := domain.Quote{
		ID:          e.IDs.QuoteID(at),
		CaseID:      c.ID,
		Amount:      in.Amount,
		Currency:    in.Currency,
		Description: in.Description,
		ValidUntil:  in.ValidUntil,
		Terms:       in.Terms,
		CreatedBy:   operator,
		CreatedAt:   rfc3339(at),
		Status:      domain.QuotePending,
	}
	if err := e.Repo.InsertQuoteTx(ctx, tx, q); err != nil {
		return nil, fmt.Errorf("insert quote: %w", err)
	}
	c.UpdatedAt = q.CreatedAt
	if err := e.Repo.UpdateCaseTx(ctx, tx, c); err != nil {
		return nil, err
	}
	entry, err := e.Audit.Append(ctx, tx, c.ID, c.Stage, q.CreatedAt, domain.ActionQuoteGenerated, operator,
		fmt.Sprintf("%s %.2f %s", q.ID, q.Amount, q.Currency))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.notify(ctx, notify.QuoteGenerated{
		Case:     c.ID,
		QuoteID:  q.ID,
		Amount:   q.Amount,
		Currency: q.Currency,
		TS:       entry.Timestamp,
	})
	return &q, nil
}

// PaymentInput are parameters for recording a payment.
type PaymentInput struct {
	Type          string
	Amount        float64
	Currency      string
	Method        string
	TransactionID string
	Status        string
	Notes         string
	Operator      string
}

// RecordPayment stores a payment fact against the case. An omitted status
// means the payment already completed.
func (e Engine) RecordPayment(ctx context.Context, caseID string, in PaymentInput) (*domain.Payment, error) {
	if in.Type != domain.PaymentDeposit && in.Type != domain.PaymentFinal {
		return nil, fmt.Errorf("unknown payment type %q", in.Type)
	}
	if in.Amount <= 0 {
		return nil, errors.New("payment amount must be positive")
	}
	if in.Currency == "" {
		in.Currency = domain.CurrencyCNY
	}
	if in.Status == "" {
		in.Status = domain.PaymentCompleted
	}
	operator := in.Operator
	if operator == "" {
		operator = "finance_team"
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return nil, err
	}
	at := e.now()
	p := domain.Payment{
		ID:            e.IDs.PaymentID(at),
		CaseID:        c.ID,
		Type:          in.Type,
		Amount:        in.Amount,
		Currency:      in.Currency,
		Method:        in.Method,
		TransactionID: in.TransactionID,
		Status:        in.Status,
		PaidAt:        rfc3339(at),
		Notes:         in.Notes,
	}
	if err := e.Repo.InsertPaymentTx(ctx, tx, p); err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}
	c.UpdatedAt = p.PaidAt
	if err := e.Repo.UpdateCaseTx(ctx, tx, c); err != nil {
		return nil, err
	}
	entry, err := e.Audit.Append(ctx, tx, c.ID, c.Stage, p.PaidAt, domain.ActionPaymentReceived, operator,
		fmt.Sprintf("%s %s %.2f %s (%s)", p.ID, p.Type, p.Amount, p.Currency, p.Status))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.notify(ctx, notify.PaymentReceived{
		Case:      c.ID,
		PaymentID: p.ID,
		Type:      p.Type,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Status:    p.Status,
		TS:        entry.Timestamp,
	})
	return &p, nil
}

// DocumentInput are parameters for attaching a document.
type DocumentInput struct {
	Type        string
	Name        string
	URL         string
	Size        int64
	Description string
	Operator    string
}

// UploadDocument attaches document metadata to the case. File bytes live
// wherever URL points; the store only keeps the reference.
func (e Engine) UploadDocument(ctx context.Context, caseID string, in DocumentInput) (*domain.Document, error) {
	if in.Name == "" {
		return nil, errors.New("document name is required")
	}
	if in.Type == "" {
		in.Type = domain.DocumentOther
	}
	operator := in.Operator
	if operator == "" {
		operator = domain.OperatorSystem
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return nil, err
	}
	at := e.now()
	d := domain.Document{
		ID:          e.IDs.DocumentID(at),
		CaseID:      c.ID,
		Type:        in.Type,
		Name:        in.Name,
		URL:         in.URL,
		Size:        in.Size,
		UploadedBy:  operator,
		UploadedAt:  rfc3339(at),
		Description: in.Description,
	}
	if err := e.Repo.InsertDocumentTx(ctx, tx, d); err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	c.UpdatedAt = d.UploadedAt
	if err := e.Repo.UpdateCaseTx(ctx, tx, c); err != nil {
		return nil, err
	}
	entry, err := e.Audit.Append(ctx, tx, c.ID, c.Stage, d.UploadedAt, domain.ActionDocumentUploaded, operator,
		fmt.Sprintf("%s %s", d.Type, d.Name))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.notify(ctx, notify.DocumentUploaded{
		Case:       c.ID,
		DocumentID: d.ID,
		Type:       d.Type,
		Name:       d.Name,
		TS:         entry.Timestamp,
	})
	return &d, nil
}

// CompleteExecution records the outcome of the investigation. It unlocks the
// advance out of the execution stage and, on success, marks the case so the
// success rate statistic counts it.
func (e Engine) CompleteExecution(ctx context.Context, caseID, operator string, success bool, notes string) (*domain.Case, error) {
	if operator == "" {
		operator = "investigation_team"
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Rejected {
		return nil, &WrongStateError{CaseID: caseID, Reason: "case was rejected at legal review"}
	}
	if c.Stage != domain.StageExecution {
		return nil, &WrongStateError{CaseID: caseID, Reason: fmt.Sprintf("execution completes at the execution stage, case is at %s", c.Stage)}
	}
	if c.TimelineHas(domain.ActionExecutionCompleted) {
		return nil, &WrongStateError{CaseID: caseID, Reason: "execution already completed"}
	}

	c.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateCaseTx(ctx, tx, c); err != nil {
		return nil, err
	}
	entry, err := e.Audit.Append(ctx, tx, c.ID, c.Stage, c.UpdatedAt, domain.ActionExecutionCompleted, operator, notes)
	if err != nil {
		return nil, err
	}
	if success {
		if _, err := e.Audit.Append(ctx, tx, c.ID, c.Stage, c.UpdatedAt, domain.ActionCaseSucceeded, operator, ""); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.notify(ctx, notify.ExecutionCompleted{
		Case:     c.ID,
		Success:  success,
		Operator: operator,
		TS:       entry.Timestamp,
	})
	return e.Repo.GetCase(ctx, caseID)
}
