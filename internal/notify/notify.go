package notify

import (
	"context"
	"log"

	"caseflow/internal/domain"
)

// Event is a case lifecycle notification. The concrete types below are the
// only implementations; sinks may switch on Kind or type-assert.
type Event interface {
	Kind() string
	CaseID() string
}

type CaseCreated struct {
	Case       string `json:"case_id"`
	ClientName string `json:"client_name"`
	TargetName string `json:"target_name"`
	TS         string `json:"ts"`
}

func (e CaseCreated) Kind() string   { return "case.created" }
func (e CaseCreated) CaseID() string { return e.Case }

type StageAdvanced struct {
	Case       string       `json:"case_id"`
	From       domain.Stage `json:"from"`
	To         domain.Stage `json:"to"`
	AssignedTo string       `json:"assigned_to,omitempty"`
	Operator   string       `json:"operator"`
	TS         string       `json:"ts"`
}

func (e StageAdvanced) Kind() string   { return "stage.advanced" }
func (e StageAdvanced) CaseID() string { return e.Case }

type LegalReviewed struct {
	Case     string `json:"case_id"`
	Approved bool   `json:"approved"`
	Operator string `json:"operator"`
	Reason   string `json:"reason,omitempty"`
	TS       string `json:"ts"`
}

func (e LegalReviewed) Kind() string   { return "legal.reviewed" }
func (e LegalReviewed) CaseID() string { return e.Case }

type QuoteGenerated struct {
	Case     string  `json:"case_id"`
	QuoteID  string  `json:"quote_id"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	TS       string  `json:"ts"`
}

func (e QuoteGenerated) Kind() string   { return "quote.generated" }
func (e QuoteGenerated) CaseID() string { return e.Case }

type PaymentReceived struct {
	Case      string  `json:"case_id"`
	PaymentID string  `json:"payment_id"`
	Type      string  `json:"type"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Status    string  `json:"status"`
	TS        string  `json:"ts"`
}

func (e PaymentReceived) Kind() string   { return "payment.received" }
func (e PaymentReceived) CaseID() string { return e.Case }

type DocumentUploaded struct {
	Case       string `json:"case_id"`
	DocumentID string `json:"document_id"`
	Type       string `json:"type"`
	Name       string `json:"name"`
	TS         string `json:"ts"`
}

func (e DocumentUploaded) Kind() string   { return "document.uploaded" }
func (e DocumentUploaded) CaseID() string { return e.Case }

type ExecutionCompleted struct {
	Case     string `json:"case_id"`
	Success  bool   `json:"success"`
	Operator string `json:"operator"`
	TS       string `json:"ts"`
}

func (e ExecutionCompleted) Kind() string   { return "execution.completed" }
func (e ExecutionCompleted) CaseID() string { return e.Case }

// Sink receives events after the originating transaction has committed.
// Implementations must not block the caller for long; delivery failures are
// the sink's problem, not the engine's.
type Sink interface {
	Notify(ctx context.Context, e Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Notify(context.Context, Event) {}

// Log writes a line per event to the standard logger.
type Log struct{}

func (Log) Notify(_ context.Context, e Event) {
	log.Printf("event %s case=%s", e.Kind(), e.CaseID())
}

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, e Event) {
	for _, s := range m {
		s.Notify(ctx, e)
	}
}
