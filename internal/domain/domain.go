package domain

import (
	"encoding/json"
	"fmt"
)

// Stage is the ordered position of a case in the engagement pipeline. A case
// enters at StageForm and moves strictly forward one stage at a time; the
// stage identifier string and the index are two views of the same value, so
// they cannot drift apart.
type Stage int

const (
	StageForm Stage = iota
	StageCRM
	StageLegal
	StageQuote
	StageExecution
	StageReport
	StageFinance
	StageArchive
)

var stageIDs = [...]string{
	StageForm:      "form",
	StageCRM:       "crm",
	StageLegal:     "legal",
	StageQuote:     "quote",
	StageExecution: "execution",
	StageReport:    "report",
	StageFinance:   "finance",
	StageArchive:   "archive",
}

// StatusRejected is the terminal status of a case refused at legal review.
// It is outside the stage order and unreachable by AdvanceCase.
const StatusRejected = "rejected"

// Stages returns all stages in pipeline order.
func Stages() []Stage {
	out := make([]Stage, len(stageIDs))
	for i := range stageIDs {
		out[i] = Stage(i)
	}
	return out
}

func (s Stage) Valid() bool {
	return s >= StageForm && s <= StageArchive
}

func (s Stage) String() string {
	if !s.Valid() {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageIDs[s]
}

// Next returns the following stage, or false at the end of the pipeline.
func (s Stage) Next() (Stage, bool) {
	if s >= StageArchive {
		return s, false
	}
	return s + 1, true
}

// ParseStage maps a stage identifier to its Stage.
func ParseStage(id string) (Stage, error) {
	for i, sid := range stageIDs {
		if sid == id {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", id)
}

func (s Stage) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Stage) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	parsed, err := ParseStage(id)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Timeline action identifiers. Gate predicates and statistics scan the
// timeline for these, so they are part of the stored contract.
const (
	ActionCaseCreated        = "case_created"
	ActionStageAdvanced      = "stage_advanced"
	ActionAutoAssigned       = "auto_assigned"
	ActionLegalApproved      = "legal_approved"
	ActionLegalRejected      = "legal_rejected"
	ActionQuoteGenerated     = "quote_generated"
	ActionPaymentReceived    = "payment_received"
	ActionDocumentUploaded   = "document_uploaded"
	ActionExecutionCompleted = "execution_completed"
	ActionCaseSucceeded      = "case_succeeded"
)

// Document types.
const (
	DocumentContract = "contract"
	DocumentReport   = "report"
	DocumentEvidence = "evidence"
	DocumentOther    = "other"
)

// Payment types and statuses.
const (
	PaymentDeposit = "deposit"
	PaymentFinal   = "final"

	PaymentCompleted = "completed"
	PaymentPending   = "pending"
)

// QuotePending is the initial status of every generated quote.
const QuotePending = "pending"

// CurrencyCNY is the default currency for quotes and payments.
const CurrencyCNY = "CNY"

// OperatorSystem marks audit entries written by the engine itself.
const OperatorSystem = "system"

type ClientInfo struct {
	Name         string `json:"name"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
	Relationship string `json:"relationship,omitempty"`
}

type TargetInfo struct {
	Name              string `json:"name"`
	Gender            string `json:"gender,omitempty"`
	Age               string `json:"age,omitempty"`
	Birthplace        string `json:"birthplace,omitempty"`
	LastKnownLocation string `json:"last_known_location,omitempty"`
	LastContact       string `json:"last_contact,omitempty"`
	AdditionalInfo    string `json:"additional_info,omitempty"`
}

// Case is the central record of an engagement. It is created once, mutated in
// place by the engine, and never deleted; archival is a stage, not a removal.
type Case struct {
	ID              string       `json:"id"`
	Client          ClientInfo   `json:"client_info"`
	Target          TargetInfo   `json:"target_info"`
	Reason          string       `json:"reason,omitempty"`
	Stage           Stage        `json:"stage"`
	Rejected        bool         `json:"rejected,omitempty"`
	RejectionReason string       `json:"rejection_reason,omitempty"`
	LegalApproved   bool         `json:"legal_approved,omitempty"`
	AssignedTo      *string      `json:"assigned_to,omitempty"`
	Timeline        []AuditEntry `json:"timeline"`
	Documents       []Document   `json:"documents"`
	Payments        []Payment    `json:"payments"`
	Quotes          []Quote      `json:"quotes,omitempty"`
	CreatedAt       string       `json:"created_at" format:"date-time"`
	UpdatedAt       string       `json:"updated_at" format:"date-time"`
}

// Status returns the case status: the current stage identifier, or
// StatusRejected once legal review has refused the case.
func (c *Case) Status() string {
	if c.Rejected {
		return StatusRejected
	}
	return c.Stage.String()
}

// TimelineHas reports whether any audit entry carries the given action.
func (c *Case) TimelineHas(action string) bool {
	for _, e := range c.Timeline {
		if e.Action == action {
			return true
		}
	}
	return false
}

// HasDocument reports whether a document of the given type was uploaded.
func (c *Case) HasDocument(docType string) bool {
	for _, d := range c.Documents {
		if d.Type == docType {
			return true
		}
	}
	return false
}

// HasCompletedPayment reports whether a completed payment of the given type
// was recorded.
func (c *Case) HasCompletedPayment(payType string) bool {
	for _, p := range c.Payments {
		if p.Type == payType && p.Status == PaymentCompleted {
			return true
		}
	}
	return false
}

// AuditEntry is one immutable line of a case timeline. Entries are appended
// in creation order and never rewritten; the timeline is the authoritative
// history of the case.
type AuditEntry struct {
	Stage     string `json:"stage"`
	Timestamp string `json:"timestamp" format:"date-time"`
	Action    string `json:"action"`
	Operator  string `json:"operator"`
	Notes     string `json:"notes,omitempty"`
}

type Document struct {
	ID          string `json:"id"`
	CaseID      string `json:"case_id"`
	Type        string `json:"type" enum:"contract,report,evidence,other"`
	Name        string `json:"name"`
	URL         string `json:"url,omitempty"`
	Size        int64  `json:"size,omitempty"`
	UploadedBy  string `json:"uploaded_by"`
	UploadedAt  string `json:"uploaded_at" format:"date-time"`
	Description string `json:"description,omitempty"`
}

type Payment struct {
	ID            string  `json:"id"`
	CaseID        string  `json:"case_id"`
	Type          string  `json:"type" enum:"deposit,final"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Method        string  `json:"method,omitempty"`
	TransactionID string  `json:"transaction_id,omitempty"`
	Status        string  `json:"status"`
	PaidAt        string  `json:"paid_at" format:"date-time"`
	Notes         string  `json:"notes,omitempty"`
}

type Quote struct {
	ID          string  `json:"id"`
	CaseID      string  `json:"case_id"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Description string  `json:"description,omitempty"`
	ValidUntil  string  `json:"valid_until,omitempty" format:"date-time"`
	Terms       string  `json:"terms,omitempty"`
	CreatedBy   string  `json:"created_by"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	Status      string  `json:"status"`
}
