package server

import (
	"caseflow/internal/domain"
	"caseflow/internal/stats"
)

// Request payloads

type CreateCaseRequest struct {
	ClientName        string `json:"client_name"`
	ClientPhone       string `json:"client_phone,omitempty"`
	ClientEmail       string `json:"client_email,omitempty"`
	Relationship      string `json:"relationship,omitempty"`
	TargetName        string `json:"target_name,omitempty"`
	TargetGender      string `json:"target_gender,omitempty"`
	TargetAge         string `json:"target_age,omitempty"`
	TargetBirthplace  string `json:"target_birthplace,omitempty"`
	LastKnownLocation string `json:"last_known_location,omitempty"`
	LastContactTime   string `json:"last_contact_time,omitempty"`
	TargetInfo        string `json:"target_info,omitempty"`
	Reason            string `json:"reason,omitempty"`
	Operator          string `json:"operator,omitempty"`
}

type AdvanceCaseRequest struct {
	Operator string `json:"operator,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

type LegalReviewRequest struct {
	Approved bool   `json:"approved"`
	Operator string `json:"operator,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type GenerateQuoteRequest struct {
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency,omitempty"`
	Description string  `json:"description,omitempty"`
	ValidUntil  string  `json:"valid_until,omitempty"`
	Terms       string  `json:"terms,omitempty"`
	Operator    string  `json:"operator,omitempty"`
}

type RecordPaymentRequest struct {
	Type          string  `json:"type" enum:"deposit,final"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency,omitempty"`
	Method        string  `json:"method,omitempty"`
	TransactionID string  `json:"transaction_id,omitempty"`
	Status        string  `json:"status,omitempty" enum:"completed,pending"`
	Notes         string  `json:"notes,omitempty"`
	Operator      string  `json:"operator,omitempty"`
}

type UploadDocumentRequest struct {
	Type        string `json:"type,omitempty" enum:"contract,report,evidence,other"`
	Name        string `json:"name"`
	URL         string `json:"url,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Description string `json:"description,omitempty"`
	Operator    string `json:"operator,omitempty"`
}

type CompleteExecutionRequest struct {
	Success  bool   `json:"success"`
	Operator string `json:"operator,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// Response payloads

type CaseResponse struct {
	ID              string              `json:"id"`
	Status          string              `json:"status"`
	CurrentStage    domain.Stage        `json:"current_stage"`
	Client          domain.ClientInfo   `json:"client"`
	Target          domain.TargetInfo   `json:"target"`
	Reason          string              `json:"reason,omitempty"`
	RejectionReason string              `json:"rejection_reason,omitempty"`
	LegalApproved   bool                `json:"legal_approved"`
	AssignedTo      *string             `json:"assigned_to"`
	Timeline        []domain.AuditEntry `json:"timeline"`
	Documents       []domain.Document   `json:"documents"`
	Payments        []domain.Payment    `json:"payments"`
	Quotes          []domain.Quote      `json:"quotes,omitempty"`
	CreatedAt       string              `json:"created_at"`
	UpdatedAt       string              `json:"updated_at"`
}

func caseResponse(c *domain.Case) CaseResponse {
	return CaseResponse{
		ID:              c.ID,
		Status:          c.Status(),
		CurrentStage:    c.Stage,
		Client:          c.Client,
		Target:          c.Target,
		Reason:          c.Reason,
		RejectionReason: c.RejectionReason,
		LegalApproved:   c.LegalApproved,
		AssignedTo:      c.AssignedTo,
		Timeline:        c.Timeline,
		Documents:       c.Documents,
		Payments:        c.Payments,
		Quotes:          c.Quotes,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

func caseResponses(cases []*domain.Case) []CaseResponse {
	out := make([]CaseResponse, 0, len(cases))
	for _, c := range cases {
		out = append(out, caseResponse(c))
	}
	return out
}

type CaseEnvelope struct {
	Success bool         `json:"success"`
	Case    CaseResponse `json:"case"`
}

type CaseListEnvelope struct {
	Success bool           `json:"success"`
	Count   int            `json:"count"`
	Cases   []CaseResponse `json:"cases"`
}

type QuoteEnvelope struct {
	Success bool         `json:"success"`
	Quote   domain.Quote `json:"quote"`
}

type PaymentEnvelope struct {
	Success bool           `json:"success"`
	Payment domain.Payment `json:"payment"`
}

type DocumentEnvelope struct {
	Success  bool            `json:"success"`
	Document domain.Document `json:"document"`
}

type StatisticsEnvelope struct {
	Success    bool             `json:"success"`
	Statistics stats.Statistics `json:"statistics"`
}

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}
