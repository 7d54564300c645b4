// Package caseflowsdk is the case API client. Every operation tries the
// remote endpoint first and, when a local engine is attached, falls back to
// it on any remote failure, so field tooling keeps working while the central
// service is unreachable.
package caseflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/repo"
	"caseflow/internal/stats"
)

// Client talks to the case API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration

	// Local, when set, is the in-process engine used after a remote failure.
	Local *engine.Engine
}

// New creates a client with sane defaults and no local fallback.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// NewResilient creates a client that falls back to the given engine.
func NewResilient(baseURL string, local *engine.Engine) *Client {
	c := New(baseURL)
	c.Local = local
	return c
}

// Case is the API case model.
type Case struct {
	ID              string              `json:"id"`
	Status          string              `json:"status"`
	CurrentStage    string              `json:"current_stage"`
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

func fromDomain(c *domain.Case) Case {
	return Case{
		ID:              c.ID,
		Status:          c.Status(),
		CurrentStage:    c.Stage.String(),
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

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// errNoRemote short-circuits the remote attempt when no base URL is set, so a
// local-only client goes straight to the engine.
var errNoRemote = errors.New("no remote configured")

// CreateCaseParams is the intake form.
type CreateCaseParams struct {
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

func (p CreateCaseParams) form() engine.FormInput {
	return engine.FormInput{
		ClientName:        p.ClientName,
		ClientPhone:       p.ClientPhone,
		ClientEmail:       p.ClientEmail,
		Relationship:      p.Relationship,
		TargetName:        p.TargetName,
		TargetGender:      p.TargetGender,
		TargetAge:         p.TargetAge,
		TargetBirthplace:  p.TargetBirthplace,
		LastKnownLocation: p.LastKnownLocation,
		LastContactTime:   p.LastContactTime,
		TargetInfo:        p.TargetInfo,
		Reason:            p.Reason,
		Operator:          p.Operator,
	}
}

type caseEnvelope struct {
	Case Case `json:"case"`
}

type caseListEnvelope struct {
	Count int    `json:"count"`
	Cases []Case `json:"cases"`
}

// CreateCase opens a case.
func (c *Client) CreateCase(ctx context.Context, params CreateCaseParams) (Case, error) {
	var resp caseEnvelope
	err := c.do(ctx, http.MethodPost, "cases", params, &resp)
	if err == nil {
		return resp.Case, nil
	}
	if c.Local == nil {
		return Case{}, err
	}
	created, lerr := c.Local.CreateCase(ctx, params.form())
	if lerr != nil {
		return Case{}, lerr
	}
	return fromDomain(created), nil
}

// GetCase fetches a case by id.
func (c *Client) GetCase(ctx context.Context, id string) (Case, error) {
	var resp caseEnvelope
	err := c.do(ctx, http.MethodGet, "cases/"+url.PathEscape(id), nil, &resp)
	if err == nil {
		return resp.Case, nil
	}
	if c.Local == nil {
		return Case{}, err
	}
	got, lerr := c.Local.GetCase(ctx, id)
	if lerr != nil {
		return Case{}, lerr
	}
	return fromDomain(got), nil
}

// ListCasesParams narrow a case listing.
type ListCasesParams struct {
	Status     string
	AssignedTo string
	DateFrom   string
	DateTo     string
	Limit      int
}

func (p ListCasesParams) query() string {
	q := url.Values{}
	if p.Status != "" {
		q.Set("status", p.Status)
	}
	if p.AssignedTo != "" {
		q.Set("assigned_to", p.AssignedTo)
	}
	if p.DateFrom != "" {
		q.Set("date_from", p.DateFrom)
	}
	if p.DateTo != "" {
		q.Set("date_to", p.DateTo)
	}
	if p.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", p.Limit))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// ListCases returns cases newest first.
func (c *Client) ListCases(ctx context.Context, params ListCasesParams) ([]Case, error) {
	var resp caseListEnvelope
	err := c.do(ctx, http.MethodGet, "cases"+params.query(), nil, &resp)
	if err == nil {
		return resp.Cases, nil
	}
	if c.Local == nil {
		return nil, err
	}
	cases, lerr := c.Local.ListCases(ctx, repo.CaseFilters{
		Status:     params.Status,
		AssignedTo: params.AssignedTo,
		DateFrom:   params.DateFrom,
		DateTo:     params.DateTo,
		Limit:      params.Limit,
	})
	if lerr != nil {
		return nil, lerr
	}
	return fromDomainList(cases), nil
}

// SearchCases matches against case id, client name and target name.
func (c *Client) SearchCases(ctx context.Context, q string) ([]Case, error) {
	var resp caseListEnvelope
	err := c.do(ctx, http.MethodGet, "cases/search?q="+url.QueryEscape(q), nil, &resp)
	if err == nil {
		return resp.Cases, nil
	}
	if c.Local == nil {
		return nil, err
	}
	cases, lerr := c.Local.SearchCases(ctx, q)
	if lerr != nil {
		return nil, lerr
	}
	return fromDomainList(cases), nil
}

func fromDomainList(cases []*domain.Case) []Case {
	out := make([]Case, 0, len(cases))
	for _, c := range cases {
		out = append(out, fromDomain(c))
	}
	return out
}

// AdvanceCase moves a case to its next stage.
func (c *Client) AdvanceCase(ctx context.Context, id, operator, notes string) (Case, error) {
	body := map[string]any{"operator": operator, "notes": notes}
	var resp caseEnvelope
	err := c.do(ctx, http.MethodPost, "cases/"+url.PathEscape(id)+"/advance", body, &resp)
	if err == nil {
		return resp.Case, nil
	}
	if c.Local == nil {
		return Case{}, err
	}
	advanced, lerr := c.Local.AdvanceCase(ctx, id, operator, notes)
	if lerr != nil {
		return Case{}, lerr
	}
	return fromDomain(advanced), nil
}

// LegalReview approves or rejects a case at the legal stage.
func (c *Client) LegalReview(ctx context.Context, id string, approved bool, operator, reason string) (Case, error) {
	body := map[string]any{"approved": approved, "operator": operator, "reason": reason}
	var resp caseEnvelope
	err := c.do(ctx, http.MethodPost, "cases/"+url.PathEscape(id)+"/legal-review", body, &resp)
	if err == nil {
		return resp.Case, nil
	}
	if c.Local == nil {
		return Case{}, err
	}
	reviewed, lerr := c.Local.LegalReview(ctx, id, approved, operator, reason)
	if lerr != nil {
		return Case{}, lerr
	}
	return fromDomain(reviewed), nil
}

// QuoteParams are parameters for generating a quote.
type QuoteParams struct {
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency,omitempty"`
	Description string  `json:"description,omitempty"`
	ValidUntil  string  `json:"valid_until,omitempty"`
	Terms       string  `json:"terms,omitempty"`
	Operator    string  `json:"operator,omitempty"`
}

// GenerateQuote attaches a pending quote to a case.
func (c *Client) GenerateQuote(ctx context.Context, id string, params QuoteParams) (domain.Quote, error) {
	var resp struct {
		Quote domain.Quote `json:"quote"`
	}
	err := c.do(ctx, http.MethodPost, "cases/"+url.PathEscape(id)+"/quote", params, &resp)
	if err == nil {
		return resp.Quote, nil
	}
	if c.Local == nil {
		return domain.Quote{}, err
	}
	q, lerr := c.Local.GenerateQuote(ctx, id, engine.QuoteInput{
		Amount:      params.Amount,
		Currency:    params.Currency,
		Description: params.Description,
		ValidUntil:  params.ValidUntil,
		Terms:       params.Terms,
		Operator:    params.Operator,
	})
	if lerr != nil {
		return domain.Quote{}, lerr
	}
	return *q, nil
}

// PaymentParams are parameters for recording a payment.
type PaymentParams struct {
	Type          string  `json:"type"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency,omitempty"`
	Method        string  `json:"method,omitempty"`
	TransactionID string  `json:"transaction_id,omitempty"`
	Status        string  `json:"status,omitempty"`
	Notes         string  `json:"notes,omitempty"`
	Operator      string  `json:"operator,omitempty"`
}

// RecordPayment stores a payment fact against a case.
func (c *Client) RecordPayment(ctx context.Context, id string, params PaymentParams) (domain.Payment, error) {
	var resp struct {
		Payment domain.Payment `json:"payment"`
	}
	err := c.do(ctx, http.MethodPost, "cases/"+url.PathEscape(id)+"/payment", params, &resp)
	if err == nil {
		return resp.Payment, nil
	}
	if c.Local == nil {
		return domain.Payment{}, err
	}
	p, lerr := c.Local.RecordPayment(ctx, id, engine.PaymentInput{
		Type:          params.Type,
		Amount:        params.Amount,
		Currency:      params.Currency,
		Method:        params.Method,
		TransactionID: params.TransactionID,
		Status:        params.Status,
		Notes:         params.Notes,
		Operator:      params.Operator,
	})
	if lerr != nil {
		return domain.Payment{}, lerr
	}
	return *p, nil
}

// DocumentParams are parameters for attaching a document.
type DocumentParams struct {
	Type        string `json:"type,omitempty"`
	Name        string `json:"name"`
	URL         string `json:"url,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Description string `json:"description,omitempty"`
	Operator    string `json:"operator,omitempty"`
}

// UploadDocument attaches document metadata. When the remote file store is
// unreachable the fallback stores the metadata locally and synthesizes a
// placeholder URL, so the reference keeps its shape until the upload can be
// replayed.
func (c *Client) UploadDocument(ctx context.Context, id string, params DocumentParams) (domain.Document, error) {
	var resp struct {
		Document domain.Document `json:"document"`
	}
	err := c.do(ctx, http.MethodPost, "cases/"+url.PathEscape(id)+"/documents", params, &resp)
	if err == nil {
		return resp.Document, nil
	}
	if c.Local == nil {
		return domain.Document{}, err
	}
	if params.URL == "" {
		params.URL = "memory://" + uuid.NewString()
	}
	d, lerr := c.Local.UploadDocument(ctx, id, engine.DocumentInput{
		Type:        params.Type,
		Name:        params.Name,
		URL:         params.URL,
		Size:        params.Size,
		Description: params.Description,
		Operator:    params.Operator,
	})
	if lerr != nil {
		return domain.Document{}, lerr
	}
	return *d, nil
}

// CompleteExecution records the outcome of the investigation.
func (c *Client) CompleteExecution(ctx context.Context, id string, success bool, operator, notes string) (Case, error) {
	body := map[string]any{"success": success, "operator": operator, "notes": notes}
	var resp caseEnvelope
	err := c.do(ctx, http.MethodPost, "cases/"+url.PathEscape(id)+"/execution-complete", body, &resp)
	if err == nil {
		return resp.Case, nil
	}
	if c.Local == nil {
		return Case{}, err
	}
	completed, lerr := c.Local.CompleteExecution(ctx, id, operator, success, notes)
	if lerr != nil {
		return Case{}, lerr
	}
	return fromDomain(completed), nil
}

// Statistics returns the operational summary.
func (c *Client) Statistics(ctx context.Context) (stats.Statistics, error) {
	var resp struct {
		Statistics stats.Statistics `json:"statistics"`
	}
	err := c.do(ctx, http.MethodGet, "statistics", nil, &resp)
	if err == nil {
		return resp.Statistics, nil
	}
	if c.Local == nil {
		return stats.Statistics{}, err
	}
	a := stats.New(c.Local.Repo)
	return a.Compute(ctx)
}

// Export downloads the CSV dump. There is no local fallback; an export is
// only meaningful against the authoritative store.
func (c *Client) Export(ctx context.Context) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "export?format=csv", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	if c.BaseURL == "" {
		return nil, errNoRemote
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c.HTTPClient
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
