package server

import (
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/repo"
	"caseflow/internal/stage"
	"caseflow/internal/stats"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Stats    stats.Aggregator
	BasePath string
}

type apiErrorBody struct {
	Code    string `json:"code" example:"precondition_failed"`
	Message string `json:"message" example:"cannot enter execution: contract not signed or deposit not received"`
}

// apiError models the error envelope.
type apiError struct {
	status  int
	Success bool         `json:"success"`
	Body    apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the case API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		return newAPIError(status, "", msg)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Caseflow API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerCases(group, cfg.Engine)
	registerStatistics(group, cfg.Stats)
	registerExport(router, basePath, cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error())
	}
	if errors.Is(err, engine.ErrAlreadyTerminal) {
		return newAPIError(http.StatusConflict, "already_archived", err.Error())
	}
	var wse *engine.WrongStateError
	if errors.As(err, &wse) {
		return newAPIError(http.StatusConflict, "wrong_state", err.Error())
	}
	var pe *stage.PreconditionError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusUnprocessableEntity, "precondition_failed", err.Error())
	}
	msg := err.Error()
	if strings.Contains(msg, "required") || strings.Contains(msg, "must be") || strings.Contains(msg, "unknown") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg)
	}
	return newAPIError(http.StatusInternalServerError, "internal", msg)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "precondition_failed"
	default:
		return "internal"
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok"}}, nil
	})
}

func registerCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-case",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "Open a case",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateCaseRequest `json:"body"`
	}) (*struct {
		Body CaseEnvelope `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.ClientName) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "client_name is required")
		}
		c, err := e.CreateCase(ctx, engine.FormInput{
			ClientName:        input.Body.ClientName,
			ClientPhone:       input.Body.ClientPhone,
			ClientEmail:       input.Body.ClientEmail,
			Relationship:      input.Body.Relationship,
			TargetName:        input.Body.TargetName,
			TargetGender:      input.Body.TargetGender,
			TargetAge:         input.Body.TargetAge,
			TargetBirthplace:  input.Body.TargetBirthplace,
			LastKnownLocation: input.Body.LastKnownLocation,
			LastContactTime:   input.Body.LastContactTime,
			TargetInfo:        input.Body.TargetInfo,
			Reason:            input.Body.Reason,
			Operator:          input.Body.Operator,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return caseBody(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status"`
		AssignedTo string `query:"assigned_to"`
		DateFrom   string `query:"date_from"`
		DateTo     string `query:"date_to"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body CaseListEnvelope `json:"body"`
	}, error) {
		cases, err := e.ListCases(ctx, repo.CaseFilters{
			Status:     input.Status,
			AssignedTo: input.AssignedTo,
			DateFrom:   input.DateFrom,
			DateTo:     input.DateTo,
			Limit:      input.Limit,
		})
		if err != nil {
			if strings.Contains(err.Error(), "unknown stage") {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error())
			}
			return nil, handleError(err)
		}
		return caseListBody(cases), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search-cases",
		Method:      http.MethodGet,
		Path:        "/cases/search",
		Summary:     "Search cases by id, client or target name",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Q string `query:"q"`
	}) (*struct {
		Body CaseListEnvelope `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Q) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "q is required")
		}
		cases, err := e.SearchCases(ctx, input.Q)
		if err != nil {
			return nil, handleError(err)
		}
		return caseListBody(cases), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}",
		Summary:     "Get a case",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body CaseEnvelope `json:"body"`
	}, error) {
		c, err := e.GetCase(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return caseBody(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-case",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/advance",
		Summary:     "Advance a case to the next stage",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string             `path:"case_id"`
		Body   AdvanceCaseRequest `json:"body"`
	}) (*struct {
		Body CaseEnvelope `json:"body"`
	}, error) {
		c, err := e.AdvanceCase(ctx, input.CaseID, input.Body.Operator, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		return caseBody(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "legal-review",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/legal-review",
		Summary:     "Approve or reject a case at legal review",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string             `path:"case_id"`
		Body   LegalReviewRequest `json:"body"`
	}) (*struct {
		Body CaseEnvelope `json:"body"`
	}, error) {
		c, err := e.LegalReview(ctx, input.CaseID, input.Body.Approved, input.Body.Operator, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return caseBody(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "generate-quote",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/quote",
		Summary:       "Generate a quote",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string               `path:"case_id"`
		Body   GenerateQuoteRequest `json:"body"`
	}) (*struct {
		Body QuoteEnvelope `json:"body"`
	}, error) {
		q, err := e.GenerateQuote(ctx, input.CaseID, engine.QuoteInput{
			Amount:      input.Body.Amount,
			Currency:    input.Body.Currency,
			Description: input.Body.Description,
			ValidUntil:  input.Body.ValidUntil,
			Terms:       input.Body.Terms,
			Operator:    input.Body.Operator,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QuoteEnvelope `json:"body"`
		}{Body: QuoteEnvelope{Success: true, Quote: *q}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-payment",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/payment",
		Summary:       "Record a payment",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string               `path:"case_id"`
		Body   RecordPaymentRequest `json:"body"`
	}) (*struct {
		Body PaymentEnvelope `json:"body"`
	}, error) {
		p, err := e.RecordPayment(ctx, input.CaseID, engine.PaymentInput{
			Type:          input.Body.Type,
			Amount:        input.Body.Amount,
			Currency:      input.Body.Currency,
			Method:        input.Body.Method,
			TransactionID: input.Body.TransactionID,
			Status:        input.Body.Status,
			Notes:         input.Body.Notes,
			Operator:      input.Body.Operator,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PaymentEnvelope `json:"body"`
		}{Body: PaymentEnvelope{Success: true, Payment: *p}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "upload-document",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/documents",
		Summary:       "Attach document metadata",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string                `path:"case_id"`
		Body   UploadDocumentRequest `json:"body"`
	}) (*struct {
		Body DocumentEnvelope `json:"body"`
	}, error) {
		d, err := e.UploadDocument(ctx, input.CaseID, engine.DocumentInput{
			Type:        input.Body.Type,
			Name:        input.Body.Name,
			URL:         input.Body.URL,
			Size:        input.Body.Size,
			Description: input.Body.Description,
			Operator:    input.Body.Operator,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentEnvelope `json:"body"`
		}{Body: DocumentEnvelope{Success: true, Document: *d}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-execution",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/execution-complete",
		Summary:     "Record the outcome of the investigation",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string                   `path:"case_id"`
		Body   CompleteExecutionRequest `json:"body"`
	}) (*struct {
		Body CaseEnvelope `json:"body"`
	}, error) {
		c, err := e.CompleteExecution(ctx, input.CaseID, input.Body.Operator, input.Body.Success, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		return caseBody(c), nil
	})
}

func registerStatistics(api huma.API, a stats.Aggregator) {
	huma.Register(api, huma.Operation{
		OperationID: "statistics",
		Method:      http.MethodGet,
		Path:        "/statistics",
		Summary:     "Operational summary",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatisticsEnvelope `json:"body"`
	}, error) {
		s, err := a.Compute(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatisticsEnvelope `json:"body"`
		}{Body: StatisticsEnvelope{Success: true, Statistics: s}}, nil
	})
}

var exportHeader = []string{"id", "status", "stage", "client_name", "target_name", "assigned_to", "created_at", "updated_at"}

// registerExport serves the CSV dump outside the JSON API surface.
func registerExport(r chi.Router, basePath string, e engine.Engine) {
	r.Get(basePath+"/export", func(w http.ResponseWriter, req *http.Request) {
		format := req.URL.Query().Get("format")
		if format != "" && format != "csv" {
			http.Error(w, "unsupported format "+strconv.Quote(format), http.StatusBadRequest)
			return
		}
		cases, err := e.ListCases(req.Context(), repo.CaseFilters{})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="cases.csv"`)
		cw := csv.NewWriter(w)
		_ = cw.Write(exportHeader)
		for _, c := range cases {
			assigned := ""
			if c.AssignedTo != nil {
				assigned = *c.AssignedTo
			}
			_ = cw.Write([]string{
				c.ID, c.Status(), c.Stage.String(),
				c.Client.Name, c.Target.Name, assigned,
				c.CreatedAt, c.UpdatedAt,
			})
		}
		cw.Flush()
	})
}

func caseBody(c *domain.Case) *struct {
	Body CaseEnvelope `json:"body"`
} {
	return &struct {
		Body CaseEnvelope `json:"body"`
	}{Body: CaseEnvelope{Success: true, Case: caseResponse(c)}}
}

func caseListBody(cases []*domain.Case) *struct {
	Body CaseListEnvelope `json:"body"`
} {
	return &struct {
		Body CaseListEnvelope `json:"body"`
	}{Body: CaseListEnvelope{Success: true, Count: len(cases), Cases: caseResponses(cases)}}
}
