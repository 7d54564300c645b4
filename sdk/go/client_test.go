package caseflowsdk

import (
	"context"
	"database/sql"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"caseflow/internal/db"
	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/migrate"
	"caseflow/internal/repo"
	"caseflow/internal/server"
	"caseflow/internal/stats"
)

func newLocalEngine(t *testing.T) (engine.Engine, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{DSN: filepath.Join(t.TempDir(), "cases.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return engine.New(conn), conn
}

func newRemote(t *testing.T) *httptest.Server {
	t.Helper()
	e, conn := newLocalEngine(t)
	handler, err := server.New(server.Config{Engine: e, Stats: stats.New(repo.Repo{DB: conn}), BasePath: "/api"})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// deadURL points at a listener that is already closed, so every request
// fails at the transport.
func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(nil)
	u := srv.URL
	srv.Close()
	return u + "/api"
}

func TestRemoteLifecycle(t *testing.T) {
	srv := newRemote(t)
	c := New(srv.URL + "/api")
	ctx := context.Background()

	created, err := c.CreateCase(ctx, CreateCaseParams{ClientName: "Li Wei", TargetName: "Li Na"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(created.ID, "FP") || created.Status != "form" {
		t.Errorf("created = %+v", created)
	}

	advanced, err := c.AdvanceCase(ctx, created.ID, "admin", "")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if advanced.CurrentStage != "crm" {
		t.Errorf("stage = %s, want crm", advanced.CurrentStage)
	}

	got, err := c.GetCase(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AssignedTo == nil || *got.AssignedTo != "crm_team" {
		t.Errorf("assignedTo = %v", got.AssignedTo)
	}
}

func TestRemoteErrorWithoutLocalSurfacesAPIError(t *testing.T) {
	srv := newRemote(t)
	c := New(srv.URL + "/api")

	_, err := c.GetCase(context.Background(), "FP2025999")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.StatusCode != 404 {
		t.Errorf("status = %d, want 404", apiErr.StatusCode)
	}
}

func TestFallbackKeepsResultShape(t *testing.T) {
	local, _ := newLocalEngine(t)
	c := NewResilient(deadURL(t), &local)
	ctx := context.Background()

	created, err := c.CreateCase(ctx, CreateCaseParams{ClientName: "Li Wei", TargetName: "Li Na"})
	if err != nil {
		t.Fatalf("create via fallback: %v", err)
	}
	if !strings.HasPrefix(created.ID, "FP") || created.Status != "form" || created.CurrentStage != "form" {
		t.Errorf("created = %+v", created)
	}
	if len(created.Timeline) != 1 || created.Timeline[0].Action != domain.ActionCaseCreated {
		t.Errorf("timeline = %+v", created.Timeline)
	}

	advanced, err := c.AdvanceCase(ctx, created.ID, "admin", "")
	if err != nil {
		t.Fatalf("advance via fallback: %v", err)
	}
	if advanced.CurrentStage != "crm" || advanced.AssignedTo == nil {
		t.Errorf("advanced = %+v", advanced)
	}

	found, err := c.SearchCases(ctx, "Li Wei")
	if err != nil {
		t.Fatalf("search via fallback: %v", err)
	}
	if len(found) != 1 || found[0].ID != created.ID {
		t.Errorf("found = %+v", found)
	}
}

func TestFallbackSynthesizesDocumentURL(t *testing.T) {
	local, _ := newLocalEngine(t)
	c := NewResilient(deadURL(t), &local)
	ctx := context.Background()

	created, err := c.CreateCase(ctx, CreateCaseParams{ClientName: "Li Wei", TargetName: "Li Na"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	d, err := c.UploadDocument(ctx, created.ID, DocumentParams{Type: domain.DocumentContract, Name: "contract.pdf"})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(d.URL, "memory://") {
		t.Errorf("url = %q, want memory:// placeholder", d.URL)
	}

	// A caller-provided URL is kept as is.
	d2, err := c.UploadDocument(ctx, created.ID, DocumentParams{Name: "report.pdf", URL: "https://files/report.pdf"})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if d2.URL != "https://files/report.pdf" {
		t.Errorf("url = %q", d2.URL)
	}
}

func TestFallbackStatistics(t *testing.T) {
	local, _ := newLocalEngine(t)
	c := NewResilient(deadURL(t), &local)
	ctx := context.Background()

	if _, err := c.CreateCase(ctx, CreateCaseParams{ClientName: "Li Wei", TargetName: "Li Na"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	s, err := c.Statistics(ctx)
	if err != nil {
		t.Fatalf("statistics via fallback: %v", err)
	}
	if s.Total != 1 {
		t.Errorf("total = %d, want 1", s.Total)
	}
}

func TestNoRemoteRunsLocally(t *testing.T) {
	local, _ := newLocalEngine(t)
	c := NewResilient("", &local)
	ctx := context.Background()

	created, err := c.CreateCase(ctx, CreateCaseParams{ClientName: "Li Wei", TargetName: "Li Na"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(created.ID, "FP") {
		t.Errorf("id = %s", created.ID)
	}

	got, err := c.GetCase(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "form" {
		t.Errorf("status = %s, want form", got.Status)
	}
}

func TestNoRemoteWithoutLocalFails(t *testing.T) {
	c := New("")

	if _, err := c.GetCase(context.Background(), "FP2025001"); !errors.Is(err, errNoRemote) {
		t.Fatalf("err = %v, want errNoRemote", err)
	}
}

func TestExportHasNoFallback(t *testing.T) {
	local, _ := newLocalEngine(t)
	c := NewResilient(deadURL(t), &local)

	if _, err := c.Export(context.Background()); err == nil {
		t.Fatal("export via dead remote succeeded")
	}
}

func TestExportRemote(t *testing.T) {
	srv := newRemote(t)
	c := New(srv.URL + "/api")
	ctx := context.Background()

	if _, err := c.CreateCase(ctx, CreateCaseParams{ClientName: "Li Wei", TargetName: "Li Na"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	data, err := c.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.HasPrefix(string(data), "id,") {
		t.Errorf("csv head = %q", string(data[:min(len(data), 20)]))
	}
}
