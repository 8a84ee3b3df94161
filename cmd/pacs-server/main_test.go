package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/winnersdraw91/pacs-v2/internal/config"
	"github.com/winnersdraw91/pacs-v2/internal/domain/identity"
	"github.com/winnersdraw91/pacs-v2/internal/domain/instances/instancetest"
	"github.com/winnersdraw91/pacs-v2/internal/domain/study"
	"github.com/winnersdraw91/pacs-v2/internal/domain/tenancy"
	"github.com/winnersdraw91/pacs-v2/internal/platform/auth"
)

const testSigningKey = "test-signing-key-0123456789abcdef"

func testConfig() *config.Config {
	return &config.Config{
		Port:                "0",
		Env:                 "test",
		LogLevel:            "error",
		StoreDriver:         config.StoreMemory,
		AuthIssuer:          "pacs-test",
		AuthAudience:        "pacs-api",
		AuthSigningKey:      testSigningKey,
		CORSOrigins:         []string{"http://localhost:3000"},
		BodyLimit:           "1M",
		UploadBodyLimit:     "64M",
		StorageDriver:       "memory",
		EnrichmentEnabled:   true,
		EnrichmentWorkers:   2,
		EnrichmentQueueSize: 8,
		EnrichmentTimeout:   10 * time.Second,
	}
}

type harness struct {
	t   *testing.T
	app *app
	cfg *config.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	a, err := newApp(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	})
	return &harness{t: t, app: a, cfg: cfg}
}

func (h *harness) token(u *tenancy.User) string {
	h.t.Helper()
	tok, err := auth.IssueToken([]byte(h.cfg.AuthSigningKey), h.cfg.AuthIssuer, h.cfg.AuthAudience, u.Actor(), time.Hour)
	if err != nil {
		h.t.Fatal(err)
	}
	return tok
}

func (h *harness) serve(token string, req *http.Request) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.app.echo.ServeHTTP(rec, req)
	return rec
}

func (h *harness) do(token, method, path string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var req *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatal(err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(data))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	return h.serve(token, req)
}

func (h *harness) upload(token string, fields map[string]string, files ...[]byte) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			h.t.Fatal(err)
		}
	}
	for i, data := range files {
		part, err := w.CreateFormFile(study.UploadField, "slice-"+string(rune('0'+i))+".dcm")
		if err != nil {
			h.t.Fatal(err)
		}
		if _, err := part.Write(data); err != nil {
			h.t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		h.t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/studies", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return h.serve(token, req)
}

func expect(t *testing.T, rec *httptest.ResponseRecorder, code int, what string) {
	t.Helper()
	if rec.Code != code {
		t.Fatalf("%s: expected %d, got %d: %s", what, code, rec.Code, rec.Body)
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body, err)
	}
	return v
}

func TestPublicEndpoints(t *testing.T) {
	h := newHarness(t)

	rec := h.do("", http.MethodGet, "/health", nil)
	expect(t, rec, http.StatusOK, "health")

	rec = h.do("", http.MethodGet, "/health/db", nil)
	expect(t, rec, http.StatusOK, "health/db")
	if !strings.Contains(rec.Body.String(), `"driver":"memory"`) {
		t.Errorf("health/db body: %s", rec.Body)
	}

	rec = h.do("", http.MethodGet, "/metrics", nil)
	expect(t, rec, http.StatusOK, "metrics")
}

func TestAuthentication(t *testing.T) {
	h := newHarness(t)

	rec := h.do("", http.MethodGet, "/api/v1/studies", nil)
	expect(t, rec, http.StatusUnauthorized, "no token")

	rec = h.do("not-a-jwt", http.MethodGet, "/api/v1/studies", nil)
	expect(t, rec, http.StatusUnauthorized, "garbage token")

	// A well-signed token for a user the store does not know.
	ghost := &tenancy.User{ID: uuid.New(), Email: "ghost@x.test", FullName: "Ghost", Role: identity.RoleAdmin}
	rec = h.do(h.token(ghost), http.MethodGet, "/api/v1/studies", nil)
	expect(t, rec, http.StatusUnauthorized, "unknown user")

	admin, err := bootstrapAdmin(context.Background(), h.app.tenancy, "root@pacs.test", "Root")
	if err != nil {
		t.Fatal(err)
	}
	rec = h.do(h.token(admin), http.MethodGet, "/api/v1/users/me", nil)
	expect(t, rec, http.StatusOK, "me")
}

func TestStudyLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	admin, err := bootstrapAdmin(ctx, h.app.tenancy, "root@pacs.test", "Root")
	if err != nil {
		t.Fatal(err)
	}
	adminTok := h.token(admin)

	rec := h.do(adminTok, http.MethodPost, "/api/v1/centres", map[string]any{"name": "Alpha Imaging"})
	expect(t, rec, http.StatusCreated, "create alpha")
	alpha := decode[tenancy.Centre](t, rec)
	rec = h.do(adminTok, http.MethodPost, "/api/v1/centres", map[string]any{"name": "Beta Imaging"})
	expect(t, rec, http.StatusCreated, "create beta")
	beta := decode[tenancy.Centre](t, rec)

	newUser := func(email, role string, centre *tenancy.Centre) *tenancy.User {
		t.Helper()
		body := map[string]any{"email": email, "full_name": email, "role": role}
		if centre != nil {
			body["centre_id"] = centre.ID
		}
		rec := h.do(adminTok, http.MethodPost, "/api/v1/users", body)
		expect(t, rec, http.StatusCreated, "create "+email)
		u := decode[tenancy.User](t, rec)
		return &u
	}
	techAlpha := h.token(newUser("tech@alpha.test", "technician", &alpha))
	techBeta := h.token(newUser("tech@beta.test", "technician", &beta))
	rad := h.token(newUser("rad@read.test", "radiologist", nil))

	// Upload: one of three files is not DICOM.
	rec = h.upload(techAlpha, map[string]string{
		"patient_name": "Jane Roe",
		"patient_age":  "54",
		"modality":     "CT",
		"description":  "Chest CT",
	}, instancetest.Part10("CT", "CT CHEST", "1.2.3.1"), instancetest.Malformed(), instancetest.Part10("CT", "CT CHEST", "1.2.3.2"))
	expect(t, rec, http.StatusCreated, "upload")
	st := decode[study.Study](t, rec)
	if st.NumInstances != 2 || st.Status != study.StatusUploaded || st.CentreID != alpha.ID {
		t.Fatalf("uploaded study = %+v", st)
	}
	studyPath := "/api/v1/studies/" + st.ID.String()

	rec = h.do(techBeta, http.MethodGet, studyPath, nil)
	expect(t, rec, http.StatusForbidden, "cross-centre read")

	rec = h.do(rad, http.MethodGet, studyPath+"/instances", nil)
	expect(t, rec, http.StatusOK, "list instances")

	rec = h.do(rad, http.MethodPost, studyPath+"/assign", nil)
	expect(t, rec, http.StatusOK, "self-assign")
	if got := decode[study.Study](t, rec); got.Status != study.StatusAssigned {
		t.Fatalf("status after assign = %s", got.Status)
	}

	findings := "No acute abnormality."
	rec = h.do(rad, http.MethodPost, studyPath+"/reports", map[string]any{
		"report_type": "Final Report",
		"findings":    findings,
		"impression":  "Normal study.",
	})
	expect(t, rec, http.StatusCreated, "create report")
	report := decode[study.Report](t, rec)

	rec = h.do(rad, http.MethodGet, studyPath, nil)
	if got := decode[study.Study](t, rec); got.Status != study.StatusReportGenerated {
		t.Fatalf("status after report = %s", got.Status)
	}

	rec = h.do(rad, http.MethodPost, "/api/v1/reports/"+report.ID.String()+"/verify", nil)
	expect(t, rec, http.StatusOK, "verify")
	if got := decode[study.Report](t, rec); !got.IsVerified || got.VerifiedAt == nil {
		t.Fatalf("verified report = %+v", got)
	}

	// Two enrichment requests leave a single automated report.
	for i := 0; i < 2; i++ {
		rec = h.do(rad, http.MethodPost, studyPath+"/enrich", nil)
		expect(t, rec, http.StatusAccepted, "enrich")
	}
	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.app.pipeline.Drain(drainCtx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	rec = h.do(rad, http.MethodGet, studyPath+"/automated-report", nil)
	expect(t, rec, http.StatusOK, "automated report")
	auto := decode[study.Report](t, rec)
	if !auto.IsAIGenerated || auto.IsVerified || auto.Findings == nil || !strings.Contains(*auto.Findings, "CT") {
		t.Fatalf("automated report = %+v", auto)
	}

	rec = h.do(rad, http.MethodGet, studyPath+"/reports", nil)
	expect(t, rec, http.StatusOK, "list reports")
	reports := decode[[]study.Report](t, rec)
	automated := 0
	for _, r := range reports {
		if r.IsAIGenerated {
			automated++
		}
	}
	if len(reports) != 2 || automated != 1 {
		t.Fatalf("got %d reports with %d automated", len(reports), automated)
	}

	rec = h.do(rad, http.MethodGet, studyPath, nil)
	if got := decode[study.Study](t, rec); got.Status != study.StatusVerified {
		t.Errorf("enrichment changed status to %s", got.Status)
	}
}

func TestBillingThroughServer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	admin, err := bootstrapAdmin(ctx, h.app.tenancy, "root@pacs.test", "Root")
	if err != nil {
		t.Fatal(err)
	}
	adminTok := h.token(admin)

	rec := h.do(adminTok, http.MethodPost, "/api/v1/centres", map[string]any{"name": "Alpha Imaging"})
	expect(t, rec, http.StatusCreated, "create centre")
	alpha := decode[tenancy.Centre](t, rec)

	rec = h.do(adminTok, http.MethodPost, "/api/v1/pricing", map[string]any{
		"centre_id": alpha.ID, "modality": "xray", "price": 45.5, "currency": "usd",
	})
	expect(t, rec, http.StatusCreated, "create pricing")

	rec = h.upload(adminTok, map[string]string{
		"patient_name": "John Doe",
		"modality":     "xray",
		"centre_id":    alpha.ID.String(),
	}, instancetest.Part10("CR", "CHEST PA", "1.2.9"))
	expect(t, rec, http.StatusCreated, "upload")
	st := decode[study.Study](t, rec)

	rec = h.do(adminTok, http.MethodPost, "/api/v1/billing", map[string]any{"study_id": st.ID})
	expect(t, rec, http.StatusCreated, "create billing")
	if !strings.Contains(rec.Body.String(), `"amount":45.5`) {
		t.Errorf("billing did not take the configured price: %s", rec.Body)
	}

	rec = h.do(adminTok, http.MethodPost, "/api/v1/billing", map[string]any{"study_id": st.ID, "amount": 10})
	expect(t, rec, http.StatusConflict, "second billing")

	rec = h.do(adminTok, http.MethodDelete, "/api/v1/centres/"+alpha.ID.String(), nil)
	expect(t, rec, http.StatusConflict, "delete centre with dependents")
}
