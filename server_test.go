package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"loanmatch/models"
	"loanmatch/pkg/ingest"
	"loanmatch/pkg/logging"
	"loanmatch/pkg/notify"
	"loanmatch/pkg/store"
	"loanmatch/pkg/store/storetest"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const csvHeader = "user_id,email,monthly_income,credit_score,employment_status,age\n"

// performRequest runs one request against the router.
func performRequest(r http.Handler, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

// recordingNotifier keeps every notification it receives.
type recordingNotifier struct {
	got []notify.UploadNotification
	err error
}

func (n *recordingNotifier) NotifyUpload(_ context.Context, u notify.UploadNotification) error {
	n.got = append(n.got, u)
	return n.err
}

type testEnv struct {
	router   *gin.Engine
	store    *store.Store
	notifier *recordingNotifier
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := storetest.Open(t)
	n := &recordingNotifier{}
	svc := ingest.NewService(st, n, nil, logging.Discard(), ingest.Options{})
	r := newRouter(newServer(st, svc, nil, logging.Discard()))
	return &testEnv{router: r, store: st, notifier: n}
}

func multipartCSV(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	w, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = w.Write([]byte(content))
	_ = mw.Close()
	return buf, mw.FormDataContentType()
}

func (e *testEnv) upload(t *testing.T, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartCSV(t, "csv_file", filename, content)
	return performRequest(e.router, http.MethodPost, "/upload", body, ct)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

type uploadResponse struct {
	Success    bool     `json:"success"`
	Message    string   `json:"message"`
	UploadID   uint     `json:"upload_id"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors"`
}

func TestUploadSingleRow(t *testing.T) {
	env := setupTestServer(t)

	resp := env.upload(t, "users.csv", csvHeader+"U1,a@b.com,5000,700,employed,30\n")
	if resp.Code != http.StatusOK {
		t.Fatalf("upload failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	got := decode[uploadResponse](t, resp)
	if !got.Success || got.Successful != 1 || got.Failed != 0 || got.Message != "Successfully processed 1 records" {
		t.Fatalf("unexpected response %+v", got)
	}
	if got.Errors == nil || len(got.Errors) != 0 {
		t.Fatalf("errors must be an empty array, body=%s", resp.Body.String())
	}

	users := performRequest(env.router, http.MethodGet, "/api/users", nil, "")
	if users.Code != http.StatusOK {
		t.Fatalf("list users status=%d", users.Code)
	}
	list := decode[[]map[string]any](t, users)
	if len(list) != 1 {
		t.Fatalf("expected 1 user got %d", len(list))
	}
	u := list[0]
	if u["user_id"] != "U1" || u["monthly_income"] != "5000.00" || u["credit_score"] != float64(700) || u["age"] != float64(30) {
		t.Fatalf("unexpected user %+v", u)
	}
	if len(u) != 7 {
		t.Fatalf("user projection should have 7 fields, got %v", u)
	}

	if len(env.notifier.got) != 1 || env.notifier.got[0].UploadID != got.UploadID || env.notifier.got[0].NewUserIDs[0] != "U1" {
		t.Fatalf("unexpected notifications %+v", env.notifier.got)
	}

	up := performRequest(env.router, http.MethodGet, fmt.Sprintf("/api/uploads/%d", got.UploadID), nil, "")
	rec := decode[map[string]any](t, up)
	if rec["status"] != "completed" || rec["successful_records"] != float64(1) || rec["error_log"] != nil {
		t.Fatalf("unexpected audit record %+v", rec)
	}
}

func TestUploadPartialFailure(t *testing.T) {
	env := setupTestServer(t)

	csv := csvHeader +
		"U1,a@b.com,5000,700,employed,30\n" +
		"U2,c@d.com,4000,abc,employed,35\n"
	resp := env.upload(t, "users.csv", csv)
	got := decode[uploadResponse](t, resp)
	if resp.Code != http.StatusOK || got.Successful != 1 || got.Failed != 1 {
		t.Fatalf("unexpected response %d %+v", resp.Code, got)
	}
	if len(got.Errors) != 1 || !strings.HasPrefix(got.Errors[0], "Row 3: ") {
		t.Fatalf("unexpected errors %q", got.Errors)
	}
}

func TestUploadReuploadNoDuplicates(t *testing.T) {
	env := setupTestServer(t)
	csv := csvHeader + "U1,a@b.com,5000,700,employed,30\nU2,c@d.com,6000,710,employed,40\n"

	for i := 0; i < 2; i++ {
		got := decode[uploadResponse](t, env.upload(t, "users.csv", csv))
		if got.Successful != 2 {
			t.Fatalf("pass %d: unexpected %+v", i, got)
		}
	}
	list := decode[[]map[string]any](t, performRequest(env.router, http.MethodGet, "/api/users", nil, ""))
	if len(list) != 2 {
		t.Fatalf("expected 2 users got %d", len(list))
	}
	if env.notifier.got[1].NewUserCount != 0 {
		t.Fatalf("second upload reported new users: %+v", env.notifier.got[1])
	}
}

func TestUploadRejections(t *testing.T) {
	env := setupTestServer(t)

	resp := env.upload(t, "users.txt", csvHeader)
	if resp.Code != http.StatusBadRequest || !strings.Contains(resp.Body.String(), "File must be a CSV") {
		t.Fatalf("expected 400 for non-csv, got %d %s", resp.Code, resp.Body.String())
	}

	body, ct := multipartCSV(t, "other", "users.csv", csvHeader)
	resp = performRequest(env.router, http.MethodPost, "/upload", body, ct)
	if resp.Code != http.StatusBadRequest || !strings.Contains(resp.Body.String(), "No CSV file provided") {
		t.Fatalf("expected 400 for missing file, got %d %s", resp.Code, resp.Body.String())
	}

	var n int64
	env.store.DB().Model(&models.CSVUpload{}).Count(&n)
	if n != 0 {
		t.Fatalf("rejected uploads must not write, found %d audit rows", n)
	}
}

func TestUploadFallbackField(t *testing.T) {
	env := setupTestServer(t)
	body, ct := multipartCSV(t, "file", "USERS.CSV", csvHeader+"U1,a@b.com,5000,700,employed,30\n")
	resp := performRequest(env.router, http.MethodPost, "/upload", body, ct)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected fallback field to work, got %d %s", resp.Code, resp.Body.String())
	}
}

func TestUploadWholeFileError(t *testing.T) {
	env := setupTestServer(t)
	resp := env.upload(t, "bad.csv", csvHeader+"U1,a@b.com,5000,700,\xff,30\n")
	if resp.Code != http.StatusInternalServerError || !strings.Contains(resp.Body.String(), "Failed to process CSV: ") {
		t.Fatalf("expected 500, got %d %s", resp.Code, resp.Body.String())
	}
	list := decode[[]map[string]any](t, performRequest(env.router, http.MethodGet, "/api/uploads", nil, ""))
	if len(list) != 1 || list[0]["status"] != "failed" {
		t.Fatalf("expected one failed audit record, got %+v", list)
	}
}

func TestUploadNotifierFailureIgnored(t *testing.T) {
	env := setupTestServer(t)
	env.notifier.err = fmt.Errorf("matcher down")
	resp := env.upload(t, "users.csv", csvHeader+"U1,a@b.com,5000,700,employed,30\n")
	if resp.Code != http.StatusOK {
		t.Fatalf("notifier failure changed response: %d %s", resp.Code, resp.Body.String())
	}
}

func seedCatalog(t *testing.T, st *store.Store) (models.UserProfile, models.LoanProduct) {
	t.Helper()
	u := models.UserProfile{UserID: "U1", Email: "a@b.com", MonthlyIncome: decimal.NewFromInt(5000), CreditScore: 700, EmploymentStatus: "employed", Age: 30}
	if _, err := st.UpsertProfile(context.Background(), &u); err != nil {
		t.Fatal(err)
	}
	url := "https://bank.example/loan"
	p := models.LoanProduct{ProductName: "Starter", Provider: "Acme", InterestRate: decimal.RequireFromString("5.5"), MinIncome: decimal.NewFromInt(2000), MinCreditScore: 650, ProductURL: &url}
	if err := st.CreateProduct(context.Background(), &p); err != nil {
		t.Fatal(err)
	}
	return u, p
}

func TestListProducts(t *testing.T) {
	env := setupTestServer(t)
	empty := performRequest(env.router, http.MethodGet, "/api/products", nil, "")
	if strings.TrimSpace(empty.Body.String()) != "[]" {
		t.Fatalf("empty table should return [], got %s", empty.Body.String())
	}

	seedCatalog(t, env.store)
	list := decode[[]map[string]any](t, performRequest(env.router, http.MethodGet, "/api/products", nil, ""))
	if len(list) != 1 {
		t.Fatalf("expected 1 product got %d", len(list))
	}
	p := list[0]
	if p["interest_rate"] != "5.50" || p["min_income"] != "2000.00" || p["max_age"] != float64(65) {
		t.Fatalf("unexpected product %+v", p)
	}
	if v, ok := p["employment_required"]; !ok || v != nil {
		t.Fatalf("employment_required should be null, got %v", v)
	}
	if p["product_url"] != "https://bank.example/loan" {
		t.Fatalf("unexpected url %v", p["product_url"])
	}
}

type matchResponse struct {
	Success bool `json:"success"`
	MatchID uint `json:"match_id"`
	Created bool `json:"created"`
}

func TestCreateMatch(t *testing.T) {
	env := setupTestServer(t)
	u, p := seedCatalog(t, env.store)

	body := fmt.Sprintf(`{"user_id": %d, "product_id": "%d", "match_score": 80}`, u.ID, p.ID)
	first := performRequest(env.router, http.MethodPost, "/api/match", strings.NewReader(body), "application/json")
	if first.Code != http.StatusOK {
		t.Fatalf("match failed %d %s", first.Code, first.Body.String())
	}
	m1 := decode[matchResponse](t, first)
	if !m1.Success || !m1.Created || m1.MatchID == 0 {
		t.Fatalf("unexpected first match %+v", m1)
	}

	body = fmt.Sprintf(`{"user_id": "%d", "product_id": %d}`, u.ID, p.ID)
	m2 := decode[matchResponse](t, performRequest(env.router, http.MethodPost, "/api/match", strings.NewReader(body), "application/json"))
	if m2.Created || m2.MatchID != m1.MatchID {
		t.Fatalf("second post should update the same match: %+v", m2)
	}

	var stored []models.UserLoanMatch
	env.store.DB().Find(&stored)
	if len(stored) != 1 || stored[0].MatchScore != models.DefaultMatchScore {
		t.Fatalf("expected one match with default score, got %+v", stored)
	}
}

func TestCreateMatchBadRequests(t *testing.T) {
	env := setupTestServer(t)
	u, p := seedCatalog(t, env.store)

	cases := map[string]string{
		"empty body":    ``,
		"malformed":     `{"user_id": `,
		"missing ids":   `{"match_score": 10}`,
		"non numeric":   `{"user_id": "abc", "product_id": 1}`,
		"score too big": fmt.Sprintf(`{"user_id": %d, "product_id": %d, "match_score": 101}`, u.ID, p.ID),
		"negative":      fmt.Sprintf(`{"user_id": %d, "product_id": %d, "match_score": -1}`, u.ID, p.ID),
		"unknown user":  fmt.Sprintf(`{"user_id": 999, "product_id": %d}`, p.ID),
		"unknown prod":  fmt.Sprintf(`{"user_id": %d, "product_id": 999}`, u.ID),
	}
	for name, body := range cases {
		resp := performRequest(env.router, http.MethodPost, "/api/match", strings.NewReader(body), "application/json")
		if resp.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400 got %d %s", name, resp.Code, resp.Body.String())
		}
	}

	resp := performRequest(env.router, http.MethodPost, "/api/match", strings.NewReader(fmt.Sprintf(`{"user_id": 999, "product_id": %d}`, p.ID)), "application/json")
	if !strings.Contains(resp.Body.String(), "user profile not found") {
		t.Fatalf("unexpected message %s", resp.Body.String())
	}
	var n int64
	env.store.DB().Model(&models.UserLoanMatch{}).Count(&n)
	if n != 0 {
		t.Fatalf("bad requests must not create matches, found %d", n)
	}
}

func TestMarkNotified(t *testing.T) {
	env := setupTestServer(t)
	u, p := seedCatalog(t, env.store)
	m, _, err := env.store.UpsertMatch(context.Background(), u.ID, p.ID, 90)
	if err != nil {
		t.Fatal(err)
	}

	path := fmt.Sprintf("/api/matches/%d/notified", m.ID)
	first := performRequest(env.router, http.MethodPost, path, nil, "")
	if first.Code != http.StatusOK {
		t.Fatalf("mark notified failed %d %s", first.Code, first.Body.String())
	}
	second := performRequest(env.router, http.MethodPost, path, nil, "")
	a := decode[map[string]any](t, first)
	b := decode[map[string]any](t, second)
	if a["notified_at"] == nil || a["notified_at"] != b["notified_at"] {
		t.Fatalf("notified_at should be kept: %v vs %v", a["notified_at"], b["notified_at"])
	}

	if resp := performRequest(env.router, http.MethodPost, "/api/matches/999/notified", nil, ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
	if resp := performRequest(env.router, http.MethodPost, "/api/matches/x/notified", nil, ""); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestHomeAndDashboard(t *testing.T) {
	env := setupTestServer(t)
	u, p := seedCatalog(t, env.store)
	m, _, _ := env.store.UpsertMatch(context.Background(), u.ID, p.ID, 75)
	if _, err := env.store.MarkNotified(context.Background(), m.ID); err != nil {
		t.Fatal(err)
	}
	env.upload(t, "users.csv", csvHeader+"U2,c@d.com,3000,650,employed,25\n")

	home := decode[map[string]any](t, performRequest(env.router, http.MethodGet, "/", nil, ""))
	if home["total_users"] != float64(2) || home["total_products"] != float64(1) || home["total_matches"] != float64(1) {
		t.Fatalf("unexpected home %+v", home)
	}
	if uploads, _ := home["recent_uploads"].([]any); len(uploads) != 1 {
		t.Fatalf("expected one recent upload, got %v", home["recent_uploads"])
	}

	dash := decode[map[string]any](t, performRequest(env.router, http.MethodGet, "/dashboard", nil, ""))
	if dash["notified_matches"] != float64(1) {
		t.Fatalf("unexpected dashboard %+v", dash)
	}
	matches, _ := dash["recent_matches"].([]any)
	if len(matches) != 1 {
		t.Fatalf("expected one recent match, got %v", dash["recent_matches"])
	}
	first, _ := matches[0].(map[string]any)
	if first["external_user_id"] != "U1" || first["product_name"] != "Starter" {
		t.Fatalf("match not joined with user and product: %+v", first)
	}
	if users, _ := dash["users"].([]any); len(users) != 2 {
		t.Fatalf("expected 2 users on dashboard, got %v", dash["users"])
	}
}

func TestUploadLookup(t *testing.T) {
	env := setupTestServer(t)
	if resp := performRequest(env.router, http.MethodGet, "/api/uploads/abc", nil, ""); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if resp := performRequest(env.router, http.MethodGet, "/api/uploads/42", nil, ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestRoutingErrors(t *testing.T) {
	env := setupTestServer(t)

	resp := performRequest(env.router, http.MethodGet, "/api/match", nil, "")
	if resp.Code != http.StatusMethodNotAllowed || !strings.Contains(resp.Body.String(), "method not allowed") {
		t.Fatalf("expected 405 got %d %s", resp.Code, resp.Body.String())
	}
	resp = performRequest(env.router, http.MethodGet, "/upload", nil, "")
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET /upload got %d", resp.Code)
	}
	resp = performRequest(env.router, http.MethodGet, "/nope", nil, "")
	if resp.Code != http.StatusNotFound || !strings.Contains(resp.Body.String(), "not found") {
		t.Fatalf("expected 404 got %d %s", resp.Code, resp.Body.String())
	}
}

func TestHealthAndRequestID(t *testing.T) {
	env := setupTestServer(t)
	resp := performRequest(env.router, http.MethodGet, "/healthz", nil, "")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health %d %s", resp.Code, resp.Body.String())
	}
	if resp.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}

	sqlDB, _ := env.store.DB().DB()
	_ = sqlDB.Close()
	resp = performRequest(env.router, http.MethodGet, "/healthz", nil, "")
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after closing db, got %d", resp.Code)
	}
}

func TestTrailingSlashRoutesAnswerDirectly(t *testing.T) {
	env := setupTestServer(t)
	u, p := seedCatalog(t, env.store)

	for _, path := range []string{"/api/users/", "/api/products/"} {
		resp := performRequest(env.router, http.MethodGet, path, nil, "")
		if resp.Code != http.StatusOK {
			t.Fatalf("GET %s: expected 200 got %d", path, resp.Code)
		}
	}

	body := fmt.Sprintf(`{"user_id": %d, "product_id": %d, "match_score": 70}`, u.ID, p.ID)
	resp := performRequest(env.router, http.MethodPost, "/api/match/", strings.NewReader(body), "application/json")
	if resp.Code != http.StatusOK {
		t.Fatalf("POST /api/match/: expected 200 got %d %s", resp.Code, resp.Body.String())
	}

	mp, ct := multipartCSV(t, "csv_file", "users.csv", csvHeader+"U9,z@y.com,3000,700,employed,33\n")
	resp = performRequest(env.router, http.MethodPost, "/upload/", mp, ct)
	if resp.Code != http.StatusOK {
		t.Fatalf("POST /upload/: expected 200 got %d %s", resp.Code, resp.Body.String())
	}
}
