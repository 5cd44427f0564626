package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/addrintel/internal/address"
	"github.com/JonMunkholm/addrintel/internal/batch"
	"github.com/JonMunkholm/addrintel/internal/config"
	"github.com/JonMunkholm/addrintel/internal/core"
	"github.com/JonMunkholm/addrintel/internal/oracle/oracletest"
)

const (
	goodAddress = "12 Main Road, Cape Town, Western Cape, 8001"
	weakAddress = "Johannesburg, Gauteng"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			RequestTimeout: 5 * time.Second,
			CORSOrigins:    []string{"*"},
		},
		Country: config.CountryConfig{RulesDir: "../../countries", DefaultSlug: "south-africa"},
		Oracle:  config.OracleConfig{Provider: "gemini", Timeout: time.Second},
		Batch: config.BatchConfig{
			Workers: 2, RowTimeout: time.Second, MaxConcurrentJobs: 2,
			MaxWait: time.Second, Retention: time.Minute, MaxRows: 100,
			MaxUploadBytes: 1 << 20,
		},
	}
}

func testOracle() *oracletest.Scripted {
	return oracletest.NewScripted().
		On(goodAddress, oracletest.Response{
			NormalizedAddress: goodAddress,
			StreetNumber:      12,
			StreetName:        "Main Road",
			City:              "Cape Town",
			Province:          "Western Cape",
			PostalCode:        "8001",
			Latitude:          oracletest.Float(-33.9249),
			Longitude:         oracletest.Float(18.4241),
			Completeness:      "Complete",
			Score:             95,
			Band:              "High",
		}).
		On(weakAddress, oracletest.Response{
			NormalizedAddress: weakAddress,
			City:              "Johannesburg",
			Province:          "Gauteng",
			Score:             40,
			Band:              "Unusable",
		}).
		OnFunc("slow", oracletest.Hang)
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	svc, err := core.NewService(cfg, core.Deps{Interpreter: testOracle()})
	require.NoError(t, err)

	srv := NewServer(svc, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		_ = svc.Close(ctx)
	})
	return srv
}

func do(t *testing.T, srv *Server, method, path string, body []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func postJSON(t *testing.T, srv *Server, path string, v any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return do(t, srv, http.MethodPost, path, body, nil)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func waitForJob(t *testing.T, srv *Server, id string) batch.Snapshot {
	t.Helper()
	var snap batch.Snapshot
	require.Eventually(t, func() bool {
		rec := do(t, srv, http.MethodGet, "/api/batch-status/"+id, nil, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		snap = decode[batch.Snapshot](t, rec)
		return snap.Status.Terminal()
	}, 3*time.Second, 10*time.Millisecond)
	return snap
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	h := decode[core.Health](t, rec)
	assert.Equal(t, core.HealthOK, h.Status)
	assert.Equal(t, "memory", h.Database)
	assert.Equal(t, "disabled", h.Confirmation)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestCountries(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/api/countries", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decode[core.CountryList](t, rec)
	assert.Equal(t, "south-africa", list.Default)
	assert.Contains(t, list.Available, "south-africa")
}

func TestValidateSingle(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := postJSON(t, srv, "/api/validate-single", ValidateRequest{Address: goodAddress})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[address.Result](t, rec)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, address.BandHigh, res.ConfidenceLevel)
	assert.Equal(t, goodAddress, res.OriginalAddress)
}

func TestValidateSingle_BadRequests(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name     string
		body     string
		wantCode string
		status   int
	}{
		{"empty body", "", "VAL001", http.StatusBadRequest},
		{"malformed json", "{", "VAL001", http.StatusBadRequest},
		{"missing address", `{"country":"south-africa"}`, "VAL001", http.StatusBadRequest},
		{"unknown field", `{"address":"x","zip":"1"}`, "VAL001", http.StatusBadRequest},
		{"address too long", `{"address":"` + strings.Repeat("a", 1001) + `"}`, "VAL001", http.StatusBadRequest},
		{"oracle failure", `{"address":"1 Unknown Road","country":"atlantis"}`, "ORA002", http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/validate-single", []byte(tt.body), nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestValidateBatch_JSON(t *testing.T) {
	srv := newTestServer(t, nil)

	csv := "address\n" + `"` + goodAddress + `"` + "\n" + `"` + weakAddress + `"` + "\n"
	rec := postJSON(t, srv, "/api/validate-batch", BatchRequest{CSVContent: csv})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	ticket := decode[core.BatchTicket](t, rec)
	assert.Equal(t, 2, ticket.Total)

	snap := waitForJob(t, srv, ticket.JobID)
	assert.Equal(t, batch.StatusComplete, snap.Status)
	assert.False(t, snap.Cancelled)
	assert.Equal(t, 2, snap.Processed)
	assert.Equal(t, float64(100), snap.Progress)

	rec = do(t, srv, http.MethodGet, "/api/batch-results/"+ticket.JobID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "batch_"+ticket.JobID+"_results.csv")

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "row,status,id,original_address"))
}

func TestValidateBatch_Multipart(t *testing.T) {
	srv := newTestServer(t, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "addresses.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("street,city,province,postal_code\nMain Road,Cape Town,Western Cape,8001\n"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("country", "south-africa"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/validate-batch", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	ticket := decode[core.BatchTicket](t, rec)
	assert.Equal(t, 1, ticket.Total)
	waitForJob(t, srv, ticket.JobID)
}

func TestValidateBatch_Rejected(t *testing.T) {
	srv := newTestServer(t, func(c *config.Config) { c.Batch.MaxUploadBytes = 64 })

	tests := []struct {
		name     string
		req      BatchRequest
		wantCode string
	}{
		{"no content", BatchRequest{}, "FILE004"},
		{"no address column", BatchRequest{CSVContent: "name,age\nbob,3\n"}, "FILE003"},
		{"header only", BatchRequest{CSVContent: "address\n"}, "FILE005"},
		{"too large", BatchRequest{CSVContent: "address\n" + strings.Repeat("1 Long Road, Cape Town\n", 10)}, "FILE001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, srv, "/api/validate-batch", tt.req)
			assert.GreaterOrEqual(t, rec.Code, 400)
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestBatchStatus_UnknownJob(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/api/batch-status/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB002", decode[ErrorResponse](t, rec).Code)
}

func TestCancelBatch(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := postJSON(t, srv, "/api/validate-batch", BatchRequest{CSVContent: "address\nslow\nslow\nslow\nslow\n"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	ticket := decode[core.BatchTicket](t, rec)

	rec = do(t, srv, http.MethodGet, "/api/batch-results/"+ticket.JobID, nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "JOB006", decode[ErrorResponse](t, rec).Code)

	rec = do(t, srv, http.MethodPost, "/api/batch/"+ticket.JobID+"/cancel", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[CancelResponse](t, rec)
	assert.True(t, resp.Cancelled)
	assert.Equal(t, ticket.JobID, resp.JobID)

	snap := waitForJob(t, srv, ticket.JobID)
	assert.True(t, snap.Cancelled)
	assert.Equal(t, snap.Total, snap.Processed)
}

func TestTriggerAgent_Disabled(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := postJSON(t, srv, "/api/validate-single", ValidateRequest{Address: weakAddress})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[address.Result](t, rec)

	rec = postJSON(t, srv, "/api/trigger-agent", TriggerRequest{ResultID: res.ID, ActionType: "call"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "CNF005", decode[ErrorResponse](t, rec).Code)

	rec = postJSON(t, srv, "/api/trigger-agent", TriggerRequest{ResultID: res.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VAL001", decode[ErrorResponse](t, rec).Code)
}

func TestConfirmedAddress(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/api/confirmed-address/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "CNF004", decode[ErrorResponse](t, rec).Code)

	rec = postJSON(t, srv, "/api/validate-single", ValidateRequest{Address: weakAddress})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[address.Result](t, rec)

	rec = do(t, srv, http.MethodGet, "/api/confirmed-address/"+res.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[core.ConfirmationStatus](t, rec)
	assert.Equal(t, core.ConfirmationPending, st.Status)
	assert.Equal(t, res.ID, st.ResultID)
}

func TestAPIKeyRequired(t *testing.T) {
	srv := newTestServer(t, func(c *config.Config) {
		c.Security.RequireAPIKey = true
		c.Security.APIKeys = []string{"secret"}
	})

	rec := do(t, srv, http.MethodGet, "/api/countries", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/countries", nil, http.Header{"X-Api-Key": {"secret"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays public.
	rec = do(t, srv, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBatchRateLimit(t *testing.T) {
	srv := newTestServer(t, func(c *config.Config) {
		c.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, BatchLimit: 1}
	})

	body := BatchRequest{CSVContent: "address\n" + `"` + goodAddress + `"` + "\n"}
	rec := postJSON(t, srv, "/api/validate-batch", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = postJSON(t, srv, "/api/validate-batch", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Other endpoints have their own budget.
	rec = do(t, srv, http.MethodGet, "/api/countries", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNotFound(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/api/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "REQ404", decode[ErrorResponse](t, rec).Code)
}

func TestBatchEvents(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	rec := postJSON(t, srv, "/api/validate-batch", BatchRequest{CSVContent: "address\nslow\n"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	ticket := decode[core.BatchTicket](t, rec)

	resp, err := http.Get(ts.URL + "/api/batch-status/" + ticket.JobID + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The row hangs until the job is cancelled.
	rec = do(t, srv, http.MethodPost, "/api/batch/"+ticket.JobID+"/cancel", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var events []string
	var last string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			events = append(events, name)
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			last = data
		}
	}

	require.NotEmpty(t, events)
	assert.Equal(t, "complete", events[len(events)-1])

	var final batch.Progress
	require.NoError(t, json.Unmarshal([]byte(last), &final))
	assert.True(t, final.Status.Terminal())
	assert.Equal(t, ticket.JobID, final.ID)
}

func TestBatchEvents_UnknownJob(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/api/batch-status/nope/events", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStats(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/api/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	empty := decode[core.Stats](t, rec)
	assert.Zero(t, empty.TotalValidated)
	assert.Zero(t, empty.SuccessRate)
	assert.Equal(t, "scripted", empty.Oracle)
	assert.True(t, empty.LLMAvailable)

	for _, addr := range []string{goodAddress, weakAddress} {
		rec = postJSON(t, srv, "/api/validate-single", ValidateRequest{Address: addr})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	csv := "address\n" + `"` + goodAddress + `"` + "\nunscripted place\n"
	rec = postJSON(t, srv, "/api/validate-batch", BatchRequest{CSVContent: csv})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	snap := waitForJob(t, srv, decode[core.BatchTicket](t, rec).JobID)
	require.Equal(t, 1, snap.Failed)

	rec = do(t, srv, http.MethodGet, "/api/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[core.Stats](t, rec)
	assert.Equal(t, 4, st.TotalValidated)
	assert.Equal(t, 2, st.FailedValidations)
	assert.Equal(t, 50, st.SuccessRate)
	assert.Equal(t, 1, st.CompletedJobs)
	assert.Zero(t, st.ActiveJobs)
	assert.Equal(t, map[string]int{"scripted": 3}, st.ValidationMethods)
}
