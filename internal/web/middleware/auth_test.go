package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JonMunkholm/addrintel/internal/config"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAPIKeyAuth(t *testing.T) {
	cfg := config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{" key-one ", "key-two", ""}}
	h := APIKeyAuth(cfg)(okHandler)

	tests := []struct {
		name   string
		header http.Header
		want   int
	}{
		{"missing", http.Header{}, http.StatusUnauthorized},
		{"wrong key", http.Header{"X-Api-Key": {"nope"}}, http.StatusForbidden},
		{"header key", http.Header{"X-Api-Key": {"key-one"}}, http.StatusOK},
		{"second key", http.Header{"X-Api-Key": {"key-two"}}, http.StatusOK},
		{"bearer", http.Header{"Authorization": {"Bearer key-two"}}, http.StatusOK},
		{"bearer lowercase", http.Header{"Authorization": {"bearer key-one"}}, http.StatusOK},
		{"basic auth ignored", http.Header{"Authorization": {"Basic a2V5LW9uZQ=="}}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/countries", nil)
			req.Header = tt.header
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAPIKeyAuth_Disabled(t *testing.T) {
	h := APIKeyAuth(config.SecurityConfig{})(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyAuth_NoKeysConfigured(t *testing.T) {
	h := APIKeyAuth(config.SecurityConfig{RequireAPIKey: true})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "AUTH002")
}
