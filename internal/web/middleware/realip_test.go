package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrustedRealIP(t *testing.T) {
	mw := TrustedRealIP([]string{"10.0.0.0/8", "192.168.1.5", "not-a-cidr"})

	tests := []struct {
		name   string
		remote string
		header http.Header
		want   string
	}{
		{"trusted proxy x-real-ip", "10.1.2.3:5555", http.Header{"X-Real-Ip": {"203.0.113.7"}}, "203.0.113.7"},
		{"trusted proxy xff first hop", "10.1.2.3:5555", http.Header{"X-Forwarded-For": {"203.0.113.9, 10.0.0.1"}}, "203.0.113.9"},
		{"trusted bare address", "192.168.1.5:80", http.Header{"X-Real-Ip": {"198.51.100.1"}}, "198.51.100.1"},
		{"untrusted peer ignored", "203.0.113.50:1234", http.Header{"X-Real-Ip": {"1.2.3.4"}}, "203.0.113.50"},
		{"garbage header ignored", "10.1.2.3:5555", http.Header{"X-Real-Ip": {"bogus"}}, "10.1.2.3"},
		{"mapped v4", "[::ffff:10.0.0.9]:80", http.Header{"X-Real-Ip": {"203.0.113.7"}}, "203.0.113.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := mw(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = ClientIP(r)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			req.Header = tt.header
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	req.RemoteAddr = "198.51.100.4:443"
	assert.Equal(t, "198.51.100.4", ClientIP(req))

	req.RemoteAddr = "2001:db8::1"
	assert.Equal(t, "2001:db8::1", ClientIP(req))

	req.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", ClientIP(req))
}
