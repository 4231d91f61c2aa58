package http_test

import (
	"net/http/httptest"
	"testing"

	pkghttp "github.com/medigate/backend/pkg/http"
	"github.com/stretchr/testify/assert"
)

func TestExtractClientIP_DirectConnection_IgnoresHeaders(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.10:54321"

	// Spoofing attempt from a non-proxy source
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")
	req.Header.Set("X-Real-IP", "192.168.1.1")

	config := &pkghttp.IPConfig{
		TrustedProxies: []string{"10.0.0.0/8", "127.0.0.1/32"},
	}

	ip := pkghttp.ExtractClientIP(req, config)
	assert.Equal(t, "203.0.113.10", ip)
}

func TestExtractClientIP_TrustedProxy_UsesForwardedFor(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.5:443"
	req.Header.Set("X-Forwarded-For", "203.0.113.99, 10.0.0.5")

	config := &pkghttp.IPConfig{
		TrustedProxies: []string{"10.0.0.0/8"},
	}

	ip := pkghttp.ExtractClientIP(req, config)
	assert.Equal(t, "203.0.113.99", ip)
}

func TestExtractClientIP_TrustedProxy_FallsBackToRealIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.5:443"
	req.Header.Set("X-Real-IP", "203.0.113.42")

	config := &pkghttp.IPConfig{
		TrustedProxies: []string{"10.0.0.0/8"},
	}

	ip := pkghttp.ExtractClientIP(req, config)
	assert.Equal(t, "203.0.113.42", ip)
}

func TestExtractClientIP_NoConfig_UsesRemoteAddr(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "198.51.100.7:12345"
	req.Header.Set("X-Forwarded-For", "1.2.3.4")

	ip := pkghttp.ExtractClientIP(req, nil)
	assert.Equal(t, "198.51.100.7", ip)
}
