package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSecurityHeaders(t *testing.T) {
	t.Run("sets security headers", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

		SecurityHeaders()(c)

		headers := w.Header()
		if headers.Get("X-Content-Type-Options") != "nosniff" {
			t.Error("expected X-Content-Type-Options header")
		}
		if headers.Get("X-Frame-Options") != "DENY" {
			t.Error("expected X-Frame-Options header")
		}
		if headers.Get("Referrer-Policy") != "strict-origin-when-cross-origin" {
			t.Error("expected Referrer-Policy header")
		}
		if headers.Get("Content-Security-Policy") == "" {
			t.Error("expected Content-Security-Policy header")
		}
		if headers.Get("Strict-Transport-Security") != "" {
			t.Error("should not set HSTS header for HTTP requests")
		}
	})

	t.Run("sets HSTS header for HTTPS", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		c.Request.Header.Set("X-Forwarded-Proto", "https")

		SecurityHeaders()(c)

		if w.Header().Get("Strict-Transport-Security") == "" {
			t.Error("expected HSTS header for HTTPS requests")
		}
	})
}

func TestRateLimiter(t *testing.T) {
	limiter := RateLimiter(1, 1)

	w1 := httptest.NewRecorder()
	c1, _ := gin.CreateTestContext(w1)
	c1.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	limiter(c1)
	if c1.IsAborted() {
		t.Error("first request should not be aborted")
	}

	w2 := httptest.NewRecorder()
	c2, _ := gin.CreateTestContext(w2)
	c2.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	limiter(c2)
	if !c2.IsAborted() {
		t.Error("second request should be rate limited")
	}
	if w2.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", w2.Code)
	}
}

func TestRequireJSONContentType(t *testing.T) {
	testCases := []struct {
		name        string
		method      string
		contentType string
		aborted     bool
	}{
		{"GET without content-type", http.MethodGet, "", false},
		{"POST with JSON", http.MethodPost, "application/json", false},
		{"POST with JSON charset", http.MethodPost, "application/json; charset=utf-8", false},
		{"bodyless POST", http.MethodPost, "", false},
		{"POST with text", http.MethodPost, "text/plain", true},
		{"PUT with XML", http.MethodPut, "application/xml", true},
		{"PATCH with HTML", http.MethodPatch, "text/html", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(tc.method, "/", nil)
			if tc.contentType != "" {
				c.Request.Header.Set("Content-Type", tc.contentType)
			}

			RequireJSONContentType()(c)

			if c.IsAborted() != tc.aborted {
				t.Errorf("aborted = %v, expected %v", c.IsAborted(), tc.aborted)
			}
			if tc.aborted && w.Code != http.StatusUnsupportedMediaType {
				t.Errorf("expected status 415, got %d", w.Code)
			}
		})
	}
}

func TestValidateOrigin(t *testing.T) {
	allowed := []string{"https://smartsched.example.com"}

	testCases := []struct {
		name    string
		method  string
		origin  string
		referer string
		aborted bool
	}{
		{"GET without origin", http.MethodGet, "", "", false},
		{"OPTIONS without origin", http.MethodOptions, "", "", false},
		{"POST without origin", http.MethodPost, "", "", true},
		{"POST with valid origin", http.MethodPost, "https://smartsched.example.com", "", false},
		{"POST with invalid origin", http.MethodPost, "https://evil.example.com", "", true},
		{"origin from referer", http.MethodDelete, "", "https://smartsched.example.com/timetable", false},
		{"invalid referer", http.MethodDelete, "", "https://evil.example.com/", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(tc.method, "/", nil)
			if tc.origin != "" {
				c.Request.Header.Set("Origin", tc.origin)
			}
			if tc.referer != "" {
				c.Request.Header.Set("Referer", tc.referer)
			}

			ValidateOrigin(allowed)(c)

			if c.IsAborted() != tc.aborted {
				t.Errorf("aborted = %v, expected %v", c.IsAborted(), tc.aborted)
			}
			if tc.aborted && w.Code != http.StatusForbidden {
				t.Errorf("expected status 403, got %d", w.Code)
			}
		})
	}
}

func TestAllowedOrigins(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com/, https://admin.example.com")

	origins := AllowedOrigins("https://smartsched.example.com/base", false)
	expected := []string{"https://smartsched.example.com", "https://app.example.com", "https://admin.example.com"}
	if len(origins) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, origins)
	}
	for i := range expected {
		if origins[i] != expected[i] {
			t.Errorf("origin %d = %q, expected %q", i, origins[i], expected[i])
		}
	}

	dev := AllowedOrigins("http://localhost:8080", true)
	found := false
	for _, o := range dev {
		if o == "http://localhost:5173" {
			found = true
		}
	}
	if !found {
		t.Error("expected local frontend origin in development")
	}
}
