package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

func TestCORS(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name            string
		allowed         string
		origin          string
		preflight       bool
		wantOrigin      string
		wantCredentials bool
		wantStatus      int
	}{
		{"listed origin", "https://attend.example.com", "https://attend.example.com", false, "https://attend.example.com", true, http.StatusOK},
		{"unlisted origin", "https://attend.example.com", "https://evil.example.com", false, "", false, http.StatusOK},
		{"localhost any port", "", "http://localhost:3000", false, "http://localhost:3000", true, http.StatusOK},
		{"localhost lookalike", "", "http://localhost.evil.com", false, "", false, http.StatusOK},
		{"wildcard", "*", "https://kiosk.example.org", false, "*", false, http.StatusOK},
		{"no origin", "*", "", false, "", false, http.StatusOK},
		{"preflight", "https://attend.example.com", "https://attend.example.com", true, "https://attend.example.com", true, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := http.MethodGet
			if tt.preflight {
				method = http.MethodOptions
			}
			req := httptest.NewRequest(method, "/api/health", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()
			CORS(tt.allowed)(ok).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := rec.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tt.wantCredentials {
				t.Errorf("credentials = %v, want %v", got, tt.wantCredentials)
			}
			if tt.preflight && rec.Header().Get("Access-Control-Allow-Headers") == "" {
				t.Error("preflight should list allowed headers")
			}
		})
	}
}

func TestCORSPlainOptionsReachesHandler(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	req := httptest.NewRequest(http.MethodOptions, "/api/health", nil)
	req.Header.Set("Origin", "https://attend.example.com")
	rec := httptest.NewRecorder()
	CORS("https://attend.example.com")(ok).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 from the handler", rec.Code)
	}
	if rec.Header().Get("Access-Control-Max-Age") != "" {
		t.Error("OPTIONS without Access-Control-Request-Method is not a preflight")
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := rec.Header().Get("Permissions-Policy"); got != "camera=(self), microphone=()" {
		t.Errorf("Permissions-Policy = %q", got)
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Error("missing Content-Security-Policy")
	}
}

func TestRequestIDHeader(t *testing.T) {
	h := chiMiddleware.RequestID(RequestIDHeader()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("X-Request-Id not set")
	}
}
