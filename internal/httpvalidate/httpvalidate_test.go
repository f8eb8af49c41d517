package httpvalidate

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nugget/forge-orchestrator/internal/forgeerr"
)

func TestValidateStringRejectsEmpty(t *testing.T) {
	if err := ValidateString("task", "", 0); err == nil {
		t.Fatal("expected error for empty string")
	}
}

func TestValidateStringRejectsOverLength(t *testing.T) {
	long := strings.Repeat("a", MaxStringLength+1)
	err := ValidateString("task", long, 0)
	if err == nil {
		t.Fatal("expected error for over-length string")
	}
	fe, ok := forgeerr.As(err)
	if !ok || fe.Code() != forgeerr.CodeValidation {
		t.Errorf("code = %v, ok = %v, want CodeValidation", fe, ok)
	}
}

func TestValidateStringRejectsControlCharacters(t *testing.T) {
	if err := ValidateString("task", "hello\x00world", 0); err == nil {
		t.Fatal("expected error for embedded NUL byte")
	}
}

func TestValidateStringAllowsTabsAndNewlines(t *testing.T) {
	if err := ValidateString("task", "line one\nline two\tindented", 0); err != nil {
		t.Errorf("unexpected error for multi-line text: %v", err)
	}
}

func TestValidateContextChecksAllPairs(t *testing.T) {
	ctx := map[string]string{"good": "fine", "bad": strings.Repeat("x", MaxStringLength+1)}
	if err := ValidateContext(ctx); err == nil {
		t.Fatal("expected error for over-length context value")
	}
}

func TestValidatePathRejectsTraversal(t *testing.T) {
	cases := []string{"..", "../etc/passwd", "a/../b", "."}
	for _, c := range cases {
		if err := ValidatePath("persona_id", c); err == nil {
			t.Errorf("ValidatePath(%q) = nil, want error", c)
		}
	}
}

func TestValidatePathAllowsPlainID(t *testing.T) {
	if err := ValidatePath("persona_id", "senior-go-engineer-7f3a"); err != nil {
		t.Errorf("unexpected error for plain id: %v", err)
	}
}

func TestOriginAllowedLoopbackAndPrivate(t *testing.T) {
	allowed := []string{
		"http://127.0.0.1:8080",
		"http://localhost:8080", // hostname, not an IP: see below
		"http://10.1.2.3:3000",
		"http://192.168.1.50",
		"http://172.16.0.5:9090",
	}
	want := []bool{true, false, true, true, true}
	for i, origin := range allowed {
		if got := OriginAllowed(origin); got != want[i] {
			t.Errorf("OriginAllowed(%q) = %v, want %v", origin, got, want[i])
		}
	}
}

func TestOriginAllowedRejectsPublicIP(t *testing.T) {
	if OriginAllowed("http://8.8.8.8") {
		t.Error("expected public IP origin to be rejected")
	}
}

func TestCORSMiddlewareSetsHeaderForAllowedOrigin(t *testing.T) {
	h := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://127.0.0.1:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://127.0.0.1:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q, want echoed origin", got)
	}
}

func TestCORSMiddlewareOmitsHeaderForDisallowedOrigin(t *testing.T) {
	h := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://8.8.8.8")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}

func TestCORSMiddlewareHandlesPreflight(t *testing.T) {
	called := false
	h := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	req := httptest.NewRequest(http.MethodOptions, "/api/task", nil)
	req.Header.Set("Origin", "http://127.0.0.1:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if called {
		t.Error("preflight request should not reach the next handler")
	}
}
