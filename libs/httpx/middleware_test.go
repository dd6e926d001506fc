package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequestIDEchoedAndStored(t *testing.T) {
	e := echo.New()
	e.Use(RequestID())
	var seen string
	e.GET("/", func(c echo.Context) error {
		seen = RequestIDFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if seen != "req-123" {
		t.Fatalf("expected request id in context, got %q", seen)
	}
	if got := rec.Header().Get(RequestIDHeader); got != "req-123" {
		t.Fatalf("expected echoed request id, got %q", got)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get(RequestIDHeader) == "" || seen == "" {
		t.Fatal("expected generated request id")
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	e.POST("/staff", func(c echo.Context) error {
		return c.String(http.StatusOK, ActorID(c))
	}, RequireRole("staff", "admin"))

	cases := []struct {
		role string
		want int
	}{
		{"staff", http.StatusOK},
		{"admin", http.StatusOK},
		{"patient", http.StatusForbidden},
		{"", http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/staff", nil)
		req.Header.Set(RoleHeader, tc.role)
		req.Header.Set(UserIDHeader, "u-1")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("role %q: expected %d, got %d", tc.role, tc.want, rec.Code)
		}
		if tc.want == http.StatusOK && rec.Body.String() != "u-1" {
			t.Fatalf("expected actor id, got %q", rec.Body.String())
		}
	}
}

func TestStackRateLimit(t *testing.T) {
	e := echo.New()
	e.Use(Stack(StackOptions{PerMinute: 2})...)
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
}
