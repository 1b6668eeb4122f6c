package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jtekt/approval-flow/internal/app/domain/user"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestLocalVerifier(t *testing.T) {
	v := NewLocalVerifier(testSecret)

	token := signToken(t, Claims{
		Name:     "Alice",
		GroupIDs: []string{"g1"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	u, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if u.ID != "alice" || u.Name != "Alice" || len(u.GroupIDs) != 1 {
		t.Fatalf("unexpected user: %#v", u)
	}

	if _, err := v.Verify(context.Background(), "not-a-token"); err == nil {
		t.Fatalf("expected error for malformed token")
	}

	expired := signToken(t, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}})
	if _, err := v.Verify(context.Background(), expired); err == nil {
		t.Fatalf("expected error for expired token")
	}

	// Subject is mandatory.
	noSubject := signToken(t, Claims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	if _, err := v.Verify(context.Background(), noSubject); err == nil {
		t.Fatalf("expected error for token without subject")
	}
}

func TestAuthHandler(t *testing.T) {
	auth := NewAuth(NewLocalVerifier(testSecret), nil, []string{"/healthz"})

	var seen user.User
	var seenRole string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = Principal(r.Context())
		seenRole = Role(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := auth.Handler(next)

	token := signToken(t, Claims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	// Missing token is forbidden.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/applications", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("missing token: got %d, want 403", rec.Code)
	}

	// Invalid token is a bad request.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/applications", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid token: got %d, want 400", rec.Code)
	}

	// Bearer header.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/applications", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer token: got %d, want 200", rec.Code)
	}
	if seen.ID != "alice" || seenRole != "admin" {
		t.Fatalf("principal not propagated: %#v role=%q", seen, seenRole)
	}

	// Cookie fallback.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/applications", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("cookie token: got %d, want 200", rec.Code)
	}

	// Skip paths bypass authentication.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("skip path: got %d, want 200", rec.Code)
	}
}

func TestExtractTokenRawHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "raw-token")
	if got := extractToken(req); got != "raw-token" {
		t.Fatalf("raw header token: got %q", got)
	}
}
