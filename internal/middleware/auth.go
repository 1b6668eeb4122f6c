// Package middleware provides the HTTP middleware chain: authentication,
// metrics, CORS and rate limiting.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jtekt/approval-flow/internal/app/domain/user"
	"github.com/jtekt/approval-flow/internal/identity"
	"github.com/jtekt/approval-flow/pkg/logger"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	roleKey      contextKey = "role"
)

// CookieName is the fallback token cookie checked when no Authorization
// header is present.
const CookieName = "jwt"

// TokenVerifier resolves a bearer token to a user.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (user.User, error)
}

// Claims are the JWT claims for locally-issued tokens.
type Claims struct {
	Name     string   `json:"name,omitempty"`
	GroupIDs []string `json:"group_ids,omitempty"`
	Role     string   `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// LocalVerifier validates HMAC-signed tokens without calling out to the
// identity service. Used when the service owns token issuance.
type LocalVerifier struct {
	secret []byte
}

// NewLocalVerifier creates a verifier for HS256 tokens signed with secret.
func NewLocalVerifier(secret []byte) *LocalVerifier {
	return &LocalVerifier{secret: secret}
}

// Verify implements TokenVerifier.
func (v *LocalVerifier) Verify(_ context.Context, tokenString string) (user.User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return user.User{}, identity.ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return user.User{}, identity.ErrInvalidToken
	}
	return user.User{ID: claims.Subject, Name: claims.Name, GroupIDs: claims.GroupIDs}, nil
}

// Auth authenticates every request. The token comes from the Authorization
// header or the jwt cookie. A missing token is a 403, an invalid one a 400.
type Auth struct {
	verifier  TokenVerifier
	log       *logger.Logger
	skipPaths map[string]bool
}

// NewAuth creates the authentication middleware. skipPaths bypass
// authentication entirely (health, metrics).
func NewAuth(verifier TokenVerifier, log *logger.Logger, skipPaths []string) *Auth {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	skip := make(map[string]bool, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = true
	}
	return &Auth{verifier: verifier, log: log, skipPaths: skip}
}

// Handler returns the middleware handler.
func (m *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token := extractToken(r)
		if token == "" {
			writeAuthError(w, http.StatusForbidden, "missing authentication token")
			return
		}

		principal, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			m.log.WithError(err).
				WithField("path", r.URL.Path).
				Warn("token verification failed")
			status := http.StatusBadRequest
			if !errors.Is(err, identity.ErrInvalidToken) {
				status = http.StatusInternalServerError
			}
			writeAuthError(w, status, "invalid authentication token")
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		if role := roleFromToken(token); role != "" {
			ctx = context.WithValue(ctx, roleKey, role)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken reads the bearer token or the jwt cookie.
func extractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
		return header
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// roleFromToken pulls the role claim without verifying; the token itself was
// already verified above.
func roleFromToken(tokenString string) string {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return ""
	}
	if claims, ok := token.Claims.(*Claims); ok {
		return claims.Role
	}
	return ""
}

// Principal returns the authenticated user stored in ctx.
func Principal(ctx context.Context) (user.User, bool) {
	u, ok := ctx.Value(principalKey).(user.User)
	return u, ok
}

// Role returns the authenticated user's role claim, if any.
func Role(ctx context.Context) string {
	role, _ := ctx.Value(roleKey).(string)
	return role
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
