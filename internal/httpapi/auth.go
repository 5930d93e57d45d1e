package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// claims is the symmetric bearer token this hub issues and accepts. Unlike
// arkeep's RS256 user-facing tokens, agents and dashboards here share one
// HS256 secret — there is no multi-tenant signing key rotation concern,
// matching the teacher's single shared NIXFLEET_TOKEN model.
type claims struct {
	jwt.RegisteredClaims
	Subject string `json:"sub"`
	Role    string `json:"role"` // "agent" | "dashboard" | "admin"
}

type ctxKey int

const principalKey ctxKey = 0

// Principal identifies whoever presented the bearer token, for audit
// ActorID fields and role-gated routes (§4.4 "system" file-browser flavor).
type Principal struct {
	Subject string
	Role    string
}

// TokenIssuer signs bearer tokens for agents and dashboards (§6 "Agent-visible
// configuration ... MANLAB_AGENT_TOKEN").
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

func (t *TokenIssuer) Issue(subject, role string) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		Subject: subject,
		Role:    role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(t.secret)
}

var errBadToken = errors.New("httpapi: invalid bearer token")

func (t *TokenIssuer) parse(raw string) (Principal, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errBadToken
		}
		return t.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, errBadToken
	}
	return Principal{Subject: c.Subject, Role: c.Role}, nil
}

// requireAuth validates the Authorization: Bearer header and stashes the
// resulting Principal in the request context. When disabled via config
// (RequireAgentAuth=false, dev-only) it injects an admin principal instead.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.Auth.RequireAgentAuth {
			ctx := context.WithValue(r.Context(), principalKey, Principal{Subject: "dev", Role: "admin"})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		principal, err := s.tokens.parse(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin further restricts a route to the "admin" role, used for the
// system-flavored file browser (§4.4 "elevated callers only").
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := r.Context().Value(principalKey).(Principal)
		if p.Role != "admin" {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	Password string `json:"password"`
}

// handleLogin trades an operator password for an admin bearer token, the way
// the teacher's dashboard.AuthService.CheckPassword guards its session
// cookie — except this hub has no session store, so a successful check just
// issues the same JWT an agent would present. Disabled entirely (404) when
// no AdminPasswordHash is configured, since an empty bcrypt hash can never
// match any submitted password anyway and the 404 is a clearer signal than a
// permanent 401.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Auth.AdminPasswordHash == "" {
		writeError(w, http.StatusNotFound, "login is disabled")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.Auth.AdminPasswordHash), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.tokens.Issue("admin", "admin")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

func principalFrom(r *http.Request) Principal {
	p, _ := r.Context().Value(principalKey).(Principal)
	return p
}
