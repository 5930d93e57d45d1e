package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/manlab-io/manlab/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newLoginTestServer(t *testing.T, passwordHash string) *Server {
	t.Helper()
	return &Server{
		cfg: &config.Hub{
			Auth: config.AuthConfig{JWTSecret: "test-secret", AdminPasswordHash: passwordHash},
		},
		tokens: NewTokenIssuer("test-secret", time.Hour),
	}
}

func TestHandleLogin_DisabledWithoutHash(t *testing.T) {
	s := newLoginTestServer(t, "")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(`{"password":"anything"}`))
	w := httptest.NewRecorder()
	s.handleLogin(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleLogin_WrongPasswordRejected(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)
	s := newLoginTestServer(t, string(hash))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(`{"password":"wrong"}`))
	w := httptest.NewRecorder()
	s.handleLogin(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleLogin_CorrectPasswordIssuesToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)
	s := newLoginTestServer(t, string(hash))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(`{"password":"correct-horse"}`))
	w := httptest.NewRecorder()
	s.handleLogin(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["token"])

	principal, err := s.tokens.parse(body["token"])
	require.NoError(t, err)
	assert.Equal(t, "admin", principal.Role)
}
