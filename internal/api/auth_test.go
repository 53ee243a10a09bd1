package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cret"

func authedRequest(method, target, body, token string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAuth_RejectsMissingAndBadTokens(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.RequireAuth(testSecret)
	h := srv.Handler()

	wrong, err := IssueToken("other", "ci", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(testSecret, "ci", -time.Minute)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "ci"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{"missing": "", "wrong key": wrong, "expired": expired, "alg none": none} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, authedRequest("GET", "/api/runs", "", token))
		assert.Equal(t, http.StatusUnauthorized, w.Code, name)
	}
}

func TestAuth_AcceptsValidToken(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.RequireAuth(testSecret)
	h := srv.Handler()

	token, err := IssueToken(testSecret, "ci", time.Hour)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, authedRequest("POST", "/api/extract", pngURL, token))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"name":"http:ci"`)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, authedRequest("GET", "/api/stats", "", token))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_DisabledByDefault(t *testing.T) {
	srv, _ := newTestServer(t)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, authedRequest("GET", "/api/runs", "", ""))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIssueToken_EmptySecret(t *testing.T) {
	_, err := IssueToken("", "ci", time.Hour)
	assert.Error(t, err)
}
