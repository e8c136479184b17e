package v1

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: subject})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func doRequest(t *testing.T, authorization string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.GET("/probe", func(c echo.Context) error {
		return c.String(http.StatusOK, callerID(c))
	}, JWTMiddleware(testSecret))

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	if authorization != "" {
		req.Header.Set(echo.HeaderAuthorization, authorization)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTMiddleware(t *testing.T) {
	t.Run("valid token", func(t *testing.T) {
		rec := doRequest(t, "Bearer "+signToken(t, testSecret, "user-1"))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "user-1", rec.Body.String())
	})

	t.Run("missing header", func(t *testing.T) {
		rec := doRequest(t, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		rec := doRequest(t, "Bearer "+signToken(t, "other-secret", "user-1"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("empty subject", func(t *testing.T) {
		rec := doRequest(t, "Bearer "+signToken(t, testSecret, ""))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("not a bearer token", func(t *testing.T) {
		rec := doRequest(t, "Basic abc123")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
