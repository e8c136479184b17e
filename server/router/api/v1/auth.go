package v1

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// callerIDKey is the echo context key holding the authenticated caller id.
const callerIDKey = "caller-id"

// JWTMiddleware resolves the caller identity from a bearer token. Every
// mutating and query operation behind it rejects unauthenticated requests
// before any work is performed.
func JWTMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			callerID, err := extractSubject(token, secret)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set(callerIDKey, callerID)
			return next(c)
		}
	}
}

func extractSubject(tokenString, secret string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", jwt.ErrTokenInvalidSubject
	}
	return claims.Subject, nil
}

// callerID returns the authenticated caller id set by JWTMiddleware.
func callerID(c echo.Context) string {
	if id, ok := c.Get(callerIDKey).(string); ok {
		return id
	}
	return ""
}
