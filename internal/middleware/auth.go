package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// UserIDContextKey holds the authenticated user id (int64) on the echo context.
const UserIDContextKey = "user_id"

var errMissingToken = errors.New("missing token")

// Identity creates a middleware that authenticates websocket upgrades and HTTP
// sends with an HS256 JWT whose subject is the numeric user id. The token is
// read from the Authorization bearer header or, for browsers, the `token`
// query parameter.
// With an empty secret the middleware passes every request through and
// identity is taken from join_chat instead.
func Identity(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if secret == "" {
			return next
		}
		return func(c echo.Context) error {
			raw, err := tokenFromRequest(c)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}

			userID, err := ParseUserToken(secret, raw)
			if err != nil {
				FromContext(c.Request().Context()).Warn("Rejected token", "error", err)
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set(UserIDContextKey, userID)
			return next(c)
		}
	}
}

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(c echo.Context) (int64, bool) {
	id, ok := c.Get(UserIDContextKey).(int64)
	return id, ok
}

// ParseUserToken verifies an HS256 token and returns its subject as a user id.
func ParseUserToken(secret, raw string) (int64, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, err
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return 0, err
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || userID == 0 {
		return 0, fmt.Errorf("subject %q is not a user id", sub)
	}
	return userID, nil
}

// SignUserToken issues an HS256 token for a user. Used by operators and tests.
func SignUserToken(secret string, userID int64, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = strconv.FormatInt(userID, 10)
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func tokenFromRequest(c echo.Context) (string, error) {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok && token != "" {
			return token, nil
		}
	}
	if token := c.QueryParam("token"); token != "" {
		return token, nil
	}
	return "", errMissingToken
}
