package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// UserHeader carries the caller's user ID for HeaderAuthenticator.
const UserHeader = "X-User-ID"

// Authenticator resolves the user behind a request. It returns "" for an
// anonymous request.
type Authenticator interface {
	UserID(r *http.Request) (string, error)
}

// HeaderAuthenticator trusts the user ID set by an authenticating proxy in
// a request header.
type HeaderAuthenticator struct {
	Header string
}

// UserID implements Authenticator.
func (a HeaderAuthenticator) UserID(r *http.Request) (string, error) {
	name := a.Header
	if name == "" {
		name = UserHeader
	}
	return strings.TrimSpace(r.Header.Get(name)), nil
}

const userKey = "devspace.user"

// requireUser rejects anonymous requests and stores the user ID in the echo
// context.
func (s *Server) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := s.auth.UserID(c.Request())
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Authentication failed.").SetInternal(err)
		}
		if id == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Sign in to continue.")
		}
		c.Set(userKey, id)
		return next(c)
	}
}

func userID(c echo.Context) string {
	id, _ := c.Get(userKey).(string)
	return id
}
