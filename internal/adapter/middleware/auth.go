package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"signoff-backend/internal/identity"
)

// Authenticate resolves the caller from "Authorization: Bearer <token>" or,
// for EventSource clients that cannot set headers, the access_token query
// parameter. The participant is stored on the request context.
func Authenticate(r identity.Resolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			cred := bearer(req.Header.Get(echo.HeaderAuthorization))
			if cred == "" {
				cred = c.QueryParam("access_token")
			}
			p, err := r.Resolve(req.Context(), cred)
			if err != nil {
				if !errors.Is(err, identity.ErrUnauthenticated) {
					slog.Default().Warn("resolve credential", "err", err)
				}
				return reject(c, http.StatusUnauthorized, "unauthenticated", identity.ErrUnauthenticated.Error())
			}
			c.SetRequest(req.WithContext(identity.WithParticipant(req.Context(), p)))
			return next(c)
		}
	}
}

func bearer(h string) string {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}
