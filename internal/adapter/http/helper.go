package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"signoff-backend/internal/identity"
	"signoff-backend/pkg/id"
)

// participant returns the caller resolved by the auth middleware.
func participant(c echo.Context) (identity.Participant, error) {
	p, ok := identity.FromContext(c.Request().Context())
	if !ok {
		return identity.Participant{}, identity.ErrUnauthenticated
	}
	return p, nil
}

// submissionIDParam validates the :submission_id path param. Malformed ids can
// never exist, so they are reported as not found.
func submissionIDParam(c echo.Context) (string, bool) {
	sid := c.Param("submission_id")
	if !id.Valid(sid) {
		_ = c.JSON(http.StatusNotFound, ErrorResponse{Error: "submission not found", Code: CodeNotFound})
		return "", false
	}
	return sid, true
}

// bind decodes and validates req, writing the 400/422 response itself.
func bind(c echo.Context, req any) bool {
	if err := c.Bind(req); err != nil {
		_ = invalidBody(c)
		return false
	}
	if err := c.Validate(req); err != nil {
		_ = validationFailed(c, err)
		return false
	}
	return true
}
