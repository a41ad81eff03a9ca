package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	domainApproval "signoff-backend/internal/domain/approval"
	"signoff-backend/internal/domain/role"
	domainSubmission "signoff-backend/internal/domain/submission"
	"signoff-backend/internal/identity"
	submissionUC "signoff-backend/internal/usecase/submission"
)

const (
	CodeNotFound         = "not_found"
	CodeSubmissionLocked = "submission_locked"
	CodeAlreadySigned    = "already_signed"
	CodeRoleMismatch     = "role_mismatch"
	CodeUnauthenticated  = "unauthenticated"
	CodeValidation       = "validation_failed"
	CodeInvalidBody      = "invalid_body"
	CodeInternal         = "internal"

	loggerKey = "signoff.logger"
)

// withLogger hands log to writeError for every route it wraps.
func withLogger(log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(loggerKey, log)
			return next(c)
		}
	}
}

func loggerFor(c echo.Context) *slog.Logger {
	if log, ok := c.Get(loggerKey).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}

// StatusFor maps an error to its HTTP status and machine-readable code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domainSubmission.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, domainSubmission.ErrSubmissionLocked):
		return http.StatusConflict, CodeSubmissionLocked
	case errors.Is(err, domainApproval.ErrAlreadySigned), errors.Is(err, domainApproval.ErrDuplicateApproval):
		return http.StatusConflict, CodeAlreadySigned
	case errors.Is(err, role.ErrRoleMismatch):
		return http.StatusForbidden, CodeRoleMismatch
	case errors.Is(err, identity.ErrUnauthenticated):
		return http.StatusUnauthorized, CodeUnauthenticated
	case errors.Is(err, submissionUC.ErrInvalidInput):
		return http.StatusUnprocessableEntity, CodeValidation
	}
	return http.StatusInternalServerError, CodeInternal
}

func writeError(c echo.Context, err error) error {
	status, code := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		loggerFor(c).Error("request failed",
			"method", c.Request().Method, "path", c.Path(), "err", err)
		msg = "internal error"
	}
	return c.JSON(status, ErrorResponse{Error: msg, Code: code})
}

func invalidBody(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body", Code: CodeInvalidBody})
}

func validationFailed(c echo.Context, err error) error {
	return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
		Error:   "validation failed",
		Code:    CodeValidation,
		Details: ToFieldErrors(err),
	})
}
