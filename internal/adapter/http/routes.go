package http

import (
	"log/slog"

	"github.com/labstack/echo/v4"
)

type Routes struct {
	Health      *Handler
	Submissions *SubmissionHandler
	Approvals   *ApprovalHandler
	Events      *EventsHandler
	// Resolves the caller on every route but /health.
	Auth echo.MiddlewareFunc
	// Applied to mutating routes only; nil skips it.
	Mutating []echo.MiddlewareFunc
	// Receives unexpected handler failures; defaults to slog.Default().
	Logger *slog.Logger
}

func Register(e *echo.Echo, r Routes) {
	e.GET("/health", r.Health.Health)

	log := r.Logger
	if log == nil {
		log = slog.Default()
	}
	api := e.Group("", withLogger(log.With("component", "http")))
	if r.Auth != nil {
		api.Use(r.Auth)
	}
	write := r.Mutating

	api.POST("/submissions", r.Submissions.CreateSubmission, write...)
	api.GET("/submissions", r.Submissions.ListSubmissions)
	api.GET("/submissions/:submission_id", r.Submissions.GetSubmission)
	api.PATCH("/submissions/:submission_id/tracking-link", r.Submissions.UpdateTrackingLink, write...)

	api.POST("/submissions/:submission_id/approvals", r.Approvals.SubmitApproval, write...)
	api.GET("/submissions/:submission_id/approvals", r.Approvals.ListApprovals)
	api.POST("/submissions/:submission_id/reject", r.Approvals.RejectSubmission, write...)

	api.GET("/events", r.Events.StreamAll)
	api.GET("/submissions/:submission_id/events", r.Events.StreamSubmission)
}
