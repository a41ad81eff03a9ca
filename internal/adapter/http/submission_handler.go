package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	submissionUC "signoff-backend/internal/usecase/submission"
)

type SubmissionHandler struct{ uc *submissionUC.Usecase }

func NewSubmissionHandler(uc *submissionUC.Usecase) *SubmissionHandler {
	return &SubmissionHandler{uc: uc}
}

type createSubmissionReq struct {
	Title        string  `json:"title"         validate:"required,notblank,min=5,max=200"`
	Description  string  `json:"description"   validate:"max=10000"`
	ArtifactRef  string  `json:"artifact_ref"  validate:"required,notblank,max=2048"`
	ArtifactName string  `json:"artifact_name" validate:"max=255"`
	TrackingLink *string `json:"tracking_link" validate:"omitempty,httpurl,max=2048"`
}

type trackingLinkReq struct {
	// null or "" clears the link
	TrackingLink *string `json:"tracking_link" validate:"omitempty,max=2048"`
}

func (h *SubmissionHandler) CreateSubmission(c echo.Context) error {
	p, err := participant(c)
	if err != nil {
		return writeError(c, err)
	}
	var req createSubmissionReq
	if !bind(c, &req) {
		return nil
	}
	dto, err := h.uc.Create(c.Request().Context(), submissionUC.CreateInput{
		Title:        req.Title,
		Description:  req.Description,
		ArtifactRef:  req.ArtifactRef,
		ArtifactName: req.ArtifactName,
		TrackingLink: req.TrackingLink,
		Originator:   p,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, dto)
}

func (h *SubmissionHandler) ListSubmissions(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
				Error:   "validation failed",
				Code:    CodeValidation,
				Details: []FieldError{{Field: "limit", Message: "must be a non-negative integer"}},
			})
		}
		limit = n
	}
	out, err := h.uc.List(c.Request().Context(), submissionUC.ListInput{
		Status: c.QueryParam("status"),
		Limit:  limit,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": out, "count": len(out)})
}

func (h *SubmissionHandler) GetSubmission(c echo.Context) error {
	sid, ok := submissionIDParam(c)
	if !ok {
		return nil
	}
	dto, err := h.uc.Get(c.Request().Context(), sid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

func (h *SubmissionHandler) UpdateTrackingLink(c echo.Context) error {
	p, err := participant(c)
	if err != nil {
		return writeError(c, err)
	}
	sid, ok := submissionIDParam(c)
	if !ok {
		return nil
	}
	var req trackingLinkReq
	if !bind(c, &req) {
		return nil
	}
	dto, err := h.uc.UpdateTrackingLink(c.Request().Context(), sid, p, req.TrackingLink)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}
