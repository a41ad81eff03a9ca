package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	approvalUC "signoff-backend/internal/usecase/approval"
)

type ApprovalHandler struct{ uc *approvalUC.Usecase }

func NewApprovalHandler(uc *approvalUC.Usecase) *ApprovalHandler { return &ApprovalHandler{uc: uc} }

type submitApprovalReq struct {
	Comment *string `json:"comment" validate:"omitempty,max=2000"`
}

type rejectReq struct {
	Reason *string `json:"reason" validate:"omitempty,max=2000"`
}

func (h *ApprovalHandler) SubmitApproval(c echo.Context) error {
	p, err := participant(c)
	if err != nil {
		return writeError(c, err)
	}
	sid, ok := submissionIDParam(c)
	if !ok {
		return nil
	}
	var req submitApprovalReq
	if !bind(c, &req) {
		return nil
	}
	res, err := h.uc.SubmitApproval(c.Request().Context(), approvalUC.SubmitApprovalInput{
		SubmissionID: sid,
		Participant:  p,
		Comment:      req.Comment,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *ApprovalHandler) ListApprovals(c echo.Context) error {
	sid, ok := submissionIDParam(c)
	if !ok {
		return nil
	}
	out, err := h.uc.GetApprovals(c.Request().Context(), sid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"submission_id": sid, "approvals": out})
}

func (h *ApprovalHandler) RejectSubmission(c echo.Context) error {
	p, err := participant(c)
	if err != nil {
		return writeError(c, err)
	}
	sid, ok := submissionIDParam(c)
	if !ok {
		return nil
	}
	var req rejectReq
	if !bind(c, &req) {
		return nil
	}
	s, err := h.uc.RejectSubmission(c.Request().Context(), approvalUC.RejectInput{
		SubmissionID: sid,
		Participant:  p,
		Reason:       req.Reason,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, s)
}
