package approval

import (
	"time"

	domainApproval "signoff-backend/internal/domain/approval"
	"signoff-backend/internal/domain/role"
	"signoff-backend/internal/domain/submission"
	"signoff-backend/internal/identity"
)

type SubmitApprovalInput struct {
	SubmissionID string
	Participant  identity.Participant
	Comment      *string
}

type RejectInput struct {
	SubmissionID string
	Participant  identity.Participant
	Reason       *string
}

type ApprovalDTO struct {
	ApprovalID      string    `json:"approval_id"`
	SubmissionID    string    `json:"submission_id"`
	ParticipantID   string    `json:"participant_id"`
	ParticipantName string    `json:"participant_name,omitempty"`
	Role            role.Role `json:"role"`
	RoleLabel       string    `json:"role_label"`
	Comment         *string   `json:"comment,omitempty"`
	SignedAt        time.Time `json:"signed_at"`
}

// Approvals maps every role to its records in signing order.
type Approvals map[role.Role][]ApprovalDTO

type SubmitResult struct {
	Approval       ApprovalDTO       `json:"approval"`
	PreviousStatus submission.Status `json:"previous_status"`
	Status         submission.Status `json:"status"`
	SignedRoles    []role.Role       `json:"signed_roles"`
}

type RecomputeResult struct {
	SubmissionID string            `json:"submission_id"`
	Stored       submission.Status `json:"stored"`
	Derived      submission.Status `json:"derived"`
	// Drift is true when the stored status disagrees with the ledger.
	Drift   bool `json:"drift"`
	Applied bool `json:"applied"`
}

func toDTO(submissionID string, a domainApproval.Approval) ApprovalDTO {
	return ApprovalDTO{
		ApprovalID:      a.ApprovalID,
		SubmissionID:    submissionID,
		ParticipantID:   a.ParticipantID,
		ParticipantName: a.ParticipantName,
		Role:            a.Role,
		RoleLabel:       a.Role.Label(),
		Comment:         a.Comment,
		SignedAt:        a.SignedAt.UTC(),
	}
}

// Group converts ledger records into Approvals.
func Group(submissionID string, records []domainApproval.Approval) Approvals {
	out := make(Approvals, len(role.All()))
	for r, recs := range domainApproval.GroupByRole(records) {
		dtos := make([]ApprovalDTO, 0, len(recs))
		for _, a := range recs {
			dtos = append(dtos, toDTO(submissionID, a))
		}
		out[r] = dtos
	}
	return out
}
