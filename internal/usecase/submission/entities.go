package submission

import (
	"time"

	"signoff-backend/internal/domain/role"
	domainSubmission "signoff-backend/internal/domain/submission"
	"signoff-backend/internal/identity"
	approvalUC "signoff-backend/internal/usecase/approval"
)

type CreateInput struct {
	Title        string
	Description  string
	ArtifactRef  string
	ArtifactName string
	TrackingLink *string
	Originator   identity.Participant
}

type ListInput struct {
	// Empty means every status.
	Status string
	Limit  int
}

type SubmissionDTO struct {
	SubmissionID    string                  `json:"submission_id"`
	Title           string                  `json:"title"`
	Description     string                  `json:"description,omitempty"`
	ArtifactRef     string                  `json:"artifact_ref"`
	ArtifactName    string                  `json:"artifact_name,omitempty"`
	TrackingLink    *string                 `json:"tracking_link,omitempty"`
	Status          domainSubmission.Status `json:"status"`
	StatusChangedAt *time.Time              `json:"status_changed_at,omitempty"`
	StatusChangedBy *string                 `json:"status_changed_by,omitempty"`
	RejectionReason *string                 `json:"rejection_reason,omitempty"`
	CreatedBy       string                  `json:"created_by"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
	SignedRoles     []role.Role             `json:"signed_roles"`
	// Only set on single-submission reads.
	Approvals approvalUC.Approvals `json:"approvals,omitempty"`
}

func toDTO(s *domainSubmission.Submission, signed role.Set) SubmissionDTO {
	return SubmissionDTO{
		SubmissionID:    s.SubmissionID,
		Title:           s.Title,
		Description:     s.Description,
		ArtifactRef:     s.ArtifactRef,
		ArtifactName:    s.ArtifactName,
		TrackingLink:    s.TrackingLink,
		Status:          s.Status,
		StatusChangedAt: s.StatusChangedAt,
		StatusChangedBy: s.StatusChangedBy,
		RejectionReason: s.RejectionReason,
		CreatedBy:       s.CreatedBy,
		CreatedAt:       s.CreatedAt.UTC(),
		UpdatedAt:       s.UpdatedAt.UTC(),
		SignedRoles:     signed.Sorted(),
	}
}
