package submission

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("submission not found")
	// ErrSubmissionLocked is returned for any mutation against an APPROVED or REJECTED submission.
	ErrSubmissionLocked = errors.New("submission is locked")
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusInReview Status = "IN_REVIEW"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInReview, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal statuses have no outgoing transitions.
func (s Status) Terminal() bool { return s == StatusApproved || s == StatusRejected }

// Table: submissions. Rows are never deleted.
type Submission struct {
	ID           uint64  `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	SubmissionID string  `gorm:"column:submission_id;size:36;not null;uniqueIndex:ux_submissions_submission_id" json:"submission_id"`
	Title        string  `gorm:"column:title;size:200;not null" json:"title"`
	Description  string  `gorm:"column:description;type:text" json:"description"`
	ArtifactRef  string  `gorm:"column:artifact_ref;type:text;not null" json:"artifact_ref"`
	ArtifactName string  `gorm:"column:artifact_name;size:255" json:"artifact_name"`
	TrackingLink *string `gorm:"column:tracking_link;type:text" json:"tracking_link,omitempty"`
	// varchar rather than an enum so the same model migrates on mysql, postgres and sqlite
	Status          Status     `gorm:"column:status;size:16;not null;default:'PENDING';index:idx_submissions_status" json:"status"`
	StatusChangedAt *time.Time `gorm:"column:status_changed_at" json:"status_changed_at,omitempty"`
	StatusChangedBy *string    `gorm:"column:status_changed_by;size:64" json:"status_changed_by,omitempty"`
	RejectionReason *string    `gorm:"column:rejection_reason;type:text" json:"rejection_reason,omitempty"`
	CreatedBy       string     `gorm:"column:created_by;size:64;not null" json:"created_by"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Submission) TableName() string { return "submissions" }

// MarkStatus records a status change made by participantID at the given time.
func (s *Submission) MarkStatus(next Status, participantID string, at time.Time) {
	s.Status = next
	at = at.UTC()
	s.StatusChangedAt = &at
	by := participantID
	s.StatusChangedBy = &by
}
