package approval

import (
	"errors"
	"time"

	"signoff-backend/internal/domain/role"
)

var (
	// ErrDuplicateApproval is the ledger-level unique-index violation. The engine
	// never lets it escape; callers see ErrAlreadySigned instead.
	ErrDuplicateApproval = errors.New("approval: duplicate (submission, participant)")
	ErrAlreadySigned     = errors.New("participant already signed this submission")
)

// Table: approvals. Append-only; one row per (submission, participant).
type Approval struct {
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// Public identifier (uuid)
	ApprovalID string `gorm:"column:approval_id;size:36;not null;uniqueIndex:ux_approvals_approval_id"`
	// FK to submissions.id
	SubmissionRef   uint64 `gorm:"column:submission_id;not null;uniqueIndex:ux_approvals_submission_participant,priority:1;index:idx_approvals_submission_signed,priority:1"`
	ParticipantID   string `gorm:"column:participant_id;size:64;not null;uniqueIndex:ux_approvals_submission_participant,priority:2"`
	ParticipantName string `gorm:"column:participant_name;size:200"`
	// Role held when signing; later role changes do not rewrite history.
	Role     role.Role `gorm:"column:role;size:16;not null"`
	Comment  *string   `gorm:"column:comment;type:text"`
	SignedAt time.Time `gorm:"column:signed_at;not null;index:idx_approvals_submission_signed,priority:2"`
}

func (Approval) TableName() string { return "approvals" }

// GroupByRole buckets records per role keeping their order. Every role has a key.
func GroupByRole(records []Approval) map[role.Role][]Approval {
	out := make(map[role.Role][]Approval, len(role.All()))
	for _, r := range role.All() {
		out[r] = []Approval{}
	}
	for _, a := range records {
		if _, ok := out[a.Role]; ok {
			out[a.Role] = append(out[a.Role], a)
		}
	}
	return out
}
