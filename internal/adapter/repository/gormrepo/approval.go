package gormrepo

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	approvalDomain "signoff-backend/internal/domain/approval"
	submissionDomain "signoff-backend/internal/domain/submission"
)

// ApprovalRepository is the approval ledger. It only ever inserts.
type ApprovalRepository struct{ db *gorm.DB }

func NewApprovalRepository(db *gorm.DB) *ApprovalRepository { return &ApprovalRepository{db: db} }

func (r *ApprovalRepository) Record(ctx context.Context, a *approvalDomain.Approval) error {
	var n int64
	if err := r.db.WithContext(ctx).
		Model(&submissionDomain.Submission{}).
		Where("id = ?", a.SubmissionRef).
		Count(&n).Error; err != nil {
		return fmt.Errorf("ledger: check submission: %w", err)
	}
	if n == 0 {
		return submissionDomain.ErrNotFound
	}
	// No existence check for the participant: the unique index decides.
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		if IsUniqueViolation(err) {
			return approvalDomain.ErrDuplicateApproval
		}
		return fmt.Errorf("ledger: insert approval: %w", err)
	}
	return nil
}

func (r *ApprovalRepository) ListBySubmission(ctx context.Context, submissionRef uint64) ([]approvalDomain.Approval, error) {
	var out []approvalDomain.Approval
	err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionRef).
		Order("signed_at ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ApprovalRepository) ListBySubmissions(ctx context.Context, submissionRefs []uint64) (map[uint64][]approvalDomain.Approval, error) {
	out := make(map[uint64][]approvalDomain.Approval, len(submissionRefs))
	if len(submissionRefs) == 0 {
		return out, nil
	}
	var rows []approvalDomain.Approval
	err := r.db.WithContext(ctx).
		Where("submission_id IN ?", submissionRefs).
		Order("signed_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, a := range rows {
		out[a.SubmissionRef] = append(out[a.SubmissionRef], a)
	}
	return out, nil
}
