package gormrepo

import (
	"context"

	"gorm.io/gorm"

	"signoff-backend/internal/domain/submission"
	"signoff-backend/internal/domain/uow"
)

type GormUoW struct{ db *gorm.DB }

func NewGormUoW(db *gorm.DB) *GormUoW { return &GormUoW{db: db} }

var _ uow.UnitOfWork = (*GormUoW)(nil)

func reposFor(tx *gorm.DB) uow.Repos {
	return uow.Repos{
		Submissions: &SubmissionRepository{db: tx},
		Approvals:   &ApprovalRepository{db: tx},
	}
}

func (u *GormUoW) WithinSubmissionTx(ctx context.Context, submissionID string, fn func(r uow.Repos, s *submission.Submission) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := reposFor(tx)
		// lock the submission row up-front so concurrent calls for it serialize
		s, err := r.Submissions.GetBySubmissionIDForUpdate(ctx, submissionID)
		if err != nil {
			return err
		}
		return fn(r, s)
	})
}
