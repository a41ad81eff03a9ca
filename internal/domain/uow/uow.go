package uow

import (
	"context"

	"signoff-backend/internal/domain/approval"
	"signoff-backend/internal/domain/submission"
)

// Repos are bound to the transaction of the enclosing UnitOfWork call.
type Repos struct {
	Submissions submission.Repository
	Approvals   approval.Repository
}

type UnitOfWork interface {
	// lock the submission row first, then pass it in; submission.ErrNotFound if absent
	WithinSubmissionTx(ctx context.Context, submissionID string, fn func(r Repos, s *submission.Submission) error) error
}
