package uowmock

import (
	"context"
	"errors"
	"sync/atomic"

	"signoff-backend/internal/domain/submission"
	"signoff-backend/internal/domain/uow"
)

var _ uow.UnitOfWork = (*UoW)(nil)

var errUnimplemented = errors.New("uowmock: method not implemented")

// UoW is a function-backed uow.UnitOfWork. Unset fields return errUnimplemented.
// Txs counts every call, set or not.
type UoW struct {
	WithinSubmissionTxFn func(ctx context.Context, submissionID string, fn func(r uow.Repos, s *submission.Submission) error) error

	Txs atomic.Int32
}

func New() *UoW { return &UoW{} }

func (m *UoW) WithinSubmissionTx(ctx context.Context, submissionID string, fn func(r uow.Repos, s *submission.Submission) error) error {
	m.Txs.Add(1)
	if m.WithinSubmissionTxFn == nil {
		return errUnimplemented
	}
	return m.WithinSubmissionTxFn(ctx, submissionID, fn)
}

// Passthrough runs callbacks straight against repos with no transaction.
// It loads the submission through GetBySubmissionIDForUpdate
// the way the GORM unit of work does.
func Passthrough(repos uow.Repos) *UoW {
	return &UoW{
		WithinSubmissionTxFn: func(ctx context.Context, submissionID string, fn func(uow.Repos, *submission.Submission) error) error {
			s, err := repos.Submissions.GetBySubmissionIDForUpdate(ctx, submissionID)
			if err != nil {
				return err
			}
			return fn(repos, s)
		},
	}
}
