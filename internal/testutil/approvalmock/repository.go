package approvalmock

import (
	"context"

	domain "signoff-backend/internal/domain/approval"
)

var _ domain.Repository = (*Repo)(nil)

// Repo is a function-backed mock that satisfies domain.Repository.
// Unset read funcs return context.Canceled so a missing stub fails loudly.
type Repo struct {
	RecordFn            func(ctx context.Context, a *domain.Approval) error
	ListBySubmissionFn  func(ctx context.Context, submissionRef uint64) ([]domain.Approval, error)
	ListBySubmissionsFn func(ctx context.Context, submissionRefs []uint64) (map[uint64][]domain.Approval, error)
}

func (m *Repo) Record(ctx context.Context, a *domain.Approval) error {
	if m.RecordFn != nil {
		return m.RecordFn(ctx, a)
	}
	return nil
}

func (m *Repo) ListBySubmission(ctx context.Context, submissionRef uint64) ([]domain.Approval, error) {
	if m.ListBySubmissionFn != nil {
		return m.ListBySubmissionFn(ctx, submissionRef)
	}
	return nil, context.Canceled
}

func (m *Repo) ListBySubmissions(ctx context.Context, submissionRefs []uint64) (map[uint64][]domain.Approval, error) {
	if m.ListBySubmissionsFn != nil {
		return m.ListBySubmissionsFn(ctx, submissionRefs)
	}
	return nil, context.Canceled
}
