package submission

import "context"

type ListFilter struct {
	// Empty means every status.
	Status Status
	Limit  int
}

type Repository interface {
	Create(ctx context.Context, s *Submission) error
	GetBySubmissionID(ctx context.Context, submissionID string) (*Submission, error)
	// Locks the row until the surrounding transaction ends (where the dialect supports it).
	GetBySubmissionIDForUpdate(ctx context.Context, submissionID string) (*Submission, error)
	// Newest first.
	List(ctx context.Context, f ListFilter) ([]Submission, error)
	Save(ctx context.Context, s *Submission) error
}
