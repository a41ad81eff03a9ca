package approval

import "context"

type Repository interface {
	// Record appends a. The storage unique index on (submission, participant) is the
	// only duplicate guard: a second insert fails with ErrDuplicateApproval.
	// Fails with submission.ErrNotFound when the submission row does not exist.
	Record(ctx context.Context, a *Approval) error

	// Ordered by signed_at ascending, then insertion order.
	ListBySubmission(ctx context.Context, submissionRef uint64) ([]Approval, error)

	// Same ordering, keyed by submission ref; used for list summaries.
	ListBySubmissions(ctx context.Context, submissionRefs []uint64) (map[uint64][]Approval, error)
}
