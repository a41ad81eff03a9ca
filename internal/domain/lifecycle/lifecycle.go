// Package lifecycle derives a submission's status from its approval records.
//
// Derivation depends only on the set of distinct roles that signed, so it is
// order-independent and can be re-run at any time to repair or audit a row.
// REJECTED is never derived; it only comes from an explicit Reject.
package lifecycle

import (
	"signoff-backend/internal/domain/approval"
	"signoff-backend/internal/domain/role"
	"signoff-backend/internal/domain/submission"
)

type Transition struct {
	From submission.Status
	To   submission.Status
}

func (t Transition) Changed() bool { return t.From != t.To }

func SignedRoles(records []approval.Approval) role.Set {
	s := role.NewSet()
	for _, r := range records {
		s.Add(r.Role)
	}
	return s
}

// Derive maps the signed-role set to PENDING, IN_REVIEW or APPROVED.
func Derive(records []approval.Approval) submission.Status {
	signed := SignedRoles(records)
	switch {
	case signed.Complete():
		return submission.StatusApproved
	case signed.Len() > 0:
		return submission.StatusInReview
	default:
		return submission.StatusPending
	}
}

// Next recomputes the status of a non-terminal submission from its full record set.
func Next(current submission.Status, records []approval.Approval) (Transition, error) {
	if current.Terminal() {
		return Transition{From: current, To: current}, submission.ErrSubmissionLocked
	}
	return Transition{From: current, To: Derive(records)}, nil
}

// Reject moves any non-terminal status to REJECTED, whatever the approval count.
func Reject(current submission.Status) (Transition, error) {
	if current.Terminal() {
		return Transition{From: current, To: current}, submission.ErrSubmissionLocked
	}
	return Transition{From: current, To: submission.StatusRejected}, nil
}
