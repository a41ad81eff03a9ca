package event

import (
	"context"
	"time"

	"signoff-backend/internal/domain/role"
	"signoff-backend/internal/domain/submission"
)

type Kind string

const (
	KindApprovalRecorded  Kind = "approval_recorded"
	KindStatusChanged     Kind = "status_changed"
	KindSubmissionCreated Kind = "submission_created"
)

// ChangeEvent is one lifecycle or ledger mutation. Only the fields of its Kind are set.
type ChangeEvent struct {
	Kind          Kind              `json:"kind"`
	SubmissionID  string            `json:"submission_id"`
	Role          role.Role         `json:"role,omitempty"`
	ParticipantID string            `json:"participant_id,omitempty"`
	OldStatus     submission.Status `json:"old_status,omitempty"`
	NewStatus     submission.Status `json:"new_status,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

func ApprovalRecorded(submissionID string, r role.Role, participantID string, at time.Time) ChangeEvent {
	return ChangeEvent{Kind: KindApprovalRecorded, SubmissionID: submissionID, Role: r, ParticipantID: participantID, OccurredAt: at.UTC()}
}

func StatusChanged(submissionID string, from, to submission.Status, at time.Time) ChangeEvent {
	return ChangeEvent{Kind: KindStatusChanged, SubmissionID: submissionID, OldStatus: from, NewStatus: to, OccurredAt: at.UTC()}
}

func SubmissionCreated(submissionID string, at time.Time) ChangeEvent {
	return ChangeEvent{Kind: KindSubmissionCreated, SubmissionID: submissionID, OccurredAt: at.UTC()}
}

// Scope selects which events a subscription receives.
type Scope struct {
	// Empty means every submission.
	SubmissionID string
}

func AllSubmissions() Scope { return Scope{} }

func ForSubmission(id string) Scope { return Scope{SubmissionID: id} }

func (s Scope) All() bool { return s.SubmissionID == "" }

func (s Scope) Matches(ev ChangeEvent) bool {
	return s.All() || s.SubmissionID == ev.SubmissionID
}

func (s Scope) String() string {
	if s.All() {
		return "all"
	}
	return "submission:" + s.SubmissionID
}

// Publisher emits events. A single call is one emission; events of the same
// submission must be delivered in the order given.
type Publisher interface {
	Publish(ctx context.Context, events ...ChangeEvent) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, events ...ChangeEvent) error

func (f PublisherFunc) Publish(ctx context.Context, events ...ChangeEvent) error {
	return f(ctx, events...)
}

// Stream is one live subscription. Events is closed when it ends; Err then
// says why (nil when the observer cancelled).
type Stream interface {
	Events() <-chan ChangeEvent
	Err() error
	Cancel()
}

type Subscriber interface {
	Subscribe(ctx context.Context, scope Scope) (Stream, error)
}
