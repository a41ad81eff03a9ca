package approval

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	domainApproval "signoff-backend/internal/domain/approval"
	"signoff-backend/internal/domain/event"
	"signoff-backend/internal/domain/lifecycle"
	"signoff-backend/internal/domain/role"
	domainSubmission "signoff-backend/internal/domain/submission"
	"signoff-backend/internal/domain/uow"
	"signoff-backend/internal/identity"
	"signoff-backend/pkg/id"
	"signoff-backend/pkg/retry"
)

const instrumentationName = "signoff-backend/internal/usecase/approval"

// RecomputeActor is stored as status_changed_by when a repair applies.
const RecomputeActor = "system:recompute"

var ErrNoSubscriber = errors.New("approval: change notifier not configured")

type Options struct {
	Subscriber event.Subscriber
	Retry      retry.Policy
	// Bounds one publish call; 5s when zero.
	PublishTimeout time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
}

// Usecase is the consensus engine. Every mutation of a submission runs under
// a per-submission lock (in-process) and a row lock (in the database), and its
// events are published before the lock is released, so observers see one
// submission's changes in commit order.
type Usecase struct {
	submissionRepo domainSubmission.Repository
	approvalRepo   domainApproval.Repository
	uow            uow.UnitOfWork
	pub            event.Publisher
	sub            event.Subscriber

	retry          retry.Policy
	publishTimeout time.Duration
	locks          *keyedMutex
	now            func() time.Time
	log            *slog.Logger

	tracer       trace.Tracer
	recorded     metric.Int64Counter
	transitions  metric.Int64Counter
	notifyFailed metric.Int64Counter
}

func NewUsecase(submissions domainSubmission.Repository, approvals domainApproval.Repository, tx uow.UnitOfWork, pub event.Publisher, opts Options) *Usecase {
	if pub == nil {
		pub = event.PublisherFunc(func(context.Context, ...event.ChangeEvent) error { return nil })
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	meter := otel.Meter(instrumentationName)
	return &Usecase{
		submissionRepo: submissions,
		approvalRepo:   approvals,
		uow:            tx,
		pub:            pub,
		sub:            opts.Subscriber,
		retry:          opts.Retry,
		publishTimeout: opts.PublishTimeout,
		locks:          newKeyedMutex(),
		now:            opts.Now,
		log:            opts.Logger.With("component", "consensus"),
		tracer:         otel.Tracer(instrumentationName),
		recorded:       counter(meter, "signoff.approvals.recorded", "Approval records appended to the ledger"),
		transitions:    counter(meter, "signoff.status.transitions", "Submission status changes"),
		notifyFailed:   counter(meter, "signoff.notifications.failed", "Change notifications that could not be published"),
	}
}

func counter(m metric.Meter, name, desc string) metric.Int64Counter {
	c, err := m.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		c, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter(name)
	}
	return c
}

func (u *Usecase) SubmitApproval(ctx context.Context, in SubmitApprovalInput) (*SubmitResult, error) {
	ctx, span := u.tracer.Start(ctx, "consensus.SubmitApproval", trace.WithAttributes(
		attribute.String("submission.id", in.SubmissionID),
		attribute.String("participant.role", string(in.Participant.Role)),
	))
	defer span.End()

	if strings.TrimSpace(in.Participant.ID) == "" {
		return nil, fail(span, identity.ErrUnauthenticated)
	}

	if !id.Valid(in.SubmissionID) {
		return nil, fail(span, domainSubmission.ErrNotFound)
	}
	unlock, err := u.locks.Lock(ctx, in.SubmissionID)
	if err != nil {
		return nil, fail(span, err)
	}
	defer unlock()

	var (
		res    *SubmitResult
		events []event.ChangeEvent
	)
	err = retry.Do(ctx, u.retry, func(ctx context.Context) error {
		return u.uow.WithinSubmissionTx(ctx, in.SubmissionID, func(r uow.Repos, s *domainSubmission.Submission) error {
			if s.Status.Terminal() {
				return domainSubmission.ErrSubmissionLocked
			}
			if !in.Participant.Role.Valid() {
				return role.ErrRoleMismatch
			}

			now := u.now().UTC()
			a := &domainApproval.Approval{
				ApprovalID:      id.New(),
				SubmissionRef:   s.ID,
				ParticipantID:   in.Participant.ID,
				ParticipantName: in.Participant.Name,
				Role:            in.Participant.Role,
				Comment:         trimmed(in.Comment),
				SignedAt:        now,
			}
			if err := r.Approvals.Record(ctx, a); err != nil {
				if errors.Is(err, domainApproval.ErrDuplicateApproval) {
					return domainApproval.ErrAlreadySigned
				}
				return err
			}

			records, err := r.Approvals.ListBySubmission(ctx, s.ID)
			if err != nil {
				return err
			}
			tr, err := lifecycle.Next(s.Status, records)
			if err != nil {
				return err
			}
			if tr.Changed() {
				s.MarkStatus(tr.To, in.Participant.ID, now)
				if err := r.Submissions.Save(ctx, s); err != nil {
					return err
				}
			}

			evs := []event.ChangeEvent{event.ApprovalRecorded(s.SubmissionID, a.Role, a.ParticipantID, now)}
			if tr.Changed() {
				evs = append(evs, event.StatusChanged(s.SubmissionID, tr.From, tr.To, now))
			}
			events = evs
			res = &SubmitResult{
				Approval:       toDTO(s.SubmissionID, *a),
				PreviousStatus: tr.From,
				Status:         tr.To,
				SignedRoles:    lifecycle.SignedRoles(records).Sorted(),
			}
			return nil
		})
	})
	if err != nil {
		return nil, fail(span, err)
	}

	u.recorded.Add(ctx, 1, metric.WithAttributes(attribute.String("role", string(res.Approval.Role))))
	if res.PreviousStatus != res.Status {
		u.countTransition(ctx, res.PreviousStatus, res.Status)
	}
	u.log.Info("approval recorded",
		"submission_id", in.SubmissionID,
		"participant_id", in.Participant.ID,
		"role", res.Approval.Role,
		"status", res.Status)
	u.publish(ctx, events)
	return res, nil
}

// RejectSubmission moves a non-terminal submission straight to REJECTED.
// It writes no ledger record.
func (u *Usecase) RejectSubmission(ctx context.Context, in RejectInput) (*domainSubmission.Submission, error) {
	ctx, span := u.tracer.Start(ctx, "consensus.RejectSubmission", trace.WithAttributes(
		attribute.String("submission.id", in.SubmissionID),
		attribute.String("participant.role", string(in.Participant.Role)),
	))
	defer span.End()

	if strings.TrimSpace(in.Participant.ID) == "" {
		return nil, fail(span, identity.ErrUnauthenticated)
	}

	if !id.Valid(in.SubmissionID) {
		return nil, fail(span, domainSubmission.ErrNotFound)
	}
	unlock, err := u.locks.Lock(ctx, in.SubmissionID)
	if err != nil {
		return nil, fail(span, err)
	}
	defer unlock()

	var (
		out *domainSubmission.Submission
		tr  lifecycle.Transition
	)
	err = retry.Do(ctx, u.retry, func(ctx context.Context) error {
		return u.uow.WithinSubmissionTx(ctx, in.SubmissionID, func(r uow.Repos, s *domainSubmission.Submission) error {
			if !in.Participant.Role.Valid() {
				return role.ErrRoleMismatch
			}
			t, err := lifecycle.Reject(s.Status)
			if err != nil {
				return err
			}
			s.MarkStatus(t.To, in.Participant.ID, u.now())
			s.RejectionReason = trimmed(in.Reason)
			if err := r.Submissions.Save(ctx, s); err != nil {
				return err
			}
			tr, out = t, s
			return nil
		})
	})
	if err != nil {
		return nil, fail(span, err)
	}

	u.countTransition(ctx, tr.From, tr.To)
	u.log.Info("submission rejected",
		"submission_id", in.SubmissionID,
		"participant_id", in.Participant.ID,
		"role", in.Participant.Role,
		"from", tr.From)
	u.publish(ctx, []event.ChangeEvent{event.StatusChanged(out.SubmissionID, tr.From, tr.To, *out.StatusChangedAt)})
	return out, nil
}

func (u *Usecase) GetApprovals(ctx context.Context, submissionID string) (Approvals, error) {
	ctx, span := u.tracer.Start(ctx, "consensus.GetApprovals", trace.WithAttributes(
		attribute.String("submission.id", submissionID),
	))
	defer span.End()

	if !id.Valid(submissionID) {
		return nil, fail(span, domainSubmission.ErrNotFound)
	}
	s, err := u.submissionRepo.GetBySubmissionID(ctx, submissionID)
	if err != nil {
		return nil, fail(span, err)
	}
	records, err := u.approvalRepo.ListBySubmission(ctx, s.ID)
	if err != nil {
		return nil, fail(span, err)
	}
	return Group(s.SubmissionID, records), nil
}

// Recompute re-derives the status from the ledger and reports drift. With
// apply, a drifted non-terminal submission is corrected and the change
// published. Terminal statuses are never rewritten.
func (u *Usecase) Recompute(ctx context.Context, submissionID string, apply bool) (*RecomputeResult, error) {
	ctx, span := u.tracer.Start(ctx, "consensus.Recompute", trace.WithAttributes(
		attribute.String("submission.id", submissionID),
		attribute.Bool("apply", apply),
	))
	defer span.End()

	if !id.Valid(submissionID) {
		return nil, fail(span, domainSubmission.ErrNotFound)
	}
	unlock, err := u.locks.Lock(ctx, submissionID)
	if err != nil {
		return nil, fail(span, err)
	}
	defer unlock()

	var (
		res    *RecomputeResult
		events []event.ChangeEvent
	)
	err = retry.Do(ctx, u.retry, func(ctx context.Context) error {
		events = nil
		return u.uow.WithinSubmissionTx(ctx, submissionID, func(r uow.Repos, s *domainSubmission.Submission) error {
			records, err := r.Approvals.ListBySubmission(ctx, s.ID)
			if err != nil {
				return err
			}
			derived := lifecycle.Derive(records)
			res = &RecomputeResult{
				SubmissionID: s.SubmissionID,
				Stored:       s.Status,
				Derived:      derived,
				// REJECTED never comes from the ledger
				Drift: s.Status != domainSubmission.StatusRejected && derived != s.Status,
			}
			if !res.Drift || !apply || s.Status.Terminal() {
				return nil
			}
			now := u.now().UTC()
			from := s.Status
			s.MarkStatus(derived, RecomputeActor, now)
			if err := r.Submissions.Save(ctx, s); err != nil {
				return err
			}
			res.Applied = true
			events = []event.ChangeEvent{event.StatusChanged(s.SubmissionID, from, derived, now)}
			return nil
		})
	})
	if err != nil {
		return nil, fail(span, err)
	}
	if res.Drift {
		u.log.Warn("status drift", "submission_id", submissionID,
			"stored", res.Stored, "derived", res.Derived, "applied", res.Applied)
	}
	if res.Applied {
		u.countTransition(ctx, res.Stored, res.Derived)
		u.publish(ctx, events)
	}
	return res, nil
}

// Subscribe opens a change stream. A single-submission scope must name an
// existing submission by its canonical id.
func (u *Usecase) Subscribe(ctx context.Context, scope event.Scope) (event.Stream, error) {
	if u.sub == nil {
		return nil, ErrNoSubscriber
	}
	if !scope.All() {
		// ids are stored canonical; a case variant could pass a case-insensitive
		// lookup yet never match the scope
		if !id.Valid(scope.SubmissionID) {
			return nil, domainSubmission.ErrNotFound
		}
		if _, err := u.submissionRepo.GetBySubmissionID(ctx, scope.SubmissionID); err != nil {
			return nil, err
		}
	}
	return u.sub.Subscribe(ctx, scope)
}

// publish is best-effort: the committed write stands whatever happens here.
func (u *Usecase) publish(ctx context.Context, events []event.ChangeEvent) {
	if len(events) == 0 {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.publishTimeout)
	defer cancel()
	if err := u.pub.Publish(pctx, events...); err != nil {
		u.notifyFailed.Add(ctx, 1)
		trace.SpanFromContext(ctx).AddEvent("publish failed", trace.WithAttributes(attribute.String("error", err.Error())))
		u.log.Warn("change notification failed",
			"submission_id", events[0].SubmissionID,
			"events", len(events),
			"err", err)
	}
}

func (u *Usecase) countTransition(ctx context.Context, from, to domainSubmission.Status) {
	u.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
