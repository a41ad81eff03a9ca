package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	domainApproval "signoff-backend/internal/domain/approval"
	"signoff-backend/internal/domain/event"
	"signoff-backend/internal/domain/lifecycle"
	"signoff-backend/internal/domain/role"
	domainSubmission "signoff-backend/internal/domain/submission"
	"signoff-backend/internal/domain/uow"
	"signoff-backend/internal/identity"
	approvalUC "signoff-backend/internal/usecase/approval"
	"signoff-backend/pkg/id"
	"signoff-backend/pkg/retry"
)

const (
	MinTitleLen      = 5
	DefaultListLimit = 100
	MaxListLimit     = 500
)

var ErrInvalidInput = errors.New("submission: invalid input")

type Options struct {
	Retry retry.Policy
	// bounds each change notification; defaults to 5s
	PublishTimeout time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
}

type Usecase struct {
	repo         domainSubmission.Repository
	approvalRepo domainApproval.Repository
	uow          uow.UnitOfWork
	pub          event.Publisher
	retry        retry.Policy
	pubTimeout   time.Duration
	now          func() time.Time
	log          *slog.Logger
}

func NewUsecase(r domainSubmission.Repository, approvals domainApproval.Repository, tx uow.UnitOfWork, pub event.Publisher, opts Options) *Usecase {
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
	return &Usecase{
		repo:         r,
		approvalRepo: approvals,
		uow:          tx,
		pub:          pub,
		retry:        opts.Retry,
		pubTimeout:   opts.PublishTimeout,
		now:          opts.Now,
		log:          opts.Logger.With("component", "submissions"),
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Create opens a PENDING submission. Only the originator role may create.
func (u *Usecase) Create(ctx context.Context, in CreateInput) (*SubmissionDTO, error) {
	if strings.TrimSpace(in.Originator.ID) == "" {
		return nil, identity.ErrUnauthenticated
	}
	if in.Originator.Role != role.Originator {
		return nil, role.ErrRoleMismatch
	}
	title := strings.TrimSpace(in.Title)
	if utf8.RuneCountInString(title) < MinTitleLen {
		return nil, invalid("title must be at least %d characters", MinTitleLen)
	}
	artifact := strings.TrimSpace(in.ArtifactRef)
	if artifact == "" {
		return nil, invalid("artifact_ref is required")
	}
	link, err := normalizeLink(in.TrackingLink)
	if err != nil {
		return nil, err
	}

	s := &domainSubmission.Submission{
		SubmissionID: id.New(),
		Title:        title,
		Description:  strings.TrimSpace(in.Description),
		ArtifactRef:  artifact,
		ArtifactName: strings.TrimSpace(in.ArtifactName),
		TrackingLink: link,
		Status:       domainSubmission.StatusPending,
		CreatedBy:    in.Originator.ID,
	}
	err = retry.Do(ctx, u.retry, func(ctx context.Context) error {
		s.ID = 0
		return u.repo.Create(ctx, s)
	})
	if err != nil {
		return nil, err
	}

	u.log.Info("submission created", "submission_id", s.SubmissionID, "created_by", s.CreatedBy)
	u.publish(ctx, event.SubmissionCreated(s.SubmissionID, u.now()))
	dto := toDTO(s, role.NewSet())
	return &dto, nil
}

// Get returns the submission with its approvals grouped by role.
func (u *Usecase) Get(ctx context.Context, submissionID string) (*SubmissionDTO, error) {
	if !id.Valid(submissionID) {
		return nil, domainSubmission.ErrNotFound
	}
	s, err := u.repo.GetBySubmissionID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	records, err := u.approvalRepo.ListBySubmission(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	dto := toDTO(s, lifecycle.SignedRoles(records))
	dto.Approvals = approvalUC.Group(s.SubmissionID, records)
	return &dto, nil
}

// List is newest first, with each submission's signed roles.
func (u *Usecase) List(ctx context.Context, in ListInput) ([]SubmissionDTO, error) {
	f := domainSubmission.ListFilter{Limit: in.Limit}
	if in.Status != "" {
		st := domainSubmission.Status(strings.ToUpper(strings.TrimSpace(in.Status)))
		if !st.Valid() {
			return nil, invalid("unknown status %q", in.Status)
		}
		f.Status = st
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultListLimit
	case f.Limit > MaxListLimit:
		f.Limit = MaxListLimit
	}

	rows, err := u.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	refs := make([]uint64, 0, len(rows))
	for _, s := range rows {
		refs = append(refs, s.ID)
	}
	byRef, err := u.approvalRepo.ListBySubmissions(ctx, refs)
	if err != nil {
		return nil, err
	}
	out := make([]SubmissionDTO, 0, len(rows))
	for i := range rows {
		out = append(out, toDTO(&rows[i], lifecycle.SignedRoles(byRef[rows[i].ID])))
	}
	return out, nil
}

// UpdateTrackingLink sets or clears (nil) the link while the submission is
// still open. Approved and rejected submissions are frozen and report
// ErrSubmissionLocked. The lifecycle is not touched.
func (u *Usecase) UpdateTrackingLink(ctx context.Context, submissionID string, p identity.Participant, link *string) (*SubmissionDTO, error) {
	if p.Role != role.Originator {
		return nil, role.ErrRoleMismatch
	}
	if !id.Valid(submissionID) {
		return nil, domainSubmission.ErrNotFound
	}
	normalized, err := normalizeLink(link)
	if err != nil {
		return nil, err
	}

	var (
		out     *domainSubmission.Submission
		records []domainApproval.Approval
	)
	err = retry.Do(ctx, u.retry, func(ctx context.Context) error {
		return u.uow.WithinSubmissionTx(ctx, submissionID, func(r uow.Repos, s *domainSubmission.Submission) error {
			if s.Status.Terminal() {
				return domainSubmission.ErrSubmissionLocked
			}
			s.TrackingLink = normalized
			if err := r.Submissions.Save(ctx, s); err != nil {
				return err
			}
			recs, err := r.Approvals.ListBySubmission(ctx, s.ID)
			if err != nil {
				return err
			}
			out, records = s, recs
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	u.log.Info("tracking link updated", "submission_id", submissionID, "participant_id", p.ID, "cleared", normalized == nil)
	dto := toDTO(out, lifecycle.SignedRoles(records))
	return &dto, nil
}

// publish outlives the request but not the timeout. Failures are logged only;
// the write has already committed.
func (u *Usecase) publish(ctx context.Context, events ...event.ChangeEvent) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.pubTimeout)
	defer cancel()
	if err := u.pub.Publish(pctx, events...); err != nil {
		u.log.Warn("change notification failed", "submission_id", events[0].SubmissionID, "err", err)
	}
}

func normalizeLink(link *string) (*string, error) {
	if link == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*link)
	if v == "" {
		return nil, nil
	}
	parsed, err := url.ParseRequestURI(v)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, invalid("tracking_link must be an absolute http(s) URL")
	}
	return &v, nil
}
