package approval

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"signoff-backend/internal/adapter/repository/gormrepo"
	domainApproval "signoff-backend/internal/domain/approval"
	"signoff-backend/internal/domain/event"
	"signoff-backend/internal/domain/role"
	domainSubmission "signoff-backend/internal/domain/submission"
	"signoff-backend/internal/identity"
	"signoff-backend/internal/infrastructure/pubsub"
	"signoff-backend/internal/testutil/dbtest"
	"signoff-backend/pkg/retry"
)

type engine struct {
	*Usecase
	db   *gorm.DB
	pub  *recorder
	subs *gormrepo.SubmissionRepository
}

func newEngine(t *testing.T) engine {
	t.Helper()
	db := dbtest.Open(t)
	subs := gormrepo.NewSubmissionRepository(db)
	pub := &recorder{}
	u := NewUsecase(subs, gormrepo.NewApprovalRepository(db), gormrepo.NewGormUoW(db), pub, Options{
		Retry: retry.Policy{MaxElapsed: 2 * time.Second, AttemptTimeout: 2 * time.Second, Transient: gormrepo.IsTransient},
	})
	return engine{Usecase: u, db: db, pub: pub, subs: subs}
}

func (e engine) create(t *testing.T) string {
	t.Helper()
	s := &domainSubmission.Submission{
		SubmissionID: uuid.NewString(),
		Title:        "Payments revamp",
		ArtifactRef:  "artifacts/payments.pdf",
		Status:       domainSubmission.StatusPending,
		CreatedBy:    "biz-0",
	}
	require.NoError(t, e.subs.Create(context.Background(), s))
	return s.SubmissionID
}

func (e engine) status(t *testing.T, id string) domainSubmission.Status {
	t.Helper()
	s, err := e.subs.GetBySubmissionID(context.Background(), id)
	require.NoError(t, err)
	return s.Status
}

func (e engine) records(t *testing.T, id string) int {
	t.Helper()
	got, err := e.GetApprovals(context.Background(), id)
	require.NoError(t, err)
	n := 0
	for _, recs := range got {
		n += len(recs)
	}
	return n
}

func (e engine) sign(ctx context.Context, id string, p identity.Participant) (*SubmitResult, error) {
	return e.SubmitApproval(ctx, SubmitApprovalInput{SubmissionID: id, Participant: p})
}

// Scenario A
func TestEngine_ThreeRolesApprove(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	id := e.create(t)
	assert.Equal(t, domainSubmission.StatusPending, e.status(t, id))

	res, err := e.sign(ctx, id, participant("tech-1", role.Tech))
	require.NoError(t, err)
	assert.Equal(t, domainSubmission.StatusInReview, res.Status)
	assert.Equal(t, []role.Role{role.Tech}, res.SignedRoles)

	res, err = e.sign(ctx, id, participant("prod-1", role.Product))
	require.NoError(t, err)
	assert.Equal(t, domainSubmission.StatusInReview, res.Status)
	assert.Equal(t, []role.Role{role.Tech, role.Product}, res.SignedRoles)

	res, err = e.sign(ctx, id, participant("biz-1", role.Business))
	require.NoError(t, err)
	assert.Equal(t, domainSubmission.StatusApproved, res.Status)
	assert.Equal(t, domainSubmission.StatusApproved, e.status(t, id))

	// one emission per mutation, status events only on change
	assert.Equal(t, 3, e.pub.emissions())
	var kinds []event.Kind
	for _, ev := range e.pub.all() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []event.Kind{
		event.KindApprovalRecorded, event.KindStatusChanged,
		event.KindApprovalRecorded,
		event.KindApprovalRecorded, event.KindStatusChanged,
	}, kinds)

	// locked afterwards
	_, err = e.sign(ctx, id, participant("tech-2", role.Tech))
	assert.ErrorIs(t, err, domainSubmission.ErrSubmissionLocked)
	assert.Equal(t, 3, e.records(t, id))
}

// Scenario B
func TestEngine_RejectLocksSubmission(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	id := e.create(t)

	_, err := e.sign(ctx, id, participant("tech-1", role.Tech))
	require.NoError(t, err)

	reason := "does not meet compliance"
	s, err := e.RejectSubmission(ctx, RejectInput{SubmissionID: id, Participant: participant("biz-1", role.Business), Reason: &reason})
	require.NoError(t, err)
	assert.Equal(t, domainSubmission.StatusRejected, s.Status)
	assert.Equal(t, domainSubmission.StatusRejected, e.status(t, id))

	_, err = e.sign(ctx, id, participant("prod-1", role.Product))
	assert.ErrorIs(t, err, domainSubmission.ErrSubmissionLocked)
	_, err = e.RejectSubmission(ctx, RejectInput{SubmissionID: id, Participant: participant("prod-1", role.Product)})
	assert.ErrorIs(t, err, domainSubmission.ErrSubmissionLocked)

	// rejection itself wrote no ledger record
	assert.Equal(t, 1, e.records(t, id))
}

func TestEngine_RejectWithZeroApprovals(t *testing.T) {
	e := newEngine(t)
	id := e.create(t)
	s, err := e.RejectSubmission(context.Background(), RejectInput{SubmissionID: id, Participant: participant("tech-1", role.Tech)})
	require.NoError(t, err)
	assert.Equal(t, domainSubmission.StatusRejected, s.Status)
	assert.Nil(t, s.RejectionReason)
}

// Scenario C
func TestEngine_DuplicateSignatureIsAlreadySigned(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	id := e.create(t)

	_, err := e.sign(ctx, id, participant("tech-1", role.Tech))
	require.NoError(t, err)
	before := e.pub.emissions()

	_, err = e.sign(ctx, id, participant("tech-1", role.Tech))
	require.ErrorIs(t, err, domainApproval.ErrAlreadySigned)
	assert.Equal(t, 1, e.records(t, id))
	assert.Equal(t, domainSubmission.StatusInReview, e.status(t, id))
	assert.Equal(t, before, e.pub.emissions(), "no emission for a failed call")
}

func TestEngine_ConcurrentDuplicateSubmits(t *testing.T) {
	e := newEngine(t)
	id := e.create(t)

	const n = 10
	results := make([]error, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			_, results[i] = e.sign(context.Background(), id, participant("tech-1", role.Tech))
			return nil
		})
	}
	require.NoError(t, g.Wait())

	ok, signed := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domainApproval.ErrAlreadySigned):
			signed++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, signed)
	assert.Equal(t, 1, e.records(t, id))
}

// Scenario D
func TestEngine_SameRoleParticipantsCountOnce(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	id := e.create(t)

	var g errgroup.Group
	for _, p := range []string{"tech-1", "tech-2"} {
		p := p
		g.Go(func() error {
			_, err := e.sign(ctx, id, participant(p, role.Tech))
			return err
		})
	}
	require.NoError(t, g.Wait(), "independent participants may both sign")
	assert.Equal(t, 2, e.records(t, id))
	assert.Equal(t, domainSubmission.StatusInReview, e.status(t, id))

	_, err := e.sign(ctx, id, participant("prod-1", role.Product))
	require.NoError(t, err)
	assert.Equal(t, domainSubmission.StatusInReview, e.status(t, id), "four records, two roles")

	_, err = e.sign(ctx, id, participant("biz-1", role.Business))
	require.NoError(t, err)
	assert.Equal(t, domainSubmission.StatusApproved, e.status(t, id))
}

func TestEngine_ConcurrentRolesApproveExactlyOnce(t *testing.T) {
	e := newEngine(t)
	id := e.create(t)

	var g errgroup.Group
	for i, r := range []role.Role{role.Tech, role.Product, role.Business} {
		i, r := i, r
		g.Go(func() error {
			_, err := e.sign(context.Background(), id, participant(fmt.Sprintf("p-%d", i), r))
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, domainSubmission.StatusApproved, e.status(t, id))

	approvedEvents := 0
	for _, ev := range e.pub.all() {
		if ev.Kind == event.KindStatusChanged && ev.NewStatus == domainSubmission.StatusApproved {
			approvedEvents++
		}
	}
	assert.Equal(t, 1, approvedEvents)
}

func TestEngine_NotFound(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	_, err := e.sign(ctx, "missing", participant("tech-1", role.Tech))
	assert.ErrorIs(t, err, domainSubmission.ErrNotFound)
	_, err = e.RejectSubmission(ctx, RejectInput{SubmissionID: "missing", Participant: participant("tech-1", role.Tech)})
	assert.ErrorIs(t, err, domainSubmission.ErrNotFound)
	_, err = e.GetApprovals(ctx, "missing")
	assert.ErrorIs(t, err, domainSubmission.ErrNotFound)
}

func TestEngine_RecomputeRepairsDrift(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	id := e.create(t)
	_, err := e.sign(ctx, id, participant("tech-1", role.Tech))
	require.NoError(t, err)

	res, err := e.Recompute(ctx, id, false)
	require.NoError(t, err)
	assert.False(t, res.Drift)

	// simulate a status lost by an out-of-band write
	require.NoError(t, e.db.Model(&domainSubmission.Submission{}).
		Where("submission_id = ?", id).
		Update("status", domainSubmission.StatusPending).Error)

	res, err = e.Recompute(ctx, id, false)
	require.NoError(t, err)
	assert.True(t, res.Drift)
	assert.False(t, res.Applied)
	assert.Equal(t, domainSubmission.StatusPending, e.status(t, id))

	before := e.pub.emissions()
	res, err = e.Recompute(ctx, id, true)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, domainSubmission.StatusInReview, res.Derived)
	assert.Equal(t, domainSubmission.StatusInReview, e.status(t, id))
	assert.Equal(t, before+1, e.pub.emissions())

	s, err := e.subs.GetBySubmissionID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, s.StatusChangedBy)
	assert.Equal(t, RecomputeActor, *s.StatusChangedBy)
}

func TestEngine_RecomputeLeavesRejectedAlone(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	id := e.create(t)
	_, err := e.sign(ctx, id, participant("tech-1", role.Tech))
	require.NoError(t, err)
	_, err = e.RejectSubmission(ctx, RejectInput{SubmissionID: id, Participant: participant("biz-1", role.Business)})
	require.NoError(t, err)

	res, err := e.Recompute(ctx, id, true)
	require.NoError(t, err)
	assert.False(t, res.Drift)
	assert.False(t, res.Applied)
	assert.Equal(t, domainSubmission.StatusRejected, e.status(t, id))
}

func TestEngine_SubscribersSeeCommitOrder(t *testing.T) {
	db := dbtest.Open(t)
	hub := pubsub.NewHub(16, nil)
	subs := gormrepo.NewSubmissionRepository(db)
	u := NewUsecase(subs, gormrepo.NewApprovalRepository(db), gormrepo.NewGormUoW(db), hub, Options{Subscriber: hub})
	e := engine{Usecase: u, db: db, pub: &recorder{}, subs: subs}
	id := e.create(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := u.Subscribe(ctx, event.ForSubmission(id))
	require.NoError(t, err)
	_, err = u.Subscribe(ctx, event.ForSubmission("missing"))
	require.ErrorIs(t, err, domainSubmission.ErrNotFound)

	for _, p := range []identity.Participant{
		participant("tech-1", role.Tech),
		participant("prod-1", role.Product),
		participant("biz-1", role.Business),
	} {
		_, err := e.sign(ctx, id, p)
		require.NoError(t, err)
	}

	want := []event.Kind{
		event.KindApprovalRecorded, event.KindStatusChanged,
		event.KindApprovalRecorded,
		event.KindApprovalRecorded, event.KindStatusChanged,
	}
	var got []event.Kind
	for len(got) < len(want) {
		select {
		case ev := <-stream.Events():
			got = append(got, ev.Kind)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %v", got)
		}
	}
	assert.Equal(t, want, got)

	stream.Cancel()
	_, open := <-stream.Events()
	assert.False(t, open)
	assert.Zero(t, hub.Len())
}
