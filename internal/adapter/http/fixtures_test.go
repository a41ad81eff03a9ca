package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"signoff-backend/internal/adapter/repository/gormrepo"
	"signoff-backend/internal/domain/role"
	"signoff-backend/internal/identity"
	"signoff-backend/internal/infrastructure/pubsub"
	"signoff-backend/internal/testutil/dbtest"
	approvalUC "signoff-backend/internal/usecase/approval"
	submissionUC "signoff-backend/internal/usecase/submission"
	"signoff-backend/pkg/retry"
)

var (
	biz  = identity.Participant{ID: "biz-1", Name: "Bea", Role: role.Business}
	prod = identity.Participant{ID: "prod-1", Name: "Pat", Role: role.Product}
	tech = identity.Participant{ID: "tech-1", Name: "Tom", Role: role.Tech}
	qa   = identity.Participant{ID: "qa-1", Name: "Quinn", Role: role.Role("QA")}

	roster = map[string]*identity.Participant{"biz": &biz, "prod": &prod, "tech": &tech, "qa": &qa}
)

func newEchoWithValidator() *echo.Echo {
	e := echo.New()
	e.Validator = NewValidator()
	return e
}

func mustJSON(v any) io.Reader {
	b, _ := json.Marshal(v)
	return bytes.NewReader(b)
}

// testAuth resolves "Bearer <participant id>" against a fixed roster.
func testAuth(roster ...identity.Participant) echo.MiddlewareFunc {
	byID := make(map[string]identity.Participant, len(roster))
	for _, p := range roster {
		byID[p.ID] = p
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tok := strings.TrimPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
			if p, ok := byID[tok]; ok {
				r := c.Request()
				c.SetRequest(r.WithContext(identity.WithParticipant(r.Context(), p)))
			}
			return next(c)
		}
	}
}

type apiFixture struct {
	e           *echo.Echo
	hub         *pubsub.Hub
	submissions *submissionUC.Usecase
	engine      *approvalUC.Usecase
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	db := dbtest.Open(t)
	subs := gormrepo.NewSubmissionRepository(db)
	apprs := gormrepo.NewApprovalRepository(db)
	tx := gormrepo.NewGormUoW(db)
	hub := pubsub.NewHub(16, nil)
	t.Cleanup(hub.Close)

	policy := retry.Policy{MaxElapsed: time.Second, Transient: gormrepo.IsTransient}
	suc := submissionUC.NewUsecase(subs, apprs, tx, hub, submissionUC.Options{Retry: policy})
	auc := approvalUC.NewUsecase(subs, apprs, tx, hub, approvalUC.Options{Subscriber: hub, Retry: policy})

	e := newEchoWithValidator()
	Register(e, Routes{
		Health:      NewHandler(),
		Submissions: NewSubmissionHandler(suc),
		Approvals:   NewApprovalHandler(auc),
		Events:      NewEventsHandler(auc, time.Hour),
		Auth:        testAuth(biz, prod, tech, qa),
	})
	return &apiFixture{e: e, hub: hub, submissions: suc, engine: auc}
}

// do serves one request; as may be nil for an anonymous caller. A string body
// is sent verbatim.
func (f *apiFixture) do(method, path string, body any, as *identity.Participant) *httptest.ResponseRecorder {
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		r = mustJSON(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if as != nil {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+as.ID)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) createSubmission(t *testing.T) string {
	t.Helper()
	rec := f.do("POST", "/submissions", map[string]any{
		"title":        "Checkout redesign",
		"artifact_ref": "s3://reqs/checkout.pdf",
	}, &biz)
	if rec.Code != 201 {
		t.Fatalf("create status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var dto submissionUC.SubmissionDTO
	decode(t, rec, &dto)
	return dto.SubmissionID
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("bad json: %v; raw=%s", err, rec.Body.String())
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var er ErrorResponse
	decode(t, rec, &er)
	return er.Code
}
