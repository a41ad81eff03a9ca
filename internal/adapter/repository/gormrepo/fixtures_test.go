package gormrepo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	approvalDomain "signoff-backend/internal/domain/approval"
	"signoff-backend/internal/domain/role"
	submissionDomain "signoff-backend/internal/domain/submission"
	"signoff-backend/internal/testutil/dbtest"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return dbtest.Open(t)
}

func makeSubmission(title string) *submissionDomain.Submission {
	return &submissionDomain.Submission{
		SubmissionID: uuid.NewString(),
		Title:        title,
		Description:  "requirements for " + title,
		ArtifactRef:  "s3://artifacts/" + title + ".pdf",
		ArtifactName: title + ".pdf",
		Status:       submissionDomain.StatusPending,
		CreatedBy:    "biz-1",
	}
}

func makeApproval(submissionRef uint64, participantID string, r role.Role, when time.Time) *approvalDomain.Approval {
	return &approvalDomain.Approval{
		ApprovalID:      uuid.NewString(),
		SubmissionRef:   submissionRef,
		ParticipantID:   participantID,
		ParticipantName: participantID,
		Role:            r,
		SignedAt:        when.UTC(),
	}
}

func seedSubmission(t *testing.T, db *gorm.DB, title string) *submissionDomain.Submission {
	t.Helper()
	s := makeSubmission(title)
	if err := NewSubmissionRepository(db).Create(context.Background(), s); err != nil {
		t.Fatalf("seed submission: %v", err)
	}
	if s.ID == 0 {
		t.Fatalf("submission auto ID not set")
	}
	return s
}
