package lifecycle

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"signoff-backend/internal/domain/approval"
	"signoff-backend/internal/domain/role"
	"signoff-backend/internal/domain/submission"
)

func recordsFor(roleIdx []int) []approval.Approval {
	roles := role.All()
	out := make([]approval.Approval, 0, len(roleIdx))
	for i, idx := range roleIdx {
		out = append(out, approval.Approval{
			ParticipantID: fmt.Sprintf("p-%d", i),
			Role:          roles[idx%len(roles)],
		})
	}
	return out
}

// Property: Derive is APPROVED iff all three roles are present.
func TestDerive_ApprovedIffAllRoles(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("approved iff signed-role set is complete", prop.ForAll(
		func(roleIdx []int) bool {
			records := recordsFor(roleIdx)
			approved := Derive(records) == submission.StatusApproved
			return approved == SignedRoles(records).Complete()
		},
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}

// Property: Derive(records) == Derive(shuffle(records)) for any permutation.
func TestDerive_OrderIndependent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("derivation ignores signing order", prop.ForAll(
		func(roleIdx []int, seed int64) bool {
			records := recordsFor(roleIdx)
			shuffled := append([]approval.Approval(nil), records...)
			rng := rand.New(rand.NewSource(seed))
			rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
			return Derive(records) == Derive(shuffled)
		},
		gen.SliceOf(gen.IntRange(0, 2)),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

// Every permutation of three distinct-role records yields APPROVED.
func TestDerive_AllPermutationsApprove(t *testing.T) {
	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, p := range perms {
		if got := Derive(recordsFor(p)); got != submission.StatusApproved {
			t.Fatalf("permutation %v derived %s, want APPROVED", p, got)
		}
	}
}
