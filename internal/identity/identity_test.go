package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"signoff-backend/internal/domain/role"
)

func TestJWTResolver_RoundTrip(t *testing.T) {
	r := NewJWTResolver("s3cret", "signoff", time.Hour)
	tok, err := r.Issue(Participant{ID: "user-1", Name: "Tia", Role: role.Tech})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	p, err := r.Resolve(context.Background(), tok)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.ID != "user-1" || p.Name != "Tia" || p.Role != role.Tech {
		t.Fatalf("unexpected participant %+v", p)
	}
}

func TestJWTResolver_Rejects(t *testing.T) {
	r := NewJWTResolver("s3cret", "signoff", time.Hour)
	valid, _ := r.Issue(Participant{ID: "user-1", Role: role.Product})

	expired := NewJWTResolver("s3cret", "signoff", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _ := expired.Issue(Participant{ID: "user-1", Role: role.Product})

	otherKey, _ := NewJWTResolver("other", "signoff", time.Hour).Issue(Participant{ID: "user-1", Role: role.Product})
	otherIssuer, _ := NewJWTResolver("s3cret", "elsewhere", time.Hour).Issue(Participant{ID: "user-1", Role: role.Product})

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-1", "role": "TECH", "exp": time.Now().Add(time.Hour).Unix()})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, tok := range map[string]string{
		"empty":        "",
		"garbage":      "not.a.jwt",
		"expired":      old,
		"wrong key":    otherKey,
		"wrong issuer": otherIssuer,
		"alg none":     unsigned,
		"tampered":     valid + "x",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := r.Resolve(context.Background(), tok); !errors.Is(err, ErrUnauthenticated) {
				t.Fatalf("want ErrUnauthenticated, got %v", err)
			}
		})
	}
}

func TestJWTResolver_PassesUnknownRoleThrough(t *testing.T) {
	r := NewJWTResolver("s3cret", "", time.Hour)
	tok, _ := r.Issue(Participant{ID: "user-9", Role: role.Role("ADMIN")})
	p, err := r.Resolve(context.Background(), tok)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Role.Valid() {
		t.Fatalf("role %q should not be valid", p.Role)
	}
}

func TestIssue_EmptyID(t *testing.T) {
	if _, err := NewJWTResolver("k", "", 0).Issue(Participant{}); err == nil {
		t.Fatal("expected error for empty participant id")
	}
}

func TestContextRoundTrip(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("empty context must not carry a participant")
	}
	ctx := WithParticipant(context.Background(), Participant{ID: "u", Role: role.Business})
	p, ok := FromContext(ctx)
	if !ok || p.ID != "u" {
		t.Fatalf("participant not found in context: %+v", p)
	}
}
