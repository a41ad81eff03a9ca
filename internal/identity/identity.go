// Package identity resolves an opaque caller credential into a participant
// and the single role they hold.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"signoff-backend/internal/domain/role"
)

var ErrUnauthenticated = errors.New("identity: unauthenticated")

type Participant struct {
	ID   string    `json:"id"`
	Name string    `json:"name,omitempty"`
	Role role.Role `json:"role"`
}

type Resolver interface {
	Resolve(ctx context.Context, credential string) (Participant, error)
}

type claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTResolver verifies HS256 bearer tokens. The role claim is passed through
// as-is; callers that act on it must check it.
type JWTResolver struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTResolver(secret, issuer string, ttl time.Duration) *JWTResolver {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTResolver{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue mints a token for p.
func (r *JWTResolver) Issue(p Participant) (string, error) {
	if strings.TrimSpace(p.ID) == "" {
		return "", fmt.Errorf("identity: issue: empty participant id")
	}
	now := r.now()
	c := claims{
		Name: p.Name,
		Role: string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    r.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.ttl)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return tok, nil
}

func (r *JWTResolver) Resolve(_ context.Context, credential string) (Participant, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Participant{}, ErrUnauthenticated
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}
	var c claims
	_, err := jwt.ParseWithClaims(credential, &c, func(*jwt.Token) (any, error) {
		return r.secret, nil
	}, opts...)
	if err != nil {
		return Participant{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if c.Subject == "" {
		return Participant{}, fmt.Errorf("%w: missing subject", ErrUnauthenticated)
	}
	return Participant{ID: c.Subject, Name: c.Name, Role: role.Role(c.Role)}, nil
}

type ctxKey struct{}

func WithParticipant(ctx context.Context, p Participant) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Participant, bool) {
	p, ok := ctx.Value(ctxKey{}).(Participant)
	return p, ok
}
