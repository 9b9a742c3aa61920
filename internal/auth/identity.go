package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

const (
	RoleTherapist = "therapist"
	RoleClient    = "client"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownUser  = errors.New("token does not belong to a known user")
)

// Identity is the authenticated caller of an API request.
type Identity struct {
	UserID uuid.UUID
	Role   string
}

func (i Identity) IsTherapist() bool { return i.Role == RoleTherapist }
func (i Identity) IsClient() bool    { return i.Role == RoleClient }

// Verifier turns a bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
