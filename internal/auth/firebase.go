package auth

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// UserLookup maps a Firebase account to a local identity.
type UserLookup func(ctx context.Context, firebaseUID string) (Identity, error)

type idTokenVerifier interface {
	VerifyIDTokenAndCheckRevoked(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// FirebaseVerifier accepts Firebase ID tokens issued to the web app.
type FirebaseVerifier struct {
	tokens idTokenVerifier
	lookup UserLookup
}

// NewFirebaseVerifier initialises the Firebase app from a service account
// file. An empty path falls back to application default credentials.
func NewFirebaseVerifier(ctx context.Context, credentialsFile string, lookup UserLookup) (*FirebaseVerifier, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase: initialise app: %w", err)
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase: auth client: %w", err)
	}

	return &FirebaseVerifier{tokens: client, lookup: lookup}, nil
}

func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (Identity, error) {
	if idToken == "" {
		return Identity{}, ErrMissingToken
	}

	token, err := v.tokens.VerifyIDTokenAndCheckRevoked(ctx, idToken)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := v.lookup(ctx, token.UID)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnknownUser, err)
	}
	return id, nil
}
