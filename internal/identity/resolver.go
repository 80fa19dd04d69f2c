package identity

import (
	"context"
	"errors"
	"log"

	"inkvault/api/internal/auth"
)

// Identity is what a verified token resolves to. Immutable for the lifetime
// of the connection it was resolved for.
type Identity struct {
	UserID      string
	DisplayName string
	AvatarURL   string
}

type Resolver struct {
	secret   []byte
	profiles *ProfileStore
}

// NewResolver builds a resolver. profiles may be nil, in which case display
// names come from token claims only.
func NewResolver(secret []byte, profiles *ProfileStore) *Resolver {
	return &Resolver{secret: secret, profiles: profiles}
}

// Resolve verifies the token signature and expiry, then enriches the claims
// with the stored profile. A missing profile is not an error; an invalid
// token always is.
func (r *Resolver) Resolve(ctx context.Context, token string) (Identity, error) {
	claims, err := auth.ParseToken(r.secret, token)
	if err != nil {
		return Identity{}, err
	}

	id := Identity{UserID: claims.Sub, DisplayName: claims.Name}
	if id.DisplayName == "" {
		id.DisplayName = "Unknown"
	}

	if r.profiles == nil {
		return id, nil
	}

	profile, err := r.profiles.GetProfile(ctx, claims.Sub)
	if errors.Is(err, ErrNoProfile) {
		return id, nil
	}
	if err != nil {
		log.Printf("identity: profile lookup for %s: %v", claims.Sub, err)
		return id, nil
	}

	if profile.DisplayName != "" {
		id.DisplayName = profile.DisplayName
	}
	id.AvatarURL = profile.AvatarURL
	return id, nil
}
