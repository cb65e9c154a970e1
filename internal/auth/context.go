package auth

import (
	"context"
	"errors"
	"fmt"

	"govqueue/internal/store"
)

// User is the authenticated caller.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
}

// HasRole reports whether the user holds any of roles.
func (u User) HasRole(roles ...string) bool {
	for _, role := range roles {
		if u.Role == role {
			return true
		}
	}
	return false
}

type userContextKey struct{}

func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

func UserFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(userContextKey{}).(User)
	return user, ok
}

// ContextIdentity resolves the current user from the request context.
type ContextIdentity struct{}

func (ContextIdentity) CurrentUser(ctx context.Context) (User, error) {
	user, ok := UserFromContext(ctx)
	if !ok || user.ID == "" {
		return User{}, ErrUnauthenticated
	}
	return user, nil
}

// ProfileIdentity resolves the caller from the request context and takes the
// role from the stored profile, so role changes apply before the caller's
// bearer token expires.
type ProfileIdentity struct {
	profiles store.ProfileStore
}

func NewProfileIdentity(profiles store.ProfileStore) ProfileIdentity {
	return ProfileIdentity{profiles: profiles}
}

func (i ProfileIdentity) CurrentUser(ctx context.Context) (User, error) {
	user, err := ContextIdentity{}.CurrentUser(ctx)
	if err != nil {
		return User{}, err
	}
	profile, err := i.profiles.GetProfile(ctx, user.ID)
	if errors.Is(err, store.ErrProfileNotFound) {
		return User{}, ErrUnauthenticated
	}
	if err != nil {
		return User{}, fmt.Errorf("load profile %s: %w", user.ID, err)
	}
	user.Name = profile.FullName
	user.Role = profile.Role
	return user, nil
}
