package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"govqueue/internal/models"
	"govqueue/internal/store"
	"govqueue/internal/store/memory"
)

func newTestService() (*Service, *Issuer) {
	issuer := NewIssuer([]byte("test-secret"), time.Hour)
	return NewService(memory.New(), issuer, nil), issuer
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc, issuer := newTestService()

	profile, err := svc.Register(ctx, RegisterInput{FullName: "Asha Rao", Phone: "9876543210", Password: "password1"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleCitizen, profile.Role)
	assert.NotEmpty(t, profile.PasswordHash)

	result, err := svc.Login(ctx, "9876543210", "password1")
	require.NoError(t, err)
	assert.Equal(t, profile.ID, result.Profile.ID)

	user, err := issuer.Parse(result.Token)
	require.NoError(t, err)
	assert.Equal(t, User{ID: profile.ID, Name: "Asha Rao", Role: models.RoleCitizen}, user)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	_, err := svc.Register(ctx, RegisterInput{FullName: "Asha Rao", Phone: "9876543210", Password: "password1"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, "9876543210", "password2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "1111111111", "password1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	cases := []RegisterInput{
		{Phone: "9876543210", Password: "password1"},
		{FullName: "A", Phone: "12ab", Password: "password1"},
		{FullName: "A", Phone: "9876543210", Password: "short"},
	}
	for _, input := range cases {
		_, err := svc.Register(ctx, input)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}

	_, err := svc.Register(ctx, RegisterInput{FullName: "A", Phone: "9876543210", Password: "password1"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, RegisterInput{FullName: "B", Phone: "9876543210", Password: "password1"})
	assert.ErrorIs(t, err, store.ErrDuplicatePhone)
}

func TestSetRoleAndEnsureAdmin(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	profile, err := svc.Register(ctx, RegisterInput{FullName: "Officer", Phone: "9000000001", Password: "password1"})
	require.NoError(t, err)

	_, err = svc.SetRole(ctx, profile.ID, "superuser")
	assert.ErrorIs(t, err, ErrInvalidRole)

	updated, err := svc.SetRole(ctx, profile.ID, "Officer")
	require.NoError(t, err)
	assert.Equal(t, models.RoleOfficer, updated.Role)

	admin, err := svc.EnsureAdmin(ctx, "", "9000000002", "adminpass")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, admin.Role)

	again, err := svc.EnsureAdmin(ctx, "", "9000000002", "adminpass")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, again.ID)

	promoted, err := svc.EnsureAdmin(ctx, "", "9000000001", "")
	require.NoError(t, err)
	assert.Equal(t, profile.ID, promoted.ID)
	assert.Equal(t, models.RoleAdmin, promoted.Role)
}

func TestIssuerRejectsTamperedAndExpiredTokens(t *testing.T) {
	issuer := NewIssuer([]byte("secret-a"), time.Minute)
	token, _, err := issuer.Issue(models.Profile{ID: "p1", Role: models.RoleOfficer})
	require.NoError(t, err)

	other := NewIssuer([]byte("secret-b"), time.Minute)
	_, err = other.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	issuer.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }
	_, err = issuer.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestContextIdentity(t *testing.T) {
	_, err := ContextIdentity{}.CurrentUser(context.Background())
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	ctx := WithUser(context.Background(), User{ID: "u1", Role: models.RoleAdmin})
	user, err := ContextIdentity{}.CurrentUser(ctx)
	require.NoError(t, err)
	assert.True(t, user.HasRole(models.RoleOfficer, models.RoleAdmin))
}

func TestProfileIdentityUsesStoredRole(t *testing.T) {
	ctx := context.Background()
	profiles := memory.New()
	issuer := NewIssuer([]byte("test-secret"), time.Hour)
	svc := NewService(profiles, issuer, nil)
	profile, err := svc.Register(ctx, RegisterInput{FullName: "Officer", Phone: "9000000003", Password: "password1"})
	require.NoError(t, err)
	_, err = svc.SetRole(ctx, profile.ID, models.RoleOfficer)
	require.NoError(t, err)

	result, err := svc.Login(ctx, "9000000003", "password1")
	require.NoError(t, err)
	claimed, err := issuer.Parse(result.Token)
	require.NoError(t, err)
	require.Equal(t, models.RoleOfficer, claimed.Role)

	_, err = svc.SetRole(ctx, profile.ID, models.RoleCitizen)
	require.NoError(t, err)

	identity := NewProfileIdentity(profiles)
	user, err := identity.CurrentUser(WithUser(ctx, claimed))
	require.NoError(t, err)
	assert.Equal(t, profile.ID, user.ID)
	assert.Equal(t, models.RoleCitizen, user.Role)
	assert.False(t, user.HasRole(models.RoleOfficer, models.RoleAdmin))
}

func TestProfileIdentityUnknownProfile(t *testing.T) {
	identity := NewProfileIdentity(memory.New())

	_, err := identity.CurrentUser(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)

	ctx := WithUser(context.Background(), User{ID: "missing", Role: models.RoleAdmin})
	_, err = identity.CurrentUser(ctx)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
