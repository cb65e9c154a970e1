package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"govqueue/internal/models"
	"govqueue/internal/store"
)

const minPasswordLength = 8

type RegisterInput struct {
	FullName  string
	Phone     string
	CitizenID string
	Password  string
}

type LoginResult struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	Profile   models.Profile `json:"profile"`
}

// Service owns profiles, passwords and role changes.
type Service struct {
	profiles store.ProfileStore
	issuer   *Issuer
	logger   *zap.Logger
}

func NewService(profiles store.ProfileStore, issuer *Issuer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{profiles: profiles, issuer: issuer, logger: logger}
}

// Register creates a citizen profile. Roles are only raised through SetRole.
func (s *Service) Register(ctx context.Context, input RegisterInput) (models.Profile, error) {
	input.FullName = strings.TrimSpace(input.FullName)
	input.Phone = strings.TrimSpace(input.Phone)
	input.CitizenID = strings.TrimSpace(input.CitizenID)
	if input.FullName == "" || input.Phone == "" || input.Password == "" {
		return models.Profile{}, fmt.Errorf("%w: full_name, phone, and password are required", ErrInvalidInput)
	}
	if !ValidPhone(input.Phone) {
		return models.Profile{}, fmt.Errorf("%w: phone must be 8-16 digits", ErrInvalidInput)
	}
	if len(input.Password) < minPasswordLength {
		return models.Profile{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	return s.create(ctx, input, models.RoleCitizen)
}

func (s *Service) create(ctx context.Context, input RegisterInput, role string) (models.Profile, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.Profile{}, fmt.Errorf("hash password: %w", err)
	}
	return s.profiles.CreateProfile(ctx, models.Profile{
		ID:           uuid.NewString(),
		FullName:     input.FullName,
		Phone:        input.Phone,
		CitizenID:    input.CitizenID,
		Role:         role,
		PasswordHash: string(hash),
	})
}

func (s *Service) Login(ctx context.Context, phone, password string) (LoginResult, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}
	profile, err := s.profiles.GetProfileByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}
	token, expiresAt, err := s.issuer.Issue(profile)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, ExpiresAt: expiresAt, Profile: profile}, nil
}

func (s *Service) Me(ctx context.Context) (models.Profile, error) {
	user, ok := UserFromContext(ctx)
	if !ok {
		return models.Profile{}, ErrUnauthenticated
	}
	return s.profiles.GetProfile(ctx, user.ID)
}

func (s *Service) ListUsers(ctx context.Context) ([]models.Profile, error) {
	return s.profiles.ListProfiles(ctx)
}

func (s *Service) SetRole(ctx context.Context, profileID, role string) (models.Profile, error) {
	role = strings.TrimSpace(strings.ToLower(role))
	if !models.ValidRole(role) {
		return models.Profile{}, ErrInvalidRole
	}
	profile, err := s.profiles.UpdateRole(ctx, profileID, role)
	if err != nil {
		return models.Profile{}, err
	}
	s.logger.Info("role updated", zap.String("profile_id", profileID), zap.String("role", role))
	return profile, nil
}

// EnsureAdmin makes sure the profile registered under phone exists and is an
// admin, creating it when absent.
func (s *Service) EnsureAdmin(ctx context.Context, name, phone, password string) (models.Profile, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return models.Profile{}, fmt.Errorf("%w: phone is required", ErrInvalidInput)
	}
	profile, err := s.profiles.GetProfileByPhone(ctx, phone)
	switch {
	case err == nil:
		if profile.Role == models.RoleAdmin {
			return profile, nil
		}
		return s.SetRole(ctx, profile.ID, models.RoleAdmin)
	case errors.Is(err, store.ErrProfileNotFound):
		if len(password) < minPasswordLength {
			return models.Profile{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
		}
		if strings.TrimSpace(name) == "" {
			name = "Administrator"
		}
		profile, err = s.create(ctx, RegisterInput{FullName: strings.TrimSpace(name), Phone: phone, Password: password}, models.RoleAdmin)
		if err != nil {
			return models.Profile{}, err
		}
		s.logger.Info("bootstrap admin created", zap.String("profile_id", profile.ID))
		return profile, nil
	default:
		return models.Profile{}, err
	}
}

// ValidPhone accepts 8-16 digits with an optional leading plus.
func ValidPhone(value string) bool {
	value = strings.TrimPrefix(value, "+")
	if len(value) < 8 || len(value) > 16 {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
