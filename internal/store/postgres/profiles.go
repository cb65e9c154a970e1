package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"govqueue/internal/models"
	"govqueue/internal/store"
)

const profileColumns = `id::text, full_name, phone, citizen_id, role, password_hash, created_at, updated_at`

func (s *Store) CreateProfile(ctx context.Context, profile models.Profile) (models.Profile, error) {
	now := time.Now().UTC()
	created, err := scanProfile(s.pool.QueryRow(ctx, `
		INSERT INTO profiles (id, full_name, phone, citizen_id, role, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING `+profileColumns,
		profile.ID, profile.FullName, profile.Phone, profile.CitizenID, profile.Role, profile.PasswordHash, now))
	if err != nil {
		if isUniqueViolation(err) {
			return models.Profile{}, store.ErrDuplicatePhone
		}
		return models.Profile{}, err
	}
	return created, nil
}

func (s *Store) GetProfile(ctx context.Context, profileID string) (models.Profile, error) {
	if !validUUID(profileID) {
		return models.Profile{}, store.ErrProfileNotFound
	}
	return s.getProfile(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, profileID)
}

func (s *Store) GetProfileByPhone(ctx context.Context, phone string) (models.Profile, error) {
	return s.getProfile(ctx, `SELECT `+profileColumns+` FROM profiles WHERE phone = $1`, phone)
}

func (s *Store) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []models.Profile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	return profiles, rows.Err()
}

func (s *Store) UpdateRole(ctx context.Context, profileID, role string) (models.Profile, error) {
	if !validUUID(profileID) {
		return models.Profile{}, store.ErrProfileNotFound
	}
	return s.getProfile(ctx, `
		UPDATE profiles SET role = $2, updated_at = $3 WHERE id = $1
		RETURNING `+profileColumns, profileID, role, time.Now().UTC())
}

func (s *Store) getProfile(ctx context.Context, query string, args ...interface{}) (models.Profile, error) {
	profile, err := scanProfile(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Profile{}, store.ErrProfileNotFound
		}
		return models.Profile{}, err
	}
	return profile, nil
}

func scanProfile(row pgx.Row) (models.Profile, error) {
	var profile models.Profile
	err := row.Scan(
		&profile.ID, &profile.FullName, &profile.Phone, &profile.CitizenID,
		&profile.Role, &profile.PasswordHash, &profile.CreatedAt, &profile.UpdatedAt,
	)
	return profile, err
}
