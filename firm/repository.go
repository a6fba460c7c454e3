package firm

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested firm does not exist.
var ErrNotFound = errors.New("firm: not found")

// Repository provides read access to the firm directory.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a firm profile by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Profile, error) {
	const query = `
		SELECT id, name, created_at
		FROM firms
		WHERE id = $1
	`

	var profile Profile
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&profile.ID,
		&profile.Name,
		&profile.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("firm: query by id: %w", err)
	}

	return profile, nil
}

// List fetches up to limit firm profiles ordered by name.
func (r *Repository) List(ctx context.Context, limit int) ([]Profile, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT id, name, created_at
		FROM firms
		ORDER BY name ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("firm: list: %w", err)
	}
	defer rows.Close()

	profiles := make([]Profile, 0, limit)
	for rows.Next() {
		var profile Profile
		if err := rows.Scan(&profile.ID, &profile.Name, &profile.CreatedAt); err != nil {
			return nil, fmt.Errorf("firm: scan profile: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("firm: iterate profiles: %w", err)
	}

	return profiles, nil
}

// Teams fetches the firm's teams, newest first.
func (r *Repository) Teams(ctx context.Context, firmID string, activeOnly bool) ([]Team, error) {
	query := `
		SELECT id, firm_id, name, is_active, created_at
		FROM teams
		WHERE firm_id = $1
	`
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, firmID)
	if err != nil {
		return nil, fmt.Errorf("firm: list teams: %w", err)
	}
	defer rows.Close()

	var teams []Team
	for rows.Next() {
		var team Team
		if err := rows.Scan(&team.ID, &team.FirmID, &team.Name, &team.IsActive, &team.CreatedAt); err != nil {
			return nil, fmt.Errorf("firm: scan team: %w", err)
		}
		teams = append(teams, team)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("firm: iterate teams: %w", err)
	}

	return teams, nil
}

// Groups fetches the subscriber groups served by the firm, newest first.
func (r *Repository) Groups(ctx context.Context, firmID string) ([]Group, error) {
	const query = `
		SELECT id, owner_user_id, firm_id, name, created_at
		FROM groups
		WHERE firm_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, firmID)
	if err != nil {
		return nil, fmt.Errorf("firm: list groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var group Group
		if err := rows.Scan(&group.ID, &group.OwnerUserID, &group.FirmID, &group.Name, &group.CreatedAt); err != nil {
			return nil, fmt.Errorf("firm: scan group: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("firm: iterate groups: %w", err)
	}

	return groups, nil
}
