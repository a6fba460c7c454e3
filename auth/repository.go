package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrPersonNotFound signals that the personnel record does not exist.
	ErrPersonNotFound = errors.New("auth: person not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("auth: email already exists")
)

// Repository handles data access for authentication.
type Repository interface {
	CreatePerson(ctx context.Context, params CreatePersonParams) (Person, error)
	GetByEmail(ctx context.Context, email string) (Person, error)
	GetByID(ctx context.Context, personID string) (Person, error)
}

// CreatePersonParams contains write parameters for creating personnel.
type CreatePersonParams struct {
	FirmID       string
	TeamID       *string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const personColumns = `id, firm_id, team_id, email, full_name, password_hash, role::text, created_at, updated_at`

func (r *PGRepository) CreatePerson(ctx context.Context, params CreatePersonParams) (Person, error) {
	const insertSQL = `
		INSERT INTO personnel (firm_id, team_id, email, full_name, password_hash, role)
		VALUES ($1, $2, $3, $4, $5, $6::personnel_role)
		RETURNING ` + personColumns

	person, err := scanPerson(r.pool.QueryRow(ctx, insertSQL,
		params.FirmID, params.TeamID, params.Email, params.FullName, params.PasswordHash, params.Role))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Person{}, ErrDuplicateEmail
		}
		return Person{}, fmt.Errorf("auth: create person: %w", err)
	}

	return person, nil
}

func (r *PGRepository) GetByEmail(ctx context.Context, email string) (Person, error) {
	person, err := scanPerson(r.pool.QueryRow(ctx,
		`SELECT `+personColumns+` FROM personnel WHERE email = $1`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Person{}, ErrPersonNotFound
		}
		return Person{}, fmt.Errorf("auth: get person by email: %w", err)
	}
	return person, nil
}

func (r *PGRepository) GetByID(ctx context.Context, personID string) (Person, error) {
	person, err := scanPerson(r.pool.QueryRow(ctx,
		`SELECT `+personColumns+` FROM personnel WHERE id = $1`, personID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Person{}, ErrPersonNotFound
		}
		return Person{}, fmt.Errorf("auth: get person by id: %w", err)
	}
	return person, nil
}

func scanPerson(row pgx.Row) (Person, error) {
	var person Person
	err := row.Scan(
		&person.ID,
		&person.FirmID,
		&person.TeamID,
		&person.Email,
		&person.FullName,
		&person.PasswordHash,
		&person.Role,
		&person.CreatedAt,
		&person.UpdatedAt,
	)
	if err != nil {
		return Person{}, err
	}
	return person, nil
}
