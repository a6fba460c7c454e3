package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PGResponders resolves responder eligibility from the teams and
// service_providers tables. Queries run on the caller's transaction so the
// answer is consistent with the allocation about to happen.
type PGResponders struct{}

func NewResponders() *PGResponders {
	return &PGResponders{}
}

func (r *PGResponders) TeamActive(ctx context.Context, tx pgx.Tx, teamID string) (bool, error) {
	var active bool
	err := tx.QueryRow(ctx, `SELECT is_active FROM teams WHERE id = $1`, teamID).Scan(&active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("dispatch: look up team %s: %w", teamID, err)
	}
	return active, nil
}

func (r *PGResponders) Provider(ctx context.Context, tx pgx.Tx, providerID string) (Provider, error) {
	var p Provider
	err := tx.QueryRow(ctx,
		`SELECT id, service_type::text, is_active FROM service_providers WHERE id = $1`,
		providerID,
	).Scan(&p.ID, &p.ServiceType, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Provider{}, fmt.Errorf("%w: provider %s not found", ErrResponderNotActive, providerID)
		}
		return Provider{}, fmt.Errorf("dispatch: look up provider %s: %w", providerID, err)
	}
	return p, nil
}
