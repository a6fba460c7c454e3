package fieldops

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PGRoster resolves team membership from the personnel table.
type PGRoster struct{}

func NewRoster() *PGRoster {
	return &PGRoster{}
}

// MemberTeam returns the responder's team id, or empty when the responder is
// unknown or has no team.
func (r *PGRoster) MemberTeam(ctx context.Context, tx pgx.Tx, responderID string) (string, error) {
	var teamID *string
	err := tx.QueryRow(ctx, `SELECT team_id FROM personnel WHERE id = $1`, responderID).Scan(&teamID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("fieldops: look up responder %s: %w", responderID, err)
	}
	if teamID == nil {
		return "", nil
	}
	return *teamID, nil
}
