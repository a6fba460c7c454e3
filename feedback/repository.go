package feedback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"panicdispatch/request"
)

// Repository is the data access the feedback service needs beyond the
// escalation engine.
type Repository interface {
	RequestStateForUpdate(ctx context.Context, tx pgx.Tx, requestID string) (request.Status, string, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, feedbackID string) (Feedback, string, error)
	Update(ctx context.Context, tx pgx.Tx, params UpdateParams) (Feedback, error)
	OwnerOf(ctx context.Context, tx pgx.Tx, groupID string) (string, error)
	FirmStats(ctx context.Context, firmID string, from, to *time.Time) (FirmStats, error)
	FlaggedUsers(ctx context.Context, firmID string, minFlags, limit int) ([]FlaggedUser, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// RequestStateForUpdate locks the request row so feedback submission
// serializes with completion, and returns its status and owning group.
func (r *PGRepository) RequestStateForUpdate(ctx context.Context, tx pgx.Tx, requestID string) (request.Status, string, error) {
	var (
		status  request.Status
		groupID string
	)
	err := tx.QueryRow(ctx,
		`SELECT status::text, group_id FROM requests WHERE id = $1 FOR UPDATE`, requestID,
	).Scan(&status, &groupID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", request.ErrNotFound
		}
		return "", "", fmt.Errorf("feedback: lock request: %w", err)
	}
	return status, groupID, nil
}

// GetForUpdate locks the feedback row and returns it with the owning group of
// its request, so a prank flip can reach the accountable user.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, feedbackID string) (Feedback, string, error) {
	const query = `
        SELECT f.id, f.request_id, f.responder_id, f.is_prank, f.rating, f.comments, f.created_at, f.updated_at,
               r.group_id
        FROM feedback f
        JOIN requests r ON r.id = f.request_id
        WHERE f.id = $1
        FOR UPDATE OF f
    `
	var (
		fb      Feedback
		groupID string
	)
	err := tx.QueryRow(ctx, query, feedbackID).Scan(
		&fb.ID, &fb.RequestID, &fb.ResponderID, &fb.IsPrank, &fb.Rating, &fb.Comments,
		&fb.CreatedAt, &fb.UpdatedAt, &groupID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Feedback{}, "", fmt.Errorf("%w: %s", ErrNotFound, feedbackID)
		}
		return Feedback{}, "", fmt.Errorf("feedback: get for update: %w", err)
	}
	return fb, groupID, nil
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, params UpdateParams) (Feedback, error) {
	const query = `
        UPDATE feedback
        SET is_prank = COALESCE($2, is_prank),
            rating = COALESCE($3, rating),
            comments = COALESCE($4, comments),
            updated_at = get_tx_timestamp()
        WHERE id = $1
        RETURNING id, request_id, responder_id, is_prank, rating, comments, created_at, updated_at
    `
	var fb Feedback
	err := tx.QueryRow(ctx, query, params.FeedbackID, params.IsPrank, params.Rating, params.Comments).Scan(
		&fb.ID, &fb.RequestID, &fb.ResponderID, &fb.IsPrank, &fb.Rating, &fb.Comments,
		&fb.CreatedAt, &fb.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Feedback{}, fmt.Errorf("%w: %s", ErrNotFound, params.FeedbackID)
		}
		return Feedback{}, fmt.Errorf("feedback: update: %w", err)
	}
	return fb, nil
}

func (r *PGRepository) OwnerOf(ctx context.Context, tx pgx.Tx, groupID string) (string, error) {
	var userID string
	if err := tx.QueryRow(ctx,
		`SELECT owner_user_id FROM groups WHERE id = $1`, groupID,
	).Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("feedback: group %s not found", groupID)
		}
		return "", fmt.Errorf("feedback: resolve owning user: %w", err)
	}
	return userID, nil
}

func (r *PGRepository) FirmStats(ctx context.Context, firmID string, from, to *time.Time) (FirmStats, error) {
	query := `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE f.is_prank),
               COUNT(f.rating),
               COALESCE(AVG(f.rating), 0),
               COUNT(*) FILTER (WHERE f.rating = 1),
               COUNT(*) FILTER (WHERE f.rating = 2),
               COUNT(*) FILTER (WHERE f.rating = 3),
               COUNT(*) FILTER (WHERE f.rating = 4),
               COUNT(*) FILTER (WHERE f.rating = 5)
        FROM feedback f
        JOIN personnel p ON p.id = f.responder_id
        WHERE p.firm_id = $1
    `
	args := []any{firmID}
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND f.created_at >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND f.created_at < $%d", len(args))
	}

	var stats FirmStats
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&stats.Total,
		&stats.PrankCount,
		&stats.RatedCount,
		&stats.MeanRating,
		&stats.RatingHistogram[0],
		&stats.RatingHistogram[1],
		&stats.RatingHistogram[2],
		&stats.RatingHistogram[3],
		&stats.RatingHistogram[4],
	)
	if err != nil {
		return FirmStats{}, fmt.Errorf("feedback: firm stats: %w", err)
	}
	if stats.Total > 0 {
		stats.PrankPercentage = float64(stats.PrankCount) * 100 / float64(stats.Total)
	}
	return stats, nil
}

func (r *PGRepository) FlaggedUsers(ctx context.Context, firmID string, minFlags, limit int) ([]FlaggedUser, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	const query = `
        SELECT u.id, u.phone, u.full_name, u.standing::text, u.prank_count,
               COUNT(DISTINCT f.id) FILTER (WHERE g.firm_id = $1) AS firm_flags
        FROM app_users u
        LEFT JOIN groups g ON g.owner_user_id = u.id
        LEFT JOIN requests r ON r.group_id = g.id
        LEFT JOIN feedback f ON f.request_id = r.id AND f.is_prank
        WHERE u.prank_count >= $2
        GROUP BY u.id, u.phone, u.full_name, u.standing, u.prank_count
        ORDER BY u.prank_count DESC, u.id
        LIMIT $3
    `
	rows, err := r.pool.Query(ctx, query, firmID, minFlags, limit)
	if err != nil {
		return nil, fmt.Errorf("feedback: flagged users: %w", err)
	}
	defer rows.Close()

	users := make([]FlaggedUser, 0, limit)
	for rows.Next() {
		var u FlaggedUser
		if err := rows.Scan(&u.UserID, &u.Phone, &u.FullName, &u.Standing, &u.TotalFlags, &u.FirmFlags); err != nil {
			return nil, fmt.Errorf("feedback: scan flagged user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("feedback: iterate flagged users: %w", err)
	}
	return users, nil
}
