package feedback

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrAlreadyExists is returned when the request already has feedback.
	ErrAlreadyExists = errors.New("feedback: already exists for request")
	// ErrNotFound is returned when no feedback row exists for the identifier.
	ErrNotFound = errors.New("feedback: not found")
	// ErrUnauthorizedUpdate is returned when someone other than the original
	// author tries to update feedback.
	ErrUnauthorizedUpdate = errors.New("feedback: only the original author may update")
	// ErrInvalidRating is returned for a performance rating outside 1..5.
	ErrInvalidRating = errors.New("feedback: rating must be between 1 and 5")
	// ErrResponderUnknown is returned when the responder id matches no
	// personnel record.
	ErrResponderUnknown = errors.New("feedback: responder not found")
	// ErrRequestNotCompleted is returned when feedback is submitted for a
	// request that has not reached the completed state.
	ErrRequestNotCompleted = errors.New("feedback: request not completed")
)

const maxCommentLength = 2000

// Default escalation tuning; overridable through EngineConfig.
const (
	defaultSuspendThreshold = 3
	defaultBanThreshold     = 5
	defaultFineCents        = 50000
)

// OutboxWriter enqueues accountability events in the feedback transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// EngineConfig tunes the escalation thresholds.
type EngineConfig struct {
	SuspendThreshold int
	BanThreshold     int
	FineCents        int64
}

// Engine owns the prank-counter escalation rules. Its entry points take the
// caller's transaction so the counter mutation, the fine, and the feedback
// write that triggered them are one atomic unit.
type Engine struct {
	suspendThreshold int
	banThreshold     int
	fineCents        int64
	outbox           OutboxWriter
}

func NewEngine(cfg EngineConfig, outbox OutboxWriter) *Engine {
	if cfg.SuspendThreshold <= 0 {
		cfg.SuspendThreshold = defaultSuspendThreshold
	}
	if cfg.BanThreshold <= 0 {
		cfg.BanThreshold = defaultBanThreshold
	}
	if cfg.FineCents <= 0 {
		cfg.FineCents = defaultFineCents
	}
	return &Engine{
		suspendThreshold: cfg.SuspendThreshold,
		banThreshold:     cfg.BanThreshold,
		fineCents:        cfg.FineCents,
		outbox:           outbox,
	}
}

// ValidateRating checks an optional performance rating.
func ValidateRating(rating *int) error {
	if rating == nil {
		return nil
	}
	if *rating < 1 || *rating > 5 {
		return fmt.Errorf("%w: got %d", ErrInvalidRating, *rating)
	}
	return nil
}

// Record inserts the feedback row and, for pranks, runs the escalation
// against the request's owning user. The caller holds the request row lock
// and has already verified the request is completed.
func (e *Engine) Record(ctx context.Context, tx pgx.Tx, params RecordParams) (Feedback, error) {
	if err := ValidateRating(params.Rating); err != nil {
		return Feedback{}, err
	}
	if params.Comments != nil && len(*params.Comments) > maxCommentLength {
		return Feedback{}, fmt.Errorf("feedback: comments exceed %d characters", maxCommentLength)
	}

	var responderExists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM personnel WHERE id = $1)`, params.ResponderID,
	).Scan(&responderExists); err != nil {
		return Feedback{}, fmt.Errorf("feedback: check responder: %w", err)
	}
	if !responderExists {
		return Feedback{}, fmt.Errorf("%w: %s", ErrResponderUnknown, params.ResponderID)
	}

	const insertSQL = `
        INSERT INTO feedback (request_id, responder_id, is_prank, rating, comments)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, request_id, responder_id, is_prank, rating, comments, created_at, updated_at
    `
	var fb Feedback
	err := tx.QueryRow(ctx, insertSQL,
		params.RequestID,
		params.ResponderID,
		params.IsPrank,
		params.Rating,
		params.Comments,
	).Scan(&fb.ID, &fb.RequestID, &fb.ResponderID, &fb.IsPrank, &fb.Rating, &fb.Comments, &fb.CreatedAt, &fb.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Feedback{}, fmt.Errorf("%w: request %s", ErrAlreadyExists, params.RequestID)
		}
		return Feedback{}, fmt.Errorf("feedback: insert: %w", err)
	}

	if params.IsPrank {
		userID, err := e.ownerOf(ctx, tx, params.GroupID)
		if err != nil {
			return Feedback{}, err
		}
		if _, err := e.Escalate(ctx, tx, userID, fb.ID); err != nil {
			return Feedback{}, err
		}
	}

	return fb, nil
}

// Escalate increments the user's prank counter and applies the threshold
// consequences in fixed order: ban, then suspension, then the fine. The fine
// is attached regardless of the other outcomes; the suspension test looks at
// fines outstanding before this one.
func (e *Engine) Escalate(ctx context.Context, tx pgx.Tx, userID, feedbackID string) (Escalation, error) {
	var (
		count    int
		standing Standing
	)
	err := tx.QueryRow(ctx, `
        UPDATE app_users
        SET prank_count = prank_count + 1,
            updated_at = get_tx_timestamp()
        WHERE id = $1
        RETURNING prank_count, standing::text
    `, userID).Scan(&count, &standing)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Escalation{}, fmt.Errorf("feedback: escalate: user %s not found", userID)
		}
		return Escalation{}, fmt.Errorf("feedback: increment prank count: %w", err)
	}

	hasUnpaidFine, err := e.hasUnpaidFine(ctx, tx, userID)
	if err != nil {
		return Escalation{}, err
	}

	if next := nextStanding(count, hasUnpaidFine, e.suspendThreshold, e.banThreshold); next != "" && next != standing {
		// A ban is terminal; never downgrade it to a suspension.
		if standing != StandingBanned {
			if _, err := tx.Exec(ctx,
				`UPDATE app_users SET standing = $2::user_standing, updated_at = get_tx_timestamp() WHERE id = $1`,
				userID, next,
			); err != nil {
				return Escalation{}, fmt.Errorf("feedback: update standing: %w", err)
			}
			standing = next
		}
	}

	var fineID string
	if err := tx.QueryRow(ctx, `
        INSERT INTO fines (user_id, feedback_id, amount_cents)
        VALUES ($1, $2, $3)
        RETURNING id
    `, userID, nullableID(feedbackID), e.fineCents).Scan(&fineID); err != nil {
		return Escalation{}, fmt.Errorf("feedback: attach fine: %w", err)
	}

	esc := Escalation{UserID: userID, PrankCount: count, Standing: standing, FineID: fineID}

	if e.outbox != nil {
		if err := e.outbox.Enqueue(ctx, tx, "feedback.prank_recorded", map[string]any{
			"user_id":     userID,
			"feedback_id": feedbackID,
			"prank_count": count,
			"standing":    string(standing),
		}); err != nil {
			return Escalation{}, err
		}
	}

	return esc, nil
}

// Retract decrements the prank counter on a withdrawn flag, never below
// zero. Suspensions and bans triggered by the original flag are deliberately
// left in place.
func (e *Engine) Retract(ctx context.Context, tx pgx.Tx, userID string) error {
	tag, err := tx.Exec(ctx, `
        UPDATE app_users
        SET prank_count = GREATEST(prank_count - 1, 0),
            updated_at = get_tx_timestamp()
        WHERE id = $1
    `, userID)
	if err != nil {
		return fmt.Errorf("feedback: decrement prank count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("feedback: retract: user %s not found", userID)
	}

	if e.outbox != nil {
		return e.outbox.Enqueue(ctx, tx, "feedback.prank_retracted", map[string]any{
			"user_id": userID,
		})
	}
	return nil
}

// nextStanding applies the threshold rules to a freshly incremented counter.
// Returns empty when no consequence fires. Order is fixed: the ban check runs
// first and is unconditional on fines; suspension needs an outstanding fine.
func nextStanding(count int, hasUnpaidFine bool, suspendThreshold, banThreshold int) Standing {
	if count >= banThreshold {
		return StandingBanned
	}
	if count >= suspendThreshold && hasUnpaidFine {
		return StandingSuspended
	}
	return ""
}

func (e *Engine) hasUnpaidFine(ctx context.Context, tx pgx.Tx, userID string) (bool, error) {
	var has bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM fines WHERE user_id = $1 AND status = 'unpaid')`, userID,
	).Scan(&has); err != nil {
		return false, fmt.Errorf("feedback: check unpaid fines: %w", err)
	}
	return has, nil
}

func (e *Engine) ownerOf(ctx context.Context, tx pgx.Tx, groupID string) (string, error) {
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

func nullableID(id string) any {
	if id == "" {
		return nil
	}
	return id
}
