package feedback

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"panicdispatch/request"
)

// Escalator is the engine surface the service and the field-response layer
// compose into their transactions.
type Escalator interface {
	Record(ctx context.Context, tx pgx.Tx, params RecordParams) (Feedback, error)
	Escalate(ctx context.Context, tx pgx.Tx, userID, feedbackID string) (Escalation, error)
	Retract(ctx context.Context, tx pgx.Tx, userID string) error
}

// Service exposes the accountability operations for requests that are already
// completed: after-the-fact submission, author updates, and firm reporting.
type Service struct {
	pool   request.TxBeginner
	repo   Repository
	engine Escalator
}

func NewService(pool request.TxBeginner, repo Repository, engine Escalator) *Service {
	return &Service{pool: pool, repo: repo, engine: engine}
}

// SubmitParams names the inputs for after-the-fact feedback submission.
type SubmitParams struct {
	RequestID   string
	ResponderID string
	IsPrank     bool
	Rating      *int
	Comments    *string
}

// Submit records feedback for a completed request. The request row lock
// serializes this with any racing completion or duplicate submission.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (Feedback, error) {
	if params.RequestID == "" || params.ResponderID == "" {
		return Feedback{}, fmt.Errorf("feedback: request id and responder id required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Feedback{}, fmt.Errorf("feedback: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	status, groupID, err := s.repo.RequestStateForUpdate(ctx, tx, params.RequestID)
	if err != nil {
		return Feedback{}, err
	}
	if status != request.StatusCompleted {
		return Feedback{}, fmt.Errorf("%w: request %s is %s", ErrRequestNotCompleted, params.RequestID, status)
	}

	fb, err := s.engine.Record(ctx, tx, RecordParams{
		RequestID:   params.RequestID,
		GroupID:     groupID,
		ResponderID: params.ResponderID,
		IsPrank:     params.IsPrank,
		Rating:      params.Rating,
		Comments:    params.Comments,
	})
	if err != nil {
		return Feedback{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Feedback{}, fmt.Errorf("feedback: commit submit: %w", err)
	}
	return fb, nil
}

// Update lets the original author revise their feedback. Flipping the prank
// flag applies or retracts the accountability side effect; a retraction never
// reverses a suspension or ban the original flag caused.
func (s *Service) Update(ctx context.Context, params UpdateParams) (Feedback, error) {
	if params.FeedbackID == "" || params.ResponderID == "" {
		return Feedback{}, fmt.Errorf("feedback: feedback id and responder id required")
	}
	if err := ValidateRating(params.Rating); err != nil {
		return Feedback{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Feedback{}, fmt.Errorf("feedback: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, groupID, err := s.repo.GetForUpdate(ctx, tx, params.FeedbackID)
	if err != nil {
		return Feedback{}, err
	}
	if existing.ResponderID != params.ResponderID {
		return Feedback{}, fmt.Errorf("%w: feedback %s belongs to %s",
			ErrUnauthorizedUpdate, params.FeedbackID, existing.ResponderID)
	}

	updated, err := s.repo.Update(ctx, tx, params)
	if err != nil {
		return Feedback{}, err
	}

	if params.IsPrank != nil && *params.IsPrank != existing.IsPrank {
		userID, err := s.repo.OwnerOf(ctx, tx, groupID)
		if err != nil {
			return Feedback{}, err
		}
		if *params.IsPrank {
			if _, err := s.engine.Escalate(ctx, tx, userID, existing.ID); err != nil {
				return Feedback{}, err
			}
		} else {
			if err := s.engine.Retract(ctx, tx, userID); err != nil {
				return Feedback{}, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Feedback{}, fmt.Errorf("feedback: commit update: %w", err)
	}
	return updated, nil
}

// FirmStats aggregates feedback authored by the firm's personnel.
func (s *Service) FirmStats(ctx context.Context, firmID string, from, to *time.Time) (FirmStats, error) {
	if firmID == "" {
		return FirmStats{}, fmt.Errorf("feedback: firm id required")
	}
	return s.repo.FirmStats(ctx, firmID, from, to)
}

// FlaggedUsers reports users at or over the flag threshold, annotated with
// how many flags came from this firm's requests.
func (s *Service) FlaggedUsers(ctx context.Context, firmID string, minFlags, limit int) ([]FlaggedUser, error) {
	if firmID == "" {
		return nil, fmt.Errorf("feedback: firm id required")
	}
	if minFlags < 1 {
		minFlags = 1
	}
	return s.repo.FlaggedUsers(ctx, firmID, minFlags, limit)
}
