package fieldops

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"panicdispatch/feedback"
	"panicdispatch/request"
)

// ErrResponderNotAuthorized is returned when the responder is not a member of
// the team currently assigned to the request.
var ErrResponderNotAuthorized = errors.New("fieldops: responder not on assigned team")

// Roster resolves which team a field responder belongs to, inside the
// operation's transaction.
type Roster interface {
	MemberTeam(ctx context.Context, tx pgx.Tx, responderID string) (string, error)
}

// FeedbackRecorder is the accountability engine surface composed into the
// completion transaction.
type FeedbackRecorder interface {
	Record(ctx context.Context, tx pgx.Tx, params feedback.RecordParams) (feedback.Feedback, error)
}

// CompletionRecorder persists the derived metric row in the completion
// transaction.
type CompletionRecorder interface {
	RecordCompletion(ctx context.Context, tx pgx.Tx, req request.Request) error
}

// OutboxWriter enqueues a lifecycle event in the same transaction as the
// state change it announces.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service is the field-response protocol: the actions available to a member
// of the assigned team from assignment through completion.
type Service struct {
	pool     request.TxBeginner
	repo     request.Repository
	roster   Roster
	feedback FeedbackRecorder
	metrics  CompletionRecorder
	outbox   OutboxWriter
}

func NewService(pool request.TxBeginner, repo request.Repository, roster Roster,
	fb FeedbackRecorder, metrics CompletionRecorder, outbox OutboxWriter) *Service {
	return &Service{pool: pool, repo: repo, roster: roster, feedback: fb, metrics: metrics, outbox: outbox}
}

// Accept confirms the assignment. Only one of two racing responders can see
// the request in assigned state; the other gets ErrInvalidTransition.
func (s *Service) Accept(ctx context.Context, requestID, responderID string, etaMinutes *int) (request.Request, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return request.Request{}, fmt.Errorf("fieldops: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.authorized(ctx, tx, requestID, responderID)
	if err != nil {
		return request.Request{}, err
	}
	if req.Status != request.StatusAssigned {
		return request.Request{}, request.TransitionError(requestID, req.Status, request.StatusAccepted)
	}

	updated, err := s.repo.MarkAccepted(ctx, tx, requestID)
	if err != nil {
		return request.Request{}, err
	}
	var msg *string
	if etaMinutes != nil {
		m := fmt.Sprintf("ETA %d minutes", *etaMinutes)
		msg = &m
	}
	if err := s.audit(ctx, tx, updated, responderID, msg, nil); err != nil {
		return request.Request{}, err
	}
	if err := s.emit(ctx, tx, "request.accepted", map[string]any{
		"request_id":   requestID,
		"responder_id": responderID,
	}); err != nil {
		return request.Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return request.Request{}, fmt.Errorf("fieldops: commit accept: %w", err)
	}
	return updated, nil
}

// Reject returns the request to the allocation pool and clears the team.
func (s *Service) Reject(ctx context.Context, requestID, responderID, reason string) (request.Request, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return request.Request{}, fmt.Errorf("fieldops: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.authorized(ctx, tx, requestID, responderID)
	if err != nil {
		return request.Request{}, err
	}
	if req.Status != request.StatusAssigned {
		return request.Request{}, request.TransitionError(requestID, req.Status, request.StatusPending)
	}

	updated, err := s.repo.ReturnToPending(ctx, tx, requestID)
	if err != nil {
		return request.Request{}, err
	}
	var msg *string
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		msg = &trimmed
	}
	if err := s.audit(ctx, tx, updated, responderID, msg, nil); err != nil {
		return request.Request{}, err
	}
	if err := s.emit(ctx, tx, "request.rejected", map[string]any{
		"request_id":   requestID,
		"responder_id": responderID,
		"reason":       reason,
	}); err != nil {
		return request.Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return request.Request{}, fmt.Errorf("fieldops: commit reject: %w", err)
	}
	return updated, nil
}

// UpdateLocation records a responder position ping. The first ping after
// acceptance moves the request to en_route; terminal timestamps are never
// touched.
func (s *Service) UpdateLocation(ctx context.Context, requestID, responderID string, loc request.Location, message *string) (request.Request, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return request.Request{}, fmt.Errorf("fieldops: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.authorized(ctx, tx, requestID, responderID)
	if err != nil {
		return request.Request{}, err
	}
	if !req.Status.Trackable() {
		return request.Request{}, fmt.Errorf("%w: request %s is %s, location updates need accepted or en_route",
			request.ErrInvalidTransition, requestID, req.Status)
	}

	updated := req
	if req.Status == request.StatusAccepted {
		updated, err = s.repo.MarkEnRoute(ctx, tx, requestID)
		if err != nil {
			return request.Request{}, err
		}
	}
	if err := s.audit(ctx, tx, updated, responderID, message, &loc); err != nil {
		return request.Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return request.Request{}, fmt.Errorf("fieldops: commit location update: %w", err)
	}
	return updated, nil
}

// MarkArrived stamps arrival. Accepted is allowed as a source state for
// responders that arrive without an intermediate location ping.
func (s *Service) MarkArrived(ctx context.Context, requestID, responderID string, notes *string) (request.Request, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return request.Request{}, fmt.Errorf("fieldops: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.authorized(ctx, tx, requestID, responderID)
	if err != nil {
		return request.Request{}, err
	}
	if req.Status != request.StatusEnRoute && req.Status != request.StatusAccepted {
		return request.Request{}, request.TransitionError(requestID, req.Status, request.StatusArrived)
	}

	updated, err := s.repo.MarkArrived(ctx, tx, requestID)
	if err != nil {
		return request.Request{}, err
	}
	if err := s.audit(ctx, tx, updated, responderID, notes, nil); err != nil {
		return request.Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return request.Request{}, fmt.Errorf("fieldops: commit arrival: %w", err)
	}
	return updated, nil
}

// CompleteParams names the completion inputs, feedback included.
type CompleteParams struct {
	RequestID   string
	ResponderID string
	IsPrank     bool
	Rating      *int
	Comments    *string
}

// Complete closes out the request with feedback. The status transition, its
// audit row, the feedback record, any prank escalation, and the derived
// metric row commit together or not at all.
func (s *Service) Complete(ctx context.Context, params CompleteParams) (request.Request, feedback.Feedback, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return request.Request{}, feedback.Feedback{}, fmt.Errorf("fieldops: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.authorized(ctx, tx, params.RequestID, params.ResponderID)
	if err != nil {
		return request.Request{}, feedback.Feedback{}, err
	}
	if req.Status != request.StatusArrived {
		return request.Request{}, feedback.Feedback{}, request.TransitionError(params.RequestID, req.Status, request.StatusCompleted)
	}
	if err := feedback.ValidateRating(params.Rating); err != nil {
		return request.Request{}, feedback.Feedback{}, err
	}

	updated, err := s.repo.MarkCompleted(ctx, tx, params.RequestID)
	if err != nil {
		return request.Request{}, feedback.Feedback{}, err
	}
	if err := s.audit(ctx, tx, updated, params.ResponderID, nil, nil); err != nil {
		return request.Request{}, feedback.Feedback{}, err
	}

	fb, err := s.feedback.Record(ctx, tx, feedback.RecordParams{
		RequestID:   params.RequestID,
		GroupID:     req.GroupID,
		ResponderID: params.ResponderID,
		IsPrank:     params.IsPrank,
		Rating:      params.Rating,
		Comments:    params.Comments,
	})
	if err != nil {
		return request.Request{}, feedback.Feedback{}, err
	}

	if s.metrics != nil {
		if err := s.metrics.RecordCompletion(ctx, tx, updated); err != nil {
			return request.Request{}, feedback.Feedback{}, err
		}
	}

	if err := s.emit(ctx, tx, "request.completed", map[string]any{
		"request_id":   params.RequestID,
		"responder_id": params.ResponderID,
		"feedback_id":  fb.ID,
		"is_prank":     params.IsPrank,
	}); err != nil {
		return request.Request{}, feedback.Feedback{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return request.Request{}, feedback.Feedback{}, fmt.Errorf("fieldops: commit completion: %w", err)
	}
	return updated, fb, nil
}

// ListAssigned returns the team's requests, optionally filtered by status.
func (s *Service) ListAssigned(ctx context.Context, teamID string, status *request.Status) ([]request.Request, error) {
	if teamID == "" {
		return nil, fmt.Errorf("fieldops: team id required")
	}
	return s.repo.ListByAssignee(ctx, request.TeamAssignee(teamID), status)
}

// authorized locks the request row and verifies the responder belongs to the
// assigned team.
func (s *Service) authorized(ctx context.Context, tx pgx.Tx, requestID, responderID string) (request.Request, error) {
	if requestID == "" || responderID == "" {
		return request.Request{}, fmt.Errorf("fieldops: request id and responder id required")
	}

	req, err := s.repo.GetForUpdate(ctx, tx, requestID)
	if err != nil {
		return request.Request{}, err
	}

	teamID, err := s.roster.MemberTeam(ctx, tx, responderID)
	if err != nil {
		return request.Request{}, err
	}
	if teamID == "" || req.Assignee.Kind != request.AssigneeTeam || req.Assignee.ID != teamID {
		return request.Request{}, fmt.Errorf("%w: responder %s, request %s",
			ErrResponderNotAuthorized, responderID, requestID)
	}
	return req, nil
}

func (s *Service) audit(ctx context.Context, tx pgx.Tx, req request.Request, actorID string, message *string, loc *request.Location) error {
	var actor *string
	if actorID != "" {
		actor = &actorID
	}
	return s.repo.AppendStatusUpdate(ctx, tx, request.StatusUpdate{
		RequestID: req.ID,
		Status:    req.Status,
		Message:   message,
		Location:  loc,
		ActorID:   actor,
	})
}

func (s *Service) emit(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if s.outbox == nil {
		return nil
	}
	return s.outbox.Enqueue(ctx, tx, topic, payload)
}
