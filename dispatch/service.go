package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"panicdispatch/request"
)

var (
	// ErrResponderNotActive is returned when the target team or provider is
	// missing or deactivated.
	ErrResponderNotActive = errors.New("dispatch: responder not active")
	// ErrServiceTypeMismatch is returned when a provider's declared service
	// type differs from the request's.
	ErrServiceTypeMismatch = errors.New("dispatch: service type mismatch")
	// ErrInvalidReassignmentTarget is returned when zero or both of
	// new team / new provider are supplied.
	ErrInvalidReassignmentTarget = errors.New("dispatch: invalid reassignment target")
	// ErrInvalidStateForReassignment is returned when the request is past the
	// point where a reassignment makes sense.
	ErrInvalidStateForReassignment = errors.New("dispatch: invalid state for reassignment")
)

// Provider is the eligibility view of an external service provider.
type Provider struct {
	ID          string
	ServiceType request.ServiceType
	Active      bool
}

// Responders resolves eligibility inside the allocation transaction so the
// check and the assignment cannot be split by a concurrent deactivation.
type Responders interface {
	TeamActive(ctx context.Context, tx pgx.Tx, teamID string) (bool, error)
	Provider(ctx context.Context, tx pgx.Tx, providerID string) (Provider, error)
}

// OutboxWriter enqueues a lifecycle event in the same transaction as the
// state change it announces.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service is the allocation engine: it binds a pending request to exactly one
// responder, and moves live assignments between responders.
type Service struct {
	pool       request.TxBeginner
	repo       request.Repository
	responders Responders
	outbox     OutboxWriter
}

func NewService(pool request.TxBeginner, repo request.Repository, responders Responders, outbox OutboxWriter) *Service {
	return &Service{pool: pool, repo: repo, responders: responders, outbox: outbox}
}

// AllocateToTeam assigns a pending request to an active field team.
func (s *Service) AllocateToTeam(ctx context.Context, requestID, teamID, actorID string) (request.Request, error) {
	if requestID == "" || teamID == "" {
		return request.Request{}, fmt.Errorf("dispatch: request id and team id required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return request.Request{}, fmt.Errorf("dispatch: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetForUpdate(ctx, tx, requestID)
	if err != nil {
		return request.Request{}, err
	}
	if req.ServiceType == request.ServiceCall {
		return request.Request{}, fmt.Errorf("%w: request %s is call-type and must be handled, not allocated",
			request.ErrInvalidTransition, requestID)
	}
	if req.Status != request.StatusPending {
		return request.Request{}, request.TransitionError(requestID, req.Status, request.StatusAssigned)
	}

	active, err := s.responders.TeamActive(ctx, tx, teamID)
	if err != nil {
		return request.Request{}, err
	}
	if !active {
		return request.Request{}, fmt.Errorf("%w: team %s", ErrResponderNotActive, teamID)
	}

	updated, err := s.repo.Assign(ctx, tx, requestID, request.TeamAssignee(teamID))
	if err != nil {
		return request.Request{}, err
	}
	if err := s.audit(ctx, tx, updated, actorID, nil, nil); err != nil {
		return request.Request{}, err
	}
	if err := s.emit(ctx, tx, "request.assigned", map[string]any{
		"request_id": requestID,
		"team_id":    teamID,
		"actor_id":   actorID,
	}); err != nil {
		return request.Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return request.Request{}, fmt.Errorf("dispatch: commit allocation: %w", err)
	}
	return updated, nil
}

// AllocateToProvider assigns a pending request to an active external provider
// whose declared service type matches the request's.
func (s *Service) AllocateToProvider(ctx context.Context, requestID, providerID, actorID string) (request.Request, error) {
	if requestID == "" || providerID == "" {
		return request.Request{}, fmt.Errorf("dispatch: request id and provider id required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return request.Request{}, fmt.Errorf("dispatch: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetForUpdate(ctx, tx, requestID)
	if err != nil {
		return request.Request{}, err
	}
	if req.ServiceType == request.ServiceCall {
		return request.Request{}, fmt.Errorf("%w: request %s is call-type and must be handled, not allocated",
			request.ErrInvalidTransition, requestID)
	}
	if req.Status != request.StatusPending {
		return request.Request{}, request.TransitionError(requestID, req.Status, request.StatusAssigned)
	}

	if err := s.checkProvider(ctx, tx, providerID, req.ServiceType); err != nil {
		return request.Request{}, err
	}

	updated, err := s.repo.Assign(ctx, tx, requestID, request.ProviderAssignee(providerID))
	if err != nil {
		return request.Request{}, err
	}
	if err := s.audit(ctx, tx, updated, actorID, nil, nil); err != nil {
		return request.Request{}, err
	}
	if err := s.emit(ctx, tx, "request.assigned", map[string]any{
		"request_id":  requestID,
		"provider_id": providerID,
		"actor_id":    actorID,
	}); err != nil {
		return request.Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return request.Request{}, fmt.Errorf("dispatch: commit allocation: %w", err)
	}
	return updated, nil
}

// HandleCall closes a call-type request without any responder. accepted_at is
// stamped so call handling shows up in response-time reporting.
func (s *Service) HandleCall(ctx context.Context, requestID, actorID, notes string) (request.Request, error) {
	if requestID == "" {
		return request.Request{}, fmt.Errorf("dispatch: request id required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return request.Request{}, fmt.Errorf("dispatch: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetForUpdate(ctx, tx, requestID)
	if err != nil {
		return request.Request{}, err
	}
	if req.ServiceType != request.ServiceCall {
		return request.Request{}, fmt.Errorf("%w: request %s is %s-type, only call-type requests can be handled",
			request.ErrInvalidTransition, requestID, req.ServiceType)
	}
	if req.Status != request.StatusPending {
		return request.Request{}, request.TransitionError(requestID, req.Status, request.StatusHandled)
	}

	updated, err := s.repo.MarkHandled(ctx, tx, requestID)
	if err != nil {
		return request.Request{}, err
	}
	var msg *string
	if trimmed := strings.TrimSpace(notes); trimmed != "" {
		msg = &trimmed
	}
	if err := s.audit(ctx, tx, updated, actorID, msg, nil); err != nil {
		return request.Request{}, err
	}
	if err := s.emit(ctx, tx, "request.handled", map[string]any{
		"request_id": requestID,
		"actor_id":   actorID,
	}); err != nil {
		return request.Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return request.Request{}, fmt.Errorf("dispatch: commit handle call: %w", err)
	}
	return updated, nil
}

// ReassignParams names the reassignment inputs. Exactly one of NewTeamID and
// NewProviderID must be set.
type ReassignParams struct {
	RequestID     string
	NewTeamID     string
	NewProviderID string
	ActorID       string
	Reason        string
}

// Reassign moves a live assignment to a different responder. An acceptance by
// the same kind of responder survives the move; switching responder kinds
// resets the request to assigned and clears accepted_at, since the new
// responder has not accepted anything.
func (s *Service) Reassign(ctx context.Context, params ReassignParams) (request.Request, error) {
	if params.RequestID == "" {
		return request.Request{}, fmt.Errorf("dispatch: request id required")
	}
	if (params.NewTeamID == "") == (params.NewProviderID == "") {
		return request.Request{}, fmt.Errorf("%w: exactly one of team or provider must be given",
			ErrInvalidReassignmentTarget)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return request.Request{}, fmt.Errorf("dispatch: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetForUpdate(ctx, tx, params.RequestID)
	if err != nil {
		return request.Request{}, err
	}
	if req.Status != request.StatusAssigned && req.Status != request.StatusAccepted {
		return request.Request{}, fmt.Errorf("%w: request %s is %s",
			ErrInvalidStateForReassignment, params.RequestID, req.Status)
	}

	var target request.Assignee
	if params.NewTeamID != "" {
		active, err := s.responders.TeamActive(ctx, tx, params.NewTeamID)
		if err != nil {
			return request.Request{}, err
		}
		if !active {
			return request.Request{}, fmt.Errorf("%w: team %s", ErrResponderNotActive, params.NewTeamID)
		}
		target = request.TeamAssignee(params.NewTeamID)
	} else {
		if err := s.checkProvider(ctx, tx, params.NewProviderID, req.ServiceType); err != nil {
			return request.Request{}, err
		}
		target = request.ProviderAssignee(params.NewProviderID)
	}

	var updated request.Request
	if req.Status == request.StatusAccepted && req.Assignee.Kind == target.Kind {
		// Acceptance carries over within the same responder kind.
		updated, err = s.repo.ReplaceAssignee(ctx, tx, params.RequestID, target)
	} else {
		updated, err = s.repo.Assign(ctx, tx, params.RequestID, target)
	}
	if err != nil {
		return request.Request{}, err
	}

	var msg *string
	if trimmed := strings.TrimSpace(params.Reason); trimmed != "" {
		msg = &trimmed
	}
	if err := s.audit(ctx, tx, updated, params.ActorID, msg, nil); err != nil {
		return request.Request{}, err
	}
	if err := s.emit(ctx, tx, "request.reassigned", map[string]any{
		"request_id": params.RequestID,
		"kind":       string(target.Kind),
		"responder":  target.ID,
		"actor_id":   params.ActorID,
	}); err != nil {
		return request.Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return request.Request{}, fmt.Errorf("dispatch: commit reassignment: %w", err)
	}
	return updated, nil
}

// PendingForFirm lists the firm's allocation pool. Read-only and allowed to
// be slightly stale; the write path re-validates under the row lock.
func (s *Service) PendingForFirm(ctx context.Context, firmID string) ([]request.Request, error) {
	if firmID == "" {
		return nil, fmt.Errorf("dispatch: firm id required")
	}
	return s.repo.PendingForFirm(ctx, firmID)
}

func (s *Service) checkProvider(ctx context.Context, tx pgx.Tx, providerID string, want request.ServiceType) error {
	provider, err := s.responders.Provider(ctx, tx, providerID)
	if err != nil {
		return err
	}
	if !provider.Active {
		return fmt.Errorf("%w: provider %s", ErrResponderNotActive, providerID)
	}
	if provider.ServiceType != want {
		return fmt.Errorf("%w: provider %s serves %s, request needs %s",
			ErrServiceTypeMismatch, providerID, provider.ServiceType, want)
	}
	return nil
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
