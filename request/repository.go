package request

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxBeginner abstracts pgxpool.Pool so services can be tested against fakes.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository is the request store contract consumed by the dispatch and
// field-response services. Every mutating method runs inside the caller's
// transaction; the caller is expected to hold the row lock taken by
// GetForUpdate for the whole read-check-write span.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, params CreateParams) (Request, error)
	Get(ctx context.Context, id string) (Request, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error)

	Assign(ctx context.Context, tx pgx.Tx, id string, assignee Assignee) (Request, error)
	ReplaceAssignee(ctx context.Context, tx pgx.Tx, id string, assignee Assignee) (Request, error)
	ReturnToPending(ctx context.Context, tx pgx.Tx, id string) (Request, error)
	MarkAccepted(ctx context.Context, tx pgx.Tx, id string) (Request, error)
	MarkEnRoute(ctx context.Context, tx pgx.Tx, id string) (Request, error)
	MarkArrived(ctx context.Context, tx pgx.Tx, id string) (Request, error)
	MarkCompleted(ctx context.Context, tx pgx.Tx, id string) (Request, error)
	MarkHandled(ctx context.Context, tx pgx.Tx, id string) (Request, error)

	AppendStatusUpdate(ctx context.Context, tx pgx.Tx, update StatusUpdate) error
	ListByAssignee(ctx context.Context, assignee Assignee, status *Status) ([]Request, error)
	PendingForFirm(ctx context.Context, firmID string) ([]Request, error)
	History(ctx context.Context, requestID string) ([]StatusUpdate, error)
}

const requestColumns = `id, group_id, requester_phone, service_type::text, status::text,
    assigned_team_id, assigned_provider_id, latitude, longitude, address, description,
    created_at, accepted_at, arrived_at, completed_at, updated_at`

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, params CreateParams) (Request, error) {
	if params.GroupID == "" {
		return Request{}, fmt.Errorf("request: group id required")
	}
	if !params.ServiceType.Valid() {
		return Request{}, fmt.Errorf("request: invalid service type %q", params.ServiceType)
	}

	const query = `
        INSERT INTO requests (group_id, requester_phone, service_type, latitude, longitude, address, description)
        VALUES ($1, $2, $3::service_type, $4, $5, $6, $7)
        RETURNING ` + requestColumns

	row := tx.QueryRow(ctx, query,
		params.GroupID,
		params.RequesterPhone,
		params.ServiceType,
		params.Location.Latitude,
		params.Location.Longitude,
		params.Address,
		params.Description,
	)
	req, err := scanRequest(row)
	if err != nil {
		return Request{}, fmt.Errorf("request: create: %w", err)
	}
	return req, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Request, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("request: get: %w", err)
	}
	return req, nil
}

// GetForUpdate locks the request row for the remainder of the transaction.
// This is the per-request single-writer boundary: concurrent mutators queue
// here and the loser re-reads post-mutation state.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error) {
	row := tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1 FOR UPDATE`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("request: get for update: %w", err)
	}
	return req, nil
}

// Assign binds the responder and moves the request to assigned. accepted_at
// is cleared because assignment always precedes acceptance.
func (r *PGRepository) Assign(ctx context.Context, tx pgx.Tx, id string, assignee Assignee) (Request, error) {
	teamID, providerID := assignee.Columns()
	const query = `
        UPDATE requests
        SET status = 'assigned',
            assigned_team_id = $2,
            assigned_provider_id = $3,
            accepted_at = NULL,
            updated_at = get_tx_timestamp()
        WHERE id = $1
        RETURNING ` + requestColumns
	return r.mutate(ctx, tx, "assign", query, id, teamID, providerID)
}

// ReplaceAssignee swaps the responder without touching status or timestamps.
// Used for reassignment between responders of the same kind after acceptance.
func (r *PGRepository) ReplaceAssignee(ctx context.Context, tx pgx.Tx, id string, assignee Assignee) (Request, error) {
	teamID, providerID := assignee.Columns()
	const query = `
        UPDATE requests
        SET assigned_team_id = $2,
            assigned_provider_id = $3,
            updated_at = get_tx_timestamp()
        WHERE id = $1
        RETURNING ` + requestColumns
	return r.mutate(ctx, tx, "replace assignee", query, id, teamID, providerID)
}

// ReturnToPending puts a rejected request back into the allocation pool.
func (r *PGRepository) ReturnToPending(ctx context.Context, tx pgx.Tx, id string) (Request, error) {
	const query = `
        UPDATE requests
        SET status = 'pending',
            assigned_team_id = NULL,
            assigned_provider_id = NULL,
            updated_at = get_tx_timestamp()
        WHERE id = $1
        RETURNING ` + requestColumns
	return r.mutate(ctx, tx, "return to pending", query, id)
}

func (r *PGRepository) MarkAccepted(ctx context.Context, tx pgx.Tx, id string) (Request, error) {
	const query = `
        UPDATE requests
        SET status = 'accepted',
            accepted_at = get_tx_timestamp(),
            updated_at = get_tx_timestamp()
        WHERE id = $1
        RETURNING ` + requestColumns
	return r.mutate(ctx, tx, "mark accepted", query, id)
}

func (r *PGRepository) MarkEnRoute(ctx context.Context, tx pgx.Tx, id string) (Request, error) {
	const query = `
        UPDATE requests
        SET status = 'en_route',
            updated_at = get_tx_timestamp()
        WHERE id = $1
        RETURNING ` + requestColumns
	return r.mutate(ctx, tx, "mark en route", query, id)
}

func (r *PGRepository) MarkArrived(ctx context.Context, tx pgx.Tx, id string) (Request, error) {
	const query = `
        UPDATE requests
        SET status = 'arrived',
            arrived_at = get_tx_timestamp(),
            updated_at = get_tx_timestamp()
        WHERE id = $1
        RETURNING ` + requestColumns
	return r.mutate(ctx, tx, "mark arrived", query, id)
}

func (r *PGRepository) MarkCompleted(ctx context.Context, tx pgx.Tx, id string) (Request, error) {
	const query = `
        UPDATE requests
        SET status = 'completed',
            completed_at = get_tx_timestamp(),
            updated_at = get_tx_timestamp()
        WHERE id = $1
        RETURNING ` + requestColumns
	return r.mutate(ctx, tx, "mark completed", query, id)
}

// MarkHandled closes a call-type request. accepted_at records when the call
// was taken even though no responder was dispatched.
func (r *PGRepository) MarkHandled(ctx context.Context, tx pgx.Tx, id string) (Request, error) {
	const query = `
        UPDATE requests
        SET status = 'handled',
            accepted_at = get_tx_timestamp(),
            updated_at = get_tx_timestamp()
        WHERE id = $1
        RETURNING ` + requestColumns
	return r.mutate(ctx, tx, "mark handled", query, id)
}

// AppendStatusUpdate writes one audit row. Seq is derived under the request
// row lock, so it is dense and gap-free per request.
func (r *PGRepository) AppendStatusUpdate(ctx context.Context, tx pgx.Tx, update StatusUpdate) error {
	var lat, lon *float64
	if update.Location != nil {
		lat = &update.Location.Latitude
		lon = &update.Location.Longitude
	}
	const query = `
        INSERT INTO status_updates (request_id, seq, status, message, latitude, longitude, actor_id)
        SELECT $1, COALESCE(MAX(seq), 0) + 1, $2::request_status, $3, $4, $5, $6
        FROM status_updates
        WHERE request_id = $1
    `
	if _, err := tx.Exec(ctx, query,
		update.RequestID,
		update.Status,
		update.Message,
		lat,
		lon,
		update.ActorID,
	); err != nil {
		return fmt.Errorf("request: append status update: %w", err)
	}
	return nil
}

func (r *PGRepository) ListByAssignee(ctx context.Context, assignee Assignee, status *Status) ([]Request, error) {
	var column string
	switch assignee.Kind {
	case AssigneeTeam:
		column = "assigned_team_id"
	case AssigneeProvider:
		column = "assigned_provider_id"
	default:
		return nil, fmt.Errorf("request: list by assignee: no responder given")
	}

	query := `SELECT ` + requestColumns + ` FROM requests WHERE ` + column + ` = $1`
	args := []any{assignee.ID}
	if status != nil {
		query += ` AND status = $2::request_status`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC`

	return r.queryRequests(ctx, "list by assignee", query, args...)
}

// PendingForFirm lists the allocation pool for one subscription firm. The
// result may be a stale snapshot; allocation re-validates under the row lock.
func (r *PGRepository) PendingForFirm(ctx context.Context, firmID string) ([]Request, error) {
	const query = `
        SELECT ` + requestColumns + `
        FROM requests r
        WHERE r.status = 'pending'
          AND EXISTS (SELECT 1 FROM groups g WHERE g.id = r.group_id AND g.firm_id = $1)
        ORDER BY r.created_at ASC
    `
	return r.queryRequests(ctx, "pending for firm", query, firmID)
}

func (r *PGRepository) History(ctx context.Context, requestID string) ([]StatusUpdate, error) {
	const query = `
        SELECT id, request_id, seq, status::text, message, latitude, longitude, actor_id, created_at
        FROM status_updates
        WHERE request_id = $1
        ORDER BY seq ASC
    `
	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("request: history: %w", err)
	}
	defer rows.Close()

	updates := make([]StatusUpdate, 0, 8)
	for rows.Next() {
		var (
			u        StatusUpdate
			lat, lon *float64
		)
		if err := rows.Scan(&u.ID, &u.RequestID, &u.Seq, &u.Status, &u.Message, &lat, &lon, &u.ActorID, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("request: scan status update: %w", err)
		}
		if lat != nil && lon != nil {
			u.Location = &Location{Latitude: *lat, Longitude: *lon}
		}
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("request: iterate history: %w", err)
	}
	return updates, nil
}

func (r *PGRepository) mutate(ctx context.Context, tx pgx.Tx, op, query string, args ...any) (Request, error) {
	req, err := scanRequest(tx.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("request: %s: %w", op, err)
	}
	return req, nil
}

func (r *PGRepository) queryRequests(ctx context.Context, op, query string, args ...any) ([]Request, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("request: %s: %w", op, err)
	}
	defer rows.Close()

	list := make([]Request, 0, 8)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("request: %s scan: %w", op, err)
		}
		list = append(list, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("request: %s iterate: %w", op, err)
	}
	return list, nil
}

func scanRequest(row pgx.Row) (Request, error) {
	var (
		req                Request
		teamID, providerID *string
	)
	if err := row.Scan(
		&req.ID,
		&req.GroupID,
		&req.RequesterPhone,
		&req.ServiceType,
		&req.Status,
		&teamID,
		&providerID,
		&req.Location.Latitude,
		&req.Location.Longitude,
		&req.Address,
		&req.Description,
		&req.CreatedAt,
		&req.AcceptedAt,
		&req.ArrivedAt,
		&req.CompletedAt,
		&req.UpdatedAt,
	); err != nil {
		return Request{}, err
	}
	req.Assignee = AssigneeFromColumns(teamID, providerID)
	return req, nil
}
