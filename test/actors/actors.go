package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"panicdispatch/dispatch"
	"panicdispatch/feedback"
	"panicdispatch/fieldops"
	"panicdispatch/request"
)

// Env bundles the pool, the services under test, and the seeded fixture ids
// actors operate on.
type Env struct {
	Pool     *pgxpool.Pool
	Repo     request.Repository
	Dispatch *dispatch.Service
	Field    *fieldops.Service
	Feedback *feedback.Service

	GroupID       string
	TeamID        string
	AltTeamID     string
	ProviderID    string
	DispatcherID  string
	Responders    []string
	AltResponders []string
}

// expected reports whether err is a business outcome actors race into on
// purpose, as opposed to a bug.
func expected(err error) bool {
	if err == nil {
		return true
	}
	switch {
	case errors.Is(err, request.ErrNotFound),
		errors.Is(err, request.ErrInvalidTransition),
		errors.Is(err, dispatch.ErrResponderNotActive),
		errors.Is(err, dispatch.ErrServiceTypeMismatch),
		errors.Is(err, dispatch.ErrInvalidStateForReassignment),
		errors.Is(err, fieldops.ErrResponderNotAuthorized),
		errors.Is(err, feedback.ErrAlreadyExists),
		errors.Is(err, feedback.ErrRequestNotCompleted),
		errors.Is(err, feedback.ErrUnauthorizedUpdate),
		errors.Is(err, feedback.ErrNotFound),
		errors.Is(err, pgx.ErrNoRows),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	// Chaos kills backends mid-statement; those failures are survivable noise.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "57P01", "08006", "40001":
			return true
		}
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}

func pause(base, jitter int) {
	time.Sleep(time.Duration(base+rand.Intn(jitter)) * time.Millisecond)
}

// pickRequest returns a random request id in one of the given states, or ""
// when none exists.
func pickRequest(ctx context.Context, pool *pgxpool.Pool, states ...string) string {
	var id string
	err := pool.QueryRow(ctx, `
        SELECT id FROM requests
        WHERE status = ANY($1)
        ORDER BY random() LIMIT 1
    `, states).Scan(&id)
	if err != nil {
		return ""
	}
	return id
}

// Caller files new emergency requests, mostly dispatchable with the
// occasional phone-only call.
func Caller(ctx context.Context, env *Env, stop <-chan struct{}) error {
	types := []request.ServiceType{
		request.ServiceSecurity, request.ServiceAmbulance,
		request.ServiceFire, request.ServiceTowing,
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		svcType := types[rand.Intn(len(types))]
		if rand.Intn(5) == 0 {
			svcType = request.ServiceCall
		}

		tx, err := env.Pool.Begin(ctx)
		if err != nil {
			if expected(err) {
				pause(20, 40)
				continue
			}
			return fmt.Errorf("caller begin: %w", err)
		}
		_, err = env.Repo.Create(ctx, tx, request.CreateParams{
			GroupID:        env.GroupID,
			RequesterPhone: fmt.Sprintf("+2779%07d", rand.Intn(10000000)),
			ServiceType:    svcType,
			Location: request.Location{
				Latitude:  -26.2 + rand.Float64()*0.2,
				Longitude: 28.0 + rand.Float64()*0.2,
			},
			Address: "stress fixture",
		})
		if err == nil {
			err = tx.Commit(ctx)
		}
		_ = tx.Rollback(ctx)
		if err != nil && !expected(err) {
			return fmt.Errorf("caller create: %w", err)
		}
		pause(15, 35)
	}
}

// CallHandler closes pending call-type requests from the dispatch desk.
func CallHandler(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var id string
		err := env.Pool.QueryRow(ctx, `
            SELECT id FROM requests
            WHERE status = 'pending' AND service_type = 'call'
            ORDER BY random() LIMIT 1
        `).Scan(&id)
		if err == nil {
			if _, err := env.Dispatch.HandleCall(ctx, id, env.DispatcherID, "handled over the phone"); !expected(err) {
				return fmt.Errorf("call handler: %w", err)
			}
		}
		pause(30, 50)
	}
}

// Allocator races to bind pending requests to a team or a provider. Losing
// the race surfaces as an invalid transition, which is the point.
func Allocator(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if id := pickRequest(ctx, env.Pool, "pending"); id != "" {
			var err error
			if rand.Intn(3) == 0 {
				_, err = env.Dispatch.AllocateToProvider(ctx, id, env.ProviderID, env.DispatcherID)
			} else {
				_, err = env.Dispatch.AllocateToTeam(ctx, id, env.TeamID, env.DispatcherID)
			}
			if !expected(err) {
				return fmt.Errorf("allocator: %w", err)
			}
		}
		pause(10, 25)
	}
}

// Reassigner moves live assignments to the alternate team.
func Reassigner(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if id := pickRequest(ctx, env.Pool, "assigned", "accepted"); id != "" {
			_, err := env.Dispatch.Reassign(ctx, dispatch.ReassignParams{
				RequestID: id,
				NewTeamID: env.AltTeamID,
				ActorID:   env.DispatcherID,
				Reason:    "load balancing",
			})
			if !expected(err) {
				return fmt.Errorf("reassigner: %w", err)
			}
		}
		pause(80, 120)
	}
}

// Accepter races members of both teams to accept assigned requests. At most
// one acceptance can win per assignment.
func Accepter(ctx context.Context, env *Env, stop <-chan struct{}) error {
	all := append(append([]string{}, env.Responders...), env.AltResponders...)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if id := pickRequest(ctx, env.Pool, "assigned"); id != "" {
			responder := all[rand.Intn(len(all))]
			eta := 5 + rand.Intn(20)
			if _, err := env.Field.Accept(ctx, id, responder, &eta); !expected(err) {
				return fmt.Errorf("accepter: %w", err)
			}
		}
		pause(10, 25)
	}
}

// Rejector occasionally throws an assignment back into the pool.
func Rejector(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if rand.Intn(4) == 0 {
			if id := pickRequest(ctx, env.Pool, "assigned"); id != "" {
				responder := env.Responders[rand.Intn(len(env.Responders))]
				if _, err := env.Field.Reject(ctx, id, responder, "unit unavailable"); !expected(err) {
					return fmt.Errorf("rejector: %w", err)
				}
			}
		}
		pause(100, 150)
	}
}

// Runner drives accepted requests through location pings, arrival, and
// completion with randomized prank feedback.
func Runner(ctx context.Context, env *Env, stop <-chan struct{}) error {
	all := append(append([]string{}, env.Responders...), env.AltResponders...)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		responder := all[rand.Intn(len(all))]

		if id := pickRequest(ctx, env.Pool, "accepted", "en_route"); id != "" {
			loc := request.Location{
				Latitude:  -26.2 + rand.Float64()*0.2,
				Longitude: 28.0 + rand.Float64()*0.2,
			}
			if _, err := env.Field.UpdateLocation(ctx, id, responder, loc, nil); !expected(err) {
				return fmt.Errorf("runner ping: %w", err)
			}
			if rand.Intn(2) == 0 {
				if _, err := env.Field.MarkArrived(ctx, id, responder, nil); !expected(err) {
					return fmt.Errorf("runner arrive: %w", err)
				}
			}
		}

		if id := pickRequest(ctx, env.Pool, "arrived"); id != "" {
			params := fieldops.CompleteParams{
				RequestID:   id,
				ResponderID: responder,
				IsPrank:     rand.Intn(4) == 0,
			}
			if !params.IsPrank {
				rating := 1 + rand.Intn(5)
				params.Rating = &rating
			}
			if _, _, err := env.Field.Complete(ctx, params); !expected(err) {
				return fmt.Errorf("runner complete: %w", err)
			}
		}
		pause(15, 30)
	}
}

// Flipper revises existing feedback, flipping the prank flag back and forth
// to exercise escalation and retraction.
func Flipper(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var fbID, responderID string
		var isPrank bool
		err := env.Pool.QueryRow(ctx, `
            SELECT id, responder_id, is_prank FROM feedback
            ORDER BY random() LIMIT 1
        `).Scan(&fbID, &responderID, &isPrank)
		if err == nil {
			flipped := !isPrank
			_, err := env.Feedback.Update(ctx, feedback.UpdateParams{
				FeedbackID:  fbID,
				ResponderID: responderID,
				IsPrank:     &flipped,
			})
			if !expected(err) {
				return fmt.Errorf("flipper: %w", err)
			}
		}
		pause(60, 100)
	}
}
