package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"panicdispatch/dispatch"
	"panicdispatch/feedback"
	"panicdispatch/fieldops"
	"panicdispatch/metrics"
	"panicdispatch/outbox"
	"panicdispatch/request"
	"panicdispatch/test/actors"
	"panicdispatch/test/chaos"
	"panicdispatch/test/infra"
	"panicdispatch/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actors")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func seedRNG(seed int64) { rand.Seed(seed) }

func TestDispatchConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	seedRNG(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("DISPATCH_TEST_PG_DSN") != "":
		dsn = os.Getenv("DISPATCH_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	// migrations
	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	env := mustSeed(t, ctx, pool)

	// run actors
	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	// callers, allocators, and accepters battling over the same pool
	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error { return actors.Caller(ctx2, env, stop) })
		g.Go(func() error { return actors.Allocator(ctx2, env, stop) })
		g.Go(func() error { return actors.Accepter(ctx2, env, stop) })
	}

	g.Go(func() error { return actors.CallHandler(ctx2, env, stop) })
	g.Go(func() error { return actors.Reassigner(ctx2, env, stop) })
	g.Go(func() error { return actors.Rejector(ctx2, env, stop) })
	g.Go(func() error { return actors.Runner(ctx2, env, stop) })
	g.Go(func() error { return actors.Runner(ctx2, env, stop) })
	g.Go(func() error { return actors.Flipper(ctx2, env, stop) })

	// outbox worker drains lifecycle events concurrently
	workerCtx, stopWorker := context.WithCancel(ctx2)
	defer stopWorker()
	worker := outbox.NewWorker(pool, zap.NewNop())
	go worker.Run(workerCtx)

	// chaos: kill random backend
	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	// schedule oracle checks until duration reached
	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	stopWorker()
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool) *actors.Env {
	t.Helper()

	env := &actors.Env{Pool: pool}

	var firmID string
	if err := pool.QueryRow(ctx, `INSERT INTO firms (name) VALUES ($1) RETURNING id`,
		fmt.Sprintf("Stress Firm %d", rand.Int63())).Scan(&firmID); err != nil {
		t.Fatalf("seed firm: %v", err)
	}

	if err := pool.QueryRow(ctx, `INSERT INTO teams (firm_id, name) VALUES ($1, 'Alpha') RETURNING id`,
		firmID).Scan(&env.TeamID); err != nil {
		t.Fatalf("seed team: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO teams (firm_id, name) VALUES ($1, 'Bravo') RETURNING id`,
		firmID).Scan(&env.AltTeamID); err != nil {
		t.Fatalf("seed alt team: %v", err)
	}

	if err := pool.QueryRow(ctx,
		`INSERT INTO service_providers (name, service_type) VALUES ('Tow Co', 'towing') RETURNING id`).
		Scan(&env.ProviderID); err != nil {
		t.Fatalf("seed provider: %v", err)
	}

	var userID string
	if err := pool.QueryRow(ctx,
		`INSERT INTO app_users (phone, full_name) VALUES ($1, 'Stress User') RETURNING id`,
		fmt.Sprintf("+2782%07d", rand.Intn(10000000))).Scan(&userID); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := pool.QueryRow(ctx,
		`INSERT INTO groups (owner_user_id, firm_id, name) VALUES ($1, $2, 'Stress Group') RETURNING id`,
		userID, firmID).Scan(&env.GroupID); err != nil {
		t.Fatalf("seed group: %v", err)
	}

	addPersonnel := func(teamID *string, role string) string {
		var id string
		if err := pool.QueryRow(ctx, `
            INSERT INTO personnel (firm_id, team_id, email, full_name, password_hash, role)
            VALUES ($1, $2, $3, 'Stress Personnel', 'x', $4::personnel_role)
            RETURNING id
        `, firmID, teamID, fmt.Sprintf("p%d@example.com", rand.Int63()), role).Scan(&id); err != nil {
			t.Fatalf("seed personnel: %v", err)
		}
		return id
	}
	env.DispatcherID = addPersonnel(nil, "dispatcher")
	env.Responders = []string{addPersonnel(&env.TeamID, "field_agent"), addPersonnel(&env.TeamID, "field_agent")}
	env.AltResponders = []string{addPersonnel(&env.AltTeamID, "field_agent"), addPersonnel(&env.AltTeamID, "field_agent")}

	queue := outbox.NewQueue()
	repo := request.NewRepository(pool)
	env.Repo = repo

	env.Dispatch = dispatch.NewService(pool, repo, dispatch.NewResponders(), queue)

	engine := feedback.NewEngine(feedback.EngineConfig{}, queue)
	env.Feedback = feedback.NewService(pool, feedback.NewRepository(pool), engine)

	recorder := metrics.NewRecorder(metrics.GridClassifier{}, zap.NewNop())
	env.Field = fieldops.NewService(pool, repo, fieldops.NewRoster(), engine, recorder, queue)

	return env
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"requests", `SELECT id, status, service_type, assigned_team_id, assigned_provider_id, accepted_at, arrived_at, completed_at FROM requests ORDER BY updated_at DESC LIMIT 50`},
		{"status_updates", `SELECT id, request_id, seq, status, created_at FROM status_updates ORDER BY id DESC LIMIT 50`},
		{"feedback", `SELECT id, request_id, responder_id, is_prank, rating FROM feedback ORDER BY updated_at DESC LIMIT 50`},
		{"app_users", `SELECT id, prank_count, standing FROM app_users ORDER BY updated_at DESC LIMIT 20`},
		{"fines", `SELECT id, user_id, amount_cents, status, created_at FROM fines ORDER BY created_at DESC LIMIT 20`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			// compact print
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
