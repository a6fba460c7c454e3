package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Message represents a transactional outbox entry.
type Message struct {
	ID        string
	Topic     string
	Payload   []byte
	Status    string
	Attempts  int
	CreatedAt time.Time
}

// Queue writes outbox entries inside the caller's transaction.
type Queue struct{}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, body); err != nil {
		return fmt.Errorf("outbox: enqueue %s: %w", topic, err)
	}
	return nil
}

// Worker drains pending outbox rows. Delivery targets are out of scope here,
// so processed messages are logged and marked; a real notifier plugs in at
// the same claim point.
type Worker struct {
	pool     *pgxpool.Pool
	logger   *zap.Logger
	interval time.Duration
	batch    int
}

func NewWorker(pool *pgxpool.Pool, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{pool: pool, logger: logger, interval: time.Second, batch: 32}
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.drainOnce(ctx); err != nil {
				w.logger.Warn("outbox drain failed", zap.Error(err))
			}
		}
	}
}

func (w *Worker) drainOnce(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("outbox: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
        SELECT id, topic, payload
        FROM outbox
        WHERE status = 'pending'
        ORDER BY created_at
        LIMIT $1
        FOR UPDATE SKIP LOCKED
    `, w.batch)
	if err != nil {
		return fmt.Errorf("outbox: claim batch: %w", err)
	}

	type claimed struct {
		id, topic string
		payload   []byte
	}
	batch := make([]claimed, 0, w.batch)
	for rows.Next() {
		var c claimed
		if err := rows.Scan(&c.id, &c.topic, &c.payload); err != nil {
			rows.Close()
			return fmt.Errorf("outbox: scan: %w", err)
		}
		batch = append(batch, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("outbox: iterate: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	for _, c := range batch {
		w.logger.Info("outbox message",
			zap.String("id", c.id),
			zap.String("topic", c.topic),
			zap.ByteString("payload", c.payload),
		)
		if _, err := tx.Exec(ctx, `
            UPDATE outbox
            SET status = 'processed',
                attempts = attempts + 1,
                processed_at = get_tx_timestamp()
            WHERE id = $1
        `, c.id); err != nil {
			return fmt.Errorf("outbox: mark processed: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("outbox: commit: %w", err)
	}
	return nil
}
