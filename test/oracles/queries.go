package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_assignee",
			SQL: `SELECT id FROM requests
                  WHERE assigned_team_id IS NOT NULL AND assigned_provider_id IS NOT NULL`,
		},
		{
			Name: "O2_status_assignee_coherence",
			SQL: `SELECT id, status FROM requests
                  WHERE (status IN ('assigned','accepted','en_route','arrived','completed')
                         AND assigned_team_id IS NULL AND assigned_provider_id IS NULL)
                     OR (status IN ('pending','handled')
                         AND (assigned_team_id IS NOT NULL OR assigned_provider_id IS NOT NULL))`,
		},
		{
			Name: "O3_completed_timestamps_ordered",
			SQL: `SELECT id FROM requests
                  WHERE status = 'completed'
                    AND (accepted_at IS NULL OR arrived_at IS NULL OR completed_at IS NULL
                         OR accepted_at > arrived_at OR arrived_at > completed_at
                         OR accepted_at < created_at)`,
		},
		{
			Name: "O4_handled_means_call",
			SQL: `SELECT id FROM requests WHERE status = 'handled' AND service_type <> 'call'
                  UNION ALL
                  SELECT id FROM requests
                  WHERE service_type = 'call'
                    AND (assigned_team_id IS NOT NULL OR assigned_provider_id IS NOT NULL)`,
		},
		{
			Name: "O5_audit_seq_dense",
			SQL: `WITH seqs AS (
                      SELECT request_id, seq,
                             ROW_NUMBER() OVER (PARTITION BY request_id ORDER BY seq) AS rn
                      FROM status_updates)
                  SELECT * FROM seqs WHERE seq <> rn`,
		},
		{
			Name: "O6_feedback_on_completed_only",
			SQL: `SELECT f.id FROM feedback f
                  JOIN requests r ON r.id = f.request_id
                  WHERE r.status <> 'completed'`,
		},
		{
			Name: "O7_prank_counter_accounting",
			SQL: `SELECT u.id, u.prank_count, c.flags FROM app_users u
                  JOIN (
                      SELECT g.owner_user_id AS uid,
                             COUNT(*) FILTER (WHERE f.is_prank) AS flags
                      FROM feedback f
                      JOIN requests r ON r.id = f.request_id
                      JOIN groups g ON g.id = r.group_id
                      GROUP BY g.owner_user_id
                  ) c ON c.uid = u.id
                  WHERE u.prank_count <> c.flags`,
		},
		{
			// Ban threshold in the stress run is 5; escalation is monotonic, so
			// any user who ever reached it must stay banned.
			Name: "O8_ban_monotonic",
			SQL:  `SELECT id FROM app_users WHERE prank_count >= 5 AND standing <> 'banned'`,
		},
		{
			Name: "O9_completed_has_metrics",
			SQL: `SELECT r.id FROM requests r
                  LEFT JOIN request_metrics m ON m.request_id = r.id
                  WHERE r.status = 'completed' AND m.request_id IS NULL
                  UNION ALL
                  SELECT request_id FROM request_metrics
                  WHERE response_seconds < 0 OR arrival_seconds < 0 OR total_seconds < 0`,
		},
		{
			Name: "O10_outbox_not_stuck",
			SQL: `SELECT id::text FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
