package metrics

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ZoneSummary is one reporting row: average timings for a zone and service
// type within a firm.
type ZoneSummary struct {
	Zone               string
	ServiceType        string
	Completed          int
	AvgResponseSeconds float64
	AvgArrivalSeconds  float64
	AvgTotalSeconds    float64
}

// Reporter reads the recorded metric rows. All surfaces derive from the same
// cached rows, so numbers agree everywhere.
type Reporter struct {
	pool *pgxpool.Pool
}

func NewReporter(pool *pgxpool.Pool) *Reporter {
	return &Reporter{pool: pool}
}

func (r *Reporter) FirmZoneSummary(ctx context.Context, firmID string) ([]ZoneSummary, error) {
	if firmID == "" {
		return nil, fmt.Errorf("metrics: firm id required")
	}
	const query = `
        SELECT zone, service_type::text, COUNT(*),
               COALESCE(AVG(response_seconds), 0),
               COALESCE(AVG(arrival_seconds), 0),
               COALESCE(AVG(total_seconds), 0)
        FROM request_metrics
        WHERE firm_id = $1
        GROUP BY zone, service_type
        ORDER BY zone, service_type
    `
	rows, err := r.pool.Query(ctx, query, firmID)
	if err != nil {
		return nil, fmt.Errorf("metrics: firm zone summary: %w", err)
	}
	defer rows.Close()

	summaries := make([]ZoneSummary, 0, 8)
	for rows.Next() {
		var s ZoneSummary
		if err := rows.Scan(&s.Zone, &s.ServiceType, &s.Completed,
			&s.AvgResponseSeconds, &s.AvgArrivalSeconds, &s.AvgTotalSeconds); err != nil {
			return nil, fmt.Errorf("metrics: scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metrics: iterate summaries: %w", err)
	}
	return summaries, nil
}
