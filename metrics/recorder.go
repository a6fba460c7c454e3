package metrics

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"panicdispatch/request"
)

// ZoneUnknown is recorded when the classifier cannot attribute the request.
const ZoneUnknown = "unknown"

// Recorder derives and persists the metric row for a completed request. The
// zone is resolved exactly once here, from the request's initial location,
// and cached on the row; reporting never re-classifies a possibly-moved live
// position.
type Recorder struct {
	classifier ZoneClassifier
	logger     *zap.Logger
}

func NewRecorder(classifier ZoneClassifier, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{classifier: classifier, logger: logger}
}

// RecordCompletion runs inside the completion transaction. A classifier
// failure degrades the zone to unknown rather than failing the completion.
func (r *Recorder) RecordCompletion(ctx context.Context, tx pgx.Tx, req request.Request) error {
	firmID, err := r.firmOf(ctx, tx, req.GroupID)
	if err != nil {
		return err
	}

	zone := ZoneUnknown
	if r.classifier != nil {
		z, err := r.classifier.ClassifyZone(ctx, req.Location, firmID)
		if err != nil {
			r.logger.Warn("zone classification failed",
				zap.String("request_id", req.ID),
				zap.Error(err),
			)
		} else {
			zone = z
		}
	}

	d := Derive(req)
	const query = `
        INSERT INTO request_metrics (request_id, firm_id, service_type, zone, response_seconds, arrival_seconds, total_seconds)
        VALUES ($1, $2, $3::service_type, $4, $5, $6, $7)
        ON CONFLICT (request_id) DO NOTHING
    `
	if _, err := tx.Exec(ctx, query,
		req.ID,
		firmID,
		req.ServiceType,
		zone,
		seconds(d.Response),
		seconds(d.Arrival),
		seconds(d.Total),
	); err != nil {
		return fmt.Errorf("metrics: record completion: %w", err)
	}
	return nil
}

func (r *Recorder) firmOf(ctx context.Context, tx pgx.Tx, groupID string) (string, error) {
	var firmID string
	if err := tx.QueryRow(ctx, `SELECT firm_id FROM groups WHERE id = $1`, groupID).Scan(&firmID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("metrics: group %s not found", groupID)
		}
		return "", fmt.Errorf("metrics: resolve firm: %w", err)
	}
	return firmID, nil
}
