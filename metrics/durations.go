package metrics

import (
	"time"

	"panicdispatch/request"
)

// Durations are the derived timing metrics for one request. A stage the
// request has not reached yields a nil duration, not zero.
type Durations struct {
	// Response is accepted_at - created_at.
	Response *time.Duration
	// Arrival is arrived_at - accepted_at.
	Arrival *time.Duration
	// Total is completed_at - created_at.
	Total *time.Duration
}

// Derive computes the three durations from the lifecycle timestamps. The
// state machine stamps timestamps monotonically, so results are never
// negative.
func Derive(req request.Request) Durations {
	var d Durations
	if req.AcceptedAt != nil {
		response := req.AcceptedAt.Sub(req.CreatedAt)
		d.Response = &response
		if req.ArrivedAt != nil {
			arrival := req.ArrivedAt.Sub(*req.AcceptedAt)
			d.Arrival = &arrival
		}
	}
	if req.CompletedAt != nil {
		total := req.CompletedAt.Sub(req.CreatedAt)
		d.Total = &total
	}
	return d
}

func seconds(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}
	s := d.Seconds()
	return &s
}
