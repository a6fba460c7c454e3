package firm

import "time"

// Profile captures the subset of firm data exposed to presentation layers.
type Profile struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Team is a response team registered under a firm.
type Team struct {
	ID        string
	FirmID    string
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

// Group is a subscriber group served by a firm.
type Group struct {
	ID          string
	OwnerUserID string
	FirmID      string
	Name        string
	CreatedAt   time.Time
}
