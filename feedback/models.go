package feedback

import "time"

// Standing is the account state of an end user as escalation acts on it.
type Standing string

const (
	StandingActive    Standing = "active"
	StandingSuspended Standing = "suspended"
	StandingBanned    Standing = "banned"
)

// Feedback mirrors the feedback table; one-to-one with a completed request.
type Feedback struct {
	ID          string
	RequestID   string
	ResponderID string
	IsPrank     bool
	Rating      *int
	Comments    *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RecordParams is the unit of work for creating feedback. GroupID is the
// request's owning group, passed down so the escalation can find the user to
// hold accountable without re-reading the locked request row.
type RecordParams struct {
	RequestID   string
	GroupID     string
	ResponderID string
	IsPrank     bool
	Rating      *int
	Comments    *string
}

// UpdateParams carries a partial update; nil fields are left unchanged.
type UpdateParams struct {
	FeedbackID  string
	ResponderID string
	IsPrank     *bool
	Rating      *int
	Comments    *string
}

// Escalation reports what a prank flag did to the owning user's account.
type Escalation struct {
	UserID     string
	PrankCount int
	Standing   Standing
	FineID     string
}

// FirmStats aggregates feedback authored by one firm's personnel.
type FirmStats struct {
	Total           int
	PrankCount      int
	PrankPercentage float64
	RatedCount      int
	MeanRating      float64
	// RatingHistogram[i] counts feedback rated i+1.
	RatingHistogram [5]int
}

// FlaggedUser is one row of the prank-flagged-users report.
type FlaggedUser struct {
	UserID     string
	Phone      string
	FullName   string
	Standing   Standing
	TotalFlags int
	// FirmFlags counts flags that originated from this firm's requests.
	FirmFlags int
}
