package request

import "time"

// ServiceType classifies what kind of responder an emergency needs.
type ServiceType string

const (
	ServiceSecurity  ServiceType = "security"
	ServiceAmbulance ServiceType = "ambulance"
	ServiceFire      ServiceType = "fire"
	ServiceTowing    ServiceType = "towing"
	// ServiceCall is handled over the phone and never dispatched to a team
	// or provider.
	ServiceCall ServiceType = "call"
)

func (t ServiceType) Valid() bool {
	switch t {
	case ServiceSecurity, ServiceAmbulance, ServiceFire, ServiceTowing, ServiceCall:
		return true
	default:
		return false
	}
}

// Dispatchable reports whether the type goes through responder allocation.
func (t ServiceType) Dispatchable() bool {
	return t.Valid() && t != ServiceCall
}

// Status is the request lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusAccepted  Status = "accepted"
	StatusEnRoute   Status = "en_route"
	StatusArrived   Status = "arrived"
	StatusCompleted Status = "completed"
	StatusHandled   Status = "handled"
)

// Terminal states accept no further lifecycle transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusHandled
}

// Trackable reports whether location pings are accepted in this state.
func (s Status) Trackable() bool {
	return s == StatusAccepted || s == StatusEnRoute
}

// AssigneeKind tags which kind of responder, if any, holds the request.
type AssigneeKind string

const (
	AssigneeNone     AssigneeKind = "none"
	AssigneeTeam     AssigneeKind = "team"
	AssigneeProvider AssigneeKind = "provider"
)

// Assignee is the tagged responder variant. A request is bound to a team or
// a provider, never both; the zero value means unassigned.
type Assignee struct {
	Kind AssigneeKind
	ID   string
}

func TeamAssignee(id string) Assignee     { return Assignee{Kind: AssigneeTeam, ID: id} }
func ProviderAssignee(id string) Assignee { return Assignee{Kind: AssigneeProvider, ID: id} }
func NoAssignee() Assignee                { return Assignee{Kind: AssigneeNone} }

func (a Assignee) IsZero() bool {
	return a.Kind == "" || a.Kind == AssigneeNone
}

// Columns splits the variant into the two nullable columns it is stored as.
func (a Assignee) Columns() (teamID, providerID *string) {
	switch a.Kind {
	case AssigneeTeam:
		return &a.ID, nil
	case AssigneeProvider:
		return nil, &a.ID
	default:
		return nil, nil
	}
}

// AssigneeFromColumns rebuilds the variant from the stored columns. The
// single_assignee CHECK constraint guarantees at most one is set.
func AssigneeFromColumns(teamID, providerID *string) Assignee {
	switch {
	case teamID != nil:
		return TeamAssignee(*teamID)
	case providerID != nil:
		return ProviderAssignee(*providerID)
	default:
		return NoAssignee()
	}
}

// Location is a geographic point reported by the caller or a responder.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Request mirrors the requests table.
type Request struct {
	ID             string
	GroupID        string
	RequesterPhone string
	ServiceType    ServiceType
	Status         Status
	Assignee       Assignee
	Location       Location
	Address        string
	Description    string
	CreatedAt      time.Time
	AcceptedAt     *time.Time
	ArrivedAt      *time.Time
	CompletedAt    *time.Time
	UpdatedAt      time.Time
}

// StatusUpdate is one append-only audit entry. Seq is dense per request and
// assigned under the request row lock, so audit order equals status order.
type StatusUpdate struct {
	ID        int64
	RequestID string
	Seq       int
	Status    Status
	Message   *string
	Location  *Location
	ActorID   *string
	CreatedAt time.Time
}

// CreateParams enumerates the immutable-at-creation fields.
type CreateParams struct {
	GroupID        string
	RequesterPhone string
	ServiceType    ServiceType
	Location       Location
	Address        string
	Description    string
}
