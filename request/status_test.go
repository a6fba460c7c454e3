package request

import (
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusAssigned, true},
		{StatusPending, StatusHandled, true},
		{StatusPending, StatusAccepted, false},
		{StatusAssigned, StatusAccepted, true},
		{StatusAssigned, StatusPending, true},
		{StatusAssigned, StatusEnRoute, false},
		{StatusAccepted, StatusEnRoute, true},
		{StatusAccepted, StatusArrived, true},
		{StatusAccepted, StatusPending, false},
		{StatusEnRoute, StatusArrived, true},
		{StatusEnRoute, StatusCompleted, false},
		{StatusArrived, StatusCompleted, true},
		{StatusArrived, StatusEnRoute, false},
		{StatusCompleted, StatusPending, false},
		{StatusHandled, StatusAssigned, false},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusHandled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
		if len(transitions[s]) != 0 {
			t.Errorf("%s must have no outgoing edges", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusAssigned, StatusAccepted, StatusEnRoute, StatusArrived} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestTransitionError(t *testing.T) {
	err := TransitionError("req-1", StatusArrived, StatusAccepted)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestServiceTypeDispatchable(t *testing.T) {
	for _, st := range []ServiceType{ServiceSecurity, ServiceAmbulance, ServiceFire, ServiceTowing} {
		if !st.Dispatchable() {
			t.Errorf("%s should be dispatchable", st)
		}
	}
	if ServiceCall.Dispatchable() {
		t.Error("call-type requests must never be dispatchable")
	}
	if ServiceType("carrier_pigeon").Dispatchable() {
		t.Error("unknown service types must not be dispatchable")
	}
}

func TestAssigneeColumnsRoundTrip(t *testing.T) {
	team := TeamAssignee("team-1")
	teamID, providerID := team.Columns()
	if teamID == nil || *teamID != "team-1" || providerID != nil {
		t.Fatalf("unexpected columns for team assignee: %v %v", teamID, providerID)
	}
	if got := AssigneeFromColumns(teamID, providerID); got != team {
		t.Errorf("round trip = %+v, want %+v", got, team)
	}

	provider := ProviderAssignee("prov-1")
	teamID, providerID = provider.Columns()
	if teamID != nil || providerID == nil || *providerID != "prov-1" {
		t.Fatalf("unexpected columns for provider assignee: %v %v", teamID, providerID)
	}
	if got := AssigneeFromColumns(teamID, providerID); got != provider {
		t.Errorf("round trip = %+v, want %+v", got, provider)
	}

	if got := AssigneeFromColumns(nil, nil); !got.IsZero() {
		t.Errorf("expected zero assignee, got %+v", got)
	}
}
