package feedback

import (
	"errors"
	"testing"
)

func TestNextStanding(t *testing.T) {
	cases := []struct {
		name          string
		count         int
		hasUnpaidFine bool
		want          Standing
	}{
		{"below all thresholds", 1, false, ""},
		{"below all thresholds with fine", 2, true, ""},
		{"at suspend threshold without fine", 3, false, ""},
		{"at suspend threshold with fine", 3, true, StandingSuspended},
		{"between thresholds with fine", 4, true, StandingSuspended},
		{"at ban threshold without fine", 5, false, StandingBanned},
		{"at ban threshold with fine", 5, true, StandingBanned},
		{"well past ban threshold", 9, false, StandingBanned},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := nextStanding(tc.count, tc.hasUnpaidFine, 3, 5); got != tc.want {
				t.Errorf("nextStanding(%d, %v) = %q, want %q", tc.count, tc.hasUnpaidFine, got, tc.want)
			}
		})
	}
}

func TestNewEngineDefaults(t *testing.T) {
	e := NewEngine(EngineConfig{}, nil)
	if e.suspendThreshold != defaultSuspendThreshold {
		t.Errorf("suspendThreshold = %d, want %d", e.suspendThreshold, defaultSuspendThreshold)
	}
	if e.banThreshold != defaultBanThreshold {
		t.Errorf("banThreshold = %d, want %d", e.banThreshold, defaultBanThreshold)
	}
	if e.fineCents != defaultFineCents {
		t.Errorf("fineCents = %d, want %d", e.fineCents, defaultFineCents)
	}

	e = NewEngine(EngineConfig{SuspendThreshold: 2, BanThreshold: 4, FineCents: 10000}, nil)
	if e.suspendThreshold != 2 || e.banThreshold != 4 || e.fineCents != 10000 {
		t.Errorf("overrides not applied: %+v", e)
	}
}

func TestValidateRating(t *testing.T) {
	for _, r := range []int{1, 3, 5} {
		r := r
		if err := ValidateRating(&r); err != nil {
			t.Errorf("ValidateRating(%d) = %v, want nil", r, err)
		}
	}
	for _, r := range []int{0, 6, -1} {
		r := r
		if err := ValidateRating(&r); !errors.Is(err, ErrInvalidRating) {
			t.Errorf("ValidateRating(%d) = %v, want ErrInvalidRating", r, err)
		}
	}
	if err := ValidateRating(nil); err != nil {
		t.Errorf("ValidateRating(nil) = %v, want nil", err)
	}
}
