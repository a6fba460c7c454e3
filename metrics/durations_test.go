package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panicdispatch/request"
)

func TestDerive_FullLifecycle(t *testing.T) {
	t0 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	accepted := t0.Add(2 * time.Minute)
	arrived := t0.Add(15 * time.Minute)
	completed := t0.Add(25 * time.Minute)

	d := Derive(request.Request{
		CreatedAt:   t0,
		AcceptedAt:  &accepted,
		ArrivedAt:   &arrived,
		CompletedAt: &completed,
	})

	require.NotNil(t, d.Response)
	require.NotNil(t, d.Arrival)
	require.NotNil(t, d.Total)
	assert.Equal(t, 2*time.Minute, *d.Response)
	assert.Equal(t, 13*time.Minute, *d.Arrival)
	assert.Equal(t, 25*time.Minute, *d.Total)
}

func TestDerive_PartialLifecycle(t *testing.T) {
	t0 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	d := Derive(request.Request{CreatedAt: t0})
	assert.Nil(t, d.Response)
	assert.Nil(t, d.Arrival)
	assert.Nil(t, d.Total)

	accepted := t0.Add(90 * time.Second)
	d = Derive(request.Request{CreatedAt: t0, AcceptedAt: &accepted})
	require.NotNil(t, d.Response)
	assert.Equal(t, 90*time.Second, *d.Response)
	assert.Nil(t, d.Arrival)
	assert.Nil(t, d.Total)
}

func TestDerive_HandledCall(t *testing.T) {
	// A handled call stamps accepted_at and completed_at but never arrives.
	t0 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	accepted := t0.Add(time.Minute)
	completed := accepted

	d := Derive(request.Request{CreatedAt: t0, AcceptedAt: &accepted, CompletedAt: &completed})
	require.NotNil(t, d.Response)
	require.NotNil(t, d.Total)
	assert.Nil(t, d.Arrival)
	assert.Equal(t, time.Minute, *d.Response)
}

func TestSeconds(t *testing.T) {
	assert.Nil(t, seconds(nil))
	d := 90 * time.Second
	got := seconds(&d)
	require.NotNil(t, got)
	assert.Equal(t, 90.0, *got)
}
