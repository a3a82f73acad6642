package usage

import (
	"testing"
	"time"

	"github.com/opentrusty/entitlements/internal/audit/audittest"
	"github.com/opentrusty/entitlements/internal/profile/profiletest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates the monthly schedule is evaluated in the configured timezone.
// Scope: Unit Test
// Expected: Next run after 2026-10-18 is 2026-11-01 00:00 Asia/Seoul (2026-10-31 15:00 UTC).
// Test Case ID: SCH-01
func TestScheduler_NextInTimezone(t *testing.T) {
	job := NewResetJob(profiletest.NewRepository(), &audittest.Recorder{}, nil, Config{})

	s, err := NewScheduler(job, "0 0 1 * *", "Asia/Seoul", time.Minute)
	require.NoError(t, err)

	next := s.Next(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
	assert.True(t, next.Equal(time.Date(2026, 10, 31, 15, 0, 0, 0, time.UTC)), next.String())
	assert.Equal(t, 1, next.Day())
	assert.Equal(t, "Asia/Seoul", next.Location().String())
}

func TestScheduler_Invalid(t *testing.T) {
	job := NewResetJob(profiletest.NewRepository(), &audittest.Recorder{}, nil, Config{})

	_, err := NewScheduler(job, "every month", "Asia/Seoul", 0)
	assert.Error(t, err)

	_, err = NewScheduler(job, "0 0 1 * *", "Nowhere/Special", 0)
	assert.Error(t, err)
}

func TestScheduler_StartStop(t *testing.T) {
	job := NewResetJob(profiletest.NewRepository(), &audittest.Recorder{}, nil, Config{})
	s, err := NewScheduler(job, "0 0 1 * *", "UTC", time.Minute)
	require.NoError(t, err)

	s.Start()
	select {
	case <-s.Stop().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
