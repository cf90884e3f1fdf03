package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsAfterInitialDelay(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	s := NewScheduler(func(ctx context.Context) (SweepReport, error) {
		runs.Add(1)
		return SweepReport{}, nil
	}, 10*time.Millisecond, 30*time.Millisecond, setupTestLogger())

	s.Start()
	s.Start()
	defer s.Stop()

	time.Sleep(15 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load(), "nothing runs before the initial delay")

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_SurvivesErrorsAndPanics(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	s := NewScheduler(func(ctx context.Context) (SweepReport, error) {
		switch runs.Add(1) {
		case 1:
			return SweepReport{}, errors.New("store down")
		case 2:
			panic("unexpected")
		}
		return SweepReport{}, nil
	}, 5*time.Millisecond, 0, setupTestLogger())

	s.Start()
	defer s.Stop()
	require.Eventually(t, func() bool { return runs.Load() >= 4 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	s := NewScheduler(func(ctx context.Context) (SweepReport, error) {
		runs.Add(1)
		return SweepReport{}, nil
	}, 5*time.Millisecond, 0, setupTestLogger())

	s.Start()
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, time.Millisecond)
	s.Stop()
	s.Stop()

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load())

	s.Start()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "a stopped scheduler does not restart")
}

func TestScheduler_StopBeforeStart(t *testing.T) {
	t.Parallel()
	s := NewScheduler(func(ctx context.Context) (SweepReport, error) {
		return SweepReport{}, nil
	}, time.Minute, 0, setupTestLogger())
	s.Stop()
	s.Start()
}
