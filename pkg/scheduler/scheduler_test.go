package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_RejectsBadSpec(t *testing.T) {
	_, err := New(nil, Job{Name: "broken", Spec: "every tuesday", Run: func(context.Context) (int, error) { return 0, nil }})
	assert.ErrorContains(t, err, "broken")

	noop := func(context.Context) (int, error) { return 0, nil }
	_, err = New(nil, Job{Name: "a", Spec: "@hourly", Run: noop}, Job{Name: "a", Spec: "@daily", Run: noop})
	assert.ErrorContains(t, err, "duplicate")
}

func TestRunNow(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s, err := New(zap.New(core),
		Job{Name: "expire_ptps", Spec: "15 1 * * *", Run: func(context.Context) (int, error) { return 3, nil }},
		Job{Name: "reminders", Spec: "0 9 * * *", Run: func(context.Context) (int, error) { return 1, errors.New("smtp down") }},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"expire_ptps", "reminders"}, s.Jobs())

	n, err := s.RunNow(context.Background(), "expire_ptps")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.RunNow(context.Background(), "reminders")
	assert.ErrorContains(t, err, "smtp down")
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, logs.FilterMessage("job finished with errors").Len())

	_, err = s.RunNow(context.Background(), "missing")
	assert.Error(t, err)
}

func TestRunNow_SkipsOverlappingRun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	s, err := New(nil, Job{Name: "slow", Run: func(context.Context) (int, error) {
		close(started)
		<-release
		return 1, nil
	}})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.RunNow(context.Background(), "slow")
		done <- err
	}()
	<-started

	_, err = s.RunNow(context.Background(), "slow")
	assert.ErrorContains(t, err, "already running")

	close(release)
	require.NoError(t, <-done)
}

func TestStartStop(t *testing.T) {
	var runs atomic.Int32
	s, err := New(nil, Job{Name: "tick", Spec: "@every 1s", Run: func(context.Context) (int, error) {
		runs.Add(1)
		return 0, nil
	}})
	require.NoError(t, err)

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
