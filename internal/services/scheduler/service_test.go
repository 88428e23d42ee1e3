package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestService_RegisterAndTrigger(t *testing.T) {
	s := NewService(arbor.NewLogger())

	runs := 0
	require.NoError(t, s.RegisterJob("purge_raw", "0 0 3 * * *", "purge raw records", func(ctx context.Context) error {
		runs++
		return nil
	}))
	require.NoError(t, s.RegisterJob("failing", "0 */30 * * * *", "always fails", func(ctx context.Context) error {
		return errors.New("boom")
	}))
	require.NoError(t, s.RegisterJob("panicking", "@daily", "panics", func(ctx context.Context) error {
		panic("unexpected")
	}))

	require.NoError(t, s.TriggerJob("purge_raw"))
	require.NoError(t, s.TriggerJob("failing"))
	require.NoError(t, s.TriggerJob("panicking"))
	assert.Error(t, s.TriggerJob("missing"))
	assert.Equal(t, 1, runs)

	statuses := s.GetAllJobStatuses()
	require.Len(t, statuses, 3)
	assert.Equal(t, "failing", statuses[0].Name)
	assert.Equal(t, "boom", statuses[0].LastError)
	assert.Equal(t, "panic: unexpected", statuses[1].LastError)
	assert.Empty(t, statuses[2].LastError)
	assert.NotNil(t, statuses[2].LastRun)
}

func TestService_RegisterValidation(t *testing.T) {
	s := NewService(arbor.NewLogger())
	noop := func(ctx context.Context) error { return nil }

	assert.Error(t, s.RegisterJob("bad", "not a cron", "", noop))
	assert.Error(t, s.RegisterJob("too-often", "* * * * *", "", noop))

	require.NoError(t, s.RegisterJob("ok", "0 0 * * *", "", noop))
	assert.Error(t, s.RegisterJob("ok", "0 0 * * *", "", noop))
}

func TestService_StartStop(t *testing.T) {
	s := NewService(arbor.NewLogger())
	require.NoError(t, s.RegisterJob("hourly", "0 0 * * * *", "", func(ctx context.Context) error { return nil }))

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	statuses := s.GetAllJobStatuses()
	require.Len(t, statuses, 1)
	assert.NotNil(t, statuses[0].NextRun)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}
