package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "offerbot/pkg/logx"
)

func TestParseSpec(t *testing.T) {
	cases := []struct {
		in     string
		cron   string
		source string
	}{
		{"*/5 * * * *", "*/5 * * * *", "cron"},
		{"@hourly", "@hourly", "cron"},
		{"cron: 0 0 3 * * *", "0 0 3 * * *", "cron"},
		{"55m", "@every 55m0s", "duration"},
		{"02:30", "@every 2h30m0s", "hhmm"},
		{"every: 10s", "@every 10s", "duration"},
	}
	for _, tc := range cases {
		sp, err := ParseSpec(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.cron, sp.Cron, tc.in)
		assert.Equal(t, tc.source, sp.Source, tc.in)
	}

	for _, bad := range []string{"", "soon", "00:00", "01:75", "-5m", "cron:"} {
		_, err := ParseSpec(bad)
		assert.Error(t, err, bad)
	}
}

func TestAddRejectsBadCron(t *testing.T) {
	s := New("", logx.Nop())
	err := s.Add("x", "61 * * * *", 0, func(context.Context) error { return nil })
	assert.Error(t, err)
	assert.Empty(t, s.Schedules())
}

func TestAddReplacesByName(t *testing.T) {
	s := New("Europe/Moscow", logx.Nop())
	job := func(context.Context) error { return nil }
	require.NoError(t, s.Add("sync", "@hourly", 0, job))
	require.NoError(t, s.Add("sync", "10m", 0, job))

	got := s.Schedules()
	require.Len(t, got, 1)
	assert.Equal(t, "@every 10m0s", got[0].Spec)
	assert.True(t, s.Remove("sync"))
	assert.False(t, s.Remove("sync"))
}

func TestRunNowAppliesTimeoutAndRecovers(t *testing.T) {
	s := New("", logx.Nop())
	require.NoError(t, s.Add("slow", "@hourly", 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, s.Add("boom", "@hourly", 0, func(context.Context) error { panic("bad") }))

	err := s.RunNow(context.Background(), "slow")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	err = s.RunNow(context.Background(), "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")

	assert.Error(t, s.RunNow(context.Background(), "missing"))
}

func TestOverlappingFireIsSkipped(t *testing.T) {
	s := New("", logx.Nop())
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Add("long", "@hourly", 0, func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	s.Start(context.Background())

	s.mu.Lock()
	e := s.defs["long"]
	s.mu.Unlock()

	go s.fire(e)
	<-started
	s.fire(e)
	assert.Equal(t, uint64(1), e.skipped.Load())
	assert.Error(t, s.RunNow(context.Background(), "long"))

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.False(t, e.running.Load())
}
