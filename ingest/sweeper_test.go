package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passlog/lifecycle"
	"passlog/store"
)

func TestSweep_DisconnectsIdleSuites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sw := NewSweeper(f.service, time.Minute, time.Second)

	idle, err := f.service.StartSuite(ctx, StartSuiteRequest{Name: str("idle")})
	require.NoError(t, err)
	c, err := f.service.CreateCase(ctx, CreateCaseRequest{SuiteID: &idle.ID})
	require.NoError(t, err)

	f.clock.Advance(45 * time.Second)
	busy, err := f.service.StartSuite(ctx, StartSuiteRequest{Name: str("busy")})
	require.NoError(t, err)

	f.clock.Advance(30 * time.Second)
	bc, err := f.service.CreateCase(ctx, CreateCaseRequest{SuiteID: &busy.ID})
	require.NoError(t, err)
	_, err = f.service.AppendLog(ctx, bc.ID, AppendLogRequest{Level: lifecycle.LevelInfo})
	require.NoError(t, err)

	n, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.store.GetSuite(ctx, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.SuiteDisconnected, got.Status)
	gotCase, err := f.store.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.CaseAborted, *gotCase.Result)

	got, err = f.store.GetSuite(ctx, busy.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.SuiteStarted, got.Status)

	_, tracked := f.service.Activity().LastSeen(idle.ID)
	assert.False(t, tracked)
}

func TestSweep_SeedsUnknownSuites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Written by an earlier process: nothing in the tracker.
	suite, err := f.store.CreateSuite(ctx, store.NewSuite{})
	require.NoError(t, err)

	sw := NewSweeper(f.service, time.Minute, time.Second)
	n, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	seen, ok := f.service.Activity().LastSeen(suite.ID)
	require.True(t, ok)
	assert.Equal(t, f.clock.Now(), seen)

	f.clock.Advance(2 * time.Minute)
	n, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSweep_ForgetsFinishedSuites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	suite, err := f.service.StartSuite(ctx, StartSuiteRequest{})
	require.NoError(t, err)
	_, err = f.service.UpdateSuite(ctx, suite.ID, UpdateSuiteRequest{Version: 1, Status: suiteStatus(lifecycle.SuiteFinished)})
	require.NoError(t, err)
	assert.Equal(t, 0, f.service.Activity().Len())

	// A late case update touches the finished suite again.
	f.service.Activity().Touch(suite.ID, f.clock.Now())
	_, err = NewSweeper(f.service, time.Minute, time.Second).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, f.service.Activity().Len())
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- NewSweeper(f.service, time.Minute, 10*time.Millisecond).Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestActivity_TouchKeepsNewest(t *testing.T) {
	a := NewActivity()
	t0 := time.Unix(100, 0)

	a.Touch("s", t0)
	a.Touch("s", t0.Add(-time.Second))
	got, ok := a.LastSeen("s")
	require.True(t, ok)
	assert.Equal(t, t0, got)

	a.Seed("s", t0.Add(time.Hour))
	got, _ = a.LastSeen("s")
	assert.Equal(t, t0, got)

	a.Forget("s")
	_, ok = a.LastSeen("s")
	assert.False(t, ok)
}

func TestSweep_WriteAfterListingKeepsSuiteOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	suite, err := f.service.StartSuite(ctx, StartSuiteRequest{})
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)

	// The sweeper judged the suite idle against this cutoff, then a case
	// arrived before it took the writer lock.
	cutoff := f.clock.Now().Add(-time.Minute)
	c, err := f.service.CreateCase(ctx, CreateCaseRequest{SuiteID: &suite.ID})
	require.NoError(t, err)

	got, changed, err := f.service.disconnect(ctx, suite.ID, cutoff)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, lifecycle.SuiteStarted, got.Status)

	stored, err := f.store.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.CaseCreated, stored.Status)

	f.clock.Advance(2 * time.Minute)
	got, changed, err = f.service.disconnect(ctx, suite.ID, f.clock.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, lifecycle.SuiteDisconnected, got.Status)
}
