package updates

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fiffu/eventpush/lib/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var running = models.VersionInfo{
	Version:        "2024.10.1",
	BuildTimestamp: "2024-10-01T20:00:00Z",
	Commit:         "deadbeef",
	Environment:    "production",
}

type fakeFetcher struct {
	mu      sync.Mutex
	version models.VersionInfo
	err     error
	calls   atomic.Int32

	// When set, each fetch signals started and waits for release.
	started chan struct{}
	release chan struct{}
}

func (f *fakeFetcher) FetchVersion(ctx context.Context) (models.VersionInfo, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version, f.err
}

func (f *fakeFetcher) set(v models.VersionInfo, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.version, f.err = v, err
}

func newer() models.VersionInfo {
	v := running
	v.Version = "2024.10.2"
	v.Commit = "cafef00d"
	return v
}

func TestCheckNow_UpToDate(t *testing.T) {
	fetcher := &fakeFetcher{version: running}
	d := New(zaptest.NewLogger(t), running, fetcher, nil)

	assert.True(t, d.CheckNow(context.Background()))
	assert.Equal(t, StateUpToDate, d.Status().State)
	assert.False(t, d.BannerVisible())
}

func TestCheckNow_AnyDifferenceIsAnUpdate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(v *models.VersionInfo)
	}{
		{"version", func(v *models.VersionInfo) { v.Version = "2024.9.30" }},
		{"commit", func(v *models.VersionInfo) { v.Commit = "0000000" }},
		{"build timestamp", func(v *models.VersionInfo) { v.BuildTimestamp = "2024-10-01T21:00:00Z" }},
		{"environment", func(v *models.VersionInfo) { v.Environment = "staging" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			latest := running
			tt.mutate(&latest)
			d := New(zaptest.NewLogger(t), running, &fakeFetcher{version: latest}, nil)

			d.CheckNow(context.Background())
			assert.Equal(t, StateUpdateAvailable, d.Status().State)
			assert.Equal(t, latest, d.Status().Latest)
			assert.True(t, d.BannerVisible())
		})
	}
}

func TestCheckNow_FailureKeepsPreviousState(t *testing.T) {
	fetcher := &fakeFetcher{version: newer()}
	d := New(zaptest.NewLogger(t), running, fetcher, nil)

	d.CheckNow(context.Background())
	require.Equal(t, StateUpdateAvailable, d.Status().State)

	fetcher.set(models.VersionInfo{}, errors.New("network down"))
	d.CheckNow(context.Background())

	assert.Equal(t, StateUpdateAvailable, d.Status().State)
	assert.Equal(t, newer(), d.Status().Latest)
}

func TestCheckNow_OverlappingChecksFetchOnce(t *testing.T) {
	fetcher := &fakeFetcher{
		version: newer(),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	d := New(zaptest.NewLogger(t), running, fetcher, nil)

	done := make(chan bool)
	go func() { done <- d.CheckNow(context.Background()) }()

	<-fetcher.started
	assert.True(t, d.Status().Checking)
	assert.False(t, d.CheckNow(context.Background()))

	close(fetcher.release)
	assert.True(t, <-done)

	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.False(t, d.Status().Checking)
}

func TestDismissUpdate_DiscardsInFlightResult(t *testing.T) {
	fetcher := &fakeFetcher{
		version: newer(),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	d := New(zaptest.NewLogger(t), running, fetcher, nil)

	done := make(chan bool)
	go func() { done <- d.CheckNow(context.Background()) }()

	<-fetcher.started
	d.DismissUpdate()
	close(fetcher.release)
	<-done

	status := d.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.Equal(t, models.VersionInfo{}, status.Latest)
	assert.True(t, status.Dismissed)
}

func TestDismissUpdate_HidesBanner(t *testing.T) {
	fetcher := &fakeFetcher{version: newer()}
	d := New(zaptest.NewLogger(t), running, fetcher, nil)

	d.CheckNow(context.Background())
	require.True(t, d.BannerVisible())

	d.DismissUpdate()
	assert.False(t, d.BannerVisible())

	// Later checks do not bring it back for this process.
	d.CheckNow(context.Background())
	assert.Equal(t, StateUpdateAvailable, d.Status().State)
	assert.False(t, d.BannerVisible())
}

func TestApplyUpdate(t *testing.T) {
	t.Run("no update", func(t *testing.T) {
		d := New(zaptest.NewLogger(t), running, &fakeFetcher{version: running}, func() error { return nil })
		d.CheckNow(context.Background())
		assert.ErrorIs(t, d.ApplyUpdate(), ErrNoUpdate)
	})

	t.Run("reload succeeds", func(t *testing.T) {
		reloads := 0
		d := New(zaptest.NewLogger(t), running, &fakeFetcher{version: newer()}, func() error {
			reloads++
			return nil
		})
		d.CheckNow(context.Background())

		require.NoError(t, d.ApplyUpdate())
		assert.Equal(t, 1, reloads)
		assert.Equal(t, StateApplying, d.Status().State)
		assert.False(t, d.BannerVisible())
	})

	t.Run("reload fails soft", func(t *testing.T) {
		reloadErr := errors.New("reload blocked")
		d := New(zaptest.NewLogger(t), running, &fakeFetcher{version: newer()}, func() error { return reloadErr })
		d.CheckNow(context.Background())

		err := d.ApplyUpdate()
		assert.ErrorIs(t, err, reloadErr)
		assert.Equal(t, StateUpdateAvailable, d.Status().State)
		assert.True(t, d.BannerVisible())
	})
}

func TestOnChange(t *testing.T) {
	var states []State
	d := New(zaptest.NewLogger(t), running, &fakeFetcher{version: newer()}, func() error { return errors.New("nope") },
		WithOnChange(func(s Status) { states = append(states, s.State) }))

	d.CheckNow(context.Background())
	_ = d.ApplyUpdate()

	assert.Equal(t, []State{StateUpdateAvailable, StateApplying, StateUpdateAvailable}, states)
}

func TestRun_ChecksImmediatelyAndOnReconnect(t *testing.T) {
	fetcher := &fakeFetcher{version: running}
	d := New(zaptest.NewLogger(t), running, fetcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	reconnect := make(chan struct{})
	done := make(chan error)
	go func() { done <- d.Run(ctx, time.Hour, reconnect) }()

	assert.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	reconnect <- struct{}{}
	assert.Eventually(t, func() bool { return fetcher.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRun_PollsOnInterval(t *testing.T) {
	fetcher := &fakeFetcher{version: running}
	d := New(zaptest.NewLogger(t), running, fetcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx, 10*time.Millisecond, nil) }()

	assert.Eventually(t, func() bool { return fetcher.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
}
