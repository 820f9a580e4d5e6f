// Package updates notices when the server is running a different build than
// the client and offers to reload.
package updates

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fiffu/eventpush/lib/models"
	"go.uber.org/zap"
)

type State string

const (
	StateIdle            State = "idle"
	StateUpToDate        State = "upToDate"
	StateUpdateAvailable State = "updateAvailable"
	StateApplying        State = "applying"
)

var ErrNoUpdate = errors.New("no update available")

type Fetcher interface {
	FetchVersion(ctx context.Context) (models.VersionInfo, error)
}

// Reloader restarts the client on the latest build.
type Reloader func() error

type Status struct {
	State     State
	Current   models.VersionInfo
	Latest    models.VersionInfo
	Dismissed bool
	Checking  bool
}

type Detector struct {
	log      *zap.Logger
	fetcher  Fetcher
	reload   Reloader
	current  models.VersionInfo
	onChange func(Status)

	mu         sync.Mutex
	state      State
	latest     models.VersionInfo
	dismissed  bool
	checking   bool
	generation uint64
}

type Option func(*Detector)

// WithOnChange registers fn to be called after every state change.
func WithOnChange(fn func(Status)) Option {
	return func(d *Detector) { d.onChange = fn }
}

func New(log *zap.Logger, current models.VersionInfo, fetcher Fetcher, reload Reloader, opts ...Option) *Detector {
	d := &Detector{
		log:     log.Named("updates"),
		fetcher: fetcher,
		reload:  reload,
		current: current,
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CheckNow polls the version endpoint once. It returns false without fetching
// if another check is already in flight.
func (d *Detector) CheckNow(ctx context.Context) bool {
	d.mu.Lock()
	if d.checking {
		d.mu.Unlock()
		return false
	}
	d.checking = true
	gen := d.generation
	d.mu.Unlock()

	latest, err := d.fetcher.FetchVersion(ctx)

	d.mu.Lock()
	d.checking = false
	switch {
	case err != nil:
		d.mu.Unlock()
		d.log.Debug("Version check failed", zap.Error(err))
		return true

	case gen != d.generation:
		d.mu.Unlock()
		d.log.Debug("Discarding version check superseded by dismiss")
		return true

	case d.state == StateApplying:
		d.mu.Unlock()
		return true
	}

	d.latest = latest
	if latest == d.current {
		d.state = StateUpToDate
	} else {
		d.state = StateUpdateAvailable
	}
	status := d.statusLocked()
	d.mu.Unlock()

	if status.State == StateUpdateAvailable {
		d.log.Sugar().Infow("Update available", "current", d.current.Version, "latest", latest.Version)
	}
	d.notify(status)
	return true
}

// Run checks immediately, then on every tick of interval and every signal on
// reconnect, until ctx is done.
func (d *Detector) Run(ctx context.Context, interval time.Duration, reconnect <-chan struct{}) error {
	d.CheckNow(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			d.CheckNow(ctx)

		case <-reconnect:
			d.log.Debug("Connectivity regained, checking for updates")
			d.CheckNow(ctx)
		}
	}
}

// ApplyUpdate reloads the client. If the reload fails the update stays
// available so it can be retried.
func (d *Detector) ApplyUpdate() error {
	d.mu.Lock()
	if d.state != StateUpdateAvailable {
		d.mu.Unlock()
		return ErrNoUpdate
	}
	d.state = StateApplying
	status := d.statusLocked()
	d.mu.Unlock()
	d.notify(status)

	if err := d.reload(); err != nil {
		d.mu.Lock()
		d.state = StateUpdateAvailable
		status = d.statusLocked()
		d.mu.Unlock()
		d.notify(status)

		d.log.Sugar().Errorw("Failed to apply update", "err", err)
		return fmt.Errorf("apply update: %w", err)
	}
	return nil
}

// DismissUpdate hides the banner until the process restarts. A check in
// flight when this is called has its result discarded.
func (d *Detector) DismissUpdate() {
	d.mu.Lock()
	d.dismissed = true
	d.generation++
	status := d.statusLocked()
	d.mu.Unlock()
	d.notify(status)
}

func (d *Detector) BannerVisible() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == StateUpdateAvailable && !d.dismissed
}

func (d *Detector) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statusLocked()
}

func (d *Detector) statusLocked() Status {
	return Status{
		State:     d.state,
		Current:   d.current,
		Latest:    d.latest,
		Dismissed: d.dismissed,
		Checking:  d.checking,
	}
}

func (d *Detector) notify(status Status) {
	if d.onChange != nil {
		d.onChange(status)
	}
}
