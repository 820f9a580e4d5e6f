package client

import (
	"context"
	"errors"
	"time"

	"github.com/fiffu/eventpush/client/bus"
	"github.com/fiffu/eventpush/client/offline"
	"github.com/fiffu/eventpush/client/updates"
	"github.com/fiffu/eventpush/lib/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultPollInterval = 5 * time.Minute

type RuntimeConfig struct {
	Navigator    bus.Navigator
	Connectivity offline.Connectivity
	CachePath    string
	PollInterval time.Duration

	// Current is the build this runtime was started on.
	Current models.VersionInfo
	Reload  updates.Reloader

	OnUpdateStatus func(updates.Status)
}

// Runtime is the root of the client: it owns the message bus, the update
// detector and the offline reconciler, and hands them to views.
type Runtime struct {
	log      *zap.Logger
	interval time.Duration

	Bus     *bus.Bus
	Updates *updates.Detector
	Records *offline.Reconciler

	cache *offline.Cache
}

func NewRuntime(log *zap.Logger, c *Client, cfg RuntimeConfig) (*Runtime, error) {
	cache, err := offline.OpenCache(cfg.CachePath)
	if err != nil {
		return nil, err
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	reload := cfg.Reload
	if reload == nil {
		reload = func() error { return errors.New("reload not supported") }
	}

	var opts []updates.Option
	if cfg.OnUpdateStatus != nil {
		opts = append(opts, updates.WithOnChange(cfg.OnUpdateStatus))
	}

	return &Runtime{
		log:      log,
		interval: interval,
		Bus:      bus.New(log, cfg.Navigator),
		Updates:  updates.New(log, cfg.Current, c, reload, opts...),
		Records:  offline.NewReconciler(log, cache, c, cfg.Connectivity),
		cache:    cache,
	}, nil
}

// Start relays background messages and polls for updates until ctx is done
// or messages is closed.
func (r *Runtime) Start(ctx context.Context, messages <-chan bus.Message, reconnect <-chan struct{}) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := r.Bus.Listen(ctx, messages); err != nil {
			return err
		}
		// Closed input ends the runtime.
		return context.Canceled
	})
	g.Go(func() error {
		return r.Updates.Run(ctx, r.interval, reconnect)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runtime) Close() error {
	return r.cache.Close()
}
