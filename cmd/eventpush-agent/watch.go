package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fiffu/eventpush/client"
	"github.com/fiffu/eventpush/client/bus"
	"github.com/fiffu/eventpush/client/offline"
	"github.com/fiffu/eventpush/client/updates"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	watchCmd.Flags().String("open", "", "landing URL to cold-start from, e.g. https://app/events?eventId=42")
	watchCmd.Flags().Duration("interval", client.DefaultPollInterval, "update check interval")
	watchCmd.Flags().Bool("auto-apply", false, "reload as soon as an update is found")
}

var eventsCmd = &cobra.Command{
	Use:   "events <collection>",
	Short: "Print a collection from the offline cache, then from the data service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger(cmd)
		defer log.Sync()

		cachePath, _ := cmd.Flags().GetString("cache")
		offlineOnly, _ := cmd.Flags().GetBool("offline")

		cache, err := offline.OpenCache(cachePath)
		if err != nil {
			return err
		}
		defer cache.Close()

		conn := offline.ConnectivityFunc(func() bool { return !offlineOnly })
		reconciler := offline.NewReconciler(log, cache, newClient(cmd), conn)

		enc := json.NewEncoder(os.Stdout)
		for update := range reconciler.Load(cmd.Context(), args[0]) {
			line := struct {
				Source string `json:"source"`
				offline.CachedRecordSet
				Error string `json:"error,omitempty"`
			}{Source: string(update.Source), CachedRecordSet: update.CachedRecordSet}
			if update.Err != nil {
				line.Error = update.Err.Error()
			}
			if err := enc.Encode(line); err != nil {
				return err
			}
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the client runtime",
	Long: `Run the client runtime until interrupted.

Notification taps are read from stdin as JSON lines, for example
  {"type":"NOTIFICATION_CLICK","eventId":"42","url":"/events/42"}
Opened events and navigations are logged. SIGHUP is treated as regained
connectivity and triggers an update check. The runtime stops at EOF on stdin
or on interrupt.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log := newLogger(cmd)
		defer log.Sync()

		open, _ := cmd.Flags().GetString("open")
		interval, _ := cmd.Flags().GetDuration("interval")
		autoApply, _ := cmd.Flags().GetBool("auto-apply")
		cachePath, _ := cmd.Flags().GetString("cache")

		landing := &url.URL{Path: "/"}
		if open != "" {
			u, err := url.Parse(open)
			if err != nil {
				return fmt.Errorf("--open: %w", err)
			}
			landing = u
		}

		w := &watcher{
			log:       log,
			client:    newClient(cmd),
			nav:       &loggingNavigator{log: log.Named("nav"), current: landing},
			cachePath: cachePath,
			interval:  interval,
			autoApply: autoApply,
			messages:  readMessages(ctx, os.Stdin, log),
			reconnect: reconnectSignals(ctx),
		}
		return w.run(ctx, open != "")
	},
}

type watcher struct {
	log       *zap.Logger
	client    *client.Client
	nav       *loggingNavigator
	cachePath string
	interval  time.Duration
	autoApply bool
	messages  <-chan bus.Message
	reconnect <-chan struct{}
}

// run starts a runtime and starts a fresh one each time an update is applied.
func (w *watcher) run(ctx context.Context, coldStart bool) error {
	for {
		reloaded, err := w.runOnce(ctx, coldStart)
		if err != nil || !reloaded {
			return err
		}
		coldStart = false
		w.log.Info("Reloaded on latest build")
	}
}

func (w *watcher) runOnce(ctx context.Context, coldStart bool) (bool, error) {
	current, err := w.client.FetchVersion(ctx)
	if err != nil {
		return false, fmt.Errorf("fetch version: %w", err)
	}
	w.log.Sugar().Infow("Client runtime starting", "version", current.Version, "commit", current.Commit)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var reloaded atomic.Bool
	var rt *client.Runtime
	rt, err = client.NewRuntime(w.log, w.client, client.RuntimeConfig{
		Navigator:    w.nav,
		Connectivity: offline.ConnectivityFunc(func() bool { return true }),
		CachePath:    w.cachePath,
		PollInterval: w.interval,
		Current:      current,
		Reload: func() error {
			reloaded.Store(true)
			cancel()
			return nil
		},
		OnUpdateStatus: func(s updates.Status) {
			w.log.Sugar().Infow("Update status", "state", s.State, "latest", s.Latest.Version, "dismissed", s.Dismissed)
			if w.autoApply && s.State == updates.StateUpdateAvailable && !s.Dismissed {
				if err := rt.Updates.ApplyUpdate(); err != nil {
					w.log.Sugar().Errorw("Auto-apply failed", "err", err)
				}
			}
		},
	})
	if err != nil {
		return false, err
	}
	defer rt.Close()

	release := rt.Bus.SetConsumer(func(eventID string) {
		w.log.Sugar().Infow("Opened event", "eventId", eventID)
	})
	defer release()

	if coldStart {
		w.nav.mu.Lock()
		landing := w.nav.current
		w.nav.mu.Unlock()
		rt.Bus.HandleColdStart(landing)
	}

	if err := rt.Start(runCtx, w.messages, w.reconnect); err != nil {
		return false, err
	}
	return reloaded.Load(), nil
}

type loggingNavigator struct {
	log *zap.Logger

	mu      sync.Mutex
	current *url.URL
}

func (n *loggingNavigator) Current() *url.URL {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

func (n *loggingNavigator) Navigate(_ context.Context, target *url.URL) error {
	n.mu.Lock()
	n.current = target
	n.mu.Unlock()
	n.log.Info("Navigate", zap.Stringer("url", target))
	return nil
}

func (n *loggingNavigator) Replace(target *url.URL) {
	n.mu.Lock()
	n.current = target
	n.mu.Unlock()
	n.log.Debug("Replace", zap.Stringer("url", target))
}

// readMessages decodes one message per line of r. The channel closes at EOF.
func readMessages(ctx context.Context, r io.Reader, log *zap.Logger) <-chan bus.Message {
	out := make(chan bus.Message)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var msg bus.Message
			if err := json.Unmarshal(line, &msg); err != nil {
				log.Sugar().Warnw("Skipping malformed message", "line", string(line), "err", err)
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func reconnectSignals(ctx context.Context) <-chan struct{} {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)

	out := make(chan struct{})
	go func() {
		defer signal.Stop(sig)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sig:
				select {
				case out <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
