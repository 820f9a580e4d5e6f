// Package bus relays notification taps to whichever view is currently
// interested in them.
package bus

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	MessageTypeNotificationClick = "NOTIFICATION_CLICK"

	// EventIDParam carries the tapped event on a cold-start landing URL.
	EventIDParam = "eventId"

	// DefaultDuplicateWindow covers a cold-start landing and the message for
	// the same tap arriving back to back.
	DefaultDuplicateWindow = 500 * time.Millisecond
)

type Consumer func(eventID string)

type Navigator interface {
	Current() *url.URL
	Navigate(ctx context.Context, target *url.URL) error
	// Replace swaps the current location without creating a history entry.
	Replace(target *url.URL)
}

// Message is what the background context posts when a notification is tapped.
type Message struct {
	Type    string `json:"type"`
	EventID string `json:"eventId,omitempty"`
	URL     string `json:"url,omitempty"`
}

type registration struct {
	fn Consumer
}

// Bus holds a single consumer slot. The last registration wins.
type Bus struct {
	log    *zap.Logger
	nav    Navigator
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	consumer *registration
	lastID   string
	lastAt   time.Time
}

type Option func(*Bus)

func WithDuplicateWindow(d time.Duration) Option {
	return func(b *Bus) { b.window = d }
}

func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

func New(log *zap.Logger, nav Navigator, opts ...Option) *Bus {
	b := &Bus{
		log:    log.Named("bus"),
		nav:    nav,
		window: DefaultDuplicateWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetConsumer replaces whatever consumer is registered. The returned release
// func clears the slot only if this registration still holds it.
func (b *Bus) SetConsumer(fn Consumer) (release func()) {
	reg := &registration{fn: fn}

	b.mu.Lock()
	b.consumer = reg
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.consumer == reg {
			b.consumer = nil
		}
	}
}

func (b *Bus) ClearConsumer() {
	b.mu.Lock()
	b.consumer = nil
	b.mu.Unlock()
}

func (b *Bus) HasConsumer() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consumer != nil
}

// Deliver hands eventID to the registered consumer, then navigates to target
// (or the current location) with the event attached, so that a context with
// no consumer still lands on the right content. A repeat of the last event
// inside the duplicate window skips the consumer but still navigates.
func (b *Bus) Deliver(ctx context.Context, eventID, target string) error {
	if eventID == "" {
		return b.navigate(ctx, target, "")
	}
	if b.claim(eventID) {
		b.invoke(eventID)
	} else {
		b.log.Debug("Suppressed duplicate delivery", zap.String("eventId", eventID))
	}
	return b.navigate(ctx, target, eventID)
}

// HandleMessage handles a message posted by the background context. Messages
// of other types are ignored.
func (b *Bus) HandleMessage(ctx context.Context, msg Message) error {
	if msg.Type != MessageTypeNotificationClick {
		b.log.Debug("Ignoring message", zap.String("type", msg.Type))
		return nil
	}
	return b.Deliver(ctx, msg.EventID, msg.URL)
}

// Listen drains msgs until the channel closes or ctx is done.
func (b *Bus) Listen(ctx context.Context, msgs <-chan Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := b.HandleMessage(ctx, msg); err != nil {
				b.log.Sugar().Errorw("Failed to handle message", "type", msg.Type, "eventId", msg.EventID, "err", err)
			}
		}
	}
}

// HandleColdStart reads the event off a landing URL exactly once: the
// parameter is stripped from the location before the consumer sees it.
func (b *Bus) HandleColdStart(landing *url.URL) (string, bool) {
	if landing == nil {
		return "", false
	}
	query := landing.Query()
	eventID := query.Get(EventIDParam)
	if eventID == "" {
		return "", false
	}

	stripped := *landing
	query.Del(EventIDParam)
	stripped.RawQuery = query.Encode()
	b.nav.Replace(&stripped)

	if !b.claim(eventID) {
		return eventID, true
	}
	b.invoke(eventID)
	return eventID, true
}

// claim records eventID as handled unless it was already handled within the
// duplicate window.
func (b *Bus) claim(eventID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if eventID == b.lastID && now.Sub(b.lastAt) < b.window {
		return false
	}
	b.lastID, b.lastAt = eventID, now
	return true
}

func (b *Bus) invoke(eventID string) {
	b.mu.Lock()
	reg := b.consumer
	b.mu.Unlock()

	if reg != nil {
		reg.fn(eventID)
	}
}

func (b *Bus) navigate(ctx context.Context, target, eventID string) error {
	dest, err := b.destination(target, eventID)
	if err != nil {
		return err
	}
	return b.nav.Navigate(ctx, dest)
}

func (b *Bus) destination(target, eventID string) (*url.URL, error) {
	base := &url.URL{Path: "/"}
	if cur := b.nav.Current(); cur != nil {
		clone := *cur
		base = &clone
	}

	dest := base
	if target != "" {
		ref, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("invalid target %q: %w", target, err)
		}
		dest = base.ResolveReference(ref)
	}

	if eventID != "" {
		q := dest.Query()
		q.Set(EventIDParam, eventID)
		dest.RawQuery = q.Encode()
	}
	return dest, nil
}
