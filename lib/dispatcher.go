package lib

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fiffu/eventpush/config"
	"github.com/fiffu/eventpush/lib/models"
	"github.com/fiffu/eventpush/senders"
	"github.com/fiffu/eventpush/senders/email"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errUndeliverable = errors.New("endpoint descriptor is incomplete")

type dispatcher struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *registry
	senders  senders.Registry
}

// Dispatch sends payload to every stored subscription. Per-endpoint failures
// are reported in the result, never returned as an error; the call fails only
// when the payload is invalid, delivery is not configured, or the store is
// unreachable.
func (svc *dispatcher) Dispatch(ctx context.Context, payload models.NotificationPayload) (*models.DispatchResult, error) {
	payload, err := NormalizePayload(payload)
	if err != nil {
		return nil, err
	}
	if svc.senders.Push == nil || !svc.senders.Push.Configured() {
		return nil, ErrNotConfigured
	}
	message, err := json.Marshal(payload)
	if err != nil {
		return nil, validationError("encode payload: %s", err)
	}

	subs, err := svc.registry.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		svc.log.Sugar().Info("Dispatch skipped, no subscriptions")
		return &models.DispatchResult{}, nil
	}

	startTime := time.Now().UTC()
	DispatchesTotal.Inc()

	outcomes := make([]models.DeliveryOutcome, len(subs))
	var g errgroup.Group
	g.SetLimit(svc.concurrency())
	for i := range subs {
		sub := &subs[i]
		g.Go(func() error {
			outcomes[i] = svc.deliver(ctx, sub, message)
			return nil
		})
	}
	g.Wait()

	elapsed := time.Since(startTime)
	DispatchDuration.Observe(elapsed.Seconds())

	result, m, undeliverable := svc.summarize(outcomes)
	svc.log.Sugar().Infow(
		fmt.Sprintf("Dispatched %q to %d subscriptions", payload.Title, m.totalSelected),
		append(m.logArgs(), "elapsed_msecs", int(elapsed.Milliseconds()))...,
	)
	if len(undeliverable) > 0 {
		svc.flagUndeliverable(ctx, payload.Title, undeliverable, startTime)
	}
	return result, nil
}

func (svc *dispatcher) concurrency() int {
	if n := svc.cfg.Dispatch.Concurrency; n > 0 {
		return n
	}
	return 1
}

func (svc *dispatcher) deliver(ctx context.Context, sub *models.PushSubscription, message []byte) models.DeliveryOutcome {
	outcome := models.DeliveryOutcome{SubscriptionID: sub.ID}

	if !sub.Descriptor.Deliverable() {
		outcome.Status = models.DeliveryFailedPermanent
		outcome.Err = errUndeliverable
		return outcome
	}

	attempts, err := svc.push(ctx, sub, message)
	outcome.Attempts = attempts
	outcome.Err = err

	switch {
	case err == nil:
		outcome.Status = models.DeliverySucceeded

	case senders.IsGone(err):
		outcome.Status = models.DeliveryFailedPermanent
		pruned, derr := svc.registry.Prune(ctx, sub)
		switch {
		case derr != nil:
			svc.log.Sugar().Errorw("Failed to prune gone subscription", "id", sub.ID, "err", derr)
		case !pruned:
			svc.log.Sugar().Infow("Kept subscription re-registered during dispatch", "id", sub.ID)
		default:
			outcome.Pruned = true
			SubscriptionsPrunedTotal.Inc()
		}

	default:
		outcome.Status = models.DeliveryFailedTransient
		svc.log.Sugar().Debugw("Push delivery failed", "id", sub.ID, "attempts", attempts, "err", err)
	}
	return outcome
}

// push makes one attempt, plus up to Dispatch.Retries more for failures that
// may clear up on their own. Backoff doubles after each attempt.
func (svc *dispatcher) push(ctx context.Context, sub *models.PushSubscription, message []byte) (int, error) {
	backoff := svc.cfg.RetryBackoff()
	attempts := 0
	for {
		attempts++
		err := svc.senders.Push.Push(ctx, sub.Descriptor, message)
		if err == nil || !retryable(err) || attempts > svc.cfg.Dispatch.Retries {
			return attempts, err
		}

		select {
		case <-ctx.Done():
			return attempts, err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func retryable(err error) bool {
	var derr *senders.DeliveryError
	if !errors.As(err, &derr) {
		// Network level failure.
		return true
	}
	switch {
	case derr.Gone():
		return false
	case derr.StatusCode == http.StatusTooManyRequests, derr.StatusCode == http.StatusRequestTimeout:
		return true
	default:
		return derr.StatusCode >= 500
	}
}

func (svc *dispatcher) summarize(outcomes []models.DeliveryOutcome) (*models.DispatchResult, *dispatchMetrics, []string) {
	maxErrors := svc.cfg.Dispatch.MaxErrors
	result := &models.DispatchResult{}
	m := &dispatchMetrics{totalSelected: len(outcomes)}
	undeliverable := make([]string, 0)

	for _, o := range outcomes {
		m.Record(o)
		if o.Status == models.DeliverySucceeded {
			result.SuccessCount++
			continue
		}

		result.FailureCount++
		if o.Pruned {
			result.PrunedCount++
		}
		if errors.Is(o.Err, errUndeliverable) {
			m.undeliverable++
			undeliverable = append(undeliverable, o.SubscriptionID)
		}
		if len(result.Errors) < maxErrors {
			result.Errors = append(result.Errors, fmt.Sprintf("%s (%s): %s", o.SubscriptionID, o.Status, o.Err))
		} else {
			result.OmittedErrors++
		}
	}
	return result, m, undeliverable
}

// flagUndeliverable leaves the rows in place and asks an operator to look at
// them.
func (svc *dispatcher) flagUndeliverable(ctx context.Context, title string, ids []string, at time.Time) {
	svc.log.Sugar().Warnw("Subscriptions with incomplete endpoint descriptors need review", "ids", ids)

	recipient := svc.cfg.OperatorEmail
	if recipient == "" || svc.senders.Mail == nil || !svc.senders.Mail.Configured() {
		return
	}

	format := &email.UndeliverableEmailFormat{NotificationTitle: title, SubscriptionIDs: ids, DispatchedAt: at}
	id, err := svc.senders.Mail.Send(ctx, format.Subject(), format.Body(), recipient)
	if err != nil {
		svc.log.Sugar().Infow("Failed to send operator alert", "err", err)
	} else {
		svc.log.Sugar().Infow("Sent operator alert to "+recipient, "message_id", id)
	}
}

// NormalizePayload strips markup from the visible text, applies the platform
// defaults, and rejects payloads without a title or body.
func NormalizePayload(p models.NotificationPayload) (models.NotificationPayload, error) {
	p.Title = PlainText(p.Title)
	p.Body = PlainText(p.Body)
	if p.Title == "" {
		return p, validationError("title is required")
	}
	if p.Body == "" {
		return p, validationError("body is required")
	}
	if len(p.Data) > 0 && !json.Valid(p.Data) {
		return p, validationError("data must be valid JSON")
	}
	return p.WithDefaults(), nil
}
