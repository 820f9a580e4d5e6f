package senders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/fiffu/eventpush/lib/models"
)

// DeliveryError is a non-2xx answer from a push service.
type DeliveryError struct {
	StatusCode int
	Message    string
}

func (e *DeliveryError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("push service responded %d", e.StatusCode)
	}
	return fmt.Sprintf("push service responded %d: %s", e.StatusCode, e.Message)
}

// Gone reports whether the push service says the endpoint will never accept
// another message.
func (e *DeliveryError) Gone() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
}

// IsGone reports whether err (or anything it wraps) is a DeliveryError for a
// dead endpoint.
func IsGone(err error) bool {
	var derr *DeliveryError
	return errors.As(err, &derr) && derr.Gone()
}

type webpushSender struct {
	base
	client *http.Client
}

func (w *webpushSender) Configured() bool {
	return w.cfg.Push.VAPIDPublicKey != "" && w.cfg.Push.VAPIDPrivateKey != ""
}

func (w *webpushSender) Push(ctx context.Context, desc models.EndpointDescriptor, message []byte) error {
	sub := &webpush.Subscription{
		Endpoint: desc.Endpoint,
		Keys:     webpush.Keys{Auth: desc.Keys.Auth, P256dh: desc.Keys.P256dh},
	}
	resp, err := webpush.SendNotificationWithContext(ctx, message, sub, &webpush.Options{
		HTTPClient:      w.client,
		Subscriber:      w.cfg.Push.Subject,
		VAPIDPublicKey:  w.cfg.Push.VAPIDPublicKey,
		VAPIDPrivateKey: w.cfg.Push.VAPIDPrivateKey,
		TTL:             w.cfg.Push.TTLSecs,
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &DeliveryError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
