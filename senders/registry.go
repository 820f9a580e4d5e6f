package senders

import (
	"context"
	"net/http"

	"github.com/fiffu/eventpush/config"
	"github.com/fiffu/eventpush/lib/models"
	"go.uber.org/zap"
)

// Pusher delivers an encrypted message to one push endpoint.
type Pusher interface {
	Configured() bool
	Push(ctx context.Context, desc models.EndpointDescriptor, message []byte) error
}

// Mailer sends operator-facing email.
type Mailer interface {
	Configured() bool
	Send(ctx context.Context, subject, body, recipient string) (string, error)
}

type Registry struct {
	Push Pusher
	Mail Mailer
}

func NewSenderRegistry(log *zap.Logger, cfg *config.Config, transport http.RoundTripper) Registry {
	base := base{log, cfg, transport}
	return Registry{
		Push: &webpushSender{base, &http.Client{Transport: transport, Timeout: cfg.PushTimeout()}},
		Mail: &mailgunSender{base},
	}
}

type base struct {
	log       *zap.Logger
	cfg       *config.Config
	transport http.RoundTripper
}
