// Package client talks to an eventpush server and hosts the pieces of the
// client runtime: the message bus, the update detector and the offline cache.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/fiffu/eventpush/lib/models"
)

const DefaultSessionHeader = "X-Authenticated-User"

type Client struct {
	baseURL       string
	dataURL       string
	transport     http.RoundTripper
	sessionHeader string
	principal     string
	operatorUser  string
	operatorPass  string
}

type Option func(*Client)

func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport = rt }
}

// WithPrincipal sends id as the authenticated user, the way the auth gateway
// in front of the server would.
func WithPrincipal(header, id string) Option {
	return func(c *Client) {
		if header != "" {
			c.sessionHeader = header
		}
		c.principal = id
	}
}

func WithOperator(user, pass string) Option {
	return func(c *Client) { c.operatorUser, c.operatorPass = user, pass }
}

// WithDataURL points collection fetches at the hosted data service.
func WithDataURL(u string) Option {
	return func(c *Client) { c.dataURL = strings.TrimSuffix(u, "/") }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		transport:     http.DefaultTransport,
		sessionHeader: DefaultSessionHeader,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) request(path string) *requests.Builder {
	b := requests.
		URL(c.baseURL + path).
		Transport(c.transport).
		AddValidator(checkStatus)
	if c.principal != "" {
		b.Header(c.sessionHeader, c.principal)
	}
	return b
}

type Subscription struct {
	ID                 string                    `json:"id"`
	UserID             *string                   `json:"user_id"`
	DeviceID           *string                   `json:"device_id"`
	EndpointDescriptor models.EndpointDescriptor `json:"endpoint_descriptor"`
	ClientDescriptor   string                    `json:"client_descriptor"`
	CreatedAt          time.Time                 `json:"created_at"`
	UpdatedAt          time.Time                 `json:"updated_at"`
}

type SubscribeRequest struct {
	EndpointDescriptor models.EndpointDescriptor `json:"endpoint_descriptor"`
	DeviceID           string                    `json:"device_id,omitempty"`
	ClientDescriptor   string                    `json:"client_descriptor,omitempty"`
}

type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
}

func (c *Client) Subscribe(ctx context.Context, req SubscribeRequest) (*Subscription, error) {
	var sub Subscription
	err := c.request("/subscriptions").
		BodyJSON(&req).
		ToJSON(&sub).
		Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *Client) Unsubscribe(ctx context.Context, req UnsubscribeRequest) (int64, error) {
	var out struct {
		Removed int64 `json:"removed"`
	}
	err := c.request("/subscriptions:remove").
		BodyJSON(&req).
		ToJSON(&out).
		Fetch(ctx)
	return out.Removed, err
}

func (c *Client) Dispatch(ctx context.Context, payload models.NotificationPayload) (*models.DispatchResult, error) {
	var result models.DispatchResult
	err := c.request("/notifications:dispatch").
		BasicAuth(c.operatorUser, c.operatorPass).
		BodyJSON(&payload).
		ToJSON(&result).
		Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// FetchVersion asks the server which build it is serving, bypassing every
// cache on the way.
func (c *Client) FetchVersion(ctx context.Context) (models.VersionInfo, error) {
	var info models.VersionInfo
	err := c.request("/version").
		Header("Cache-Control", "no-cache, no-store").
		Header("Pragma", "no-cache").
		Param("t", strconv.FormatInt(time.Now().UnixNano(), 10)).
		ToJSON(&info).
		Fetch(ctx)
	return info, err
}

// FetchCollection reads every record of a collection from the data service.
func (c *Client) FetchCollection(ctx context.Context, key string) ([]json.RawMessage, error) {
	if c.dataURL == "" {
		return nil, errors.New("no data service URL configured")
	}
	var records []json.RawMessage
	err := requests.
		URL(c.dataURL + "/" + url.PathEscape(key)).
		Transport(c.transport).
		AddValidator(checkStatus).
		ToJSON(&records).
		Fetch(ctx)
	return records, err
}
