package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/fiffu/eventpush/client/bus"
	"github.com/fiffu/eventpush/client/offline"
	"github.com/fiffu/eventpush/lib/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func descriptor() models.EndpointDescriptor {
	return models.EndpointDescriptor{
		Endpoint: "https://push.example.com/send/abc",
		Keys:     models.EndpointKeys{P256dh: "p256dh", Auth: "auth"},
	}
}

func TestSubscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/subscriptions", r.URL.Path)
		assert.Equal(t, "alice", r.Header.Get(DefaultSessionHeader))

		var req SubscribeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, descriptor(), req.EndpointDescriptor)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"sub-1","user_id":"alice","device_id":null,"endpoint_descriptor":{"endpoint":"https://push.example.com/send/abc","keys":{"p256dh":"p256dh","auth":"auth"}},"client_descriptor":"agent"}`))
	}))
	defer server.Close()

	c := New(server.URL, WithPrincipal("", "alice"))
	sub, err := c.Subscribe(context.Background(), SubscribeRequest{EndpointDescriptor: descriptor()})
	require.NoError(t, err)

	assert.Equal(t, "sub-1", sub.ID)
	require.NotNil(t, sub.UserID)
	assert.Equal(t, "alice", *sub.UserID)
	assert.Nil(t, sub.DeviceID)
}

func TestUnsubscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subscriptions:remove", r.URL.Path)
		w.Write([]byte(`{"removed":1}`))
	}))
	defer server.Close()

	removed, err := New(server.URL).Unsubscribe(context.Background(), UnsubscribeRequest{DeviceID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestDispatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized"))
			return
		}
		w.Write([]byte(`{"successCount":2,"failureCount":1,"prunedCount":1,"errors":["sub-3 (failed_permanent): gone"]}`))
	}))
	defer server.Close()

	payload := models.NotificationPayload{Title: "T", Body: "B"}

	_, err := New(server.URL).Dispatch(context.Background(), payload)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))

	result, err := New(server.URL, WithOperator("admin", "secret")).Dispatch(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.FailureCount)
	assert.Len(t, result.Errors, 1)
}

func TestFetchVersion_BypassesCaches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/version", r.URL.Path)
		assert.Contains(t, r.Header.Get("Cache-Control"), "no-cache")
		assert.Equal(t, "no-cache", r.Header.Get("Pragma"))
		assert.NotEmpty(t, r.URL.Query().Get("t"))
		w.Write([]byte(`{"version":"2024.10.1","build_timestamp":"2024-10-01T20:00:00Z","commit":"deadbeef","environment":"production"}`))
	}))
	defer server.Close()

	info, err := New(server.URL).FetchVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024.10.1", info.Version)
	assert.Equal(t, "deadbeef", info.Commit)
}

func TestFetchCollection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/events", r.URL.Path)
		w.Write([]byte(`[{"id":1},{"id":2}]`))
	}))
	defer server.Close()

	_, err := New(server.URL).FetchCollection(context.Background(), "events")
	assert.Error(t, err)

	records, err := New(server.URL, WithDataURL(server.URL+"/data/")).FetchCollection(context.Background(), "events")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Subscription has no push endpoint", http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := New(server.URL, WithPrincipal("", "alice")).Subscribe(context.Background(), SubscribeRequest{})
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusBadRequest))
	assert.False(t, IsStatus(err, http.StatusUnauthorized))
	assert.Contains(t, err.Error(), "Subscription has no push endpoint")
}

type staticNavigator struct{}

func (staticNavigator) Current() *url.URL                        { return &url.URL{Path: "/"} }
func (staticNavigator) Navigate(context.Context, *url.URL) error { return nil }
func (staticNavigator) Replace(*url.URL)                         {}

func TestRuntime_StopsWhenMessagesClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"version":"1","build_timestamp":"","commit":"","environment":""}`))
	}))
	defer server.Close()

	rt, err := NewRuntime(zaptest.NewLogger(t), New(server.URL), RuntimeConfig{
		Navigator:    staticNavigator{},
		Connectivity: offline.ConnectivityFunc(func() bool { return false }),
		CachePath:    filepath.Join(t.TempDir(), "cache.db"),
		PollInterval: time.Hour,
		Current:      models.VersionInfo{Version: "1"},
	})
	require.NoError(t, err)
	defer rt.Close()

	var got []string
	rt.Bus.SetConsumer(func(id string) { got = append(got, id) })

	messages := make(chan bus.Message, 1)
	messages <- bus.Message{Type: bus.MessageTypeNotificationClick, EventID: "42"}
	close(messages)

	require.NoError(t, rt.Start(context.Background(), messages, nil))
	assert.Equal(t, []string{"42"}, got)
}
