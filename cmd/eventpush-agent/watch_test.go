package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fiffu/eventpush/client"
	"github.com/fiffu/eventpush/client/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestReadMessages(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"NOTIFICATION_CLICK","eventId":"42","url":"/events/42"}`,
		``,
		`not json`,
		`{"type":"NOTIFICATION_CLICK"}`,
	}, "\n")

	var got []bus.Message
	for msg := range readMessages(context.Background(), strings.NewReader(input), zaptest.NewLogger(t)) {
		got = append(got, msg)
	}

	assert.Equal(t, []bus.Message{
		{Type: bus.MessageTypeNotificationClick, EventID: "42", URL: "/events/42"},
		{Type: bus.MessageTypeNotificationClick},
	}, got)
}

func TestWatcher_ReloadsOntoNewBuild(t *testing.T) {
	// The first request sees build 1; every later one sees build 2.
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		version := "2"
		if hits.Add(1) == 1 {
			version = "1"
		}
		fmt.Fprintf(w, `{"version":%q,"build_timestamp":"","commit":"c%s","environment":"test"}`, version, version)
	}))
	defer server.Close()

	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)
	messages := make(chan bus.Message)

	w := &watcher{
		log:       log,
		client:    client.New(server.URL),
		nav:       &loggingNavigator{log: log, current: &url.URL{Path: "/"}},
		cachePath: filepath.Join(t.TempDir(), "cache.db"),
		interval:  time.Hour,
		autoApply: true,
		messages:  messages,
	}

	done := make(chan error, 1)
	go func() { done <- w.run(context.Background(), false) }()

	assert.Eventually(t, func() bool {
		return logs.FilterMessage("Client runtime starting").Len() == 2 &&
			logs.FilterMessage("Reloaded on latest build").Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	close(messages)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher kept running after its input closed")
	}

	starts := logs.FilterMessage("Client runtime starting").All()
	require.Len(t, starts, 2)
	assert.Equal(t, "1", starts[0].ContextMap()["version"])
	assert.Equal(t, "2", starts[1].ContextMap()["version"])
	assert.Equal(t, 1, logs.FilterMessage("Reloaded on latest build").Len())
}
