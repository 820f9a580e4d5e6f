package lib

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fiffu/eventpush/config"
	"github.com/fiffu/eventpush/lib/models"
	"github.com/fiffu/eventpush/senders"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.sqlite") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.PushSubscription{}))
	return db
}

func newTestConfig() *config.Config {
	cfg := &config.Config{Env: "test"}
	cfg.Dispatch.Concurrency = 4
	cfg.Dispatch.MaxErrors = 50
	cfg.Dispatch.RetryBackoffMS = 1
	cfg.Build.Version = "1.2.3"
	cfg.Build.Commit = "abc123"
	return cfg
}

type fakePusher struct {
	mu         sync.Mutex
	configured bool
	failures   map[string][]error // endpoint -> errors returned on successive calls
	calls      map[string]int

	// onPush runs outside the lock before the push returns.
	onPush func(endpoint string)
}

func newFakePusher() *fakePusher {
	return &fakePusher{configured: true, failures: map[string][]error{}, calls: map[string]int{}}
}

func (p *fakePusher) Configured() bool { return p.configured }

func (p *fakePusher) Push(ctx context.Context, desc models.EndpointDescriptor, message []byte) error {
	p.mu.Lock()
	n := p.calls[desc.Endpoint]
	p.calls[desc.Endpoint] = n + 1
	var err error
	if errs := p.failures[desc.Endpoint]; n < len(errs) {
		err = errs[n]
	}
	hook := p.onPush
	p.mu.Unlock()

	if hook != nil {
		hook(desc.Endpoint)
	}
	return err
}

func (p *fakePusher) callsTo(endpoint string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[endpoint]
}

type fakeMailer struct {
	mu       sync.Mutex
	subjects []string
}

func (m *fakeMailer) Configured() bool { return true }

func (m *fakeMailer) Send(ctx context.Context, subject, body, recipient string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subject)
	return "msg-1", nil
}

func newTestService(t *testing.T, cfg *config.Config, pusher senders.Pusher, mailer senders.Mailer) *Service {
	t.Helper()
	return NewService(cfg, zaptest.NewLogger(t), newTestDB(t), senders.Registry{Push: pusher, Mail: mailer})
}

func descriptor(endpoint string) models.EndpointDescriptor {
	return models.EndpointDescriptor{
		Endpoint: endpoint,
		Keys:     models.EndpointKeys{P256dh: "p256dh-" + endpoint, Auth: "auth-" + endpoint},
	}
}
