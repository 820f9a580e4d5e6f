package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
)

// Set at build time with -ldflags "-X github.com/fiffu/eventpush/config.Version=..."
var (
	Version        = "dev"
	BuildTimestamp = ""
	Commit         = ""
)

type Config struct {
	Env            string `env:"ENVIRONMENT" envDefault:"development"`
	ServerPort     int    `env:"SERVER_PORT" envDefault:"8080"`
	BasicAuthCreds string `env:"BASIC_AUTH_CREDS"`
	SessionHeader  string `env:"SESSION_HEADER" envDefault:"X-Authenticated-User"`

	Database struct {
		URL  string `env:"DATABASE_URL"`
		Path string `env:"DATABASE_PATH" envDefault:"eventpush.sqlite"`
	}

	Push struct {
		VAPIDPublicKey  string `env:"VAPID_PUBLIC_KEY"`
		VAPIDPrivateKey string `env:"VAPID_PRIVATE_KEY"`
		Subject         string `env:"VAPID_SUBJECT" envDefault:"mailto:admin@example.com"`
		TTLSecs         int    `env:"PUSH_TTL_SECS" envDefault:"86400"`
		TimeoutSecs     int    `env:"PUSH_TIMEOUT_SECS" envDefault:"10"`
	}

	Dispatch struct {
		Concurrency    int `env:"DISPATCH_CONCURRENCY" envDefault:"8"`
		Retries        int `env:"DISPATCH_RETRIES" envDefault:"0"`
		RetryBackoffMS int `env:"DISPATCH_RETRY_BACKOFF_MS" envDefault:"500"`
		MaxErrors      int `env:"DISPATCH_MAX_ERRORS" envDefault:"50"`
	}

	OperatorEmail string `env:"OPERATOR_EMAIL"`
	Mailgun       struct {
		Domain      string `env:"MAILGUN_DOMAIN"`
		APIKey      string `env:"MAILGUN_API_KEY"`
		SenderFrom  string `env:"MAILGUN_SENDER_FROM" envDefault:"eventpush <noreply@example.com>"`
		TimeoutSecs int    `env:"MAILGUN_TIMEOUT_SECS" envDefault:"10"`
	}

	Build struct {
		Version        string `env:"VERSION"`
		BuildTimestamp string `env:"BUILD_TIMESTAMP"`
		Commit         string `env:"COMMIT"`
	}

	log   *zap.Logger
	creds map[string]string
}

func NewConfig(log *zap.Logger) (*Config, error) {
	cfg := &Config{log: log}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyBuildDefaults()

	creds, err := cfg.parseCreds()
	if err != nil {
		if cfg.Env != "development" {
			return nil, err
		}
		cfg.log.Sugar().Infof("%s (credentials will be set to default in development env)", err)
		creds = map[string]string{"admin": "password"}
	}
	cfg.creds = creds

	return cfg, nil
}

func (cfg *Config) applyBuildDefaults() {
	if cfg.Build.Version == "" {
		cfg.Build.Version = Version
	}
	if cfg.Build.BuildTimestamp == "" {
		cfg.Build.BuildTimestamp = BuildTimestamp
	}
	if cfg.Build.Commit == "" {
		cfg.Build.Commit = Commit
	}
}

func (cfg *Config) GetCreds() map[string]string {
	return cfg.creds
}

func (cfg *Config) PushTimeout() time.Duration {
	return time.Duration(cfg.Push.TimeoutSecs) * time.Second
}

func (cfg *Config) RetryBackoff() time.Duration {
	return time.Duration(cfg.Dispatch.RetryBackoffMS) * time.Millisecond
}

func (cfg *Config) parseCreds() (map[string]string, error) {
	if cfg.BasicAuthCreds == "" {
		return nil, errors.New("BASIC_AUTH_CREDS envvar must be populated")
	}

	creds := strings.Split(cfg.BasicAuthCreds, ",")
	result := make(map[string]string)
	for _, cred := range creds {
		userPass := strings.Split(cred, ":")
		if len(userPass) != 2 {
			return nil, fmt.Errorf("failed to parse '%s', each credential should be delimited by a colon -- user1:pass1,user2:pass2", cred)
		}

		user, pass := userPass[0], userPass[1]
		result[strings.Trim(user, " ")] = strings.Trim(pass, " ")
	}

	return result, nil
}
