package main

import (
	"net/http"
	"os"
	"time"

	"github.com/fiffu/eventpush/app"
	"github.com/fiffu/eventpush/config"
	"github.com/fiffu/eventpush/lib"
	"github.com/fiffu/eventpush/senders"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewLogger() (*zap.Logger, error) {
	switch os.Getenv("ENVIRONMENT") {
	default:
		return zap.NewDevelopment()

	case "production":
		logCfg := zap.NewProductionConfig()
		logCfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			t = t.UTC()
			zapcore.ISO8601TimeEncoder(t, enc)
		}
		return logCfg.Build()
	}
}

func main() {
	fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),

		fx.Provide(NewLogger),
		fx.Provide(config.NewConfig),

		fx.Provide(app.NewTransport),
		fx.Provide(senders.NewSenderRegistry),

		fx.Provide(app.NewDatabase),
		fx.Provide(lib.NewService),
		fx.Provide(app.NewAPI),

		fx.Invoke(func(*http.Server) {}),
	).Run()
}
