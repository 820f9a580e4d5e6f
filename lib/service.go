package lib

import (
	"github.com/fiffu/eventpush/config"
	"github.com/fiffu/eventpush/lib/models"
	"github.com/fiffu/eventpush/senders"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *gorm.DB
	senders senders.Registry

	*registry
	*dispatcher
}

func NewService(cfg *config.Config, log *zap.Logger, db *gorm.DB, senders senders.Registry) *Service {
	reg := &registry{cfg, log, db}
	return &Service{
		cfg, log, db, senders,
		reg,
		&dispatcher{cfg, log, reg, senders},
	}
}

// Version describes the running build.
func (svc *Service) Version() models.VersionInfo {
	return models.VersionInfo{
		Version:        svc.cfg.Build.Version,
		BuildTimestamp: svc.cfg.Build.BuildTimestamp,
		Commit:         svc.cfg.Build.Commit,
		Environment:    svc.cfg.Env,
	}
}
