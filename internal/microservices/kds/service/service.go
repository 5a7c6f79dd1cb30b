package service

import (
	"coffee-kds/internal/common/logger"
	"coffee-kds/internal/common/metrics"
	"coffee-kds/internal/config"
	"coffee-kds/internal/microservices/kds/notify"
	"coffee-kds/internal/microservices/kds/repository"
)

type Service struct {
	IngestService  IngestServiceInterface
	DisplayService DisplayServiceInterface
}

func New(repo *repository.Repository, notifier notify.Notifier, cfg config.KDSConfig, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		IngestService:  NewIngestService(repo.KdsRepo, repo.PosRepo, notifier, IngestConfigFrom(cfg), log.Named("kds-ingest"), m),
		DisplayService: NewDisplayService(repo.KdsRepo, notifier, cfg.ClearCompletedAfter, log.Named("kds-display"), m),
	}
}

func IngestConfigFrom(cfg config.KDSConfig) IngestConfig {
	return IngestConfig{
		CoffeeCategory:  cfg.CoffeeCategory,
		TicketType:      cfg.TicketType,
		BatchLimit:      cfg.BatchLimit,
		DefaultLookback: cfg.DefaultLookback,
		MaxLookback:     cfg.MaxLookback,
		Retention:       cfg.Retention,
	}
}
