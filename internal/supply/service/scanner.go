package service

import (
	"context"
	"time"

	"github.com/pharmalink/pharmalink-backend/internal/supply/events"
	"github.com/pharmalink/pharmalink-backend/internal/supply/repository"
	"github.com/pharmalink/pharmalink-backend/pkg/logger"
)

// ExpiryScanner finds batches that are expiring soon or already expired
// with stock remaining and publishes alert events for them. Vendors act
// on the alerts; the scanner itself never moves stock.
type ExpiryScanner struct {
	batches    *repository.BatchRepository
	publisher  *events.SupplyEventPublisher
	logger     *logger.Logger
	windowDays int
}

// NewExpiryScanner creates a new expiry scanner
func NewExpiryScanner(
	batches *repository.BatchRepository,
	publisher *events.SupplyEventPublisher,
	log *logger.Logger,
	windowDays int,
) *ExpiryScanner {
	if windowDays < 1 {
		windowDays = 90
	}
	return &ExpiryScanner{
		batches:    batches,
		publisher:  publisher,
		logger:     log.WithComponent("expiry_scanner"),
		windowDays: windowDays,
	}
}

// Scan runs one scan pass
func (s *ExpiryScanner) Scan(ctx context.Context) error {
	expiring, err := s.batches.GetExpiringBatches(ctx, s.windowDays)
	if err != nil {
		return err
	}
	for _, batch := range expiring {
		s.publisher.PublishBatchExpiring(ctx, batch)
	}

	expired, err := s.batches.GetExpiredBatches(ctx)
	if err != nil {
		return err
	}
	for _, batch := range expired {
		s.publisher.PublishBatchExpired(ctx, batch)
	}

	s.logger.Info().
		Int("expiring", len(expiring)).
		Int("expired", len(expired)).
		Msg("expiry scan completed")
	return nil
}

// ExpiryScheduler runs expiry scans periodically
type ExpiryScheduler struct {
	scanner  *ExpiryScanner
	interval time.Duration
	logger   *logger.Logger
	cancel   context.CancelFunc
}

// NewExpiryScheduler creates a new expiry scheduler
func NewExpiryScheduler(scanner *ExpiryScanner, interval time.Duration, log *logger.Logger) *ExpiryScheduler {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &ExpiryScheduler{
		scanner:  scanner,
		interval: interval,
		logger:   log.WithComponent("expiry_scheduler"),
	}
}

// Start starts the scheduler in a background goroutine
func (s *ExpiryScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		s.logger.Info().Dur("interval", s.interval).Msg("expiry scheduler started")

		// Run an initial scan immediately
		if err := s.scanner.Scan(ctx); err != nil {
			s.logger.Error().Err(err).Msg("expiry scan failed")
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("expiry scheduler stopped")
				return
			case <-ticker.C:
				if err := s.scanner.Scan(ctx); err != nil {
					s.logger.Error().Err(err).Msg("expiry scan failed")
				}
			}
		}
	}()
}

// Stop stops the scheduler goroutine
func (s *ExpiryScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}
