package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"Mansoor88-6/driver-agent/internal/client"
	"Mansoor88-6/driver-agent/internal/models"
	"Mansoor88-6/driver-agent/internal/storage"

	"go.uber.org/zap"
)

// ErrNoSummary is returned when the backend answered 304 but nothing is cached
var ErrNoSummary = errors.New("no cached summary")

// SummaryFetcher performs a conditional summary request
type SummaryFetcher interface {
	GetSummary(ctx context.Context, etag string) (*client.SummaryResult, error)
}

// SummaryService serves the driver summary from an ETag-validated cache
type SummaryService struct {
	fetcher SummaryFetcher
	store   storage.Store
	logger  *zap.Logger
}

func NewSummaryService(fetcher SummaryFetcher, store storage.Store, logger *zap.Logger) *SummaryService {
	return &SummaryService{fetcher: fetcher, store: store, logger: logger}
}

// Get returns the current summary, reusing the cached body on 304
func (s *SummaryService) Get(ctx context.Context) (*models.DriverSummary, error) {
	etag, _, err := s.store.Get(ctx, storage.KeySummaryETag)
	if err != nil {
		s.logger.Warn("Failed to read summary etag", zap.Error(err))
		etag = ""
	}
	cached, hasCache, err := s.store.Get(ctx, storage.KeySummaryCache)
	if err != nil || !hasCache {
		// without a body a 304 is useless
		etag = ""
	}

	res, err := s.fetcher.GetSummary(ctx, etag)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch summary: %w", err)
	}

	if res.NotModified {
		var summary models.DriverSummary
		if err := json.Unmarshal([]byte(cached), &summary); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoSummary, err)
		}
		s.logger.Debug("Summary not modified", zap.String("etag", etag))
		return &summary, nil
	}

	if res.ETag != "" {
		if err := s.store.Set(ctx, storage.KeySummaryETag, res.ETag); err != nil {
			s.logger.Warn("Failed to store summary etag", zap.Error(err))
		}
		if err := s.store.Set(ctx, storage.KeySummaryCache, string(res.Raw)); err != nil {
			s.logger.Warn("Failed to store summary", zap.Error(err))
		}
	}
	return res.Summary, nil
}

// Purge drops the cached summary, e.g. when the driver logs out
func (s *SummaryService) Purge(ctx context.Context) {
	for _, key := range []string{storage.KeySummaryETag, storage.KeySummaryCache} {
		if err := s.store.Remove(ctx, key); err != nil {
			s.logger.Warn("Failed to purge summary cache", zap.String("key", key), zap.Error(err))
		}
	}
}
