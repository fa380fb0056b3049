package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"Mansoor88-6/driver-agent/internal/client"
	"Mansoor88-6/driver-agent/internal/models"
	"Mansoor88-6/driver-agent/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSummaryFetcher struct {
	etags []string
	next  func(etag string) (*client.SummaryResult, error)
}

func (f *fakeSummaryFetcher) GetSummary(_ context.Context, etag string) (*client.SummaryResult, error) {
	f.etags = append(f.etags, etag)
	return f.next(etag)
}

func summaryResult(t *testing.T, name, etag string) *client.SummaryResult {
	t.Helper()
	var s models.DriverSummary
	s.User.Name = name
	raw, err := json.Marshal(s)
	require.NoError(t, err)
	return &client.SummaryResult{Summary: &s, Raw: raw, ETag: etag}
}

func TestSummaryService_ETagCache(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	fetcher := &fakeSummaryFetcher{}
	svc := NewSummaryService(fetcher, store, zap.NewNop())

	fetcher.next = func(string) (*client.SummaryResult, error) { return summaryResult(t, "Dana", `"v1"`), nil }
	s, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Dana", s.User.Name)

	fetcher.next = func(etag string) (*client.SummaryResult, error) {
		return &client.SummaryResult{ETag: etag, NotModified: true}, nil
	}
	s, err = svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Dana", s.User.Name)
	assert.Equal(t, []string{"", `"v1"`}, fetcher.etags)
}

func TestSummaryService_NoETagWithoutCachedBody(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Set(ctx, storage.KeySummaryETag, `"stale"`))

	fetcher := &fakeSummaryFetcher{next: func(string) (*client.SummaryResult, error) {
		return summaryResult(t, "Lee", `"v2"`), nil
	}}
	svc := NewSummaryService(fetcher, store, zap.NewNop())

	_, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{""}, fetcher.etags)
}

func TestSummaryService_ErrorsAndPurge(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	fetcher := &fakeSummaryFetcher{next: func(string) (*client.SummaryResult, error) {
		return nil, &client.AuthError{Message: "expired", StatusCode: 401}
	}}
	svc := NewSummaryService(fetcher, store, zap.NewNop())

	_, err := svc.Get(ctx)
	var authErr *client.AuthError
	assert.True(t, errors.As(err, &authErr))

	require.NoError(t, store.Set(ctx, storage.KeySummaryETag, `"v1"`))
	require.NoError(t, store.Set(ctx, storage.KeySummaryCache, "{}"))
	svc.Purge(ctx)
	_, ok, _ := store.Get(ctx, storage.KeySummaryETag)
	assert.False(t, ok)
	_, ok, _ = store.Get(ctx, storage.KeySummaryCache)
	assert.False(t, ok)
}
