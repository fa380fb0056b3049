package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"Mansoor88-6/driver-agent/internal/models"

	"go.uber.org/zap"
)

// TokenSource supplies the current bearer token. It is read on every request.
type TokenSource interface {
	Token() string
}

// APIClient handles communication with the WordPress backend
type APIClient struct {
	baseURL    string
	namespace  string
	httpClient *http.Client
	logger     *zap.Logger

	mu             sync.RWMutex
	tokens         TokenSource
	onUnauthorized func()
}

// NewAPIClient creates a new API client. baseURL is the wp-json root.
func NewAPIClient(baseURL, namespace string, timeout time.Duration, logger *zap.Logger) *APIClient {
	return &APIClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		namespace: "/" + strings.Trim(namespace, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// SetTokenSource sets where bearer tokens come from
func (c *APIClient) SetTokenSource(ts TokenSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = ts
}

// OnUnauthorized registers the hook called when an authenticated request gets a 401
func (c *APIClient) OnUnauthorized(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

func (c *APIClient) currentToken() string {
	c.mu.RLock()
	ts := c.tokens
	c.mu.RUnlock()
	if ts == nil {
		return ""
	}
	return ts.Token()
}

// Login exchanges credentials for a JWT
func (c *APIClient) Login(ctx context.Context, username, password string) (*models.LoginResponse, error) {
	body := map[string]string{"username": username, "password": password}

	var res models.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/jwt-auth/v1/token", nil, body, false, &res); err != nil {
		return nil, err
	}
	if res.Token == "" {
		return nil, &AuthError{Message: "login response did not include a token", StatusCode: http.StatusOK}
	}
	return &res, nil
}

// RevokeToken invalidates token server-side
func (c *APIClient) RevokeToken(ctx context.Context, token string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/jwt-auth/v1/token/revoke", nil, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	_, err = c.send(req, false, nil)
	return err
}

// PostTrips submits a batch of trips. The response ids are in submission order.
func (c *APIClient) PostTrips(ctx context.Context, payloads []models.TripPayload) (*models.PostTripsResponse, error) {
	if len(payloads) == 0 {
		return nil, fmt.Errorf("cannot send empty batch")
	}

	var res models.PostTripsResponse
	startTime := time.Now()
	if err := c.do(ctx, http.MethodPost, c.namespace+"/driver-trip", nil, payloads, true, &res); err != nil {
		return nil, err
	}

	c.logger.Info("Trip batch sent",
		zap.Int("trip_count", len(payloads)),
		zap.Int("ids_returned", len(res.IDs)),
		zap.Duration("duration", time.Since(startTime)),
	)
	return &res, nil
}

// GetTrips fetches one page of the driver's trips
func (c *APIClient) GetTrips(ctx context.Context, page, perPage int, filters models.TripFilters) (*models.PaginatedTrips, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))
	if filters.DateFrom != "" {
		query.Set("date_from", filters.DateFrom)
	}
	if filters.DateTo != "" {
		query.Set("date_to", filters.DateTo)
	}

	var res models.PaginatedTrips
	if err := c.do(ctx, http.MethodGet, c.namespace+"/driver-trips", query, nil, true, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SummaryResult is the outcome of a conditional summary fetch
type SummaryResult struct {
	Summary     *models.DriverSummary
	Raw         []byte
	ETag        string
	NotModified bool
}

// GetSummary fetches the driver summary, sending etag as If-None-Match when set
func (c *APIClient) GetSummary(ctx context.Context, etag string) (*SummaryResult, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.namespace+"/driver/summary", nil, nil)
	if err != nil {
		return nil, err
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, body, err := c.sendRaw(req, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotModified {
		return &SummaryResult{ETag: etag, NotModified: true}, nil
	}
	if err := c.statusError(resp, body, true); err != nil {
		return nil, err
	}

	var summary models.DriverSummary
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, fmt.Errorf("failed to parse summary: %w", err)
	}
	return &SummaryResult{
		Summary: &summary,
		Raw:     body,
		ETag:    resp.Header.Get("ETag"),
	}, nil
}

// HealthCheck checks if the backend is reachable. Any non-5xx answer counts.
func (c *APIClient) HealthCheck(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *APIClient) do(ctx context.Context, method, path string, query url.Values, in any, authenticated bool, out any) error {
	var payload []byte
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		payload = data
	}

	req, err := c.newRequest(ctx, method, path, query, payload)
	if err != nil {
		return err
	}
	_, err = c.send(req, authenticated, out)
	return err
}

func (c *APIClient) newRequest(ctx context.Context, method, path string, query url.Values, payload []byte) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		// allows a retry to replay the body
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(payload)), nil
		}
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *APIClient) send(req *http.Request, authenticated bool, out any) (*http.Response, error) {
	resp, body, err := c.sendRaw(req, authenticated)
	if err != nil {
		return nil, err
	}
	if err := c.statusError(resp, body, authenticated); err != nil {
		return resp, err
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return resp, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return resp, nil
}

// sendRaw performs the request. A GET that fails without any response is retried once.
func (c *APIClient) sendRaw(req *http.Request, authenticated bool) (*http.Response, []byte, error) {
	if authenticated && req.Header.Get("Authorization") == "" {
		if token := c.currentToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil && req.Method == http.MethodGet && req.Context().Err() == nil {
		c.logger.Warn("Request failed without response, retrying once",
			zap.String("path", req.URL.Path),
			zap.Error(err),
		)
		resp, err = c.httpClient.Do(req.Clone(req.Context()))
	}
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Error("Request failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("Request completed",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("duration", duration),
	)
	return resp, body, nil
}

// statusError maps non-2xx responses to typed errors
func (c *APIClient) statusError(resp *http.Response, body []byte, authenticated bool) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	errMsg := fmt.Sprintf("backend returned status %d: %s", resp.StatusCode, errorMessage(body))

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		c.logger.Warn("Authentication failed",
			zap.Int("status_code", resp.StatusCode),
			zap.String("path", resp.Request.URL.Path),
		)
		if resp.StatusCode == http.StatusUnauthorized && authenticated && resp.Request.Header.Get("Authorization") != "" {
			c.mu.RLock()
			hook := c.onUnauthorized
			c.mu.RUnlock()
			if hook != nil {
				hook()
			}
		}
		return &AuthError{Message: errMsg, StatusCode: resp.StatusCode}
	case http.StatusTooManyRequests:
		c.logger.Warn("Rate limited",
			zap.Int("status_code", resp.StatusCode),
		)
		return &RateLimitError{Message: errMsg, StatusCode: resp.StatusCode}
	case http.StatusBadRequest:
		c.logger.Error("Invalid request",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(body)),
		)
		return &BadRequestError{Message: errMsg, StatusCode: resp.StatusCode}
	default:
		c.logger.Error("Backend error",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(body)),
		)
		return &BackendError{Message: errMsg, StatusCode: resp.StatusCode}
	}
}

// errorMessage extracts the WordPress {"code","message"} error text when present
func errorMessage(body []byte) string {
	var wpErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &wpErr); err == nil && wpErr.Message != "" {
		return wpErr.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
