package scryfall

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public Scryfall API root.
	DefaultBaseURL = "https://api.scryfall.com"
	// MaxBatchSize is the documented identifier limit of /cards/collection.
	MaxBatchSize = 75

	defaultUserAgent         = "grimoire-api/1.0"
	defaultRequestsPerSecond = 10
	defaultTimeout           = 30 * time.Second
	defaultMaxRetries        = 3
	defaultInitialBackoff    = time.Second
	maxBackoff               = 16 * time.Second
)

var (
	// ErrNotFound indicates that Scryfall has no card for the requested identifier.
	ErrNotFound = errors.New("scryfall: card not found")
	// ErrUnavailable indicates a network failure or an upstream error that survived retries.
	ErrUnavailable = errors.New("scryfall: service unavailable")
	// ErrRequestRejected indicates that Scryfall refused the request as malformed.
	ErrRequestRejected = errors.New("scryfall: request rejected")
	// ErrBatchTooLarge indicates a collection request above MaxBatchSize identifiers.
	ErrBatchTooLarge = errors.New("scryfall: batch exceeds identifier limit")
	// ErrMixedIdentifiers indicates a collection request mixing id and name lookups.
	ErrMixedIdentifiers = errors.New("scryfall: identifiers must be all by id or all by name")
)

// ClientConfig configures the Scryfall API client.
type ClientConfig struct {
	BaseURL           string
	UserAgent         string
	HTTPClient        *http.Client
	RequestsPerSecond float64
	MaxRetries        int
	InitialBackoff    time.Duration
	Logger            *zap.Logger
}

// Client talks to the Scryfall REST API with throttling and retries.
type Client struct {
	baseURL        string
	userAgent      string
	httpClient     *http.Client
	rateLimiter    *rate.Limiter
	maxRetries     int
	initialBackoff time.Duration
	logger         *zap.Logger
}

// NewClient constructs a Client, filling unset configuration with defaults.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	requestsPerSecond := cfg.RequestsPerSecond
	if requestsPerSecond <= 0 {
		requestsPerSecond = defaultRequestsPerSecond
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = defaultInitialBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:        baseURL,
		userAgent:      userAgent,
		httpClient:     httpClient,
		rateLimiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
		logger:         logger,
	}
}

// FetchByName retrieves a card by exact name.
func (c *Client) FetchByName(ctx context.Context, name string) (Card, error) {
	query := url.Values{}
	query.Set("exact", name)

	var card Card
	if err := c.doRequest(ctx, http.MethodGet, "/cards/named", query, nil, &card); err != nil {
		return Card{}, fmt.Errorf("fetch card named %q: %w", name, err)
	}
	return card, nil
}

// FetchByID retrieves a card by its Scryfall id.
func (c *Client) FetchByID(ctx context.Context, id string) (Card, error) {
	var card Card
	path := "/cards/" + url.PathEscape(id)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &card); err != nil {
		return Card{}, fmt.Errorf("fetch card %s: %w", id, err)
	}
	return card, nil
}

// FetchCollection performs one /cards/collection lookup. Unmatched identifiers are omitted
// from the result; callers correlate by id or name.
func (c *Client) FetchCollection(ctx context.Context, identifiers []Identifier) ([]Card, error) {
	if len(identifiers) == 0 {
		return []Card{}, nil
	}
	if len(identifiers) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d identifiers", ErrBatchTooLarge, len(identifiers))
	}
	if err := checkIdentifiers(identifiers); err != nil {
		return nil, err
	}

	body, err := json.Marshal(collectionRequest{Identifiers: identifiers})
	if err != nil {
		return nil, fmt.Errorf("marshal collection request: %w", err)
	}

	var response collectionResponse
	if err := c.doRequest(ctx, http.MethodPost, "/cards/collection", nil, body, &response); err != nil {
		return nil, fmt.Errorf("fetch collection of %d identifiers: %w", len(identifiers), err)
	}
	if len(response.NotFound) > 0 {
		c.logger.Debug("scryfall collection misses", zap.Int("not_found", len(response.NotFound)))
	}
	if response.Data == nil {
		return []Card{}, nil
	}
	return response.Data, nil
}

func checkIdentifiers(identifiers []Identifier) error {
	byID := identifiers[0].ID != ""
	for _, identifier := range identifiers {
		hasID := identifier.ID != ""
		hasName := identifier.Name != ""
		if hasID == hasName || hasID != byID {
			return ErrMixedIdentifiers
		}
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body []byte, result any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	backoff := c.initialBackoff
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, backoff); err != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			backoff = minDuration(backoff*2, maxBackoff)
		}

		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: rate limiter: %v", ErrUnavailable, err)
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		request, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		request.Header.Set("User-Agent", c.userAgent)
		request.Header.Set("Accept", "application/json")
		if body != nil {
			request.Header.Set("Content-Type", "application/json")
		}

		response, err := c.httpClient.Do(request)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
			c.logger.Warn("scryfall request failed",
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}

		retry, err := c.handleResponse(response, result)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
		if wait := retryAfter(response); wait > backoff {
			backoff = minDuration(wait, maxBackoff)
		}
		c.logger.Warn("scryfall request will be retried",
			zap.String("path", path),
			zap.Int("status", response.StatusCode),
			zap.Int("attempt", attempt+1))
	}

	return fmt.Errorf("%w: retries exhausted: %v", ErrUnavailable, lastErr)
}

// handleResponse decodes the body and reports whether a failed response may be retried.
func (c *Client) handleResponse(response *http.Response, result any) (bool, error) {
	defer func() { _ = response.Body.Close() }()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return true, fmt.Errorf("read response body: %w", err)
	}

	switch {
	case response.StatusCode == http.StatusOK:
		if err := json.Unmarshal(payload, result); err != nil {
			return false, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
		}
		return false, nil
	case response.StatusCode == http.StatusNotFound:
		return false, ErrNotFound
	case response.StatusCode == http.StatusTooManyRequests || response.StatusCode >= http.StatusInternalServerError:
		return true, fmt.Errorf("upstream status %d", response.StatusCode)
	default:
		var apiErr apiError
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Details != "" {
			return false, fmt.Errorf("%w: status %d: %s", ErrRequestRejected, response.StatusCode, apiErr.Details)
		}
		return false, fmt.Errorf("%w: status %d", ErrRequestRejected, response.StatusCode)
	}
}

func retryAfter(response *http.Response) time.Duration {
	header := strings.TrimSpace(response.Header.Get("Retry-After"))
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
