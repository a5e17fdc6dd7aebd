package weatherapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/couchcryptid/weather-warehouse-etl/internal/domain"
	"github.com/couchcryptid/weather-warehouse-etl/internal/observability"
	"github.com/sony/gobreaker"
)

// DefaultBaseURL is the WeatherAPI.com v1 endpoint.
const DefaultBaseURL = "https://api.weatherapi.com/v1"

// maxErrorBody caps how much of a failed response is kept in the error.
const maxErrorBody = 512

// APIError is a non-200 upstream response.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("weatherapi error: status %d: code %d: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("weatherapi error: status %d: %s", e.StatusCode, e.Message)
}

// Client implements extract.Fetcher using the WeatherAPI.com current endpoint.
// Each location has its own circuit breaker, so an outage for one query
// never short-circuits another.
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	settings   gobreaker.Settings
	metrics    *observability.Metrics
	logger     *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// Options tunes a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL         string
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// NewClient creates a WeatherAPI client. Consecutive server-side failures
// for the same location open that location's circuit.
func NewClient(apiKey string, opts Options, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}

	threshold := opts.BreakerFailures
	return &Client{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		baseURL: opts.BaseURL,
		settings: gobreaker.Settings{
			MaxRequests: 1,
			Timeout:     opts.BreakerCooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= threshold
			},
			IsSuccessful: isBreakerSuccess,
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		},
		metrics:  metrics,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (c *Client) breakerFor(query string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	cb, ok := c.breakers[query]
	if !ok {
		st := c.settings
		st.Name = "weatherapi:" + query
		cb = gobreaker.NewCircuitBreaker(st)
		c.breakers[query] = cb
	}
	return cb
}

// Fetch returns current conditions and air quality for one location.
func (c *Client) Fetch(ctx context.Context, loc domain.Location) (domain.Observation, error) {
	params := url.Values{
		"key": {c.apiKey},
		"q":   {loc.Query()},
		"aqi": {"yes"},
	}
	fullURL := c.baseURL + "/current.json?" + params.Encode()

	res, err := c.breakerFor(loc.Query()).Execute(func() (interface{}, error) {
		return c.doRequest(ctx, fullURL)
	})
	if err != nil {
		c.metrics.FetchRequests.WithLabelValues("error").Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.Observation{}, fmt.Errorf("fetch %s: upstream circuit open: %w", loc.Name, err)
		}
		return domain.Observation{}, fmt.Errorf("fetch %s: %w", loc.Name, err)
	}
	c.metrics.FetchRequests.WithLabelValues("success").Inc()
	return res.(domain.Observation), nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string) (domain.Observation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.FetchAPIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return domain.Observation{}, fmt.Errorf("current weather request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Observation{}, decodeAPIError(resp)
	}

	var obs domain.Observation
	if err := json.NewDecoder(resp.Body).Decode(&obs); err != nil {
		return domain.Observation{}, fmt.Errorf("decode response: %w", err)
	}
	if obs.Current.LastUpdated == "" {
		return domain.Observation{}, errors.New("response has no current.last_updated")
	}
	return obs, nil
}

// WeatherAPI error body: {"error":{"code":1006,"message":"No matching location found."}}
type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(body)}

	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Error.Message != "" {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
	}
	return apiErr
}

// isBreakerSuccess keeps client errors for a single bad location from
// tripping the breaker. Rate limiting and server errors count as failures.
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
	}
	return false
}
