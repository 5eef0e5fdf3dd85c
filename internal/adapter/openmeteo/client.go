package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/air-quality-etl/internal/config"
	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

// Client fetches hourly air-quality payloads from the Open-Meteo API for the
// configured city table.
type Client struct {
	baseURL    string
	timezone   string
	cities     map[string]config.City
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an Open-Meteo air-quality client. Requests use the given
// timeout and fail fast; retries are the caller's decision.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  cfg.APIBaseURL,
		timezone: cfg.APITimezone,
		cities:   cfg.Cities,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		logger: logger,
	}
}

// Fetch retrieves the current hourly forecast window for a city.
func (c *Client) Fetch(ctx context.Context, city string) (*domain.HourlyPayload, []byte, error) {
	return c.fetch(ctx, city, "", "")
}

// FetchRange retrieves one bounded historical window, dates in "2006-01-02"
// form, both inclusive. Used by the backfill sweep.
func (c *Client) FetchRange(ctx context.Context, city, startDate, endDate string) (*domain.HourlyPayload, []byte, error) {
	return c.fetch(ctx, city, startDate, endDate)
}

func (c *Client) fetch(ctx context.Context, city, startDate, endDate string) (*domain.HourlyPayload, []byte, error) {
	loc, ok := c.cities[city]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", domain.ErrUnknownCity, city)
	}

	params := url.Values{
		"latitude":  {fmt.Sprintf("%.6f", loc.Lat)},
		"longitude": {fmt.Sprintf("%.6f", loc.Lon)},
		"hourly":    {hourlyFields()},
		"timezone":  {c.timezone},
	}
	if startDate != "" && endDate != "" {
		params.Set("start_date", startDate)
		params.Set("end_date", endDate)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("air quality request for %s: %w", city, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response for %s: %w", city, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, fmt.Errorf("open-meteo API error: status %d: %s", resp.StatusCode, body)
	}

	var payload domain.HourlyPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, fmt.Errorf("decode response for %s: %w", city, err)
	}

	c.logger.Debug("fetched air quality payload",
		"city", city,
		"timestamps", timestampCount(&payload),
		"duration", time.Since(start),
	)
	return &payload, body, nil
}

func timestampCount(p *domain.HourlyPayload) int {
	if p.Hourly == nil {
		return 0
	}
	return len(p.Hourly.Time)
}

func hourlyFields() string {
	fields := make([]string, len(domain.Pollutants))
	for i, p := range domain.Pollutants {
		fields[i] = string(p)
	}
	return strings.Join(fields, ",")
}
