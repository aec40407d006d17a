// Package holidays supplies national holidays from BrasilAPI and composes
// holiday sources into one generic.HolidayCalendar.
package holidays

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/warp/estimate-engine/generic"
)

// DefaultBaseURL is the public BrasilAPI endpoint.
const DefaultBaseURL = "https://brasilapi.com.br"

type apiHoliday struct {
	Date string `json:"date"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Client fetches national holidays for a year.
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

func NewClient(baseURL string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")

	return &Client{httpClient: client, logger: logger}
}

// FetchYear returns the national holidays of a year. Holidays are global
// (empty scope) and identified by date.
func (c *Client) FetchYear(ctx context.Context, year int) ([]generic.Holiday, error) {
	var (
		result  []apiHoliday
		failure apiError
	)
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("year", fmt.Sprint(year)).
		SetResult(&result).
		SetError(&failure).
		Get("/api/feriados/v1/{year}")
	if err != nil {
		c.logger.Error("holiday API call failed", zap.Int("year", year), zap.Error(err))
		return nil, fmt.Errorf("failed to call holiday API: %w", err)
	}
	if resp.IsError() {
		c.logger.Error("holiday API returned error",
			zap.Int("year", year),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("msg", failure.Message),
		)
		return nil, fmt.Errorf("holiday API error: %s (status: %d)", failure.Message, resp.StatusCode())
	}

	holidays := make([]generic.Holiday, 0, len(result))
	for _, h := range result {
		d, err := generic.ParseDate(h.Date)
		if err != nil {
			c.logger.Warn("skipping holiday with bad date", zap.String("date", h.Date), zap.String("name", h.Name))
			continue
		}
		holidays = append(holidays, generic.Holiday{
			ID:   "br-" + d.String(),
			Date: d,
			Name: h.Name,
		})
	}

	c.logger.Debug("fetched holidays", zap.Int("year", year), zap.Int("count", len(holidays)))
	return holidays, nil
}
