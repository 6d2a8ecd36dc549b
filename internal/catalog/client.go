package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

// Client reads event metadata from the Event Catalog service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Logger  *logger.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
		Logger:  log,
	}
}

// Enabled reports whether a catalog is configured. Without one, event ids
// are taken on trust.
func (c *Client) Enabled() bool {
	return c != nil && c.BaseURL != ""
}

// GetEvent fetches one event. A 404 maps to ErrEventNotFound.
func (c *Client) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	endpoint := fmt.Sprintf("%s/events/%s", c.BaseURL, url.PathEscape(eventID))
	c.Logger.Debug("CATALOG", fmt.Sprintf("Fetching event: %s", endpoint))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.Logger.Error("CATALOG", fmt.Sprintf("Event catalog error: %v", err))
		return nil, fmt.Errorf("event catalog error: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.Logger.Error("CATALOG", fmt.Sprintf("Failed to close catalog response body: %v", err))
		}
	}(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", models.ErrEventNotFound, eventID)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("event catalog returned %d: %s", resp.StatusCode, string(body))
	}

	var event models.Event
	if err := json.NewDecoder(resp.Body).Decode(&event); err != nil {
		return nil, fmt.Errorf("failed to decode event %s: %w", eventID, err)
	}
	if event.ID == "" {
		event.ID = eventID
	}
	return &event, nil
}
