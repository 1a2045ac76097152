// Package deviceapi is the HTTP client for the sensor device's API:
// readings, reachability probes and Wake-on-LAN.
package deviceapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/afroash/envdash/internal/models"
	"github.com/rs/zerolog"
)

// StatusError is returned when the device answers with a non-2xx status.
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected HTTP status %d", e.Path, e.Code)
}

// Client talks to one device. Timeouts are applied by the caller through
// the request context.
type Client struct {
	base   string
	http   *http.Client
	logger zerolog.Logger
}

// New creates a client for the device at base. An empty base produces
// relative paths, which only works behind a same-origin proxy.
func New(base string, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		http:   httpClient,
		logger: logger,
	}
}

// BaseURL returns the device base URL the client was built with
func (c *Client) BaseURL() string {
	return c.base
}

// FetchReading performs GET /api
func (c *Client) FetchReading(ctx context.Context) (models.Reading, error) {
	var reading models.Reading
	if err := c.getJSON(ctx, "/api", nil, &reading); err != nil {
		return models.Reading{}, err
	}
	return reading, nil
}

// Ping asks the device whether ip (optionally ip:port) is reachable.
func (c *Client) Ping(ctx context.Context, ip string, port int) (bool, error) {
	q := url.Values{}
	q.Set("ip", ip)
	if port > 0 {
		q.Set("port", strconv.Itoa(port))
	}
	var result models.PingResult
	if err := c.getJSON(ctx, "/ping", q, &result); err != nil {
		return false, err
	}
	return result.Online, nil
}

// Wake asks the device to send a magic packet to mac.
func (c *Client) Wake(ctx context.Context, mac string) (models.WakeResult, error) {
	q := url.Values{}
	q.Set("mac", mac)
	var result models.WakeResult
	if err := c.getJSON(ctx, "/wol", q, &result); err != nil {
		return models.WakeResult{}, err
	}
	return result, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return &StatusError{Path: path, Code: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	c.logger.Debug().Str("path", path).Int("status", resp.StatusCode).Msg("Device request completed")
	return nil
}
