// Package api fetches entity snapshots from the restaurant REST API.
package api

import (
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

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"dinerlive/internal/config"
)

const maxErrorBody = 512

// Client is a REST client for the entity endpoints. Identical GETs issued
// before a request goes out share it; later ones issue their own.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	group      singleflight.Group
	breaker    *breaker
	logger     zerolog.Logger
}

// NewClient creates a Client from cfg
func NewClient(cfg *config.Config, logger zerolog.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.APIBaseURL, "/"),
		httpClient: &http.Client{Transport: transport},
		timeout:    cfg.GetFetchTimeoutDuration(),
		breaker:    newBreaker(cfg.CircuitBreaker),
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// GetMenuItem fetches one menu item
func (c *Client) GetMenuItem(ctx context.Context, id int64) (MenuItem, error) {
	return get[MenuItem](ctx, c, "/api/menu-items/"+strconv.FormatInt(id, 10))
}

// GetCombo fetches one combo
func (c *Client) GetCombo(ctx context.Context, id int64) (Combo, error) {
	return get[Combo](ctx, c, "/api/combos/"+strconv.FormatInt(id, 10))
}

// GetOrder fetches one order by public id
func (c *Client) GetOrder(ctx context.Context, publicID string) (Order, error) {
	return get[Order](ctx, c, "/api/orders/"+url.PathEscape(publicID))
}

// GetReservation fetches one reservation by public id
func (c *Client) GetReservation(ctx context.Context, publicID string) (Reservation, error) {
	return get[Reservation](ctx, c, "/api/reservations/"+url.PathEscape(publicID))
}

// GetTable fetches one table
func (c *Client) GetTable(ctx context.Context, id int64) (Table, error) {
	return get[Table](ctx, c, "/api/tables/"+strconv.FormatInt(id, 10))
}

func get[T any](ctx context.Context, c *Client, path string) (T, error) {
	var zero T

	body, err := c.fetch(ctx, path)
	if err != nil {
		return zero, err
	}

	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return zero, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return v, nil
}

// fetch returns the body of GET path. The request is shared only with callers
// that joined before it was sent and is not cancelled when one of them gives up.
func (c *Client) fetch(ctx context.Context, path string) ([]byte, error) {
	ch := c.group.DoChan(path, func() (any, error) {
		// a caller arriving after this point may be reacting to a newer change
		c.group.Forget(path)
		reqCtx := context.WithoutCancel(ctx)
		if c.timeout > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(reqCtx, c.timeout)
			defer cancel()
		}
		return c.do(reqCtx, path)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug().Str("path", path).Msg("shared in-flight request")
		}
		return res.Val.([]byte), nil
	}
}

func (c *Client) do(ctx context.Context, path string) ([]byte, error) {
	if !c.breaker.allow() {
		return nil, ErrCircuitOpen
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.failure()
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breaker.failure()
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("fetched")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{
			Method:     http.MethodGet,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       truncate(strings.TrimSpace(string(body)), maxErrorBody),
		}
		if resp.StatusCode >= 500 {
			c.breaker.failure()
		} else {
			c.breaker.success()
		}
		return nil, statusErr
	}

	c.breaker.success()
	return body, nil
}

// IsNotFound reports whether err is a 404 from the API
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
