package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"solar-estimator/internal/apperrors"
)

// BackoffConfig controls exponential backoff between attempts.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var DefaultBackoff = BackoffConfig{
	MaxRetries:      2,
	InitialInterval: 300 * time.Millisecond,
	MaxInterval:     3 * time.Second,
}

var (
	errRateLimited = errors.New("rate limited")
	errServerError = errors.New("server error")
	errUnexpected  = errors.New("unexpected status code")
	errCircuitOpen = errors.New("circuit breaker open")
)

// Client executes HTTP calls against one external collaborator with retries,
// exponential backoff and a circuit breaker. Failures are UpstreamErrors.
type Client struct {
	name    string
	http    *http.Client
	backoff BackoffConfig
	circuit *gobreaker.CircuitBreaker
}

func NewClient(name string, httpClient *http.Client, backoff BackoffConfig) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		name:    name,
		http:    httpClient,
		backoff: backoff,
		circuit: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 5,
			Interval:    time.Minute,
			Timeout:     2 * time.Minute,
		}),
	}
}

func (c *Client) Name() string { return c.name }

// Do runs the request built by buildRequest. Client errors (4xx other than 429)
// are not retried. The caller owns the returned body.
func (c *Client) Do(ctx context.Context, buildRequest func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	if c.backoff.MaxRetries < 0 || c.backoff.InitialInterval <= 0 {
		return nil, apperrors.Upstream(c.name, errors.New("invalid backoff configuration"))
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Upstream(c.name, err)
		}

		req, err := buildRequest(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s request: %w", c.name, err)
		}

		result, err := c.circuit.Execute(func() (interface{}, error) {
			resp, execErr := c.http.Do(req)
			if execErr != nil {
				return nil, execErr
			}
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}
			drain(resp)

			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				return nil, errRateLimited
			case resp.StatusCode >= 500:
				return nil, fmt.Errorf("%w: %s", errServerError, resp.Status)
			default:
				return nil, fmt.Errorf("%w: %s", errUnexpected, resp.Status)
			}
		})
		if err == nil {
			return result.(*http.Response), nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperrors.Upstream(c.name, fmt.Errorf("%w: %v", errCircuitOpen, err))
		}
		if errors.Is(err, errUnexpected) {
			return nil, apperrors.Upstream(c.name, err)
		}

		lastErr = err
		if attempt >= c.backoff.MaxRetries {
			return nil, apperrors.Upstream(c.name, lastErr)
		}

		delay := c.backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if c.backoff.MaxInterval > 0 && delay > c.backoff.MaxInterval {
			delay = c.backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, apperrors.Upstream(c.name, ctx.Err())
		case <-timer.C:
		}
	}
}

// State reports the circuit breaker state: closed, half-open or open.
func (c *Client) State() string {
	return c.circuit.State().String()
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
