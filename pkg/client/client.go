// Package client provides the Freshservice ticket API client used by the
// exporter, with error classification and request metrics.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for API client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticket_export_requests_total",
		Help: "Total Freshservice ticket requests by status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ticket_export_request_duration_seconds",
		Help:    "Freshservice ticket request duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticket_export_errors_total",
		Help: "Total Freshservice request errors by class",
	}, []string{"class"})
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 32 << 20

// RecordGetter is the remote capability the exporter consumes. A call
// returns the document, an error satisfying errors.Is(err, ErrRateLimited),
// or any other error.
type RecordGetter interface {
	GetRecord(ctx context.Context, id int64) (*Document, error)
}

// Limiter paces requests against a shared rate limit budget.
type Limiter interface {
	// Wait blocks until a request may be sent.
	Wait(ctx context.Context) error

	// UpdateFromHeaders records the budget reported by a response.
	UpdateFromHeaders(ctx context.Context, headers http.Header) error
}

// Client is a Freshservice API client. A Client is owned by one worker and
// used sequentially.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	limiter    Limiter
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Domain is the Freshservice host, e.g. "acme.freshservice.com".
	// A value with a scheme ("http://127.0.0.1:8080") is used as-is.
	Domain string

	// APIKey is sent as the basic auth user name.
	APIKey string

	// UserAgent header value.
	UserAgent string

	// Include lists the embeds requested with each ticket.
	Include []string

	// Timeout per HTTP request.
	Timeout time.Duration

	// Limiter is optional.
	Limiter Limiter
}

// DefaultConfig returns a default configuration for the given account.
func DefaultConfig(domain, apiKey string) Config {
	return Config{
		Domain:    domain,
		APIKey:    apiKey,
		UserAgent: "ticket-export/0.1.0",
		Include:   []string{"stats", "conversations"},
		Timeout:   30 * time.Second,
	}
}

// New creates a new Freshservice client.
func New(cfg Config) (*Client, error) {
	if cfg.Domain == "" {
		return nil, fmt.Errorf("domain is required")
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	raw := cfg.Domain
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse domain: %w", err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("domain %q has no host", cfg.Domain)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: base,
		limiter: cfg.Limiter,
		config:  cfg,
		logger:  log.With().Str("component", "freshservice-client").Logger(),
	}, nil
}

// TicketURL returns the request URL for a ticket id.
func (c *Client) TicketURL(id int64) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v2/tickets/" + strconv.FormatInt(id, 10)
	if len(c.config.Include) > 0 {
		q := url.Values{}
		q.Set("include", strings.Join(c.config.Include, ","))
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// GetRecord fetches a single ticket. It performs exactly one HTTP request;
// retrying is the caller's decision.
func (c *Client) GetRecord(ctx context.Context, id int64) (*Document, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(startTime).Seconds())
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.TicketURL(id), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.config.APIKey, "X")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	c.logger.Debug().
		Int64("ticket_id", id).
		Str("method", req.Method).
		Msg("Executing ticket request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues("network_error").Inc()
		return nil, fmt.Errorf("get ticket %d: %w", id, err)
	}
	defer resp.Body.Close()

	if c.limiter != nil {
		if err := c.limiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}
	}

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(class)).Inc()
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

		c.logger.Debug().
			Int64("ticket_id", id).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Str("retry_after", resp.Header.Get("Retry-After")).
			Msg("Ticket request error")

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, fmt.Errorf("read ticket %d body: %w", id, err)
	}

	doc, err := DecodeDocument(body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassPayload)).Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassPayload,
			Message:    "decode ticket body",
			Err:        err,
		}
	}

	return doc, nil
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
