// Package polygon fetches daily aggregates from the Polygon.io REST API.
package polygon

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"QuantPipe/internal/domain/models"
	drepo "QuantPipe/internal/domain/repository"
	"QuantPipe/internal/service/ratelimit"
	xhttp "QuantPipe/pkg/http"
	"QuantPipe/pkg/logger"
)

const (
	providerName   = "polygon"
	defaultBaseURL = "https://api.polygon.io"
	priceDecimals  = 4
)

// Recorder receives per-request outcomes.
type Recorder interface {
	RecordProviderRequest(provider, result string)
}

// Config holds client settings.
type Config struct {
	APIKey            string
	BaseURL           string
	RequestsPerMinute float64
	MaxRetries        int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	Timeout           time.Duration
}

// Client implements MarketDataProvider backed by the aggregates endpoint.
type Client struct {
	cfg      Config
	http     *xhttp.Client
	limiter  *ratelimit.Limiter
	log      *logger.Logger
	recorder Recorder
	market   *time.Location
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option customises a Client.
type Option func(*Client)

// WithRecorder reports request outcomes to metrics.
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithHTTPClient replaces the transport client.
func WithHTTPClient(h *xhttp.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a Polygon client. The limiter is shared by every caller.
func New(cfg Config, lgr *logger.Logger, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 5
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	market, err := time.LoadLocation("America/New_York")
	if err != nil {
		market = time.FixedZone("EST", -5*3600)
	}
	c := &Client{
		cfg:     cfg,
		http:    xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout)),
		limiter: ratelimit.New(),
		log:     lgr,
		market:  market,
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ drepo.MarketDataProvider = (*Client)(nil)

func (c *Client) Name() string { return providerName }

type aggResult struct {
	Open   *float64 `json:"o"`
	High   *float64 `json:"h"`
	Low    *float64 `json:"l"`
	Close  *float64 `json:"c"`
	Volume *float64 `json:"v"`
	VWAP   *float64 `json:"vw"`
	Trades *int64   `json:"n"`
	T      int64    `json:"t"` // ms, session start in market time
}

type aggResponse struct {
	Ticker       string      `json:"ticker"`
	Status       string      `json:"status"`
	ResultsCount int         `json:"resultsCount"`
	Results      []aggResult `json:"results"`
	Error        string      `json:"error"`
	Message      string      `json:"message"`
}

// FetchDailyBars returns validated bars in [from, to]. Individual malformed
// bars are dropped and logged; ErrMalformedData is returned only when the
// response had results and none of them were usable.
func (c *Client) FetchDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]models.MarketBar, error) {
	var resp aggResponse
	if err := c.get(ctx, c.aggregatesPath(symbol, from, to), &resp); err != nil {
		return nil, fmt.Errorf("polygon %s: %w", symbol, err)
	}
	switch resp.Status {
	case "OK", "DELAYED":
	case "ERROR":
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		return nil, fmt.Errorf("polygon %s: %w: %s", symbol, models.ErrProvider, msg)
	default:
		c.log.Warn("polygon returned no data",
			logger.String("symbol", symbol),
			logger.String("status", resp.Status),
		)
		return nil, nil
	}

	bars := make([]models.MarketBar, 0, len(resp.Results))
	for _, r := range resp.Results {
		bar, err := c.toBar(symbol, r)
		if err != nil {
			c.log.Warn("skipping malformed bar",
				logger.String("symbol", symbol),
				logger.Int64("t", r.T),
				logger.Error(err),
			)
			continue
		}
		if bar.Date.Before(from) || bar.Date.After(to) {
			continue
		}
		bars = append(bars, bar)
	}
	if len(resp.Results) > 0 && len(bars) == 0 {
		return nil, fmt.Errorf("polygon %s: %w: no valid bars in %d results", symbol, models.ErrMalformedData, len(resp.Results))
	}
	return bars, nil
}

func (c *Client) aggregatesPath(symbol string, from, to time.Time) string {
	return fmt.Sprintf("%s/v2/aggs/ticker/%s/range/1/day/%s/%s",
		c.cfg.BaseURL, url.PathEscape(symbol), from.Format(time.DateOnly), to.Format(time.DateOnly))
}

// get paces and retries one request. 429 and 5xx are retried with
// exponential backoff, stretched to a Retry-After hint up to BackoffMax.
// Other statuses fail immediately.
func (c *Client) get(ctx context.Context, rawURL string, dest interface{}) error {
	query := url.Values{
		"adjusted": {"true"},
		"sort":     {"asc"},
		"limit":    {"50000"},
		"apiKey":   {c.cfg.APIKey},
	}
	capacity := math.Max(1, c.cfg.RequestsPerMinute)
	refill := c.cfg.RequestsPerMinute / 60

	var (
		lastErr    error
		retryAfter time.Duration
	)
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := max(backoff(c.cfg.BackoffBase, c.cfg.BackoffMax, attempt-1), min(retryAfter, c.cfg.BackoffMax))
			c.log.Warn("retrying polygon request",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Error(lastErr),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
		}
		if err := c.limiter.Wait(ctx, providerName, capacity, refill); err != nil {
			return err
		}

		err := c.http.Get(ctx, rawURL, query, dest)
		if err == nil {
			c.record("ok")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var se *xhttp.StatusError
		if errors.As(err, &se) {
			if !se.Temporary() {
				c.record("error")
				return fmt.Errorf("%w: status %d", models.ErrProvider, se.StatusCode)
			}
			c.record("transient")
			retryAfter = se.RetryAfter
			lastErr = fmt.Errorf("%w: status %d", models.ErrTransientProvider, se.StatusCode)
			continue
		}
		// network errors and timeouts are transient
		c.record("transient")
		retryAfter = 0
		lastErr = fmt.Errorf("%w: %v", models.ErrTransientProvider, err)
	}
	return fmt.Errorf("after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

func (c *Client) record(result string) {
	if c.recorder != nil {
		c.recorder.RecordProviderRequest(providerName, result)
	}
}

func (c *Client) toBar(symbol string, r aggResult) (models.MarketBar, error) {
	if r.Open == nil || r.High == nil || r.Low == nil || r.Close == nil || r.Volume == nil {
		return models.MarketBar{}, fmt.Errorf("%w: missing field", models.ErrMalformedData)
	}
	bar := models.MarketBar{
		Symbol: symbol,
		Date:   c.sessionDate(r.T),
		Open:   round(*r.Open),
		High:   round(*r.High),
		Low:    round(*r.Low),
		Close:  round(*r.Close),
		Volume: int64(math.Round(*r.Volume)),
		Trades: r.Trades,
		Source: providerName,
	}
	if r.VWAP != nil {
		vw := round(*r.VWAP)
		bar.VWAP = &vw
	}
	if err := bar.Validate(); err != nil {
		return models.MarketBar{}, err
	}
	return bar, nil
}

// sessionDate maps the bar timestamp to its trading date at UTC midnight.
func (c *Client) sessionDate(ms int64) time.Time {
	t := time.UnixMilli(ms).In(c.market)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func round(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(priceDecimals).Float64()
	return f
}

func backoff(base, maxDelay time.Duration, attempt int) time.Duration {
	d := base << uint(attempt)
	if d <= 0 || d > maxDelay {
		return maxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
