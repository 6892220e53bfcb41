package binance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"crypto-backtester-go/internal/config"
	"crypto-backtester-go/internal/market"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	baseURL    = "https://api.binance.com/api/v3"
	klineLimit = 1000
)

// ErrBadKline is returned when a kline row cannot be decoded.
var ErrBadKline = errors.New("malformed kline")

// RestClientInterface defines the market data calls used by the fetcher.
type RestClientInterface interface {
	GetServerTime(ctx context.Context) (int64, error)
	GetKlines(ctx context.Context, symbol, interval string, start, end time.Time) (market.Series, error)
}

// RestClient is a client for the public Binance market data API.
type RestClient struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
	// backoff is the first retry delay; it doubles on every attempt.
	backoff time.Duration
}

var _ RestClientInterface = (*RestClient)(nil)

// NewRestClient creates a new Binance REST API client.
func NewRestClient(cfg *config.Binance, logger *zap.Logger) *RestClient {
	url := cfg.BaseURL
	if url == "" {
		url = baseURL
	}
	client := resty.New().SetBaseURL(url)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	logger.Info("Using Binance market data API", zap.String("url", url))
	return &RestClient{
		client:  client,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		backoff: time.Second,
	}
}

// GetServerTime fetches the current server time from Binance.
func (c *RestClient) GetServerTime(ctx context.Context) (int64, error) {
	type ServerTimeResponse struct {
		ServerTime int64 `json:"serverTime"`
	}

	req := c.client.R().
		SetContext(ctx).
		SetResult(&ServerTimeResponse{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/time", req)
	if err != nil {
		c.logger.Error("Failed to get server time", zap.Error(err))
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}

	result := resp.Result().(*ServerTimeResponse)
	return result.ServerTime, nil
}

// GetKlines downloads candles of symbol opening between start and end
// inclusive, paging through the API limit.
func (c *RestClient) GetKlines(ctx context.Context, symbol, interval string, start, end time.Time) (market.Series, error) {
	step, err := market.ParseTimeframe(interval)
	if err != nil {
		return nil, err
	}

	var out market.Series
	from := start
	for !from.After(end) {
		var rows [][]interface{}
		req := c.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"symbol":    symbol,
				"interval":  interval,
				"startTime": strconv.FormatInt(from.UnixMilli(), 10),
				"endTime":   strconv.FormatInt(end.UnixMilli(), 10),
				"limit":     strconv.Itoa(klineLimit),
			}).
			SetResult(&rows)

		if _, err := c.doRequest(ctx, http.MethodGet, "/klines", req); err != nil {
			return nil, fmt.Errorf("failed to get %s %s klines: %w", symbol, interval, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			candle, err := decodeKline(row)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", symbol, interval, err)
			}
			out = append(out, candle)
		}
		from = out[len(out)-1].Time.Add(step)
		if len(rows) < klineLimit {
			break
		}
	}

	c.logger.Debug("Fetched klines",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("count", len(out)))
	return out, nil
}

// decodeKline reads [openTime, open, high, low, close, volume, ...].
func decodeKline(row []interface{}) (market.Candle, error) {
	if len(row) < 6 {
		return market.Candle{}, fmt.Errorf("%w: %d fields", ErrBadKline, len(row))
	}
	openTime, err := cast.ToInt64E(row[0])
	if err != nil {
		return market.Candle{}, fmt.Errorf("%w: open time: %v", ErrBadKline, err)
	}
	var vals [5]float64
	for i := range vals {
		if vals[i], err = cast.ToFloat64E(row[i+1]); err != nil {
			return market.Candle{}, fmt.Errorf("%w: field %d: %v", ErrBadKline, i+1, err)
		}
	}
	return market.Candle{
		Time:   time.UnixMilli(openTime).UTC(),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && resp.StatusCode() != 0 {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == http.StatusTeapot {
				shouldRetry = true
				if seconds, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
		} else {
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}
		if err == nil {
			err = fmt.Errorf("status %s", resp.Status())
		}

		if retryAfter == 0 {
			retryAfter = c.backoff * time.Duration(math.Pow(2, float64(i)))
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}
