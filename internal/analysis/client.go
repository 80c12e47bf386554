package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/STTM-NSU/signal-trader/internal/logger"
	"github.com/STTM-NSU/signal-trader/internal/model"
	"resty.dev/v3"
)

const (
	_signalsURL = "/signals"
	_targetsURL = "/targets"

	_maxAttempts = 3
)

type signalsResponse struct {
	Signals []signalDTO `json:"signals"`
}

type targetsResponse struct {
	Targets map[string]float64 `json:"targets"`
}

type errorResponse struct {
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
}

// RetryAfterError is returned when the service keeps asking to come back later.
type RetryAfterError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("analysis service busy, retry after %s: %s", e.RetryAfter, e.Message)
}

type Client struct {
	c      *resty.Client
	logger logger.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

var _ Source = (*Client)(nil)

func NewClient(address string, timeout time.Duration, logger logger.Logger) *Client {
	client := resty.New().
		SetLogger(logger).
		SetBaseURL(address)
	if timeout > 0 {
		client.SetTimeout(timeout)
	}

	return &Client{
		c:      client,
		logger: logger,
		sleep:  sleepContext,
	}
}

func (c *Client) Close() error {
	return c.c.Close()
}

// GetSignals asks for signals of the given symbols, all symbols when empty.
func (c *Client) GetSignals(ctx context.Context, symbols []string) ([]model.Signal, error) {
	var out signalsResponse
	err := c.get(ctx, _signalsURL, map[string]string{"symbols": strings.Join(symbols, ",")}, &out)
	if err != nil {
		return nil, fmt.Errorf("%w: can't get signals", err)
	}

	signals := make([]model.Signal, 0, len(out.Signals))
	for _, dto := range out.Signals {
		s, err := dto.toSignal()
		if err != nil {
			c.logger.Warnf("%s: skip malformed signal", err)
			continue
		}
		signals = append(signals, s)
	}
	return filterSymbols(signals, symbols), nil
}

func (c *Client) GetTargets(ctx context.Context) (map[string]float64, error) {
	var out targetsResponse
	if err := c.get(ctx, _targetsURL, nil, &out); err != nil {
		return nil, fmt.Errorf("%w: can't get targets", err)
	}
	return out.Targets, nil
}

// get honours the service's retry_after hint a few times before giving up.
func (c *Client) get(ctx context.Context, url string, query map[string]string, result any) error {
	var lastErr error
	for attempt := 1; attempt <= _maxAttempts; attempt++ {
		req := c.c.R().
			SetResult(result).
			SetError(&errorResponse{}).
			SetContext(ctx)
		for k, v := range query {
			if v != "" {
				req.SetQueryParam(k, v)
			}
		}

		resp, err := req.Get(url)
		if err != nil {
			return fmt.Errorf("%w: can't send request", err)
		}
		c.logger.Debugf("got response %s status: %s, %s", resp.Request.URL, resp.Status(), resp.Duration())
		resp.Body.Close()

		if resp.IsSuccess() {
			return nil
		}
		if !resp.IsError() {
			return fmt.Errorf("unexpected response: %s", resp.Status())
		}

		response, _ := resp.Error().(*errorResponse)
		if response == nil || response.RetryAfter <= 0 {
			msg := resp.Status()
			if response != nil && response.Message != "" {
				msg = response.Message
			}
			return fmt.Errorf("%s: analysis request error", msg)
		}

		lastErr = &RetryAfterError{
			Message:    response.Message,
			RetryAfter: time.Duration(response.RetryAfter * float64(time.Second)),
		}
		if attempt == _maxAttempts {
			break
		}
		c.logger.Infof("%s: waiting", lastErr)
		if err := c.sleep(ctx, lastErr.(*RetryAfterError).RetryAfter); err != nil {
			return err
		}
	}
	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
