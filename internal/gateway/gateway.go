package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/STTM-NSU/signal-trader/internal/logger"
	"github.com/STTM-NSU/signal-trader/internal/metrics"
	"github.com/bytedance/sonic"
	"resty.dev/v3"
)

type Limiter interface {
	WaitIfNeeded(ctx context.Context, endpoint string) error
}

// Signer produces authentication headers for one physical attempt.
// target is the request path including the encoded query string.
type Signer interface {
	Sign(method, target string, body []byte) map[string]string
}

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration
}

// Backoff is base*2^retry capped at MaxDelay, without jitter.
func (p RetryPolicy) Backoff(retry int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < retry && d < p.MaxDelay; i++ {
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

type Config struct {
	BaseURL     string
	Timeout     time.Duration
	CallTimeout time.Duration
	Retry       RetryPolicy
}

type Call struct {
	Method   string
	Path     string
	Endpoint string
	Query    map[string]string
	Body     any
	Signed   bool
	Retry    *RetryPolicy
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       string
	Attempts   int
}

type Gateway struct {
	c       *resty.Client
	cfg     Config
	limiter Limiter
	signer  Signer
	logger  logger.Logger
	metrics *metrics.Metrics

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
	now    func() time.Time
}

type Option func(*Gateway)

// WithClock sets the time Retry-After dates are measured from.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

func WithSigner(s Signer) Option {
	return func(g *Gateway) {
		g.signer = s
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithSleep replaces the backoff sleep, used by tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Gateway) {
		g.sleep = sleep
	}
}

func New(cfg Config, limiter Limiter, logger logger.Logger, opts ...Option) *Gateway {
	client := resty.New().
		SetLogger(logger).
		SetBaseURL(cfg.BaseURL).
		SetRetryCount(0)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	g := &Gateway{
		c:       client,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
		sleep:   sleepContext,
		jitter:  randomJitter,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Close() error {
	return g.c.Close()
}

// Request performs call and decodes a successful body into out when out is not nil.
func (g *Gateway) Request(ctx context.Context, call Call, out any) error {
	resp, err := g.Do(ctx, call)
	if err != nil {
		return err
	}
	if out == nil || resp.Body == "" {
		return nil
	}
	if err := sonic.UnmarshalString(resp.Body, out); err != nil {
		return fmt.Errorf("%w: can't decode %s response", err, call.Endpoint)
	}
	return nil
}

// Do runs the retry loop. Every physical attempt first takes a slot from the limiter.
func (g *Gateway) Do(ctx context.Context, call Call) (Response, error) {
	policy := g.cfg.Retry
	if call.Retry != nil {
		policy = *call.Retry
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if call.Endpoint == "" {
		call.Endpoint = call.Path
	}

	if g.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()
	}

	target, body, err := g.encode(call)
	if err != nil {
		return Response{}, err
	}

	var (
		lastErr    error
		lastStatus int
		retryAfter time.Duration
		limited    bool
	)
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := g.limiter.WaitIfNeeded(ctx, call.Endpoint); err != nil {
			return Response{}, fmt.Errorf("%w: %s: waiting for rate limiter", err, call.Endpoint)
		}

		resp, err := g.attempt(ctx, call, target, body)
		if err != nil {
			if ctx.Err() != nil {
				return Response{}, fmt.Errorf("%w: %s: request abandoned", ctx.Err(), call.Endpoint)
			}
			g.metrics.GatewayAttempt(call.Endpoint, "transport")
			g.logger.Warnf("%s: %s attempt %d/%d failed", err, call.Endpoint, attempt, policy.MaxAttempts)
			lastErr, lastStatus, limited, retryAfter = err, 0, false, 0
		} else {
			resp.Attempts = attempt
			switch {
			case resp.StatusCode < 300:
				g.metrics.GatewayAttempt(call.Endpoint, "ok")
				return resp, nil
			case resp.StatusCode == http.StatusTooManyRequests:
				g.metrics.GatewayAttempt(call.Endpoint, "rate_limited")
				limited, lastStatus, lastErr = true, resp.StatusCode, nil
				retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), g.now())
			case resp.StatusCode >= 500:
				g.metrics.GatewayAttempt(call.Endpoint, "server_error")
				limited, lastStatus, lastErr, retryAfter = false, resp.StatusCode, nil, 0
			default:
				g.metrics.GatewayAttempt(call.Endpoint, "rejected")
				return resp, &APIError{
					Endpoint:   call.Endpoint,
					StatusCode: resp.StatusCode,
					Message:    errorMessage(resp.Body),
				}
			}
			g.logger.Warnf("%s attempt %d/%d got status %d", call.Endpoint, attempt, policy.MaxAttempts, resp.StatusCode)
		}

		if attempt == policy.MaxAttempts {
			break
		}

		delay := policy.Backoff(attempt-1) + g.jitter(policy.Jitter)
		if retryAfter > 0 {
			delay = retryAfter
		}
		if err := g.sleep(ctx, delay); err != nil {
			return Response{}, fmt.Errorf("%w: %s: backoff interrupted", err, call.Endpoint)
		}
	}

	if limited {
		return Response{}, &RateLimitError{
			Endpoint:   call.Endpoint,
			Attempts:   policy.MaxAttempts,
			RetryAfter: retryAfter,
		}
	}
	return Response{}, &ConnectionError{
		Endpoint:   call.Endpoint,
		Attempts:   policy.MaxAttempts,
		StatusCode: lastStatus,
		Err:        lastErr,
	}
}

func (g *Gateway) encode(call Call) (string, []byte, error) {
	target := call.Path
	if len(call.Query) > 0 {
		values := url.Values{}
		for k, v := range call.Query {
			values.Set(k, v)
		}
		target += "?" + values.Encode()
	}

	if call.Body == nil {
		return target, nil, nil
	}
	body, err := sonic.Marshal(call.Body)
	if err != nil {
		return "", nil, fmt.Errorf("%w: can't encode %s body", err, call.Endpoint)
	}
	return target, body, nil
}

func (g *Gateway) attempt(ctx context.Context, call Call, target string, body []byte) (Response, error) {
	req := g.c.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json")
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if call.Signed && g.signer != nil {
		req.SetHeaders(g.signer.Sign(call.Method, target, body))
	}

	resp, err := req.Execute(call.Method, target)
	if err != nil {
		return Response{}, fmt.Errorf("%w: can't send request", err)
	}
	defer resp.Body.Close()

	g.logger.Debugf("got response %s status: %s, %s", resp.Request.URL, resp.Status(), resp.Duration())

	return Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.String(),
	}, nil
}

// parseRetryAfter understands both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

type errorBody struct {
	Message string `json:"message"`
	Msg     string `json:"msg"`
	Error   string `json:"error"`
}

func errorMessage(body string) string {
	var e errorBody
	if err := sonic.UnmarshalString(body, &e); err == nil {
		for _, m := range []string{e.Message, e.Msg, e.Error} {
			if m != "" {
				return m
			}
		}
	}
	if len(body) > 256 {
		return body[:256]
	}
	return body
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// IsRetryable reports whether err is a transport-level failure the gateway already retried.
func IsRetryable(err error) bool {
	var (
		connErr *ConnectionError
		rlErr   *RateLimitError
	)
	return errors.As(err, &connErr) || errors.As(err, &rlErr)
}
