package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/yungbote/verdant-edge/internal/platform/apierr"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
)

// ErrSuperseded is the cancellation cause of a request replaced by a newer
// request with the same key.
var ErrSuperseded = errors.New("request superseded by a newer request")

const maxResponseBytes = 10 << 20

type Options struct {
	BaseURL        string
	DefaultHeaders map[string]string
	// Timeout applies to each attempt unless the call overrides it. Zero means
	// 30s; negative disables the timer.
	Timeout time.Duration
	Tokens  TokenSource

	HTTPClient *http.Client
	// Transport is used when HTTPClient is nil; it is wrapped for tracing.
	Transport http.RoundTripper
	Logger    *logger.Logger
}

// RequestConfig describes one call. Params are appended to the URL; Headers
// win over defaults and the computed Authorization header.
type RequestConfig struct {
	Method  string
	Params  url.Values
	Headers map[string]string
	// Body is sent raw when it is []byte, string or io.Reader, as multipart
	// when it is *FormData, and JSON-encoded otherwise.
	Body       any
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	// Scope narrows de-duplication: calls with different scopes never
	// supersede each other. Empty means the client-wide "METHOD:endpoint" key.
	Scope string
}

type Client struct {
	baseURL    string
	timeout    time.Duration
	tokens     TokenSource
	httpClient *http.Client
	log        *logger.Logger

	// sleep waits between retry attempts.
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	headers  map[string]string
	inflight map[string]*inflightRequest
}

type inflightRequest struct {
	cancel context.CancelCauseFunc
}

func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("apiclient: baseURL required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	hc := opts.HTTPClient
	if hc == nil {
		base := opts.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		hc = &http.Client{Transport: otelhttp.NewTransport(base)}
	}

	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	for k, v := range opts.DefaultHeaders {
		headers[http.CanonicalHeaderKey(k)] = v
	}

	return &Client{
		baseURL:    baseURL,
		timeout:    timeout,
		tokens:     opts.Tokens,
		httpClient: hc,
		log:        log.With("client", "APIClient"),
		sleep:      sleepCtx,
		headers:    headers,
		inflight:   map[string]*inflightRequest{},
	}, nil
}

func (c *Client) BaseURL() string { return c.baseURL }

// RequestKey is the de-duplication key for method and endpoint.
func RequestKey(method, endpoint string) string {
	m := strings.ToUpper(strings.TrimSpace(method))
	if m == "" {
		m = http.MethodGet
	}
	return m + ":" + endpoint
}

// Request performs one logical call, cancelling any in-flight call with the
// same method and endpoint first.
func (c *Client) Request(ctx context.Context, endpoint string, cfg RequestConfig) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = http.MethodGet
	}
	key := RequestKey(method, endpoint)
	if cfg.Scope != "" {
		key = cfg.Scope + "|" + key
	}

	reqCtx, cancel := context.WithCancelCause(ctx)
	entry := &inflightRequest{cancel: cancel}
	c.mu.Lock()
	if prev, ok := c.inflight[key]; ok {
		prev.cancel(ErrSuperseded)
	}
	c.inflight[key] = entry
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.inflight[key] == entry {
			delete(c.inflight, key)
		}
		c.mu.Unlock()
		cancel(nil)
	}()

	fullURL, err := c.buildURL(endpoint, cfg.Params)
	if err != nil {
		return nil, err
	}
	payload, contentType, err := encodeBody(cfg.Body)
	if err != nil {
		return nil, err
	}
	headers := c.buildHeaders(reqCtx, cfg.Headers, contentType)

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = c.timeout
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}

	for attempt := 1; ; attempt++ {
		resp, err := c.attempt(reqCtx, method, fullURL, headers, payload, timeout)
		if err == nil {
			return resp, nil
		}
		if attempt > retries || !shouldRetry(err) || reqCtx.Err() != nil {
			if reqCtx.Err() != nil && !apierr.IsCanceled(err) {
				return nil, apierr.Canceled(context.Cause(reqCtx))
			}
			return nil, err
		}

		delay := cfg.RetryDelay * time.Duration(attempt)
		c.log.Warn("API request retrying",
			"key", key,
			"attempt", attempt,
			"retries", retries,
			"delay", delay.String(),
			"error", err.Error(),
		)
		if err := c.sleep(reqCtx, delay); err != nil {
			return nil, apierr.Canceled(context.Cause(reqCtx))
		}
	}
}

func (c *Client) Get(ctx context.Context, endpoint string, params url.Values) (*Response, error) {
	return c.Request(ctx, endpoint, RequestConfig{Method: http.MethodGet, Params: params})
}

func (c *Client) Post(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Request(ctx, endpoint, RequestConfig{Method: http.MethodPost, Body: body})
}

func (c *Client) Put(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Request(ctx, endpoint, RequestConfig{Method: http.MethodPut, Body: body})
}

func (c *Client) Patch(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Request(ctx, endpoint, RequestConfig{Method: http.MethodPatch, Body: body})
}

func (c *Client) Delete(ctx context.Context, endpoint string) (*Response, error) {
	return c.Request(ctx, endpoint, RequestConfig{Method: http.MethodDelete})
}

// CancelRequest aborts the in-flight request with the given key, reporting
// whether one existed.
func (c *Client) CancelRequest(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.inflight[key]
	if !ok {
		return false
	}
	entry.cancel(context.Canceled)
	delete(c.inflight, key)
	return true
}

func (c *Client) CancelAllRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.inflight {
		entry.cancel(context.Canceled)
		delete(c.inflight, key)
	}
}

func (c *Client) InFlight() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.inflight))
	for key := range c.inflight {
		out = append(out, key)
	}
	return out
}

func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	c.headers[http.CanonicalHeaderKey(key)] = value
	c.mu.Unlock()
}

func (c *Client) RemoveHeader(key string) {
	c.mu.Lock()
	delete(c.headers, http.CanonicalHeaderKey(key))
	c.mu.Unlock()
}

// ---------------- HTTP helpers ----------------

func (c *Client) buildURL(endpoint string, params url.Values) (string, error) {
	u, err := url.Parse(c.baseURL + endpoint)
	if err != nil {
		return "", err
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) buildHeaders(ctx context.Context, perCall map[string]string, bodyContentType string) map[string]string {
	c.mu.Lock()
	out := make(map[string]string, len(c.headers)+len(perCall)+1)
	for k, v := range c.headers {
		out[k] = v
	}
	c.mu.Unlock()

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			c.log.Warn("Auth token unavailable", "error", err)
		} else if token = strings.TrimSpace(token); token != "" {
			out["Authorization"] = "Bearer " + token
		}
	}
	for k, v := range perCall {
		out[http.CanonicalHeaderKey(k)] = v
	}
	// Multipart bodies carry their own boundary.
	if bodyContentType != "" {
		out["Content-Type"] = bodyContentType
	}
	return out
}

type attemptResult struct {
	resp *Response
	err  error
}

// attempt races one round trip against the timeout. The loser is cancelled
// but its socket may linger until the transport notices.
func (c *Client) attempt(ctx context.Context, method, fullURL string, headers map[string]string, payload []byte, timeout time.Duration) (*Response, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		resp, err := c.roundTrip(attemptCtx, method, fullURL, headers, payload)
		done <- attemptResult{resp: resp, err: err}
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case r := <-done:
		return r.resp, r.err
	case <-expired:
		cancel()
		return nil, apierr.Timeout(timeout)
	}
}

func (c *Client) roundTrip(ctx context.Context, method, fullURL string, headers map[string]string, payload []byte) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, apierr.Network(err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apierr.Canceled(context.Cause(ctx))
		}
		return nil, apierr.Network(err)
	}
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
	if readErr != nil {
		if ctx.Err() != nil {
			return nil, apierr.Canceled(context.Cause(ctx))
		}
		return nil, apierr.Network(readErr)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       raw,
		IsJSON:     isJSONContentType(resp.Header.Get("Content-Type")),
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apierr.New(resp.StatusCode, statusText(resp), out.decoded(), "")
	}
	return out, nil
}

// shouldRetry keeps client errors final, except rate limiting.
func shouldRetry(err error) bool {
	if apierr.IsCanceled(err) {
		return false
	}
	var e *apierr.Error
	if errors.As(err, &e) && e.Status >= 400 && e.Status < 500 {
		return e.Status == http.StatusTooManyRequests
	}
	return true
}

func statusText(resp *http.Response) string {
	s := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if s == "" {
		s = http.StatusText(resp.StatusCode)
	}
	return s
}

func isJSONContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "application/json") || strings.Contains(ct, "+json")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// Response is a successful (2xx) reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	IsJSON     bool
}

func (r *Response) Decode(out any) error {
	if r == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, out)
}

func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

// decoded returns the body as a JSON value when the server said it was JSON,
// otherwise as text.
func (r *Response) decoded() any {
	if len(r.Body) == 0 {
		return nil
	}
	if r.IsJSON {
		var v any
		if err := json.Unmarshal(r.Body, &v); err == nil {
			return v
		}
	}
	return string(r.Body)
}
