// Package sendgrid delivers mail through the SendGrid v3 REST API.
package sendgrid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/yungbote/verdant-edge/internal/platform/apierr"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
)

type Config struct {
	APIKey           string
	BaseURL          string
	DefaultFromEmail string
	DefaultFromName  string
	Timeout          time.Duration
	MaxRetries       int
	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

type EmailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type Mail struct {
	From       EmailAddress
	ReplyTo    *EmailAddress
	To         []EmailAddress
	Subject    string
	Text       string
	HTML       string
	Categories []string
}

type Result struct {
	StatusCode int
	MessageID  string
}

type Client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
	sleep      func(ctx context.Context, d time.Duration) error
}

func New(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, errors.New("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("missing SENDGRID_API_KEY")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.sendgrid.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &Client{
		log:        log.With("client", "SendGridClient"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: otelhttp.NewTransport(base)},
		sleep:      sleepCtx,
	}, nil
}

type mailSendRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             EmailAddress      `json:"from"`
	ReplyTo          *EmailAddress     `json:"reply_to,omitempty"`
	Subject          string            `json:"subject"`
	Content          []mailContent     `json:"content"`
	Categories       []string          `json:"categories,omitempty"`
}

type personalization struct {
	To []EmailAddress `json:"to"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (c *Client) Send(ctx context.Context, m Mail) (*Result, error) {
	if strings.TrimSpace(m.From.Email) == "" {
		m.From = EmailAddress{Email: c.cfg.DefaultFromEmail, Name: c.cfg.DefaultFromName}
	}
	if strings.TrimSpace(m.From.Email) == "" {
		return nil, errors.New("sendgrid: From.Email required (or set SENDGRID_FROM_EMAIL)")
	}
	if len(m.To) == 0 {
		return nil, errors.New("sendgrid: To required")
	}
	if strings.TrimSpace(m.Subject) == "" {
		return nil, errors.New("sendgrid: Subject required")
	}
	var contents []mailContent
	if t := strings.TrimSpace(m.Text); t != "" {
		contents = append(contents, mailContent{Type: "text/plain", Value: t})
	}
	if h := strings.TrimSpace(m.HTML); h != "" {
		contents = append(contents, mailContent{Type: "text/html", Value: h})
	}
	if len(contents) == 0 {
		return nil, errors.New("sendgrid: Text or HTML content required")
	}

	payload, err := json.Marshal(mailSendRequest{
		Personalizations: []personalization{{To: m.To}},
		From:             m.From,
		ReplyTo:          m.ReplyTo,
		Subject:          strings.TrimSpace(m.Subject),
		Content:          contents,
		Categories:       m.Categories,
	})
	if err != nil {
		return nil, err
	}

	backoff := time.Second
	for attempt := 0; ; attempt++ {
		resp, err := c.doOnce(ctx, payload)
		if err == nil {
			return &Result{
				StatusCode: resp.StatusCode,
				MessageID:  strings.TrimSpace(resp.Header.Get("X-Message-Id")),
			}, nil
		}
		if attempt >= c.cfg.MaxRetries || apierr.IsCanceled(err) || !apierr.IsRetryable(err) {
			return nil, err
		}
		wait := jitter(retryAfter(resp, backoff, 10*time.Second))
		c.log.Warn("Sendgrid request retrying",
			"attempt", attempt+1,
			"max_retries", c.cfg.MaxRetries,
			"sleep", wait.String(),
			"error", err.Error(),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, apierr.Canceled(err)
		}
		backoff *= 2
	}
}

func (c *Client) doOnce(ctx context.Context, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v3/mail/send", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apierr.Canceled(ctx.Err())
		}
		return nil, apierr.Network(err)
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var body any = string(raw)
		var decoded struct {
			Errors []struct {
				Message string `json:"message"`
			} `json:"errors"`
		}
		msg := "sendgrid: " + http.StatusText(resp.StatusCode)
		if json.Unmarshal(raw, &decoded) == nil && len(decoded.Errors) > 0 {
			msg = fmt.Sprintf("sendgrid: %s", strings.TrimSpace(decoded.Errors[0].Message))
		}
		return resp, apierr.New(resp.StatusCode, http.StatusText(resp.StatusCode), body, msg)
	}
	return resp, nil
}

func retryAfter(resp *http.Response, fallback, max time.Duration) time.Duration {
	d := fallback
	if resp != nil {
		if secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && secs > 0 {
			d = time.Duration(secs) * time.Second
		}
	}
	if max > 0 && d > max {
		d = max
	}
	return d
}

// jitter spreads d by ±20%.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	delta := float64(d) * 0.2
	return time.Duration(float64(d) - delta + rand.Float64()*2*delta)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
