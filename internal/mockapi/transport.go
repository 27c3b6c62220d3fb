package mockapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/verdant-edge/internal/platform/logger"
)

// Transport answers requests from the routing table instead of the network.
type Transport struct {
	router   *Router
	basePath string
	latency  time.Duration
	log      *logger.Logger
}

// NewTransport serves router under basePath (usually "/api"). latency
// simulates the backend round trip and honours request cancellation.
func NewTransport(router *Router, basePath string, latency time.Duration, log *logger.Logger) *Transport {
	if log == nil {
		log = logger.Nop()
	}
	return &Transport{
		router:   router,
		basePath: "/" + strings.Trim(basePath, "/"),
		latency:  latency,
		log:      log.With("transport", "MockAPI"),
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := wait(req.Context(), t.latency); err != nil {
		return nil, err
	}

	path := req.URL.EscapedPath()
	if t.basePath != "/" {
		path = strings.TrimPrefix(path, t.basePath)
	}

	var body []byte
	if req.Body != nil {
		raw, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
		body = raw
	}

	h, params, ok := t.router.Match(req.Method, path)
	if !ok {
		if allowed := t.router.Allowed(path); len(allowed) > 0 {
			reply := errorReply(http.StatusMethodNotAllowed, "method not allowed")
			reply.Header = http.Header{"Allow": []string{strings.Join(allowed, ", ")}}
			return t.respond(req, reply)
		}
		t.log.Debug("Mock API route not found", "method", req.Method, "path", path)
		return t.respond(req, errorReply(http.StatusNotFound, "endpoint not found"))
	}

	reply := h(&Request{
		Method: strings.ToUpper(req.Method),
		Path:   path,
		Params: params,
		Query:  req.URL.Query(),
		Header: req.Header.Clone(),
		Body:   body,
	})
	if reply == nil {
		reply = &Reply{Status: http.StatusNoContent}
	}
	return t.respond(req, reply)
}

func (t *Transport) respond(req *http.Request, reply *Reply) (*http.Response, error) {
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	header := http.Header{}
	for k, vs := range reply.Header {
		header[k] = append([]string(nil), vs...)
	}
	var raw []byte
	if reply.Body != nil {
		b, err := json.Marshal(reply.Body)
		if err != nil {
			return nil, err
		}
		raw = b
		header.Set("Content-Type", "application/json; charset=utf-8")
	}
	return &http.Response{
		StatusCode:    status,
		Status:        http.StatusText(status),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(raw)),
		ContentLength: int64(len(raw)),
		Request:       req,
	}, nil
}

func errorReply(status int, message string) *Reply {
	return &Reply{Status: status, Body: map[string]any{"error": map[string]any{"message": message}}}
}

func wait(ctx context.Context, d time.Duration) error {
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
