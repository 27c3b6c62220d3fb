package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/yungbote/verdant-edge/internal/cachestore"
)

// Strategy is the caching policy chosen for a request.
type Strategy string

const (
	StrategyPassthrough  Strategy = "passthrough"
	StrategyCacheFirst   Strategy = "cache-first"
	StrategyAPI          Strategy = "network-first-api"
	StrategyNetworkFirst Strategy = "network-first"
)

var staticDest = map[string]bool{
	"image":  true,
	"font":   true,
	"style":  true,
	"script": true,
}

var staticExt = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".svg": true, ".ico": true, ".avif": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
	".css": true,
	".js":  true, ".mjs": true,
}

// Classify picks the policy for req. Cross-origin requests are reported
// with ErrNotHandled by Handle before this is consulted.
func (w *Worker) Classify(req *http.Request) Strategy {
	if req.Method != http.MethodGet {
		return StrategyPassthrough
	}
	if staticDest[strings.ToLower(req.Header.Get("Sec-Fetch-Dest"))] {
		return StrategyCacheFirst
	}
	if strings.HasPrefix(req.URL.Path, w.apiPrefix) {
		return StrategyAPI
	}
	if staticExt[strings.ToLower(path.Ext(req.URL.Path))] {
		return StrategyCacheFirst
	}
	return StrategyNetworkFirst
}

// IsNavigation reports whether req is a top-level page load.
func IsNavigation(req *http.Request) bool {
	if mode := req.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	return req.Method == http.MethodGet && strings.Contains(req.Header.Get("Accept"), "text/html")
}

func (w *Worker) sameOrigin(req *http.Request) bool {
	if req.URL.Host == "" {
		return true
	}
	return strings.EqualFold(req.URL.Scheme, w.origin.Scheme) && strings.EqualFold(req.URL.Host, w.origin.Host)
}

// Handle answers req according to its policy. req.URL must be absolute or
// origin-relative. Before activation every request goes to the network.
func (w *Worker) Handle(req *http.Request) (*http.Response, error) {
	if !w.sameOrigin(req) {
		return nil, ErrNotHandled
	}
	if req.URL.Host == "" {
		req = w.onOrigin(req)
	}
	if w.State() != StateActivated {
		return w.network.RoundTrip(req)
	}

	switch w.Classify(req) {
	case StrategyCacheFirst:
		return w.cacheFirst(req)
	case StrategyAPI:
		return w.networkFirst(req, false)
	case StrategyNetworkFirst:
		return w.networkFirst(req, IsNavigation(req))
	default:
		return w.network.RoundTrip(req)
	}
}

func (w *Worker) cacheFirst(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	key := req.URL.String()
	if e, err := w.storage.Match(ctx, key); err == nil {
		w.log.Debug("Cache hit", "url", key)
		return e.Response(req), nil
	} else if !errors.Is(err, cachestore.ErrNotFound) {
		w.log.Warn("Cache lookup failed", "url", key, "error", err)
	}

	resp, err := w.network.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	w.store(ctx, req, key, resp)
	return resp, nil
}

// networkFirst prefers the live response. On network failure it falls back to
// the cached entry for the exact URL and, for navigations, to the shell.
func (w *Worker) networkFirst(req *http.Request, navigation bool) (*http.Response, error) {
	ctx := req.Context()
	key := req.URL.String()

	resp, err := w.network.RoundTrip(req)
	if err == nil {
		w.store(ctx, req, key, resp)
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	w.log.Debug("Network failed, trying cache", "url", key, "error", err)

	if e, merr := w.storage.Match(ctx, key); merr == nil {
		return e.Response(req), nil
	}
	if navigation {
		if e, merr := w.storage.Match(ctx, w.resolve(w.shell)); merr == nil {
			w.log.Debug("Serving application shell", "url", key)
			return e.Response(req), nil
		}
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrOffline, key, err)
}

// store keeps a copy of shareable 200 responses in the runtime partition.
// The partition is shared by every caller, so credentialed requests and
// private responses are never stored. Storage errors never fail the request.
func (w *Worker) store(ctx context.Context, req *http.Request, key string, resp *http.Response) {
	if resp.StatusCode != http.StatusOK || !shareable(req, resp) {
		return
	}
	e, err := cachestore.NewEntry(key, resp, w.now(), w.maxEntry)
	if errors.Is(err, cachestore.ErrTooLarge) {
		w.log.Debug("Response too large for runtime cache", "url", key, "limit", w.maxEntry)
		return
	}
	if err != nil {
		w.log.Warn("Reading response for cache failed", "url", key, "error", err)
		return
	}
	cache, err := w.storage.Open(ctx, w.runtime)
	if err == nil {
		err = cache.Put(ctx, e)
	}
	if err != nil {
		w.log.Warn("Runtime cache write failed", "url", key, "error", err)
	}
}

func shareable(req *http.Request, resp *http.Response) bool {
	if req.Header.Get("Authorization") != "" || req.Header.Get("Cookie") != "" {
		return false
	}
	if resp.Header.Get("Set-Cookie") != "" || resp.Header.Get("Vary") == "*" {
		return false
	}
	for _, v := range resp.Header.Values("Cache-Control") {
		for _, d := range strings.Split(v, ",") {
			switch strings.ToLower(strings.TrimSpace(d)) {
			case "private", "no-store":
				return false
			}
		}
	}
	return true
}

func (w *Worker) onOrigin(req *http.Request) *http.Request {
	out := req.Clone(req.Context())
	out.URL.Scheme = w.origin.Scheme
	out.URL.Host = w.origin.Host
	out.Host = w.origin.Host
	out.RequestURI = ""
	return out
}
