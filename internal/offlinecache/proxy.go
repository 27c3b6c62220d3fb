package offlinecache

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
)

// RoundTrip makes the worker usable as a transport for the origin. Requests
// for any other host fail with ErrMisdirected without being dialed.
func (w *Worker) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := w.Handle(req)
	if errors.Is(err, ErrNotHandled) {
		return nil, fmt.Errorf("%w: %s", ErrMisdirected, req.URL.Host)
	}
	return resp, err
}

// Proxy returns a reverse proxy to the origin that routes every request
// through the worker. Every request is rewritten onto the origin.
func (w *Worker) Proxy() *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(w.origin)
			pr.SetXForwarded()
			pr.Out.Host = w.origin.Host
		},
		Transport: w,
		ErrorHandler: func(rw http.ResponseWriter, r *http.Request, err error) {
			status := http.StatusBadGateway
			msg := "upstream unavailable"
			switch {
			case errors.Is(err, ErrMisdirected):
				status = http.StatusMisdirectedRequest
				msg = "misdirected request"
			case errors.Is(err, ErrOffline):
				status = http.StatusServiceUnavailable
				msg = "offline"
			case r.Context().Err() != nil:
				return
			}
			w.log.Warn("Proxy request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
			rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
			rw.WriteHeader(status)
			_, _ = rw.Write([]byte(msg))
		},
	}
}

// ServeHTTP refuses absolute-form requests for hosts other than the origin
// with 421, so the edge never acts as a forward proxy.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.URL.Host != "" && !w.sameOrigin(r) {
		w.log.Warn("Refusing request for foreign host", "method", r.Method, "host", r.URL.Host)
		rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
		rw.WriteHeader(http.StatusMisdirectedRequest)
		_, _ = rw.Write([]byte("misdirected request"))
		return
	}
	w.proxyOnce.Do(func() { w.proxy = w.Proxy() })
	w.proxy.ServeHTTP(rw, r)
}
