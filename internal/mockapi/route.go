// Package mockapi stands in for the platform backend during development. The
// API client is built on its Transport when dev mode is on.
package mockapi

import (
	"net/http"
	"net/url"
	"strings"
)

// Params holds values captured from ':name' segments.
type Params map[string]string

type HandlerFunc func(req *Request) *Reply

type Request struct {
	Method string
	Path   string
	Params Params
	Query  url.Values
	Header http.Header
	Body   []byte
}

type Reply struct {
	Status int
	Body   any
	Header http.Header
}

type route struct {
	method   string
	segments []string
	handler  HandlerFunc
}

// Router is a typed routing table matched segment by segment. Literal
// segments must match exactly; ':name' segments capture one segment.
type Router struct {
	routes []route
}

func NewRouter() *Router { return &Router{} }

func (r *Router) Handle(method, pattern string, h HandlerFunc) {
	r.routes = append(r.routes, route{
		method:   strings.ToUpper(method),
		segments: splitPath(pattern),
		handler:  h,
	})
}

// Match returns the first route for method whose segments fit path. A literal
// route registered before a parameter route wins ("/courses/featured" vs
// "/courses/:id").
func (r *Router) Match(method, path string) (HandlerFunc, Params, bool) {
	segs := splitPath(path)
	method = strings.ToUpper(method)
	for _, rt := range r.routes {
		if rt.method != method || len(rt.segments) != len(segs) {
			continue
		}
		params, ok := matchSegments(rt.segments, segs)
		if ok {
			return rt.handler, params, true
		}
	}
	return nil, nil, false
}

// Allowed lists the methods registered for path, for 405 replies.
func (r *Router) Allowed(path string) []string {
	segs := splitPath(path)
	var out []string
	for _, rt := range r.routes {
		if len(rt.segments) != len(segs) {
			continue
		}
		if _, ok := matchSegments(rt.segments, segs); ok {
			out = append(out, rt.method)
		}
	}
	return out
}

func matchSegments(pattern, segs []string) (Params, bool) {
	params := Params{}
	for i, p := range pattern {
		if strings.HasPrefix(p, ":") {
			v, err := url.PathUnescape(segs[i])
			if err != nil || v == "" {
				return nil, false
			}
			params[p[1:]] = v
			continue
		}
		if p != segs[i] {
			return nil, false
		}
	}
	return params, true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return []string{}
	}
	return strings.Split(p, "/")
}
