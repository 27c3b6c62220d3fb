// Package cachestore keeps named cache partitions of full HTTP responses keyed
// by request URL. Partitions are only removed as a whole.
package cachestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"
)

var (
	ErrNotFound = errors.New("cachestore: entry not found")
	// ErrTooLarge is returned by NewEntry when the body exceeds the limit.
	// The response is still readable in full.
	ErrTooLarge = errors.New("cachestore: response too large to cache")
)

// Entry is a stored response.
type Entry struct {
	URL        string      `json:"url"`
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	StoredAt   time.Time   `json:"stored_at"`
}

// Cache is one named partition.
type Cache interface {
	Name() string
	Get(ctx context.Context, url string) (*Entry, error)
	Put(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, url string) error
	Keys(ctx context.Context) ([]string, error)
}

// Storage manages partitions. Open creates a partition on first use; Names
// lists them in creation order.
type Storage interface {
	Open(ctx context.Context, name string) (Cache, error)
	Names(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) error
	Match(ctx context.Context, url string) (*Entry, error)
}

// NewEntry reads resp and restores its body so the caller can still stream
// it. With limit > 0, bodies larger than limit bytes are not buffered beyond
// limit+1 bytes; NewEntry then returns ErrTooLarge and leaves resp streaming
// from where the read stopped.
func NewEntry(url string, resp *http.Response, now time.Time, limit int64) (*Entry, error) {
	if limit > 0 && resp.ContentLength > limit {
		return nil, ErrTooLarge
	}
	var body []byte
	if resp.Body != nil {
		src := io.Reader(resp.Body)
		if limit > 0 {
			src = io.LimitReader(resp.Body, limit+1)
		}
		b, err := io.ReadAll(src)
		if err != nil {
			_ = resp.Body.Close()
			return nil, err
		}
		if limit > 0 && int64(len(b)) > limit {
			resp.Body = readCloser{io.MultiReader(bytes.NewReader(b), resp.Body), resp.Body}
			return nil, ErrTooLarge
		}
		_ = resp.Body.Close()
		body = b
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return &Entry{
		URL:        url,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		StoredAt:   now.UTC(),
	}, nil
}

// Response rebuilds an *http.Response for req from the entry.
func (e *Entry) Response(req *http.Request) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(e.Body)))
	return &http.Response{
		StatusCode:    e.StatusCode,
		Status:        strconv.Itoa(e.StatusCode) + " " + http.StatusText(e.StatusCode),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}

func clone(e *Entry) *Entry {
	if e == nil {
		return nil
	}
	out := *e
	out.Header = e.Header.Clone()
	out.Body = append([]byte(nil), e.Body...)
	return &out
}
