// Package offlinecache is the edge's offline cache worker: it precaches the
// application shell, applies a caching policy per request type and falls back
// to cached content when the origin is unreachable.
package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/verdant-edge/internal/cachestore"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
)

var (
	// ErrOffline means the network failed and no cached fallback exists.
	ErrOffline = errors.New("offlinecache: network unavailable and nothing cached")
	// ErrNotHandled means the request is not for the origin and the worker
	// declines it.
	ErrNotHandled = errors.New("offlinecache: request not handled")
	// ErrMisdirected is returned by RoundTrip for requests aimed at a host
	// other than the origin. They are never dialed.
	ErrMisdirected = errors.New("offlinecache: request is not for the origin")
)

const defaultMaxEntryBytes = 5 << 20

type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

type Options struct {
	// Origin is the front-end origin the worker sits in front of.
	Origin string
	// Transport reaches the network; http.DefaultTransport when nil.
	Transport    http.RoundTripper
	Storage      cachestore.Storage
	PrecacheName string
	RuntimeName  string
	ShellURLs    []string
	// ShellEntry is the navigation fallback, "/index.html" by default.
	ShellEntry string
	// APIPrefix selects network-first API handling, "/api/" by default.
	APIPrefix string
	// MaxEntryBytes caps runtime cache entries; larger responses stream
	// through uncached. 5 MiB when zero.
	MaxEntryBytes int64
	Clients       Clients
	Notifier  Notifier
	Logger    *logger.Logger
}

type Worker struct {
	origin    *url.URL
	network   http.RoundTripper
	storage   cachestore.Storage
	precache  string
	runtime   string
	shellURLs []string
	shell     string
	apiPrefix string
	maxEntry  int64
	clients   Clients
	notifier  Notifier
	log       *logger.Logger
	now       func() time.Time

	proxyOnce sync.Once
	proxy     *httputil.ReverseProxy

	mu        sync.RWMutex
	state     State
	syncHooks map[string]SyncFunc
}

func New(opts Options) (*Worker, error) {
	origin, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.Origin), "/"))
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("offlinecache: invalid origin %q", opts.Origin)
	}
	if opts.Storage == nil {
		return nil, errors.New("offlinecache: storage required")
	}
	if opts.PrecacheName == "" || opts.RuntimeName == "" || opts.PrecacheName == opts.RuntimeName {
		return nil, errors.New("offlinecache: distinct precache and runtime names required")
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	network := opts.Transport
	if network == nil {
		network = http.DefaultTransport
	}
	shell := opts.ShellEntry
	if shell == "" {
		shell = "/index.html"
	}
	apiPrefix := opts.APIPrefix
	if apiPrefix == "" {
		apiPrefix = "/api/"
	}
	maxEntry := opts.MaxEntryBytes
	if maxEntry <= 0 {
		maxEntry = defaultMaxEntryBytes
	}
	clients := opts.Clients
	if clients == nil {
		clients = NewClientRegistry()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NewMemoryNotifier(0)
	}

	w := &Worker{
		origin:    origin,
		network:   network,
		storage:   opts.Storage,
		precache:  opts.PrecacheName,
		runtime:   opts.RuntimeName,
		shellURLs: append([]string(nil), opts.ShellURLs...),
		shell:     shell,
		apiPrefix: apiPrefix,
		maxEntry:  maxEntry,
		clients:   clients,
		notifier:  notifier,
		log:       log.With("service", "OfflineCacheWorker"),
		now:       time.Now,
		state:     StateParsed,
		syncHooks: map[string]SyncFunc{},
	}
	w.RegisterSync(SyncCourseProgress, w.syncCourseProgress)
	return w, nil
}

func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	prev := w.state
	w.state = s
	w.mu.Unlock()
	w.log.Debug("Worker state changed", "from", prev, "to", s)
}

func (w *Worker) PrecacheName() string { return w.precache }
func (w *Worker) RuntimeName() string  { return w.runtime }

// Start installs and then activates immediately without waiting for older
// workers to finish.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Install(ctx); err != nil {
		return err
	}
	return w.Activate(ctx)
}

// Install fetches every shell URL and stores it in the precache partition.
// Nothing is stored unless every fetch returns 200.
func (w *Worker) Install(ctx context.Context) error {
	w.setState(StateInstalling)

	entries := make([]*cachestore.Entry, len(w.shellURLs))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range w.shellURLs {
		i := i
		target := w.resolve(p)
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, target, nil)
			if err != nil {
				return err
			}
			resp, err := w.network.RoundTrip(req)
			if err != nil {
				return fmt.Errorf("precache %s: %w", target, err)
			}
			if resp.StatusCode != http.StatusOK {
				_ = resp.Body.Close()
				return fmt.Errorf("precache %s: status %d", target, resp.StatusCode)
			}
			e, err := cachestore.NewEntry(target, resp, w.now(), 0)
			if err != nil {
				return fmt.Errorf("precache %s: %w", target, err)
			}
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		w.setState(StateRedundant)
		w.log.Error("Precache failed", "error", err)
		return fmt.Errorf("offlinecache: install: %w", err)
	}

	cache, err := w.storage.Open(ctx, w.precache)
	if err != nil {
		w.setState(StateRedundant)
		return fmt.Errorf("offlinecache: install: %w", err)
	}
	for _, e := range entries {
		if err := cache.Put(ctx, e); err != nil {
			w.setState(StateRedundant)
			return fmt.Errorf("offlinecache: install: %w", err)
		}
	}
	w.setState(StateInstalled)
	w.log.Info("Precached application shell", "cache", w.precache, "count", len(entries))
	return nil
}

// Activate deletes every partition other than the current precache and
// runtime names, then takes control of all open clients.
func (w *Worker) Activate(ctx context.Context) error {
	if s := w.State(); s != StateInstalled {
		return fmt.Errorf("offlinecache: activate from state %s", s)
	}
	w.setState(StateActivating)

	names, err := w.storage.Names(ctx)
	if err != nil {
		return fmt.Errorf("offlinecache: activate: %w", err)
	}
	for _, n := range names {
		if n == w.precache || n == w.runtime {
			continue
		}
		if err := w.storage.Delete(ctx, n); err != nil {
			return fmt.Errorf("offlinecache: activate: delete %s: %w", n, err)
		}
		w.log.Info("Deleted stale cache", "cache", n)
	}

	if err := w.clients.Claim(ctx); err != nil {
		return fmt.Errorf("offlinecache: claim clients: %w", err)
	}
	w.setState(StateActivated)
	return nil
}

// resolve turns an origin-relative path into an absolute URL on the origin.
func (w *Worker) resolve(p string) string {
	ref, err := url.Parse(p)
	if err != nil {
		return w.origin.String() + p
	}
	return w.origin.ResolveReference(ref).String()
}

type Status struct {
	State    State    `json:"state"`
	Precache string   `json:"precache"`
	Runtime  string   `json:"runtime"`
	Caches   []string `json:"caches"`
	SyncTags []string `json:"syncTags"`
}

func (w *Worker) Status(ctx context.Context) (Status, error) {
	names, err := w.storage.Names(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		State:    w.State(),
		Precache: w.precache,
		Runtime:  w.runtime,
		Caches:   names,
		SyncTags: w.SyncTags(),
	}, nil
}
