package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var ErrUnknownClient = errors.New("offlinecache: unknown client")

// Window is an open page of the application.
type Window struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Focused    bool   `json:"focused"`
	Controlled bool   `json:"controlled"`
}

// Clients is the set of open pages the worker can control.
type Clients interface {
	Windows(ctx context.Context) ([]Window, error)
	Focus(ctx context.Context, id string) (Window, error)
	Open(ctx context.Context, url string) (Window, error)
	Claim(ctx context.Context) error
}

// ClientRegistry tracks windows that registered with the edge.
type ClientRegistry struct {
	mu      sync.Mutex
	windows map[string]*Window
	claimed bool
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{windows: map[string]*Window{}}
}

// Register records an open window. Windows registered after Claim are
// controlled from the start.
func (r *ClientRegistry) Register(url string) Window {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := &Window{ID: uuid.NewString(), URL: url, Controlled: r.claimed}
	r.windows[w.ID] = w
	return *w
}

func (r *ClientRegistry) Windows(_ context.Context) ([]Window, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Window, 0, len(r.windows))
	for _, w := range r.windows {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ClientRegistry) Focus(_ context.Context, id string) (Window, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.windows[id]
	if !ok {
		return Window{}, fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}
	for _, w := range r.windows {
		w.Focused = false
	}
	target.Focused = true
	return *target, nil
}

func (r *ClientRegistry) Open(_ context.Context, url string) (Window, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.windows {
		w.Focused = false
	}
	w := &Window{ID: uuid.NewString(), URL: url, Focused: true, Controlled: r.claimed}
	r.windows[w.ID] = w
	return *w, nil
}

func (r *ClientRegistry) Claim(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claimed = true
	for _, w := range r.windows {
		w.Controlled = true
	}
	return nil
}

// NotificationClick focuses a window already showing the notification's URL
// or opens a new one. The bool reports whether an existing window was used.
func (w *Worker) NotificationClick(ctx context.Context, n Notification) (Window, bool, error) {
	target := n.Data.URL
	if target == "" {
		target = "/"
	}
	want := w.resolve(target)

	windows, err := w.clients.Windows(ctx)
	if err != nil {
		return Window{}, false, err
	}
	for _, win := range windows {
		if sameURL(w.resolve(win.URL), want) {
			focused, err := w.clients.Focus(ctx, win.ID)
			return focused, err == nil, err
		}
	}
	opened, err := w.clients.Open(ctx, target)
	return opened, false, err
}

func sameURL(a, b string) bool {
	ua, err1 := url.Parse(a)
	ub, err2 := url.Parse(b)
	if err1 != nil || err2 != nil {
		return a == b
	}
	ua.Fragment, ub.Fragment = "", ""
	if ua.Path == "" {
		ua.Path = "/"
	}
	if ub.Path == "" {
		ub.Path = "/"
	}
	return ua.String() == ub.String()
}
