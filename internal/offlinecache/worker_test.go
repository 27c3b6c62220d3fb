package offlinecache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/yungbote/verdant-edge/internal/cachestore"
)

var shellURLs = []string{"/", "/dashboard", "/courses", "/index.html", "/manifest.json"}

// fakeOrigin serves bodies by path and can be switched offline.
type fakeOrigin struct {
	mu      sync.Mutex
	bodies  map[string]string
	status  map[string]int
	calls   map[string]int
	offline atomic.Bool
}

func newFakeOrigin() *fakeOrigin {
	o := &fakeOrigin{bodies: map[string]string{}, status: map[string]int{}, calls: map[string]int{}}
	for _, p := range shellURLs {
		o.bodies[p] = "shell:" + p
	}
	return o
}

func (o *fakeOrigin) set(path, body string) {
	o.mu.Lock()
	o.bodies[path] = body
	o.mu.Unlock()
}

func (o *fakeOrigin) count(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[path]
}

func (o *fakeOrigin) RoundTrip(req *http.Request) (*http.Response, error) {
	o.mu.Lock()
	o.calls[req.URL.Path]++
	body, ok := o.bodies[req.URL.Path]
	status := o.status[req.URL.Path]
	o.mu.Unlock()
	if o.offline.Load() {
		return nil, errors.New("dial tcp: network is unreachable")
	}
	if status == 0 {
		status = http.StatusOK
		if !ok {
			status = http.StatusNotFound
		}
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}, nil
}

func newTestWorker(t *testing.T, origin http.RoundTripper, storage cachestore.Storage) *Worker {
	t.Helper()
	w, err := New(Options{
		Origin:       "http://app.test",
		Transport:    origin,
		Storage:      storage,
		PrecacheName: "verdant-precache-v1",
		RuntimeName:  "verdant-runtime-v1",
		ShellURLs:    shellURLs,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func startedWorker(t *testing.T) (*Worker, *fakeOrigin) {
	t.Helper()
	origin := newFakeOrigin()
	w := newTestWorker(t, origin, cachestore.NewMemory())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return w, origin
}

func get(t *testing.T, target string, header map[string]string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	return req
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	_ = resp.Body.Close()
	return string(b)
}

func TestInstallPrecachesShell(t *testing.T) {
	storage := cachestore.NewMemory()
	w := newTestWorker(t, newFakeOrigin(), storage)
	if err := w.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if w.State() != StateInstalled {
		t.Fatalf("state = %s", w.State())
	}
	pre, _ := storage.Open(context.Background(), "verdant-precache-v1")
	keys, _ := pre.Keys(context.Background())
	if len(keys) != len(shellURLs) {
		t.Fatalf("precached %d entries: %v", len(keys), keys)
	}
	e, err := storage.Match(context.Background(), "http://app.test/index.html")
	if err != nil || string(e.Body) != "shell:/index.html" {
		t.Fatalf("index.html not precached: %v", err)
	}
}

func TestInstallIsAllOrNothing(t *testing.T) {
	origin := newFakeOrigin()
	origin.status["/manifest.json"] = http.StatusInternalServerError
	storage := cachestore.NewMemory()
	w := newTestWorker(t, origin, storage)

	if err := w.Start(context.Background()); err == nil {
		t.Fatalf("expected install failure")
	}
	if w.State() != StateRedundant {
		t.Fatalf("state = %s, want redundant", w.State())
	}
	if _, err := storage.Match(context.Background(), "http://app.test/"); !errors.Is(err, cachestore.ErrNotFound) {
		t.Fatalf("partial precache stored: %v", err)
	}
}

func TestActivateDeletesStalePartitions(t *testing.T) {
	ctx := context.Background()
	storage := cachestore.NewMemory()
	for _, n := range []string{"verdant-precache-v0", "verdant-runtime-v0", "verdant-runtime-v1", "unrelated"} {
		if _, err := storage.Open(ctx, n); err != nil {
			t.Fatalf("Open: %v", err)
		}
	}
	clients := NewClientRegistry()
	open := clients.Register("http://app.test/dashboard")

	w, err := New(Options{
		Origin:       "http://app.test",
		Transport:    newFakeOrigin(),
		Storage:      storage,
		PrecacheName: "verdant-precache-v1",
		RuntimeName:  "verdant-runtime-v1",
		ShellURLs:    shellURLs,
		Clients:      clients,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	names, _ := storage.Names(ctx)
	if strings.Join(names, ",") != "verdant-runtime-v1,verdant-precache-v1" {
		t.Fatalf("partitions after activate: %v", names)
	}
	if w.State() != StateActivated {
		t.Fatalf("state = %s", w.State())
	}
	windows, _ := clients.Windows(ctx)
	if len(windows) != 1 || windows[0].ID != open.ID || !windows[0].Controlled {
		t.Fatalf("open window not claimed: %+v", windows)
	}
}

func TestCacheFirstSkipsNetworkWhenCached(t *testing.T) {
	w, origin := startedWorker(t)
	origin.set("/img/logo.png", "png-v1")

	for i := 0; i < 2; i++ {
		resp, err := w.Handle(get(t, "http://app.test/img/logo.png", nil))
		if err != nil {
			t.Fatalf("Handle: %v", err)
		}
		if got := readBody(t, resp); got != "png-v1" {
			t.Fatalf("body = %q", got)
		}
	}
	if n := origin.count("/img/logo.png"); n != 1 {
		t.Fatalf("network calls = %d, want 1", n)
	}

	origin.set("/theme", "css")
	if _, err := w.Handle(get(t, "http://app.test/theme", map[string]string{"Sec-Fetch-Dest": "style"})); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if _, err := w.Handle(get(t, "http://app.test/theme", map[string]string{"Sec-Fetch-Dest": "style"})); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if n := origin.count("/theme"); n != 1 {
		t.Fatalf("style network calls = %d, want 1", n)
	}
}

func TestCacheFirstDoesNotStoreErrors(t *testing.T) {
	w, origin := startedWorker(t)
	for i := 0; i < 2; i++ {
		resp, err := w.Handle(get(t, "http://app.test/missing.png", nil))
		if err != nil {
			t.Fatalf("Handle: %v", err)
		}
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	}
	if n := origin.count("/missing.png"); n != 2 {
		t.Fatalf("404 was cached: %d network calls", n)
	}
}

func TestAPINetworkFirst(t *testing.T) {
	w, origin := startedWorker(t)
	origin.set("/api/courses", "v1")
	if _, err := w.Handle(get(t, "http://app.test/api/courses", nil)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	origin.set("/api/courses", "v2")
	resp, err := w.Handle(get(t, "http://app.test/api/courses", nil))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := readBody(t, resp); got != "v2" {
		t.Fatalf("live response not preferred: %q", got)
	}

	origin.offline.Store(true)
	resp, err = w.Handle(get(t, "http://app.test/api/courses", nil))
	if err != nil {
		t.Fatalf("offline fallback: %v", err)
	}
	if got := readBody(t, resp); got != "v2" {
		t.Fatalf("fallback body = %q", got)
	}

	_, err = w.Handle(get(t, "http://app.test/api/lessons/1", map[string]string{"Accept": "text/html"}))
	if !errors.Is(err, ErrOffline) {
		t.Fatalf("uncached API request: %v", err)
	}
}

func TestNavigationFallsBackToShell(t *testing.T) {
	w, origin := startedWorker(t)
	origin.offline.Store(true)

	resp, err := w.Handle(get(t, "http://app.test/courses/climate-foundations", map[string]string{"Sec-Fetch-Mode": "navigate"}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := readBody(t, resp); got != "shell:/index.html" {
		t.Fatalf("body = %q, want shell", got)
	}

	resp, err = w.Handle(get(t, "http://app.test/dashboard", map[string]string{"Accept": "text/html"}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := readBody(t, resp); got != "shell:/dashboard" {
		t.Fatalf("exact cached page not preferred: %q", got)
	}

	_, err = w.Handle(get(t, "http://app.test/data.json", map[string]string{"Sec-Fetch-Mode": "cors"}))
	if !errors.Is(err, ErrOffline) {
		t.Fatalf("non-navigation got %v", err)
	}
}

func TestCrossOriginAndNonGET(t *testing.T) {
	w, origin := startedWorker(t)

	if _, err := w.Handle(get(t, "https://cdn.other.test/lib.js", nil)); !errors.Is(err, ErrNotHandled) {
		t.Fatalf("cross-origin: %v", err)
	}

	origin.set("/api/bookmarks", "ok")
	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodPost, "http://app.test/api/bookmarks", strings.NewReader("{}"))
		if _, err := w.Handle(req); err != nil {
			t.Fatalf("POST: %v", err)
		}
	}
	if _, err := w.storage.Match(context.Background(), "http://app.test/api/bookmarks"); !errors.Is(err, cachestore.ErrNotFound) {
		t.Fatalf("POST response cached: %v", err)
	}
}

func TestForeignHostsAreRefused(t *testing.T) {
	w, origin := startedWorker(t)
	origin.set("/secret", "INTERNAL-SECRET")

	rec := httptest.NewRecorder()
	w.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://127.0.0.1:9/secret", nil))
	if rec.Code != http.StatusMisdirectedRequest || strings.Contains(rec.Body.String(), "SECRET") {
		t.Fatalf("foreign host: %d %q", rec.Code, rec.Body.String())
	}

	_, err := w.RoundTrip(get(t, "http://internal.test/secret", nil))
	if !errors.Is(err, ErrMisdirected) {
		t.Fatalf("RoundTrip foreign host: %v", err)
	}
	if n := origin.count("/secret"); n != 0 {
		t.Fatalf("foreign request reached the network %d times", n)
	}

	rec = httptest.NewRecorder()
	w.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://app.test/secret", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "INTERNAL-SECRET" {
		t.Fatalf("absolute-form origin request: %d %q", rec.Code, rec.Body.String())
	}
}

type userOrigin struct {
	offline atomic.Bool
}

func (o *userOrigin) RoundTrip(req *http.Request) (*http.Response, error) {
	if o.offline.Load() {
		return nil, errors.New("dial tcp: connection refused")
	}
	body := "shell:" + req.URL.Path
	if user := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer "); user != "" {
		body = `{"email":"` + user + `@example.com"}`
	}
	header := http.Header{"Content-Type": {"text/plain"}}
	if req.URL.Path == "/api/profile" {
		header.Set("Cache-Control", "private, max-age=60")
	}
	return &http.Response{StatusCode: http.StatusOK, Header: header, Body: io.NopCloser(strings.NewReader(body)), Request: req}, nil
}

func TestRuntimeCacheIsNotSharedAcrossUsers(t *testing.T) {
	origin := &userOrigin{}
	w := newTestWorker(t, origin, cachestore.NewMemory())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := w.Handle(get(t, "http://app.test/api/users/me", map[string]string{"Authorization": "Bearer alice"}))
	if err != nil {
		t.Fatalf("alice: %v", err)
	}
	if got := readBody(t, resp); got != `{"email":"alice@example.com"}` {
		t.Fatalf("alice body = %q", got)
	}
	if _, err := w.Handle(get(t, "http://app.test/api/profile", nil)); err != nil {
		t.Fatalf("profile: %v", err)
	}
	if _, err := w.Handle(get(t, "http://app.test/api/session", map[string]string{"Cookie": "sid=alice"})); err != nil {
		t.Fatalf("session: %v", err)
	}

	origin.offline.Store(true)
	for _, tc := range []struct {
		target string
		header map[string]string
	}{
		{"http://app.test/api/users/me", map[string]string{"Authorization": "Bearer bob"}},
		{"http://app.test/api/users/me", nil},
		{"http://app.test/api/profile", nil},
		{"http://app.test/api/session", nil},
	} {
		resp, err := w.Handle(get(t, tc.target, tc.header))
		if !errors.Is(err, ErrOffline) {
			body := ""
			if resp != nil {
				body = readBody(t, resp)
			}
			t.Fatalf("%s: expected ErrOffline, got %v %q", tc.target, err, body)
		}
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer bob")
	w.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable || strings.Contains(rec.Body.String(), "alice") {
		t.Fatalf("bob through proxy: %d %q", rec.Code, rec.Body.String())
	}
}

func TestAPIPathsWithAssetExtensionsStayNetworkFirst(t *testing.T) {
	w, origin := startedWorker(t)
	origin.set("/api/reports/progress.png", "chart-v1")
	if w.Classify(get(t, "http://app.test/api/reports/progress.png", nil)) != StrategyAPI {
		t.Fatalf("api path with .png should be network-first")
	}
	if w.Classify(get(t, "http://app.test/api/reports/progress.png", map[string]string{"Sec-Fetch-Dest": "image"})) != StrategyCacheFirst {
		t.Fatalf("Sec-Fetch-Dest should still win")
	}

	if _, err := w.Handle(get(t, "http://app.test/api/reports/progress.png", nil)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	origin.set("/api/reports/progress.png", "chart-v2")
	resp, err := w.Handle(get(t, "http://app.test/api/reports/progress.png", nil))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := readBody(t, resp); got != "chart-v2" {
		t.Fatalf("stale api asset served: %q", got)
	}
}

func TestLargeResponsesStreamUncached(t *testing.T) {
	origin := newFakeOrigin()
	storage := cachestore.NewMemory()
	w, err := New(Options{
		Origin:        "http://app.test",
		Transport:     origin,
		Storage:       storage,
		PrecacheName:  "verdant-precache-v1",
		RuntimeName:   "verdant-runtime-v1",
		ShellURLs:     shellURLs,
		MaxEntryBytes: 16,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	video := strings.Repeat("frame", 20)
	origin.set("/videos/intro.mp4", video)
	origin.set("/img/dot.png", "dot")

	resp, err := w.Handle(get(t, "http://app.test/videos/intro.mp4", nil))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := readBody(t, resp); got != video {
		t.Fatalf("large body truncated: %d bytes", len(got))
	}
	if _, err := storage.Match(context.Background(), "http://app.test/videos/intro.mp4"); !errors.Is(err, cachestore.ErrNotFound) {
		t.Fatalf("large response cached: %v", err)
	}

	if _, err := w.Handle(get(t, "http://app.test/img/dot.png", nil)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if _, err := storage.Match(context.Background(), "http://app.test/img/dot.png"); err != nil {
		t.Fatalf("small response not cached: %v", err)
	}
}

func TestNotInterceptingBeforeActivation(t *testing.T) {
	origin := newFakeOrigin()
	origin.set("/a.png", "img")
	w := newTestWorker(t, origin, cachestore.NewMemory())
	for i := 0; i < 2; i++ {
		if _, err := w.Handle(get(t, "http://app.test/a.png", nil)); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	if n := origin.count("/a.png"); n != 2 {
		t.Fatalf("network calls = %d, want 2", n)
	}
}

func TestServeHTTP(t *testing.T) {
	w, origin := startedWorker(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/courses", nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	w.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "shell:/courses" {
		t.Fatalf("online: %d %q", rec.Code, rec.Body.String())
	}

	origin.offline.Store(true)
	rec = httptest.NewRecorder()
	w.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("offline status = %d", rec.Code)
	}
}

func TestParsePush(t *testing.T) {
	n := ParsePush([]byte("not json"))
	if n.Title != DefaultNotificationTitle || n.Body != DefaultNotificationBody || n.Data.URL != "/" {
		t.Fatalf("defaults not applied: %+v", n)
	}
	if n.Icon != NotificationIcon || n.Badge != NotificationBadge {
		t.Fatalf("icon/badge: %+v", n)
	}

	n = ParsePush([]byte(`{"title":"New lesson","url":"/courses/renewable-energy","tag":"lesson","requireInteraction":true}`))
	if n.Title != "New lesson" || n.Body != DefaultNotificationBody || n.Data.URL != "/courses/renewable-energy" || !n.RequireInteraction || n.Tag != "lesson" {
		t.Fatalf("payload not applied: %+v", n)
	}
}

func TestPushUsesNotifier(t *testing.T) {
	notifier := NewMemoryNotifier(2)
	w, err := New(Options{
		Origin: "http://app.test", Transport: newFakeOrigin(), Storage: cachestore.NewMemory(),
		PrecacheName: "p", RuntimeName: "r", Notifier: notifier,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, title := range []string{"a", "b", "c"} {
		if _, err := w.Push(context.Background(), []byte(`{"title":"`+title+`"}`)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	shown := notifier.Shown()
	if len(shown) != 2 || shown[0].Title != "b" || shown[1].Title != "c" {
		t.Fatalf("shown = %+v", shown)
	}
}

func TestNotificationClick(t *testing.T) {
	ctx := context.Background()
	clients := NewClientRegistry()
	existing := clients.Register("/courses")
	w, err := New(Options{
		Origin: "http://app.test", Transport: newFakeOrigin(), Storage: cachestore.NewMemory(),
		PrecacheName: "p", RuntimeName: "r", Clients: clients,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	win, focused, err := w.NotificationClick(ctx, ParsePush([]byte(`{"url":"http://app.test/courses"}`)))
	if err != nil || !focused || win.ID != existing.ID || !win.Focused {
		t.Fatalf("expected focus of existing window: %+v %v %v", win, focused, err)
	}

	win, focused, err = w.NotificationClick(ctx, ParsePush([]byte(`{"url":"/dashboard"}`)))
	if err != nil || focused || win.URL != "/dashboard" {
		t.Fatalf("expected new window: %+v %v %v", win, focused, err)
	}
	windows, _ := clients.Windows(ctx)
	if len(windows) != 2 {
		t.Fatalf("windows = %d", len(windows))
	}
}

func TestSyncHooks(t *testing.T) {
	w := newTestWorker(t, newFakeOrigin(), cachestore.NewMemory())
	if err := w.Sync(context.Background(), SyncCourseProgress); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := w.Sync(context.Background(), "sync-unknown"); !errors.Is(err, ErrUnknownSyncTag) {
		t.Fatalf("unknown tag: %v", err)
	}
	called := false
	w.RegisterSync("sync-bookmarks", func(context.Context) error { called = true; return nil })
	if err := w.Sync(context.Background(), "sync-bookmarks"); err != nil || !called {
		t.Fatalf("custom hook: %v called=%v", err, called)
	}
}
