package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/verdant-edge/internal/apiclient"
	"github.com/yungbote/verdant-edge/internal/cachestore"
	"github.com/yungbote/verdant-edge/internal/config"
	"github.com/yungbote/verdant-edge/internal/http/handlers"
	"github.com/yungbote/verdant-edge/internal/http/middleware"
	"github.com/yungbote/verdant-edge/internal/kvstore"
	"github.com/yungbote/verdant-edge/internal/mockapi"
	"github.com/yungbote/verdant-edge/internal/offlinecache"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
	"github.com/yungbote/verdant-edge/internal/services"
)

const testSecret = "router-test-secret"

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

type testEdge struct {
	router   *gin.Engine
	auth     *middleware.AuthMiddleware
	notifier *offlinecache.MemoryNotifier

	mu      sync.Mutex
	fetched []string
}

func (e *testEdge) originFetches() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.fetched...)
}

func newTestEdge(t *testing.T) *testEdge {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.Nop()
	cfg := config.Default()
	cfg.Media.ProgressInterval = config.Duration{}

	store := kvstore.NewMemory()
	backend := mockapi.NewBackend(testSecret, time.Hour)
	api, err := apiclient.NewFromConfig(cfg.API, store, mockapi.NewTransport(backend.Router(), "/api", 0, log), log)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}

	e := &testEdge{}
	origin := roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		e.mu.Lock()
		e.fetched = append(e.fetched, req.URL.Host+req.URL.Path)
		e.mu.Unlock()
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": {"text/html"}},
			Body:       io.NopCloser(strings.NewReader("page:" + req.URL.Path)),
			Request:    req,
		}, nil
	})
	registry := offlinecache.NewClientRegistry()
	notifier := offlinecache.NewMemoryNotifier(0)
	worker, err := offlinecache.New(offlinecache.Options{
		Origin:       "http://app.test",
		Transport:    origin,
		Storage:      cachestore.NewMemory(),
		PrecacheName: "verdant-precache-v1",
		RuntimeName:  "verdant-runtime-v1",
		ShellURLs:    config.DefaultShellURLs,
		Clients:      registry,
		Notifier:     notifier,
		Logger:       log,
	})
	if err != nil {
		t.Fatalf("offlinecache.New: %v", err)
	}
	if err := worker.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	bookmarks := services.NewBookmarkService(store, log)
	auth := middleware.NewAuthMiddleware(log, testSecret)
	r := NewRouter(RouterConfig{
		Logger:          log,
		AuthMiddleware:  auth,
		HealthHandler:   handlers.NewHealthHandler(nil),
		BookmarkHandler: handlers.NewBookmarkHandler(log, bookmarks),
		LessonHandler:   handlers.NewLessonHandler(log, services.NewLessonService(api, bookmarks, cfg.API.Retries, cfg.API.RetryDelay.Duration, log)),
		MediaHandler:    handlers.NewMediaHandler(log, services.NewMediaService(store, cfg.Media, "http://edge.test", log), cfg.Media.MaxBytes),
		EmailHandler:    handlers.NewEmailHandler(log, services.NewEmailService(store, nil, cfg.Email.SupportEmail, 0, log)),
		WorkerHandler:   handlers.NewWorkerHandler(log, worker, registry),
		Worker:          worker,
	})
	e.router, e.auth, e.notifier = r, auth, notifier
	return e
}

func (e *testEdge) do(t *testing.T, method, target, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEdge) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.auth.IssueToken(userID, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return tok
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode: %v (body=%s)", err, rec.Body.String())
	}
}

func TestHealthAndReadiness(t *testing.T) {
	e := newTestEdge(t)
	if rec := e.do(t, http.MethodGet, "/healthz", "", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/readyz", "", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("readyz status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestBookmarksRequireAuthAndRoundTrip(t *testing.T) {
	e := newTestEdge(t)

	rec := e.do(t, http.MethodGet, "/_edge/api/bookmarks", "", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	tok := e.token(t, "user-1")
	rec = e.do(t, http.MethodPost, "/_edge/api/bookmarks", tok,
		strings.NewReader(`{"lessonId":"cf-2","courseId":"climate-foundations","time":42.5,"note":"albedo"}`), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("add status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, "/_edge/api/bookmarks?lessonId=cf-2", tok, nil, "")
	var list struct {
		Bookmarks []services.Bookmark `json:"bookmarks"`
	}
	decodeBody(t, rec, &list)
	if len(list.Bookmarks) != 1 || list.Bookmarks[0].Note != "albedo" || list.Bookmarks[0].UserID != "user-1" {
		t.Fatalf("unexpected bookmarks: %+v", list.Bookmarks)
	}

	rec = e.do(t, http.MethodDelete, "/_edge/api/bookmarks?lessonId=cf-2&time=43", tok, nil, "")
	var removed struct {
		Removed int `json:"removed"`
	}
	decodeBody(t, rec, &removed)
	if removed.Removed != 1 {
		t.Fatalf("removed=%d", removed.Removed)
	}

	rec = e.do(t, http.MethodDelete, "/_edge/api/bookmarks?lessonId=cf-2", tok, nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing time: status=%d", rec.Code)
	}
}

func TestLessonCombinesPlatformAndBookmarks(t *testing.T) {
	e := newTestEdge(t)
	tok := e.token(t, "user-2")

	e.do(t, http.MethodPost, "/_edge/api/bookmarks", tok,
		strings.NewReader(`{"lessonId":"cf-1","time":10}`), "application/json")

	rec := e.do(t, http.MethodGet, "/_edge/api/lessons/cf-1", tok, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var view struct {
		Lesson struct {
			Title string `json:"title"`
		} `json:"lesson"`
		Bookmarks []services.Bookmark `json:"bookmarks"`
	}
	decodeBody(t, rec, &view)
	if view.Lesson.Title != "The Carbon Cycle" || len(view.Bookmarks) != 1 {
		t.Fatalf("unexpected view: %+v", view)
	}

	rec = e.do(t, http.MethodGet, "/_edge/api/lessons/nope", tok, nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing lesson: status=%d body=%s", rec.Code, rec.Body.String())
	}
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeBody(t, rec, &env)
	if env.Error.Code != "NOT_FOUND" {
		t.Fatalf("error code: %q", env.Error.Code)
	}
}

func multipartUpload(t *testing.T, name, contentType string, data []byte, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{"name": "file", "filename": name}))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	_, _ = part.Write(data)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestMediaUploadServeAndDelete(t *testing.T) {
	e := newTestEdge(t)
	tok := e.token(t, "user-3")

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{G: 200, A: 255})
		}
	}
	var pngBytes bytes.Buffer
	if err := png.Encode(&pngBytes, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}

	body, ct := multipartUpload(t, "leaf.png", "image/png", pngBytes.Bytes(), nil)
	rec := e.do(t, http.MethodPost, "/_edge/api/media", tok, body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status=%d body=%s", rec.Code, rec.Body.String())
	}
	var up struct {
		Upload services.UploadResult `json:"upload"`
	}
	decodeBody(t, rec, &up)
	if !strings.HasPrefix(up.Upload.URL, "http://edge.test/_edge/media/") {
		t.Fatalf("upload url: %q", up.Upload.URL)
	}

	rec = e.do(t, http.MethodGet, "/_edge/media/"+up.Upload.ID, "", nil, "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("serve: status=%d type=%q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !bytes.Equal(rec.Body.Bytes(), pngBytes.Bytes()) {
		t.Fatalf("served bytes differ")
	}

	body, ct = multipartUpload(t, "notes.txt", "text/plain", []byte("hello"), nil)
	if rec := e.do(t, http.MethodPost, "/_edge/api/media", tok, body, ct); rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("text upload: status=%d body=%s", rec.Code, rec.Body.String())
	}

	if rec := e.do(t, http.MethodDelete, "/_edge/api/media/"+up.Upload.ID, tok, nil, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status=%d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/_edge/media/"+up.Upload.ID, "", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("serve after delete: status=%d", rec.Code)
	}
}

func TestContactAndEarlyAccess(t *testing.T) {
	e := newTestEdge(t)

	rec := e.do(t, http.MethodPost, "/_edge/contact", "",
		strings.NewReader(`{"name":"Ada","email":"ada@example.org","subject":"Hi","message":"Loved the course"}`), "application/json")
	var res services.SendResult
	decodeBody(t, rec, &res)
	if rec.Code != http.StatusOK || !res.Success || !strings.HasPrefix(res.MessageID, "msg_") {
		t.Fatalf("contact: status=%d res=%+v", rec.Code, res)
	}

	rec = e.do(t, http.MethodPost, "/_edge/early-access", "", strings.NewReader(`{"email":"nope"}`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid early access: status=%d", rec.Code)
	}
}

func TestWorkerEndpoints(t *testing.T) {
	e := newTestEdge(t)

	rec := e.do(t, http.MethodGet, "/_edge/worker", "", nil, "")
	var st offlinecache.Status
	decodeBody(t, rec, &st)
	if st.State != offlinecache.StateActivated || st.Precache != "verdant-precache-v1" {
		t.Fatalf("status: %+v", st)
	}

	rec = e.do(t, http.MethodPost, "/_edge/push", "", strings.NewReader(`{"title":"New lesson","url":"/courses/renewable-energy"}`), "application/json")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("push: status=%d", rec.Code)
	}
	shown := e.notifier.Shown()
	if len(shown) != 1 || shown[0].Title != "New lesson" || shown[0].Data.URL != "/courses/renewable-energy" {
		t.Fatalf("shown: %+v", shown)
	}

	rec = e.do(t, http.MethodPost, "/_edge/clients", "", strings.NewReader(`{"url":"/courses/renewable-energy"}`), "application/json")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status=%d", rec.Code)
	}
	rec = e.do(t, http.MethodPost, "/_edge/notifications/click", "", strings.NewReader(`{"data":{"url":"/courses/renewable-energy"}}`), "application/json")
	var click struct {
		Focused bool `json:"focused"`
	}
	decodeBody(t, rec, &click)
	if !click.Focused {
		t.Fatalf("expected existing window to be focused")
	}

	if rec := e.do(t, http.MethodPost, "/_edge/sync/"+offlinecache.SyncCourseProgress, "", nil, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("sync: status=%d", rec.Code)
	}
	if rec := e.do(t, http.MethodPost, "/_edge/sync/unknown", "", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown sync tag: status=%d", rec.Code)
	}
}

func TestUnmatchedRoutesGoThroughWorker(t *testing.T) {
	e := newTestEdge(t)
	rec := e.do(t, http.MethodGet, "/courses/climate-foundations", "", nil, "")
	if rec.Code != http.StatusOK || rec.Body.String() != "page:/courses/climate-foundations" {
		t.Fatalf("proxy: status=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestProxyRefusesForeignHosts(t *testing.T) {
	e := newTestEdge(t)
	rec := e.do(t, http.MethodGet, "http://127.0.0.1:6379/secret", "", nil, "")
	if rec.Code != http.StatusMisdirectedRequest {
		t.Fatalf("foreign host: status=%d body=%q", rec.Code, rec.Body.String())
	}
	for _, f := range e.originFetches() {
		if strings.HasSuffix(f, "/secret") {
			t.Fatalf("foreign request was forwarded: %v", e.originFetches())
		}
	}
}

func TestMediaServeEscapesFileName(t *testing.T) {
	e := newTestEdge(t)
	tok := e.token(t, "user-4")

	var gifBytes bytes.Buffer
	if err := gif.Encode(&gifBytes, image.NewPaletted(image.Rect(0, 0, 2, 2), color.Palette{color.Black, color.White}), nil); err != nil {
		t.Fatalf("gif.Encode: %v", err)
	}
	name := `say "hi".gif`
	body, ct := multipartUpload(t, name, "image/gif", gifBytes.Bytes(), nil)
	rec := e.do(t, http.MethodPost, "/_edge/api/media", tok, body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status=%d body=%s", rec.Code, rec.Body.String())
	}
	var up struct {
		Upload services.UploadResult `json:"upload"`
	}
	decodeBody(t, rec, &up)

	rec = e.do(t, http.MethodGet, "/_edge/media/"+up.Upload.ID, "", nil, "")
	disposition, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	if err != nil {
		t.Fatalf("Content-Disposition %q: %v", rec.Header().Get("Content-Disposition"), err)
	}
	if disposition != "inline" || params["filename"] != name || len(params) != 1 {
		t.Fatalf("disposition=%q params=%v", disposition, params)
	}
}
