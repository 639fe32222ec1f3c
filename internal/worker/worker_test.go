package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/clients"
	"github.com/any-hub/shellcache/internal/config"
	"github.com/any-hub/shellcache/internal/network"
	"github.com/any-hub/shellcache/internal/notify"
	"github.com/any-hub/shellcache/internal/routing"

	_ "github.com/any-hub/shellcache/internal/strategy/cachefirst"
	_ "github.com/any-hub/shellcache/internal/strategy/networkfirst"
	_ "github.com/any-hub/shellcache/internal/strategy/swr"
)

func TestInstallAttemptsEveryShellURL(t *testing.T) {
	site := newFakeSite()
	site.set("/missing.css", http.StatusNotFound, "text/plain", "nope")
	h := newHarness(t, site, func(cfg *config.Config) {
		cfg.Precache.ShellURLs = []string{"./", "./index.html", "./src/styles/style.css", "./missing.css"}
	})

	report, err := h.worker.Install(context.Background())
	if err != nil {
		t.Fatalf("install error: %v", err)
	}
	if report.ShellAttempted != 4 || report.ShellStored != 3 {
		t.Fatalf("unexpected report: %+v", report)
	}
	for _, path := range []string{"/", "/index.html", "/src/styles/style.css", "/missing.css"} {
		if site.hits(path) == 0 {
			t.Fatalf("expected a fetch for %s", path)
		}
	}

	shell, _ := h.storage.Open(context.Background(), h.worker.site.ShellCache)
	for _, path := range []string{"/", "/index.html", "/src/styles/style.css"} {
		if _, err := shell.Match(context.Background(), cache.GetKey(h.url(path))); err != nil {
			t.Fatalf("shell store should contain %s: %v", path, err)
		}
	}
	if _, err := shell.Match(context.Background(), cache.GetKey(h.url("/missing.css"))); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("failed item must be absent, got %v", err)
	}
	if h.worker.State() != StateActivated {
		t.Fatalf("skip waiting should activate immediately, got %s", h.worker.State())
	}
}

func TestInstallStoresExternalResourcesAsOpaque(t *testing.T) {
	fonts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "text/css")
		_, _ = w.Write([]byte("@font-face{}"))
	}))
	defer fonts.Close()

	h := newHarness(t, newFakeSite(), func(cfg *config.Config) {
		cfg.Precache.ExternalResources = []string{fonts.URL + "/css2?family=Inter", fonts.URL + "/broken"}
	})
	report, err := h.worker.Install(context.Background())
	if err != nil {
		t.Fatalf("install error: %v", err)
	}
	if report.ExternalAttempted != 2 || report.ExternalStored != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	general, _ := h.storage.Open(context.Background(), h.worker.site.GeneralCache)
	entry, err := general.Match(context.Background(), cache.GetKey(fonts.URL+"/css2?family=Inter"))
	if err != nil {
		t.Fatalf("external resource should be stored: %v", err)
	}
	if entry.Response.Type != cache.ResponseOpaque {
		t.Fatalf("external resource should be opaque, got %s", entry.Response.Type)
	}
}

func TestActivateDeletesOnlyStaleStores(t *testing.T) {
	h := newHarness(t, newFakeSite(), func(cfg *config.Config) {
		cfg.Site.SkipWaitingOnInstall = false
	})
	if _, err := h.storage.Open(context.Background(), "stale-v1"); err != nil {
		t.Fatalf("open stale store: %v", err)
	}
	if _, err := h.worker.Activate(context.Background()); !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("activate before install should fail, got %v", err)
	}
	if _, err := h.worker.Install(context.Background()); err != nil {
		t.Fatalf("install error: %v", err)
	}
	if h.worker.State() != StateInstalled {
		t.Fatalf("worker should wait without skip waiting, got %s", h.worker.State())
	}

	deleted, err := h.worker.Activate(context.Background())
	if err != nil {
		t.Fatalf("activate error: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "stale-v1" {
		t.Fatalf("expected only stale-v1 deleted, got %v", deleted)
	}
	names, _ := h.storage.Keys(context.Background())
	shell, general := h.worker.CacheNames()
	if len(names) != 2 || !contains(names, shell) || !contains(names, general) {
		t.Fatalf("current stores must be retained, got %v", names)
	}
}

func TestSkipWaitingMessageActivatesInstalledWorker(t *testing.T) {
	h := newHarness(t, newFakeSite(), func(cfg *config.Config) {
		cfg.Site.SkipWaitingOnInstall = false
	})
	page := h.worker.Clients().Connect(h.url("/"))

	if err := h.worker.HandleMessage(context.Background(), clients.Message{Type: clients.TypeSkipWaiting}, nil); err != nil {
		t.Fatalf("skip waiting before install should be a no-op: %v", err)
	}
	if h.worker.State() != StateParsed {
		t.Fatalf("unexpected state %s", h.worker.State())
	}

	if _, err := h.worker.Install(context.Background()); err != nil {
		t.Fatalf("install error: %v", err)
	}
	if err := h.worker.HandleMessage(context.Background(), clients.Message{Type: clients.TypeSkipWaiting}, nil); err != nil {
		t.Fatalf("skip waiting error: %v", err)
	}
	if h.worker.State() != StateActivated {
		t.Fatalf("expected activated, got %s", h.worker.State())
	}
	controlled := h.worker.Clients().MatchAll(false)
	if len(controlled) != 1 || controlled[0].ID != page.ID {
		t.Fatalf("existing page should be claimed, got %v", controlled)
	}
}

func TestRoutePassThrough(t *testing.T) {
	h := newHarness(t, newFakeSite(), nil)

	before := h.worker.Route(h.request(http.MethodGet, "/index.html"))
	if !before.PassThrough || before.Reason != ReasonNoController {
		t.Fatalf("requests before activation must pass through, got %+v", before)
	}

	h.install(t)
	post := h.worker.Route(h.request(http.MethodPost, "/index.html"))
	if !post.PassThrough || post.Reason != ReasonMethod {
		t.Fatalf("POST must pass through, got %+v", post)
	}

	form := h.worker.Route(mustRequest(t, http.MethodGet, "https://formspree.io/f/xyz?name=a"))
	if !form.PassThrough || form.Reason != ReasonIgnored || form.Category != "" {
		t.Fatalf("formspree must bypass classification, got %+v", form)
	}

	shell := h.worker.Route(h.request(http.MethodGet, "/index.html"))
	if shell.PassThrough || shell.Category != routing.CategoryShell || shell.Strategy != "cache-first" {
		t.Fatalf("unexpected shell decision %+v", shell)
	}
	dynamic := h.worker.Route(h.request(http.MethodGet, "/data.js?x=1"))
	if dynamic.Category != routing.CategoryDynamic || dynamic.Strategy != "network-first" {
		t.Fatalf("query string must win over extension, got %+v", dynamic)
	}
	static := h.worker.Route(h.request(http.MethodGet, "/public/img/banner.png"))
	if static.Category != routing.CategoryStatic || static.Strategy != "stale-while-revalidate" {
		t.Fatalf("unexpected static decision %+v", static)
	}
}

func TestDispatchServesShellFromCacheWhenOffline(t *testing.T) {
	site := newFakeSite()
	h := newHarness(t, site, nil)
	h.install(t)

	site.setOffline(true)
	_, result, handled := h.worker.Dispatch(context.Background(), h.request(http.MethodGet, "/index.html"))
	if !handled {
		t.Fatalf("shell request should be handled")
	}
	if result.Response.Status != http.StatusOK || string(result.Response.Body) != "<html>/index.html</html>" {
		t.Fatalf("unexpected offline response %+v", result.Response)
	}
}

func TestDispatchStaleWhileRevalidateBroadcasts(t *testing.T) {
	site := newFakeSite()
	site.set("/public/img/banner.png", http.StatusOK, "image/png", "v1")
	h := newHarness(t, site, nil)
	h.install(t)
	page := h.worker.Clients().Connect(h.url("/"))

	req := h.request(http.MethodGet, "/public/img/banner.png")
	if _, first, _ := h.worker.Dispatch(context.Background(), req); string(first.Response.Body) != "v1" {
		t.Fatalf("first call should fetch from network, got %q", first.Response.Body)
	}

	site.set("/public/img/banner.png", http.StatusOK, "image/png", "v2")
	_, second, _ := h.worker.Dispatch(context.Background(), h.request(http.MethodGet, "/public/img/banner.png"))
	if string(second.Response.Body) != "v1" {
		t.Fatalf("second call should be served from cache, got %q", second.Response.Body)
	}
	h.worker.Wait()

	_, third, _ := h.worker.Dispatch(context.Background(), h.request(http.MethodGet, "/public/img/banner.png"))
	if string(third.Response.Body) != "v2" {
		t.Fatalf("background refresh should have overwritten the entry, got %q", third.Response.Body)
	}
	h.worker.Wait()

	select {
	case msg := <-page.Messages():
		if msg.Type != clients.TypeBackgroundSync || msg.URL != h.url("/public/img/banner.png") {
			t.Fatalf("unexpected broadcast %+v", msg)
		}
	default:
		t.Fatalf("expected a BACKGROUND_SYNC broadcast")
	}
}

func TestHandleMessageCacheInfoAndClear(t *testing.T) {
	h := newHarness(t, newFakeSite(), nil)
	h.install(t)

	port := make(clients.ChannelPort, 1)
	if err := h.worker.HandleMessage(context.Background(), clients.Message{Type: clients.TypeGetCacheInfo}, port); err != nil {
		t.Fatalf("cache info error: %v", err)
	}
	reply := <-port
	shell, general := h.worker.CacheNames()
	if reply.Type != clients.TypeCacheInfo || len(reply.Caches) != 2 || !contains(reply.Caches, shell) || !contains(reply.Caches, general) {
		t.Fatalf("unexpected reply %+v", reply)
	}

	if err := h.worker.HandleMessage(context.Background(), clients.Message{Type: clients.TypeClearCache}, nil); err != nil {
		t.Fatalf("clear cache error: %v", err)
	}
	names, _ := h.storage.Keys(context.Background())
	if len(names) != 0 {
		t.Fatalf("both stores should be deleted, got %v", names)
	}

	if err := h.worker.HandleMessage(context.Background(), clients.Message{Type: "UNKNOWN"}, port); err != nil {
		t.Fatalf("unknown messages should be ignored: %v", err)
	}
	if len(port) != 0 {
		t.Fatalf("unknown messages must not reply")
	}
}

func TestSyncUpdateCacheOverwritesEntries(t *testing.T) {
	site := newFakeSite()
	h := newHarness(t, site, nil)
	h.install(t)

	general, _ := h.worker.GeneralStore(context.Background())
	for _, path := range []string{"/a.css", "/gone.css"} {
		resp := &cache.Response{Status: 200, Header: http.Header{}, Body: []byte("old")}
		if err := general.Put(context.Background(), cache.GetKey(h.url(path)), resp); err != nil {
			t.Fatalf("seed %s: %v", path, err)
		}
	}
	site.set("/a.css", http.StatusOK, "text/css", "new")
	site.set("/gone.css", http.StatusNotFound, "text/plain", "")

	report, handled, err := h.worker.Sync(context.Background(), TagUpdateCache)
	if err != nil || !handled {
		t.Fatalf("sync error: %v handled=%v", err, handled)
	}
	if report.Total != 2 || report.Updated != 1 || report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	entry, _ := general.Match(context.Background(), cache.GetKey(h.url("/a.css")))
	if string(entry.Response.Body) != "new" {
		t.Fatalf("entry should be refreshed, got %q", entry.Response.Body)
	}
	entry, _ = general.Match(context.Background(), cache.GetKey(h.url("/gone.css")))
	if string(entry.Response.Body) != "old" {
		t.Fatalf("failed refresh must keep the old entry")
	}

	if _, handled, _ := h.worker.Sync(context.Background(), "other"); handled {
		t.Fatalf("unknown sync tags should be ignored")
	}
}

func TestHealthCheck(t *testing.T) {
	site := newFakeSite()
	h := newHarness(t, site, nil)

	healthy, handled := h.worker.PeriodicSync(context.Background(), TagHealthCheck)
	if !healthy || !handled {
		t.Fatalf("expected healthy site")
	}
	if site.lastCacheControl("/") != "no-store" {
		t.Fatalf("health check must bypass caches")
	}
	site.setOffline(true)
	if healthy, _ := h.worker.PeriodicSync(context.Background(), TagHealthCheck); healthy {
		t.Fatalf("offline site should be unhealthy")
	}
}

func TestPushAndNotificationClick(t *testing.T) {
	h := newHarness(t, newFakeSite(), nil)
	page := h.worker.Clients().Connect(h.url("/"))

	if _, ok := h.worker.Push(context.Background(), nil); ok {
		t.Fatalf("empty push must be ignored")
	}
	n, ok := h.worker.Push(context.Background(), []byte(`{"title":"Hola"}`))
	if !ok {
		t.Fatalf("push should show a notification")
	}
	msg := <-page.Messages()
	if msg.Type != clients.TypeNotification {
		t.Fatalf("uncontrolled pages should still receive notifications, got %+v", msg)
	}
	if n.Data.URL != h.url("/") || n.Body != "New update available" {
		t.Fatalf("unexpected notification defaults %+v", n)
	}

	click, err := h.worker.NotificationClick(n.ID, notify.ActionOpen)
	if err != nil || click.OpenURL != h.url("/") {
		t.Fatalf("unexpected click %+v %v", click, err)
	}
	if _, err := h.worker.NotificationClick(n.ID, notify.ActionOpen); !errors.Is(err, notify.ErrUnknownNotification) {
		t.Fatalf("closed notification should be unknown, got %v", err)
	}
}

func TestBackgroundRecoversPanicsAndCloseDrains(t *testing.T) {
	h := newHarness(t, newFakeSite(), nil)
	done := make(chan struct{})
	h.worker.Background("boom", func(context.Context) { panic("boom") })
	h.worker.Background("slow", func(context.Context) {
		time.Sleep(10 * time.Millisecond)
		close(done)
	})

	if err := h.worker.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}
	select {
	case <-done:
	default:
		t.Fatalf("close should wait for background work")
	}
	if h.worker.State() != StateRedundant {
		t.Fatalf("expected redundant, got %s", h.worker.State())
	}
	if _, err := h.worker.Install(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("closed worker should reject install, got %v", err)
	}
}

func TestCloseCancelsInFlightBackgroundWork(t *testing.T) {
	h := newHarness(t, newFakeSite(), nil)
	started := make(chan struct{})
	var taskErr error
	h.worker.Background("sweep", func(ctx context.Context) {
		close(started)
		select {
		case <-ctx.Done():
			taskErr = ctx.Err()
		case <-time.After(5 * time.Second):
		}
	})
	<-started

	closed := make(chan struct{})
	go func() {
		_ = h.worker.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("close should cancel background work instead of waiting it out")
	}
	if !errors.Is(taskErr, context.Canceled) {
		t.Fatalf("background ctx should be canceled, got %v", taskErr)
	}
}

type harness struct {
	worker  *Worker
	storage cache.Storage
	origin  string
}

func newHarness(t *testing.T, site *fakeSite, mutate func(cfg *config.Config)) *harness {
	t.Helper()
	server := httptest.NewServer(site)
	t.Cleanup(server.Close)

	cfg := &config.Config{
		Global: config.GlobalConfig{
			StoragePath:    t.TempDir(),
			InitialBackoff: config.Duration(time.Millisecond),
		},
		Site: config.SiteConfig{
			Origin:               server.URL,
			CachePrefix:          "site",
			CacheVersion:         "v1",
			SkipWaitingOnInstall: true,
		},
		Precache: config.PrecacheConfig{
			ShellURLs:         []string{"./", "./index.html"},
			ExternalResources: []string{},
		},
	}
	config.ApplyDefaults(cfg)
	if mutate != nil {
		mutate(cfg)
	}

	storage, err := cache.NewFileStorage(cfg.Global.StoragePath)
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	origin, _ := url.Parse(server.URL)
	fetcher := network.NewClient(network.Options{
		HTTPClient: server.Client(),
		Origin:     origin,
		Logger:     logger,
	})

	w, err := New(Options{Config: cfg, Storage: storage, Fetcher: fetcher, Logger: logger})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	t.Cleanup(func() {
		w.Close()
		storage.Close()
	})
	return &harness{worker: w, storage: storage, origin: server.URL}
}

func (h *harness) install(t *testing.T) {
	t.Helper()
	if _, err := h.worker.Install(context.Background()); err != nil {
		t.Fatalf("install error: %v", err)
	}
	if h.worker.State() != StateActivated {
		t.Fatalf("expected activated after install, got %s", h.worker.State())
	}
}

func (h *harness) url(path string) string {
	return h.origin + path
}

func (h *harness) request(method, path string) *http.Request {
	req, _ := http.NewRequest(method, h.url(path), nil)
	return req
}

func mustRequest(t *testing.T, method, raw string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, raw, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return req
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}

type fakeResource struct {
	status      int
	contentType string
	body        string
}

// fakeSite 模拟站点回源：未登记的路径返回 text/html 页面，offline 时直接断开连接。
type fakeSite struct {
	mu           sync.Mutex
	resources    map[string]fakeResource
	counts       map[string]int
	cacheControl map[string]string
	offline      bool
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		resources:    make(map[string]fakeResource),
		counts:       make(map[string]int),
		cacheControl: make(map[string]string),
	}
}

func (s *fakeSite) set(path string, status int, contentType, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[path] = fakeResource{status: status, contentType: contentType, body: body}
}

func (s *fakeSite) setOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

func (s *fakeSite) hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[path]
}

func (s *fakeSite) lastCacheControl(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cacheControl[path]
}

func (s *fakeSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	offline := s.offline
	s.counts[r.URL.Path]++
	s.cacheControl[r.URL.Path] = r.Header.Get("Cache-Control")
	res, ok := s.resources[r.URL.Path]
	s.mu.Unlock()

	if offline {
		hj, ok := w.(http.Hijacker)
		if ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
				return
			}
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if !ok {
		res = fakeResource{status: http.StatusOK, contentType: "text/html; charset=utf-8", body: "<html>" + r.URL.Path + "</html>"}
	}
	if strings.TrimSpace(res.contentType) != "" {
		w.Header().Set("Content-Type", res.contentType)
	}
	w.WriteHeader(res.status)
	_, _ = w.Write([]byte(res.body))
}
