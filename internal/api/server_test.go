package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/progressive-loader/internal/config"
	"github.com/JakeFAU/progressive-loader/internal/loader"
	"github.com/JakeFAU/progressive-loader/internal/storage/memory"
	"github.com/JakeFAU/progressive-loader/internal/store"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_ReadyzReflectsRepository(t *testing.T) {
	t.Parallel()

	ready, _ := newTestServer(t, &pingRepo{})
	rec := httptest.NewRecorder()
	ready.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	down, _ := newTestServer(t, &pingRepo{err: errors.New("connection refused")})
	rec = httptest.NewRecorder()
	down.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_StartLoadUsesDefaultAsset(t *testing.T) {
	t.Parallel()

	srv, loads := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/loads", nil))

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "https://cdn.example.com/game/wasm/pongo.wasm", body["url"])

	call := loads.next(t)
	require.Equal(t, body["load_id"], call.id.String())
	require.Equal(t, body["url"], call.url)
}

func TestServer_StartLoadWithExplicitURL(t *testing.T) {
	t.Parallel()

	srv, loads := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/loads",
		bytes.NewBufferString(`{"url":"https://mirror.example.org/pongo.wasm"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "https://mirror.example.org/pongo.wasm", loads.next(t).url)
}

func TestServer_StartLoadRejectsBadInput(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	for _, body := range []string{`{invalid`, `{"url":"ftp://example.com/x.wasm"}`, `{"url":"https:///x"}`} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/loads", bytes.NewBufferString(body)))
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestServer_LoadLifecycleThroughRepository(t *testing.T) {
	t.Parallel()

	repo := memory.NewProgressStore()
	srv, loads := newTestServer(t, repo)
	loads.onLoad = func(ctx context.Context, id uuid.UUID, url string) {
		now := time.Unix(1700000000, 0).UTC()
		_ = repo.UpsertLoadStart(ctx, id, url, now)
		_ = repo.CompleteLoad(ctx, id, now.Add(time.Second), store.RunSuccess, nil)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/loads", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := loads.next(t).id
	require.NoError(t, srv.Shutdown(context.Background()))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/loads/"+id.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"success"`)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/loads?status=success", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), id.String())
}

func TestServer_APIKeyRequired(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	loads := newFakeLoader()
	srv := NewServer(loads, nil, v7IDs{}, cfg, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/loads", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/loads", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// Probes stay open.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ShutdownCancelsLoads(t *testing.T) {
	t.Parallel()

	srv, loads := newTestServer(t, nil)
	loads.block = true

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/loads", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	call := loads.next(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.ErrorIs(t, call.ctx.Err(), context.Canceled)
}

func TestServer_ReadyzWithoutRepository(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_StartLoadRejectsWhenQueueFull(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.Workers = 1
	cfg.Server.QueueDepth = 1
	loads := newFakeLoader()
	loads.block = true
	srv := NewServer(loads, nil, v7IDs{}, cfg, zap.NewNop())
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	post := func() int {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/loads", nil))
		return rec.Code
	}
	require.Equal(t, http.StatusAccepted, post())
	loads.next(t)
	require.Equal(t, http.StatusAccepted, post())
	require.Equal(t, http.StatusServiceUnavailable, post())
}

func TestServer_StartLoadAfterShutdown(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	require.NoError(t, srv.Shutdown(context.Background()))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/loads", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func newTestServer(t *testing.T, repo store.ProgressRepository) (*Server, *fakeLoader) {
	t.Helper()
	loads := newFakeLoader()
	srv := NewServer(loads, repo, v7IDs{}, testConfig(), zap.NewNop())
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, loads
}

func testConfig() config.Config {
	return config.Config{
		Loader: config.LoaderConfig{
			BaseURL:      "https://cdn.example.com/game/",
			AssetPath:    "wasm/pongo.wasm",
			TargetOrigin: "memory://",
		},
	}
}

type loadCall struct {
	ctx context.Context
	id  uuid.UUID
	url string
}

type fakeLoader struct {
	calls  chan loadCall
	block  bool
	onLoad func(ctx context.Context, id uuid.UUID, url string)
	mu     sync.Mutex
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{calls: make(chan loadCall, 8)}
}

func (f *fakeLoader) LoadWithID(ctx context.Context, id uuid.UUID, url string) (loader.Result, error) {
	f.mu.Lock()
	hook, block := f.onLoad, f.block
	f.mu.Unlock()
	if hook != nil {
		hook(ctx, id, url)
	}
	f.calls <- loadCall{ctx: ctx, id: id, url: url}
	if block {
		<-ctx.Done()
		return loader.Result{}, ctx.Err()
	}
	return loader.Result{LoadID: id, URL: url}, nil
}

func (f *fakeLoader) next(t *testing.T) loadCall {
	t.Helper()
	select {
	case call := <-f.calls:
		return call
	case <-time.After(5 * time.Second):
		t.Fatal("load was not started")
		return loadCall{}
	}
}

type v7IDs struct{}

func (v7IDs) NewID() (uuid.UUID, error) {
	return uuid.NewV7()
}

type pingRepo struct {
	mockProgressRepo
	err error
}

func (p *pingRepo) Ping(context.Context) error {
	return p.err
}
