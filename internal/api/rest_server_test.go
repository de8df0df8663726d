package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/slp-replay/internal/app"
	"github.com/annel0/slp-replay/internal/auth"
	"github.com/annel0/slp-replay/internal/cache"
	"github.com/annel0/slp-replay/internal/eventbus"
	"github.com/annel0/slp-replay/internal/metrics"
	"github.com/annel0/slp-replay/internal/replay"
	"github.com/annel0/slp-replay/internal/slp/slptest"
	"github.com/annel0/slp-replay/internal/storage"
)

type testServer struct {
	rs   *RestServer
	auth *auth.Authenticator
	bus  eventbus.EventBus
}

func newTestServer(t *testing.T, authRequired bool) *testServer {
	t.Helper()
	store, err := storage.NewGameStore(storage.StorageConfig{InMemory: true})
	require.NoError(t, err)
	c, err := cache.NewLocalCache(cache.CacheConfig{}, store)
	require.NoError(t, err)
	bus := eventbus.NewMemoryBus(64)
	reg := prometheus.NewRegistry()

	lib, err := app.NewLibrary(app.Deps{
		Store:   store,
		Cache:   c,
		Bus:     bus,
		Metrics: metrics.NewDecodeMetrics(reg),
		Options: replay.DefaultOptions(),
	})
	require.NoError(t, err)

	secret, err := auth.GenerateSecret()
	require.NoError(t, err)
	authn, err := auth.NewAuthenticator(auth.Config{Secret: secret})
	require.NoError(t, err)

	rs, err := NewRestServer(Config{
		Library:      lib,
		Bus:          bus,
		Auth:         authn,
		AuthRequired: authRequired,
		MaxUpload:    1 << 20,
		Registerer:   reg,
		Gatherer:     reg,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		lib.Close()
		bus.Close()
		c.Close()
		store.Close()
	})
	return &testServer{rs: rs, auth: authn, bus: bus}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.rs.Handler().ServeHTTP(w, req)
	return w
}

func sampleReplay() []byte {
	b := slptest.New(3, 9, 0)
	for i := int32(0); i < 120; i++ {
		p2 := slptest.PostSpec{ActionState: 0x0E, Stocks: 4, LastHitBy: 6}
		if i >= 100 {
			p2.Stocks = 3
		}
		if i == 100 {
			p2.ActionState = 0
			p2.LastHitBy = 0
		}
		b.Tick(i, map[int]slptest.PostSpec{1: {ActionState: 0x0E, Stocks: 4, LastHitBy: 6}, 2: p2})
	}
	b.GameEnd(2, -1)
	return b.Bytes()
}

func multipartUpload(t *testing.T, name string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/replays", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func TestRest_UploadGetStatsList(t *testing.T) {
	ts := newTestServer(t, false)

	w := ts.do(multipartUpload(t, "game.slp", sampleReplay()))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
	var up UploadResponse
	decodeBody(t, w, &up)
	assert.False(t, up.Duplicate)
	assert.Equal(t, 120, up.FrameCount)
	assert.Equal(t, "game.slp", up.Record.Name)

	// повторная загрузка сырым телом
	req := httptest.NewRequest(http.MethodPost, "/api/replays?name=again.slp", bytes.NewReader(sampleReplay()))
	req.Header.Set("Content-Type", "application/octet-stream")
	w = ts.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	var dup UploadResponse
	decodeBody(t, w, &dup)
	assert.True(t, dup.Duplicate)
	assert.Equal(t, up.Record.ID, dup.Record.ID)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/replays/"+up.Record.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var rec storage.GameRecord
	decodeBody(t, w, &rec)
	assert.Equal(t, up.Record.Hash, rec.Hash)
	assert.NotEmpty(t, rec.Summary)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/replays/"+up.Record.ID+"/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var st struct {
		TotalFrames int `json:"total_frames"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, 120, st.TotalFrames)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/replays?limit=10", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list ListResponse
	decodeBody(t, w, &list)
	assert.Equal(t, 1, list.Total)
	assert.Len(t, list.Items, 1)
	assert.Empty(t, list.Items[0].Summary, "в списке без сводки")

	// архив в тестовом сервере выключен
	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/replays/"+up.Record.ID+"/raw", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRest_BadRequests(t *testing.T) {
	ts := newTestServer(t, false)

	w := ts.do(multipartUpload(t, "bad.slp", []byte{0x35, 0x04, 0x36, 0x00}))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.False(t, decodeBody(t, w, nil).Success)

	req := httptest.NewRequest(http.MethodPost, "/api/replays", bytes.NewReader(make([]byte, 2<<20)))
	req.Header.Set("Content-Type", "application/octet-stream")
	assert.Equal(t, http.StatusRequestEntityTooLarge, ts.do(req).Code)

	req = httptest.NewRequest(http.MethodPost, "/api/replays", http.NoBody)
	req.Header.Set("Content-Type", "application/octet-stream")
	assert.Equal(t, http.StatusBadRequest, ts.do(req).Code)

	assert.Equal(t, http.StatusNotFound, ts.do(httptest.NewRequest(http.MethodGet, "/api/replays/nope", nil)).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(httptest.NewRequest(http.MethodGet, "/api/replays/nope/stats", nil)).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(httptest.NewRequest(http.MethodGet, "/api/replays?offset=-1", nil)).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(httptest.NewRequest(http.MethodGet, "/api/replays?limit=abc", nil)).Code)
}

func TestRest_AuthScopes(t *testing.T) {
	ts := newTestServer(t, true)

	assert.Equal(t, http.StatusUnauthorized, ts.do(multipartUpload(t, "g.slp", sampleReplay())).Code)

	req := multipartUpload(t, "g.slp", sampleReplay())
	req.Header.Set("Authorization", "Token abc")
	assert.Equal(t, http.StatusUnauthorized, ts.do(req).Code)

	req = multipartUpload(t, "g.slp", sampleReplay())
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, ts.do(req).Code)

	writer, err := ts.auth.Issue("uploader", auth.ScopeWrite)
	require.NoError(t, err)
	req = multipartUpload(t, "g.slp", sampleReplay())
	req.Header.Set("Authorization", "Bearer "+writer)
	w := ts.do(req)
	require.Equal(t, http.StatusCreated, w.Code)
	var up UploadResponse
	decodeBody(t, w, &up)

	// чтение открыто
	assert.Equal(t, http.StatusOK, ts.do(httptest.NewRequest(http.MethodGet, "/api/replays/"+up.Record.ID, nil)).Code)

	del := httptest.NewRequest(http.MethodDelete, "/api/replays/"+up.Record.ID, nil)
	del.Header.Set("Authorization", "Bearer "+writer)
	assert.Equal(t, http.StatusForbidden, ts.do(del).Code)

	admin, err := ts.auth.Issue("admin", auth.ScopeAdmin)
	require.NoError(t, err)
	del = httptest.NewRequest(http.MethodDelete, "/api/replays/"+up.Record.ID, nil)
	del.Header.Set("Authorization", "Bearer "+admin)
	assert.Equal(t, http.StatusOK, ts.do(del).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(httptest.NewRequest(http.MethodGet, "/api/replays/"+up.Record.ID, nil)).Code)
}

func TestRest_HealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, false)
	require.Equal(t, http.StatusCreated, ts.do(multipartUpload(t, "g.slp", sampleReplay())).Code)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var h HealthReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 1, h.Replays)
	assert.Positive(t, h.Goroutines)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "slp_replay_http_request_duration_seconds")
	assert.Contains(t, body, "slp_replay_http_upload_bytes_total")
	assert.Contains(t, body, `result="ok"`)
}

func TestRest_CORSPreflight(t *testing.T) {
	ts := newTestServer(t, false)
	w := ts.do(httptest.NewRequest(http.MethodOptions, "/api/replays", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRest_EventsWebsocket(t *testing.T) {
	ts := newTestServer(t, false)
	srv := httptest.NewServer(ts.rs.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// подписка создаётся после апгрейда: публикуем, пока событие не придёт
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ev, _ := eventbus.NewEnvelope(eventbus.TypeReplayDecoded, "test", eventbus.ReplayDecoded{GameID: "g1"})
				_ = ts.bus.Publish(ctx, ev)
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got eventbus.Envelope
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, eventbus.TypeReplayDecoded, got.EventType)
	var msg eventbus.ReplayDecoded
	require.NoError(t, got.Decode(&msg))
	assert.Equal(t, "g1", msg.GameID)
}
