package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbwatch/internal/service"
	"orbwatch/internal/storage"
	"orbwatch/internal/timezone"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeHistory struct {
	rows      []storage.Observation
	err       error
	gotWindow time.Duration
}

func (f *fakeHistory) Recent(_ context.Context, window time.Duration) ([]storage.Observation, error) {
	f.gotWindow = window
	return f.rows, f.err
}

type fakeTrigger struct {
	result service.CycleResult
	err    error
	calls  int
}

func (f *fakeTrigger) RunCycle(context.Context) (service.CycleResult, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeTrigger) Last() (service.CycleResult, bool) {
	return f.result, f.calls > 0
}

func newTestServer(t *testing.T, history storage.HistoryReader, trigger Trigger) http.Handler {
	t.Helper()
	srv, err := New(Options{Window: 168 * time.Hour, MaxWindow: 90 * 24 * time.Hour, Currency: "divine"}, history, trigger, zerolog.Nop())
	require.NoError(t, err)
	return srv.Handler()
}

func get(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func row(id, price string, at time.Time) storage.Observation {
	return storage.Observation{CurrencyID: id, PriceValue: price, ObservedAt: at}
}

func TestDataReturnsChartSeries(t *testing.T) {
	base := time.Date(2024, 5, 1, 17, 0, 0, 0, time.UTC)
	history := &fakeHistory{rows: []storage.Observation{
		row("divine", "180.5", base),
		row("chaos", "1", base),
		row("divine", "1,234", base.Add(2*time.Hour)),
	}}

	rec, _ := get(t, newTestServer(t, history, nil), "/api/data")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	var data chartData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &data))
	assert.Equal(t, []string{"2024-05-01 10:00", "2024-05-01 12:00"}, data.Labels)
	assert.Equal(t, []float64{180.5, 1234}, data.Prices)
	assert.Equal(t, 168*time.Hour, history.gotWindow)
}

func TestDataWindowAndCurrencyParams(t *testing.T) {
	at := time.Now().In(timezone.Location)
	history := &fakeHistory{rows: []storage.Observation{row("divine", "180", at), row("chaos", "1", at)}}
	h := newTestServer(t, history, nil)

	rec, _ := get(t, h, "/api/data?window=24h&currency=chaos")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 24*time.Hour, history.gotWindow)

	var data chartData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &data))
	assert.Equal(t, []float64{1}, data.Prices)

	rec, _ = get(t, h, "/api/data?window=3d&currency=")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 72*time.Hour, history.gotWindow)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &data))
	assert.Len(t, data.Prices, 2)
}

func TestDataRejectsBadWindow(t *testing.T) {
	h := newTestServer(t, &fakeHistory{}, nil)
	for _, w := range []string{"soon", "-1h", "0s", "365d"} {
		rec, body := get(t, h, "/api/data?window="+w)
		assert.Equal(t, http.StatusBadRequest, rec.Code, w)
		assert.NotEmpty(t, body["error"], w)
	}
}

func TestDataNotFoundWhenEmpty(t *testing.T) {
	h := newTestServer(t, &fakeHistory{rows: []storage.Observation{row("chaos", "1", time.Now())}}, nil)

	rec, body := get(t, h, "/api/data")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No data available", body["error"])
}

func TestDataStorageFailure(t *testing.T) {
	h := newTestServer(t, &fakeHistory{err: storage.ErrConnection}, nil)

	rec, body := get(t, h, "/api/data")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, body["error"], "connection failure")
}

func TestUpdateRunsCycle(t *testing.T) {
	trigger := &fakeTrigger{result: service.CycleResult{ID: "c1", Inserted: 2, State: service.StateClosed}}
	h := newTestServer(t, &fakeHistory{}, trigger)

	rec, body := get(t, h, "/api/update")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(2), body["observations"])
	assert.Equal(t, 1, trigger.calls)

	rec, body = get(t, h, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	last, ok := body["last_cycle"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "c1", last["id"])
}

func TestUpdateFailure(t *testing.T) {
	trigger := &fakeTrigger{err: errors.New("launch browser: fetcher: browser launch failed")}
	h := newTestServer(t, &fakeHistory{}, trigger)

	rec, body := get(t, h, "/api/update")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, body["error"], "browser launch failed")
}

func TestUpdateWithoutTrigger(t *testing.T) {
	rec, _ := get(t, newTestServer(t, &fakeHistory{}, nil), "/api/update")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIndexServesDashboard(t *testing.T) {
	rec, _ := get(t, newTestServer(t, &fakeHistory{}, nil), "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/data")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	srv, err := New(Options{}, &fakeHistory{}, nil, zerolog.Nop())
	require.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + listener.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
