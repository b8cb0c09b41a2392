package health

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"margin_trader/internal/modules/health/service"
)

func get(t *testing.T, srv *httptest.Server, path string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestReadyzFollowsState(t *testing.T) {
	state := service.NewState()
	srv := httptest.NewServer(NewMux(state))
	defer srv.Close()

	code, _ := get(t, srv, "/livez")
	assert.Equal(t, http.StatusOK, code)

	code, _ = get(t, srv, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	state.SetReady(true)
	code, body := get(t, srv, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", string(body))
}

func TestHealthzReportsTicks(t *testing.T) {
	state := service.NewState()
	state.SetReady(true)
	at := time.Unix(1700000000, 0)
	state.RecordTick(at, service.OutcomePlaced)
	state.RecordTick(at.Add(time.Minute), service.OutcomeWaiting)

	srv := httptest.NewServer(NewMux(state))
	defer srv.Close()

	code, body := get(t, srv, "/healthz")
	require.Equal(t, http.StatusOK, code)

	var resp struct {
		Ready        bool   `json:"ready"`
		LastOutcome  string `json:"lastOutcome"`
		OrdersPlaced int64  `json:"ordersPlaced"`
		LastTickUnix int64  `json:"lastTickUnix"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.True(t, resp.Ready)
	assert.Equal(t, "waiting", resp.LastOutcome)
	assert.Equal(t, int64(1), resp.OrdersPlaced)
	assert.Equal(t, at.Add(time.Minute).Unix(), resp.LastTickUnix)
}

func TestHealthzBeforeFirstTick(t *testing.T) {
	srv := httptest.NewServer(NewMux(service.NewState()))
	defer srv.Close()

	_, body := get(t, srv, "/healthz")

	var resp map[string]any
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, float64(0), resp["lastTickUnix"])
	assert.Equal(t, "", resp["lastOutcome"])
}
