package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismfinance/synth-engine/internal/model"
	"github.com/prismfinance/synth-engine/internal/store"
)

func (h *WSHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func TestWSHub_PushesPoolUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewWSHub()
	go hub.Run(ctx)

	svc := NewService(store.NewMemoryStore(), Config{Hub: "sUSD"}, hub)
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Mount)
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.clientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	pool := model.Pool{
		TokenA: "sGBP", TokenB: "sUSD",
		RealReserveA: uint256.NewInt(1_000), RealReserveB: uint256.NewInt(2_000),
		VirtualReserveA: uint256.NewInt(1_000), VirtualReserveB: uint256.NewInt(2_000),
		FeeBps: 30, TotalLPSupply: uint256.NewInt(1_000),
	}
	body, err := json.Marshal([]model.Pool{pool})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/pools", bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventPoolUpdated, ev.Type)
	assert.Equal(t, "sGBP-sUSD", ev.Pair)
	assert.Equal(t, "2", ev.SpotPrice)
	require.NotNil(t, ev.Pool)
	assert.Equal(t, uint64(2_000), ev.Pool.RealReserveB.Uint64())

	cancel()
	require.Eventually(t, func() bool { return hub.clientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "the hub closes clients on shutdown")
}

func TestWSHub_BroadcastNeverBlocks(t *testing.T) {
	hub := NewWSHub()
	// No Run loop: the buffer fills and further events are dropped.
	for i := 0; i < cap(hub.broadcast)+10; i++ {
		hub.Broadcast(Event{Type: EventIntentBuilt})
	}
	assert.Len(t, hub.broadcast, cap(hub.broadcast))
}

// queued drains the events buffered on a hub whose loop is not running.
func queued(t *testing.T, h *WSHub) []Event {
	t.Helper()
	var out []Event
	for {
		select {
		case raw := <-h.broadcast:
			var ev Event
			require.NoError(t, json.Unmarshal(raw, &ev))
			out = append(out, ev)
		default:
			return out
		}
	}
}

func serveOnce(t *testing.T, r http.Handler, method, path string, body any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, &buf))
	return w.Code
}

func TestWSHub_AnnouncesIngestAndBuiltIntentsOnly(t *testing.T) {
	hub := NewWSHub()
	pool := model.Pool{
		TokenA: "sGBP", TokenB: "sUSD",
		RealReserveA: uint256.NewInt(1_000), RealReserveB: uint256.NewInt(2_000),
		VirtualReserveA: uint256.NewInt(1_000), VirtualReserveB: uint256.NewInt(2_000),
		FeeBps: 30, TotalLPSupply: uint256.NewInt(1_000),
	}
	svc := NewService(store.NewMemoryStore(pool), Config{Hub: "sUSD"}, hub)
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Mount)

	require.Equal(t, http.StatusOK, serveOnce(t, r, "GET", "/api/v1/pools/sGBP-sUSD/liquidity/add?amount_a=100", nil))
	require.Equal(t, http.StatusOK, serveOnce(t, r, "GET", "/api/v1/pools/sGBP-sUSD/liquidity/remove?lp=100", nil))
	assert.Empty(t, queued(t, hub), "previews are not announced")

	require.Equal(t, http.StatusOK, serveOnce(t, r, "POST", "/api/v1/pools/sGBP-sUSD/liquidity/add?amount_a=100&owner=0xlp", nil))
	events := queued(t, hub)
	require.Len(t, events, 1)
	assert.Equal(t, EventIntentBuilt, events[0].Type)
	assert.Equal(t, "0xlp", events[0].Owner)

	require.Equal(t, http.StatusOK, serveOnce(t, r, "PUT", "/api/v1/vaults/0xdave", model.VaultPosition{
		CollateralAmount: uint256.NewInt(3000),
	}))
	events = queued(t, hub)
	require.Len(t, events, 1)
	assert.Equal(t, EventVaultUpdated, events[0].Type)
	require.NotNil(t, events[0].Vault)
	assert.Equal(t, uint64(3000), events[0].Vault.CollateralAmount.Uint64())

	require.Equal(t, http.StatusOK, serveOnce(t, r, "PUT", "/api/v1/perps/0xfay", model.PerpAccount{
		Balance: model.PerpAccountBalance{AvailableBase: decimal.NewFromInt(50), TotalBase: decimal.NewFromInt(50)},
	}))
	events = queued(t, hub)
	require.Len(t, events, 1)
	assert.Equal(t, EventPerpAccountUpdated, events[0].Type)
	require.NotNil(t, events[0].PerpAccount)
	assert.Equal(t, "0xfay", events[0].PerpAccount.Owner)
}
