package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movesync/client"
	"movesync/config"
	"movesync/protocol"
)

func newTestServer(t *testing.T) (*Manager, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(ctx, config.Default(), nil, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", m.HandleWS)
	mux.HandleFunc("/admin/config", m.HandleAdminConfig)
	mux.HandleFunc("/metrics", m.HandleMetrics)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		cancel()
		_ = m.Wait()
	})
	return m, srv
}

func TestWebSocketRoundTrip(t *testing.T) {
	m, srv := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := client.Dial(ctx, wsURL, "e2e", nil)
	require.NoError(t, err)
	defer conn.Close()

	var (
		mu    sync.Mutex
		self  uint64
		lastZ float32
		snaps int
	)
	go func() {
		_ = conn.ReadLoop(ctx, client.Handlers{
			Welcome: func(w protocol.Welcome) {
				mu.Lock()
				self = w.PlayerID
				mu.Unlock()
			},
			Snapshot: func(s protocol.Snapshot) {
				mu.Lock()
				defer mu.Unlock()
				for _, e := range s.Entries {
					if e.PlayerID == self {
						lastZ = e.Position[2]
						snaps++
					}
				}
			},
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return self != 0
	}, 2*time.Second, 10*time.Millisecond)

	for seq := uint32(1); seq <= 10; seq++ {
		require.NoError(t, conn.SendBatch(protocol.UniformBatch(seq, protocol.Command{Vertical: 1})))
		time.Sleep(50 * time.Millisecond)
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return snaps > 0 && lastZ > 0.5
	}, 3*time.Second, 20*time.Millisecond)

	room, ok := m.Room("e2e")
	require.True(t, ok)
	assert.Equal(t, int64(10), room.Metrics().BatchesAccepted)
	assert.Equal(t, 1, room.PlayerCount())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return room.PlayerCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClientConnEnqueueAfterClose(t *testing.T) {
	m, srv := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	conn, err := client.Dial(context.Background(), wsURL, "", nil)
	require.NoError(t, err)
	defer conn.Close()

	var room *Room
	require.Eventually(t, func() bool {
		r, ok := m.Room(DefaultRoom)
		room = r
		return ok && r.PlayerCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	p := room.snapshotPlayers()[0]
	cc, ok := p.Conn.(*ClientConn)
	require.True(t, ok)

	cc.Close()
	cc.Close()
	assert.False(t, cc.Enqueue([]byte{1}))
	assert.Eventually(t, func() bool { return room.PlayerCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
