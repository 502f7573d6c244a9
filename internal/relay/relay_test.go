package relay

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/internal/channel"
	"github.com/weftlabs/weft/internal/crdt"
	"github.com/weftlabs/weft/internal/infrastructure/monitoring"
	"github.com/weftlabs/weft/internal/logging"
)

func startTestRelay(t *testing.T) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	metrics := monitoring.NewMetricsWith(prometheus.NewRegistry())
	hub := NewHub(logging.Nop(), metrics)

	router := gin.New()
	router.GET("/documents/:scope", hub.HandleConnection)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func connect(t *testing.T, doc *crdt.Doc, url, scope string) *channel.Provider {
	t.Helper()
	p, err := channel.New(doc, channel.Options{
		URL:        url,
		Scope:      scope,
		MinBackoff: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, p.Connect())
	t.Cleanup(func() { p.Close() })
	return p
}

func mapValue(doc *crdt.Doc, key string) (any, bool) {
	var v any
	var ok bool
	doc.View(func(tx *crdt.Tx) {
		v, ok = doc.Map("root").Get(tx, key)
	})
	return v, ok
}

func TestTwoClientsConverge(t *testing.T) {
	_, url := startTestRelay(t)

	a := crdt.NewDocWithReplica("client-a")
	b := crdt.NewDocWithReplica("client-b")

	pa := connect(t, a, url, "room")
	pb := connect(t, b, url, "room")

	require.Eventually(t, func() bool {
		return pa.Synced() && pb.Synced()
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Transact(func(tx *crdt.Tx) error {
		a.Map("root").Set(tx, "greeting", "hello")
		return nil
	}))

	assert.Eventually(t, func() bool {
		v, ok := mapValue(b, "greeting")
		return ok && v == "hello"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLateJoinerCatchesUpFromArchive(t *testing.T) {
	_, url := startTestRelay(t)

	a := crdt.NewDocWithReplica("client-a")
	pa := connect(t, a, url, "room")
	require.Eventually(t, pa.Synced, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Transact(func(tx *crdt.Tx) error {
		a.Map("root").Set(tx, "seq", int64(1))
		return nil
	}))

	// Give the relay a moment to archive, then drop the writer entirely.
	require.Eventually(t, func() bool {
		return pa.Synced()
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	pa.Close()

	b := crdt.NewDocWithReplica("client-b")
	pb := connect(t, b, url, "room")
	require.Eventually(t, pb.Synced, 5*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		v, ok := mapValue(b, "seq")
		return ok && v == int64(1)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestScopesAreIsolated(t *testing.T) {
	_, url := startTestRelay(t)

	a := crdt.NewDocWithReplica("client-a")
	b := crdt.NewDocWithReplica("client-b")

	pa := connect(t, a, url, "room-a")
	pb := connect(t, b, url, "room-b")

	require.Eventually(t, func() bool {
		return pa.Synced() && pb.Synced()
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Transact(func(tx *crdt.Tx) error {
		a.Map("root").Set(tx, "only_a", true)
		return nil
	}))

	time.Sleep(100 * time.Millisecond)
	_, ok := mapValue(b, "only_a")
	assert.False(t, ok)
}

func TestAwarenessBroadcastAndClearOnDisconnect(t *testing.T) {
	_, url := startTestRelay(t)

	a := crdt.NewDocWithReplica("client-a")
	b := crdt.NewDocWithReplica("client-b")

	var mu sync.Mutex
	states := make(map[string]map[string]any)

	pb, err := channel.New(b, channel.Options{URL: url, Scope: "room"})
	require.NoError(t, err)
	pb.OnAwareness(func(client string, state map[string]any) {
		mu.Lock()
		states[client] = state
		mu.Unlock()
	})
	require.NoError(t, pb.Connect())
	t.Cleanup(func() { pb.Close() })

	pa := connect(t, a, url, "room")
	require.Eventually(t, func() bool {
		return pa.Synced() && pb.Synced()
	}, 5*time.Second, 10*time.Millisecond)

	pa.SetAwareness(map[string]any{"user": map[string]any{"color": "#ff8800"}})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		s := states["client-a"]
		if s == nil {
			return false
		}
		user, _ := s["user"].(map[string]any)
		return user != nil && user["color"] == "#ff8800"
	}, 5*time.Second, 10*time.Millisecond)

	pa.Close()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		_, seen := states["client-a"]
		return seen && states["client-a"] == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestReconnectResyncsOfflineEdits(t *testing.T) {
	hub, url := startTestRelay(t)

	a := crdt.NewDocWithReplica("client-a")
	pa := connect(t, a, url, "room")
	require.Eventually(t, pa.Synced, 5*time.Second, 10*time.Millisecond)

	pa.Close()

	// Offline edit while no provider is attached.
	require.NoError(t, a.Transact(func(tx *crdt.Tx) error {
		a.Map("root").Set(tx, "offline", "edit")
		return nil
	}))

	pa2 := connect(t, a, url, "room")
	require.Eventually(t, pa2.Synced, 5*time.Second, 10*time.Millisecond)

	// The handshake pushes the offline edit into the archive.
	assert.Eventually(t, func() bool {
		sc := hub.scope("room")
		v, ok := func() (any, bool) {
			var v any
			var ok bool
			sc.doc.View(func(tx *crdt.Tx) {
				v, ok = sc.doc.Map("root").Get(tx, "offline")
			})
			return v, ok
		}()
		return ok && v == "edit"
	}, 5*time.Second, 10*time.Millisecond)
}
