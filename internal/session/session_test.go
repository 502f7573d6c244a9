package session

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/weftlabs/weft/internal/channel"
	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/crdt"
	"github.com/weftlabs/weft/internal/document"
	"github.com/weftlabs/weft/internal/logging"
	"github.com/weftlabs/weft/internal/relay"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := Open(context.Background(), Options{
		Scope:     "test-scope",
		CachePath: filepath.Join(t.TempDir(), "weft.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// worker mimics the external process that owns the document identity: it
// writes on its own replica and ships diffs to the session.
type worker struct {
	doc  *crdt.Doc
	sent crdt.StateVector
}

func newWorker() *worker {
	return &worker{doc: crdt.NewDocWithReplica("worker"), sent: crdt.StateVector{}}
}

func (w *worker) setID(t *testing.T, s *Session, id string) {
	t.Helper()
	require.NoError(t, w.doc.Transact(func(tx *crdt.Tx) error {
		w.doc.Map(document.RootName).Set(tx, document.KeyID, id)
		return nil
	}))
	for _, u := range w.doc.Diff(w.sent) {
		require.NoError(t, s.Doc().ApplyUpdate(u))
	}
	w.sent = w.doc.StateVector()
}

func TestOpenValidatesOptions(t *testing.T) {
	_, err := Open(context.Background(), Options{CachePath: "x.db"})
	assert.ErrorIs(t, err, ErrScopeRequired)
}

func TestOpenDefaultsCachePathPerScope(t *testing.T) {
	os.Setenv("WEFT_DATA_DIR", t.TempDir())
	defer os.Unsetenv("WEFT_DATA_DIR")

	s, err := Open(context.Background(), Options{Scope: "scoped"})
	require.NoError(t, err)
	defer s.Close()

	assert.Contains(t, s.opts.CachePath, "scoped")
	assert.True(t, s.Synced())
}

func TestOpenReplaysCacheAcrossSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weft.db")

	s, err := Open(context.Background(), Options{Scope: "sc", CachePath: path})
	require.NoError(t, err)
	doc := s.Doc()
	require.NoError(t, doc.Transact(func(tx *crdt.Tx) error {
		doc.Map(document.RootName).Set(tx, "marker", int64(7))
		return nil
	}))
	require.NoError(t, s.Close())

	s2, err := Open(context.Background(), Options{Scope: "sc", CachePath: path})
	require.NoError(t, err)
	defer s2.Close()

	assert.True(t, s2.Synced())
	s2.Doc().View(func(tx *crdt.Tx) {
		v, ok := s2.Doc().Map(document.RootName).Get(tx, "marker")
		require.True(t, ok)
		assert.Equal(t, int64(7), v)
	})
}

func TestFirstIdentityIsRememberedNotReset(t *testing.T) {
	s := openTestSession(t)
	w := newWorker()

	var mu sync.Mutex
	var resets int
	s.OnStateChange(func(st State) {
		if st == StateResetting {
			mu.Lock()
			resets++
			mu.Unlock()
		}
	})

	w.setID(t, s, "doc-1")

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, resets)
	assert.Equal(t, StateReady, s.State())
}

func TestIdentityReplacementRunsResetProtocol(t *testing.T) {
	s := openTestSession(t)
	w := newWorker()

	w.setID(t, s, "doc-1")
	oldDoc := s.Doc()

	w.setID(t, s, "doc-2")

	require.Eventually(t, func() bool {
		return s.State() == StateReady && s.Doc() != oldDoc
	}, 5*time.Second, 10*time.Millisecond)

	// The rebuilt replica starts empty: the purge wiped the cached log and
	// the old replica was destroyed, not merged.
	fresh := s.Doc()
	fresh.View(func(tx *crdt.Tx) {
		_, ok := fresh.Map(document.RootName).Get(tx, document.KeyID)
		assert.False(t, ok)
	})
	assert.True(t, s.Synced())
}

func TestSecondIdentityChangeMidResetIsIgnored(t *testing.T) {
	s := openTestSession(t)

	var mu sync.Mutex
	var resets int
	s.OnStateChange(func(st State) {
		if st == StateResetting {
			mu.Lock()
			resets++
			mu.Unlock()
		}
	})

	s.identityChanged("doc-1")
	s.identityChanged("doc-2")
	s.identityChanged("doc-3")

	require.Eventually(t, func() bool {
		return s.State() == StateReady
	}, 5*time.Second, 10*time.Millisecond)
	s.wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, resets)
}

func TestPurgeFailureIsFatal(t *testing.T) {
	s := openTestSession(t)

	// Simulate the disk going away under the cache.
	require.NoError(t, s.store.Close())

	s.identityChanged("doc-1")
	s.identityChanged("doc-2")

	require.Eventually(t, func() bool {
		return s.State() == StateFailed
	}, 5*time.Second, 10*time.Millisecond)
	assert.Error(t, s.Err())
}

func TestReplacementInFirstHandshakeRunsResetProtocol(t *testing.T) {
	gin.SetMode(gin.TestMode)
	path := filepath.Join(t.TempDir(), "weft.db")

	// Seed the cache with the first identity.
	seed, err := Open(context.Background(), Options{Scope: "room", CachePath: path})
	require.NoError(t, err)
	newWorker().setID(t, seed, "doc-1")
	require.NoError(t, seed.Close())

	hub := relay.NewHub(logging.Nop(), nil)
	router := gin.New()
	router.GET("/documents/:scope", hub.HandleConnection)
	srv := httptest.NewUnstartedServer(router)
	t.Cleanup(srv.Close)
	url := "ws://" + srv.Listener.Addr().String()

	// The relay is not serving yet, so no remote frame can land before the
	// state callback below is registered.
	s, err := Open(context.Background(), Options{
		Scope:      "room",
		CachePath:  path,
		RelayURL:   url,
		MinBackoff: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	var mu sync.Mutex
	var resets int
	s.OnStateChange(func(st State) {
		if st == StateResetting {
			mu.Lock()
			resets++
			mu.Unlock()
		}
	})

	srv.Start()

	// A replacement written with a later clock than the cached identity, so
	// it wins the merge no matter when the handshake delivers it.
	replacer := crdt.NewDocWithReplica("replacer")
	require.NoError(t, replacer.Transact(func(tx *crdt.Tx) error {
		replacer.Map(document.RootName).Set(tx, "warmup", int64(1))
		replacer.Map(document.RootName).Set(tx, "warmup", int64(2))
		replacer.Map(document.RootName).Set(tx, document.KeyID, "doc-2")
		return nil
	}))
	p, err := channel.New(replacer, channel.Options{
		URL:        url,
		Scope:      "room",
		MinBackoff: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, p.Connect())
	t.Cleanup(func() { p.Close() })

	require.Eventually(t, func() bool {
		if s.State() != StateReady {
			return false
		}
		doc := s.Doc()
		var id string
		doc.View(func(tx *crdt.Tx) {
			v, _ := doc.Map(document.RootName).Get(tx, document.KeyID)
			id, _ = v.(string)
		})
		return id == "doc-2"
	}, 5*time.Second, 10*time.Millisecond)
	s.wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, resets, "one replacement, one reset")
}

func TestFromConfigMapsChannelAndCacheSections(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Path = "/tmp/weft-room.db"
	cfg.Channel.URL = "ws://relay.internal:9800"
	cfg.Channel.MinBackoffMillis = 100
	cfg.Channel.MaxBackoffMillis = 5000

	opts := FromConfig("room", cfg)
	assert.Equal(t, "room", opts.Scope)
	assert.Equal(t, "/tmp/weft-room.db", opts.CachePath)
	assert.Equal(t, "ws://relay.internal:9800", opts.RelayURL)
	assert.Equal(t, 100*time.Millisecond, opts.MinBackoff)
	assert.Equal(t, 5*time.Second, opts.MaxBackoff)

	// The default config leaves the cache path empty: Open then picks the
	// per-user, per-scope location.
	assert.Empty(t, FromConfig("room", config.Default()).CachePath)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := openTestSession(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
}
