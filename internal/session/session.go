package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/cache"
	"github.com/weftlabs/weft/internal/channel"
	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/crdt"
	"github.com/weftlabs/weft/internal/document"
	"github.com/weftlabs/weft/internal/logging"
	"github.com/weftlabs/weft/internal/shared/paths"
)

// State is the session lifecycle phase.
type State string

const (
	StateOpening   State = "opening"
	StateReady     State = "ready"
	StateResetting State = "resetting"
	StateFailed    State = "failed"
	StateClosed    State = "closed"
)

var (
	ErrScopeRequired = errors.New("session: scope required")
	ErrClosed        = errors.New("session: closed")
)

// purgeTimeout bounds the awaited cache purge during a reset.
const purgeTimeout = 30 * time.Second

// Options configures a session.
type Options struct {
	Scope     string
	CachePath string // empty picks the per-user default for the scope
	RelayURL  string // empty disables the sync channel
	UserColor string // awareness color broadcast to collaborators
	Log       *logging.Logger

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// FromConfig maps the environment-backed Cache and Channel sections onto
// Options for one scope.
func FromConfig(scope string, cfg *config.Config) Options {
	return Options{
		Scope:      scope,
		CachePath:  cfg.Cache.Path,
		RelayURL:   cfg.Channel.URL,
		MinBackoff: time.Duration(cfg.Channel.MinBackoffMillis) * time.Millisecond,
		MaxBackoff: time.Duration(cfg.Channel.MaxBackoffMillis) * time.Millisecond,
	}
}

// Session is one open scope: the live replica plus its cache attachment,
// sync channel, and identity watcher. After a reset the replica is a new
// object; consumers re-fetch it via Doc or Root on every state change.
type Session struct {
	opts Options
	log  *logging.Logger

	store *cache.Store

	mu          sync.Mutex
	state       State
	err         error
	doc         *crdt.Doc
	root        *document.Root
	provider    *channel.Provider
	detachCache crdt.Unobserve
	unwatch     crdt.Unobserve
	knownID     string
	cacheLoaded bool
	closed      bool

	stateMu sync.Mutex
	onState []func(State)

	wg sync.WaitGroup
}

// Open builds the session stack for a scope: replica, cache replay, sync
// channel, identity watcher.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.Scope == "" {
		return nil, ErrScopeRequired
	}
	if opts.CachePath == "" {
		path, err := paths.CacheFile(opts.Scope)
		if err != nil {
			return nil, err
		}
		opts.CachePath = path
	}
	log := opts.Log
	if log == nil {
		log = logging.Nop()
	}

	store, err := cache.Open(opts.CachePath, log)
	if err != nil {
		return nil, err
	}

	s := &Session{
		opts:  opts,
		log:   log,
		store: store,
		state: StateOpening,
	}
	if err := s.attach(ctx); err != nil {
		store.Close()
		return nil, err
	}
	s.setState(StateReady)
	return s, nil
}

// Doc returns the current replica. It changes identity across resets.
func (s *Session) Doc() *crdt.Doc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// Root returns the schema wrapper over the current replica.
func (s *Session) Root() *document.Root {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// State returns the lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the fatal error after StateFailed, otherwise nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Synced reports whether the cache has replayed and the channel, when
// configured, has completed its handshake.
func (s *Session) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady || !s.cacheLoaded {
		return false
	}
	if s.provider == nil {
		return true
	}
	return s.provider.Synced()
}

// OnStateChange registers a lifecycle callback. Callbacks run off the
// caller's goroutine during resets; keep them short.
func (s *Session) OnStateChange(fn func(State)) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.onState = append(s.onState, fn)
}

// Close tears the session down. Any in-flight reset is allowed to finish
// first.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	unwatch := s.unwatch
	s.unwatch = nil
	s.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	s.wg.Wait()

	s.mu.Lock()
	detach := s.detachCache
	s.detachCache = nil
	provider := s.provider
	s.provider = nil
	doc := s.doc
	s.mu.Unlock()

	if detach != nil {
		detach()
	}
	if provider != nil {
		provider.Close()
	}
	if doc != nil {
		doc.Destroy()
	}
	err := s.store.Close()
	s.setState(StateClosed)
	return err
}

// attach builds a fresh replica and wires cache, watcher, and channel, in
// that order. The watcher is armed before the channel connects, so an
// identity replacement merged during the very first handshake is observed
// instead of adopted as the initial identity.
func (s *Session) attach(ctx context.Context) error {
	doc := crdt.NewDoc()
	root := document.New(doc)

	detach, err := s.store.Attach(ctx, s.opts.Scope, doc)
	if err != nil {
		return err
	}

	// The cache may have replayed an identity already; remember it before
	// arming the watcher so replay itself never looks like a replacement.
	// No other writer exists yet, the channel is not connected.
	var current string
	doc.View(func(tx *crdt.Tx) {
		current = root.ID(tx)
	})

	s.mu.Lock()
	s.doc = doc
	s.root = root
	s.provider = nil
	s.detachCache = detach
	s.cacheLoaded = true
	s.knownID = current
	s.unwatch = root.Data().Observe(func(ev crdt.Event) {
		if ev.Map == nil {
			return
		}
		if _, ok := ev.Map.KeysChanged[document.KeyID]; !ok {
			return
		}
		var id string
		doc.View(func(tx *crdt.Tx) {
			id = root.ID(tx)
		})
		s.identityChanged(id)
	})
	s.mu.Unlock()

	if s.opts.RelayURL != "" {
		provider, err := channel.New(doc, channel.Options{
			URL:        s.opts.RelayURL,
			Scope:      s.opts.Scope,
			Log:        s.log,
			MinBackoff: s.opts.MinBackoff,
			MaxBackoff: s.opts.MaxBackoff,
		})
		if err != nil {
			s.detachForError()
			return err
		}
		// Publish the provider before Connect: once frames flow, a
		// replacement can schedule a reset, and the reset must find the
		// provider to close it.
		s.mu.Lock()
		s.provider = provider
		s.mu.Unlock()
		if err := provider.Connect(); err != nil {
			s.detachForError()
			provider.Close()
			return err
		}
		if s.opts.UserColor != "" {
			provider.SetAwareness(map[string]any{
				"user": map[string]any{"color": s.opts.UserColor},
			})
		}
	}

	s.log.Info("session attached",
		zap.String("scope", s.opts.Scope),
		zap.String("replica", doc.Replica()),
	)
	return nil
}

// detachForError rolls back a partially built attach.
func (s *Session) detachForError() {
	s.mu.Lock()
	unwatch := s.unwatch
	s.unwatch = nil
	detach := s.detachCache
	s.detachCache = nil
	s.provider = nil
	s.cacheLoaded = false
	s.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
	if detach != nil {
		detach()
	}
}

// identityChanged implements the replacement check. The first non-empty
// identity is remembered; a later different one schedules a reset.
func (s *Session) identityChanged(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	if s.knownID == "" {
		s.knownID = id
		s.mu.Unlock()
		return
	}
	if s.knownID == id || s.closed {
		s.mu.Unlock()
		return
	}
	// Disarm before teardown: a second identity change mid-reset finds a
	// nil watcher and does nothing.
	unwatch := s.unwatch
	s.unwatch = nil
	s.mu.Unlock()
	if unwatch == nil {
		return
	}

	s.log.Warn("document identity replaced, resetting",
		zap.String("scope", s.opts.Scope),
		zap.String("new_id", id),
	)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		unwatch()
		s.reset()
	}()
}

// reset runs the teardown-and-rebuild sequence. The cache purge is awaited
// before the new replica exists, so no consumer sees a half-torn state.
func (s *Session) reset() {
	s.setState(StateResetting)

	s.mu.Lock()
	s.cacheLoaded = false
	detach := s.detachCache
	s.detachCache = nil
	provider := s.provider
	s.provider = nil
	doc := s.doc
	s.mu.Unlock()

	if detach != nil {
		detach()
	}
	if provider != nil {
		provider.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()
	if err := s.store.Purge(ctx, s.opts.Scope); err != nil {
		s.fail(err)
		return
	}

	if doc != nil {
		doc.Destroy()
	}

	s.mu.Lock()
	closed := s.closed
	s.knownID = ""
	s.mu.Unlock()
	if closed {
		return
	}

	if err := s.attach(ctx); err != nil {
		s.fail(err)
		return
	}
	s.setState(StateReady)
	s.log.Info("session reset complete", zap.String("scope", s.opts.Scope))
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.log.Error("session failed", zap.String("scope", s.opts.Scope), zap.Error(err))
	s.setState(StateFailed)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.stateMu.Lock()
	fns := make([]func(State), len(s.onState))
	copy(fns, s.onState)
	s.stateMu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}
