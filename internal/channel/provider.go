package channel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/crdt"
	"github.com/weftlabs/weft/internal/logging"
)

// Status reports the provider's connection state.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

var (
	ErrClosed     = errors.New("channel: provider closed")
	ErrNoEndpoint = errors.New("channel: relay URL and scope required")
)

// Options configures a Provider.
type Options struct {
	URL   string // relay base URL, ws:// or wss://
	Scope string
	Log   *logging.Logger

	MinBackoff  time.Duration // first reconnect delay, default 500ms
	MaxBackoff  time.Duration // backoff cap, default 30s
	DialTimeout time.Duration // per-attempt dial timeout, default 10s
}

// Provider keeps one doc in sync with the relay scope.
type Provider struct {
	doc      *crdt.Doc
	endpoint string
	log      *logging.Logger

	minBackoff  time.Duration
	maxBackoff  time.Duration
	dialTimeout time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	synced    bool
	closed    bool
	started   bool
	awareness map[string]any

	writeMu sync.Mutex

	onStatus    func(Status)
	onAwareness func(client string, state map[string]any)

	unhook crdt.Unobserve
	done   chan struct{}
	wg     sync.WaitGroup
}

// New builds a provider for one (scope, doc) pair. Call Connect to start.
func New(doc *crdt.Doc, opts Options) (*Provider, error) {
	if opts.URL == "" || opts.Scope == "" {
		return nil, ErrNoEndpoint
	}
	log := opts.Log
	if log == nil {
		log = logging.Nop()
	}
	p := &Provider{
		doc:         doc,
		endpoint:    strings.TrimRight(opts.URL, "/") + "/documents/" + opts.Scope,
		log:         log,
		minBackoff:  opts.MinBackoff,
		maxBackoff:  opts.MaxBackoff,
		dialTimeout: opts.DialTimeout,
		done:        make(chan struct{}),
	}
	if p.minBackoff <= 0 {
		p.minBackoff = 500 * time.Millisecond
	}
	if p.maxBackoff <= 0 {
		p.maxBackoff = 30 * time.Second
	}
	if p.dialTimeout <= 0 {
		p.dialTimeout = 10 * time.Second
	}
	return p, nil
}

// OnStatus registers the status callback. Register before Connect.
func (p *Provider) OnStatus(fn func(Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStatus = fn
}

// OnAwareness registers the callback for remote awareness frames.
// Register before Connect.
func (p *Provider) OnAwareness(fn func(client string, state map[string]any)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onAwareness = fn
}

// Connect starts the sync loop. Local updates committed after Connect are
// broadcast; updates committed while disconnected are recovered by the
// handshake on reconnect.
func (p *Provider) Connect() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	p.unhook = p.doc.OnUpdate(func(u crdt.Update, remote bool) {
		if remote {
			return
		}
		f, err := UpdateFrame(u)
		if err != nil {
			p.log.Error("channel: encode update", zap.Error(err))
			return
		}
		if err := p.write(f); err != nil {
			p.log.Debug("channel: update dropped while offline", zap.Error(err))
		}
	})

	p.wg.Add(1)
	go p.run()
	return nil
}

// Synced reports whether the initial handshake has completed at least once
// on the current connection.
func (p *Provider) Synced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.synced
}

// SetAwareness broadcasts ephemeral client state and re-broadcasts it after
// every reconnect.
func (p *Provider) SetAwareness(state map[string]any) {
	p.mu.Lock()
	p.awareness = state
	p.mu.Unlock()
	err := p.write(Frame{Type: FrameAwareness, Client: p.doc.Replica(), State: state})
	if err != nil {
		p.log.Debug("channel: awareness dropped while offline", zap.Error(err))
	}
}

// Close stops the sync loop and tears down the connection. The relay clears
// this client's awareness when the socket drops.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conn := p.conn
	p.mu.Unlock()

	if p.unhook != nil {
		p.unhook()
	}
	close(p.done)
	if conn != nil {
		conn.Close()
	}
	p.wg.Wait()
	return nil
}

func (p *Provider) run() {
	defer p.wg.Done()

	backoff := p.minBackoff
	for {
		select {
		case <-p.done:
			return
		default:
		}

		p.setStatus(StatusConnecting)
		conn, err := p.dial()
		if err != nil {
			p.log.Debug("channel: dial failed", zap.String("endpoint", p.endpoint), zap.Error(err))
			p.setStatus(StatusDisconnected)
			select {
			case <-p.done:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > p.maxBackoff {
				backoff = p.maxBackoff
			}
			continue
		}
		backoff = p.minBackoff

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			conn.Close()
			return
		}
		p.conn = conn
		awareness := p.awareness
		p.mu.Unlock()
		p.setStatus(StatusConnected)

		if err := p.handshake(awareness); err != nil {
			p.log.Warn("channel: handshake failed", zap.Error(err))
		} else {
			p.readLoop(conn)
		}

		p.mu.Lock()
		p.conn = nil
		p.synced = false
		closed := p.closed
		p.mu.Unlock()
		conn.Close()
		p.setStatus(StatusDisconnected)
		if closed {
			return
		}
	}
}

func (p *Provider) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.dialTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.endpoint, nil)
	return conn, err
}

func (p *Provider) handshake(awareness map[string]any) error {
	step1, err := SyncStep1(p.doc)
	if err != nil {
		return err
	}
	if err := p.write(step1); err != nil {
		return err
	}
	if awareness != nil {
		f := Frame{Type: FrameAwareness, Client: p.doc.Replica(), State: awareness}
		if err := p.write(f); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := DecodeFrame(data)
		if err != nil {
			p.log.Warn("channel: bad frame", zap.Error(err))
			continue
		}
		if err := p.handle(f); err != nil {
			p.log.Warn("channel: frame rejected", zap.String("type", f.Type), zap.Error(err))
		}
	}
}

func (p *Provider) handle(f Frame) error {
	switch f.Type {
	case FrameSyncStep1:
		reply, err := SyncStep2(p.doc, f.StateVector)
		if err != nil {
			return err
		}
		return p.write(reply)
	case FrameSyncStep2:
		if err := ApplySyncStep2(p.doc, f); err != nil {
			return err
		}
		p.mu.Lock()
		p.synced = true
		p.mu.Unlock()
		return nil
	case FrameUpdate:
		u, err := crdt.DecodeUpdate(f.Update)
		if err != nil {
			return err
		}
		return p.doc.ApplyUpdate(u)
	case FrameAwareness:
		p.mu.Lock()
		fn := p.onAwareness
		p.mu.Unlock()
		if fn != nil {
			fn(f.Client, f.State)
		}
		return nil
	default:
		p.log.Debug("channel: unknown frame type", zap.String("type", f.Type))
		return nil
	}
}

func (p *Provider) write(f Frame) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return errors.New("channel: not connected")
	}
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (p *Provider) setStatus(s Status) {
	p.mu.Lock()
	fn := p.onStatus
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}
