package relay

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/channel"
	"github.com/weftlabs/weft/internal/crdt"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleConnection upgrades GET /documents/:scope and serves the sync
// protocol until the client disconnects.
func (h *Hub) HandleConnection(c *gin.Context) {
	scopeName := c.Param("scope")
	if scopeName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("relay: upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sc := h.scope(scopeName)
	cl := &client{conn: conn}
	sc.join(cl)
	if h.metrics != nil {
		h.metrics.IncConnections(scopeName)
	}
	h.log.Debug("relay: client joined", zap.String("scope", scopeName))

	defer func() {
		sc.leave(cl)
		if h.metrics != nil {
			h.metrics.DecConnections(scopeName)
		}
		if id := cl.replicaID(); id != "" {
			h.broadcast(sc, cl, channel.Frame{Type: channel.FrameAwareness, Client: id})
		}
		h.log.Debug("relay: client left", zap.String("scope", scopeName))
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := channel.DecodeFrame(data)
		if err != nil {
			h.log.Warn("relay: bad frame", zap.String("scope", scopeName), zap.Error(err))
			continue
		}
		if h.metrics != nil {
			h.metrics.RecordFrame(f.Type, "in")
		}
		if err := h.handle(sc, cl, f); err != nil {
			h.log.Warn("relay: frame rejected",
				zap.String("scope", scopeName),
				zap.String("type", f.Type),
				zap.Error(err),
			)
		}
	}
}

func (h *Hub) handle(sc *scope, cl *client, f channel.Frame) error {
	switch f.Type {
	case channel.FrameSyncStep1:
		// Answer with what the client is missing, then ask for what the
		// archive is missing.
		reply, err := channel.SyncStep2(sc.doc, f.StateVector)
		if err != nil {
			return err
		}
		if err := h.sendTo(cl, reply); err != nil {
			return err
		}
		ask, err := channel.SyncStep1(sc.doc)
		if err != nil {
			return err
		}
		return h.sendTo(cl, ask)

	case channel.FrameSyncStep2:
		for _, raw := range f.Updates {
			if err := h.archive(sc, cl, raw); err != nil {
				return err
			}
		}
		return nil

	case channel.FrameUpdate:
		return h.archive(sc, cl, f.Update)

	case channel.FrameAwareness:
		cl.setReplica(f.Client)
		h.broadcast(sc, cl, f)
		return nil

	default:
		h.log.Debug("relay: unknown frame type", zap.String("type", f.Type))
		return nil
	}
}

// archive merges one encoded update into the scope replica and rebroadcasts
// it to the sender's peers.
func (h *Hub) archive(sc *scope, sender *client, raw []byte) error {
	u, err := crdt.DecodeUpdate(raw)
	if err != nil {
		return err
	}
	if err := sc.doc.ApplyUpdate(u); err != nil {
		return err
	}
	if h.metrics != nil {
		h.metrics.AddUpdateBytes(len(raw))
	}
	h.broadcast(sc, sender, channel.Frame{Type: channel.FrameUpdate, Update: raw})
	return nil
}

func (h *Hub) broadcast(sc *scope, sender *client, f channel.Frame) {
	for _, peer := range sc.peers(sender) {
		if err := h.sendTo(peer, f); err != nil {
			h.log.Debug("relay: broadcast dropped", zap.String("scope", sc.name), zap.Error(err))
		}
	}
}

func (h *Hub) sendTo(cl *client, f channel.Frame) error {
	if err := cl.send(f); err != nil {
		return err
	}
	if h.metrics != nil {
		h.metrics.RecordFrame(f.Type, "out")
	}
	return nil
}
