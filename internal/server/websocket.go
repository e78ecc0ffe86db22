package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-mudoa/internal/beamformer"
	"github.com/teslashibe/go-mudoa/internal/doa"
	"github.com/teslashibe/go-mudoa/internal/protocol"
)

// client is one WebSocket subscriber
type client struct {
	id       string
	conn     *websocket.Conn
	encoding protocol.Encoding

	writeMu sync.Mutex
}

func (cl *client) send(msg *protocol.Message) error {
	data, err := msg.Encode(cl.encoding)
	if err != nil {
		return err
	}
	return cl.write(data)
}

func (cl *client) write(data []byte) error {
	kind := websocket.TextMessage
	if cl.encoding.Binary() {
		kind = websocket.BinaryMessage
	}

	cl.writeMu.Lock()
	defer cl.writeMu.Unlock()
	return cl.conn.WriteMessage(kind, data)
}

// WSHub manages WebSocket connections and broadcasts DOA updates
type WSHub struct {
	tracker  *doa.Tracker
	source   *doa.BeamformerSource
	interval time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]*client

	cancelMu sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewWSHub creates a new WebSocket hub broadcasting every interval
func NewWSHub(tracker *doa.Tracker, source *doa.BeamformerSource, interval time.Duration, logger *slog.Logger) *WSHub {
	if logger == nil {
		logger = slog.Default()
	}

	return &WSHub{
		tracker:  tracker,
		source:   source,
		interval: interval,
		logger:   logger,
		clients:  make(map[*websocket.Conn]*client),
		done:     make(chan struct{}),
	}
}

// Run starts the broadcast loop
func (h *WSHub) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	h.cancelMu.Lock()
	h.cancel = cancel
	h.cancelMu.Unlock()
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var (
		lastActive bool
		lastPower  *beamformer.PowerMatrix
	)

	h.logger.Info("websocket hub started", "interval", h.interval)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub stopped")
			return
		case <-ticker.C:
			if h.tracker == nil {
				continue
			}

			result := h.tracker.GetLatest()
			h.broadcast(protocol.NewDOAMessage(doaData(result)))

			if h.source != nil {
				if pm := h.source.Latest(); pm != nil && pm != lastPower {
					h.broadcast(protocol.NewPowerMessage(h.source.Bank().Angles(), pm.MeanPower(), pm.Frames))
					lastPower = pm
				}
			}

			// Immediate activity change notification
			if result.ActiveLatched != lastActive {
				h.broadcast(protocol.NewActivityMessage(protocol.ActivityData{
					Active: result.ActiveLatched,
					Beam:   result.Beam,
					Angle:  result.SmoothedAngle,
					Power:  result.Power,
				}))
				lastActive = result.ActiveLatched

				h.logger.Debug("activity change",
					"active", result.ActiveLatched,
					"angle_deg", doa.Degrees(result.SmoothedAngle),
				)
			}
		}
	}
}

func doaData(r doa.Result) protocol.DOAData {
	return protocol.DOAData{
		Angle:         r.Angle,
		AngleDeg:      doa.Degrees(r.SmoothedAngle),
		SmoothedAngle: r.SmoothedAngle,
		Beam:          r.Beam,
		Power:         r.Power,
		Active:        r.Active,
		ActiveLatched: r.ActiveLatched,
		Confidence:    r.Confidence,
	}
}

func (h *WSHub) broadcast(msg *protocol.Message) {
	// Each encoding is produced at most once per broadcast
	encoded := make(map[protocol.Encoding][]byte, 2)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, cl := range h.clients {
		data, ok := encoded[cl.encoding]
		if !ok {
			var err error
			data, err = msg.Encode(cl.encoding)
			if err != nil {
				h.logger.Warn("websocket encode error", "error", err, "encoding", cl.encoding)
				return
			}
			encoded[cl.encoding] = data
		}

		if err := cl.write(data); err != nil {
			// Will be cleaned up when connection closes
			h.logger.Debug("websocket write error", "client", cl.id, "error", err)
		}
	}
}

// UpgradeHandler returns the WebSocket upgrade handler. The format query
// parameter selects json (default) or msgpack frames.
func (h *WSHub) UpgradeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
				"error":   "WebSocket upgrade required",
				"message": "Connect via WebSocket to receive DOA stream",
			})
		}

		enc, err := protocol.ParseEncoding(c.Query("format"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		c.Locals("encoding", enc)
		return websocket.New(h.handleConnection)(c)
	}
}

func (h *WSHub) handleConnection(c *websocket.Conn) {
	enc, _ := c.Locals("encoding").(protocol.Encoding)
	cl := &client{
		id:       uuid.NewString(),
		conn:     c,
		encoding: enc,
	}

	h.mu.Lock()
	h.clients[c] = cl
	clientCount := len(h.clients)
	h.mu.Unlock()

	logger := h.logger.With("client", cl.id)
	logger.Info("websocket client connected",
		"remote_addr", c.RemoteAddr().String(),
		"encoding", enc,
		"clients", clientCount,
	)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		clientCount := len(h.clients)
		h.mu.Unlock()

		logger.Info("websocket client disconnected",
			"clients", clientCount,
		)
	}()

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			break
		}

		if err := h.handleCommand(cl, msg); err != nil {
			logger.Debug("websocket command failed", "error", err)
		}
	}
}

func (h *WSHub) handleCommand(cl *client, data []byte) error {
	cmd, err := protocol.Decode(cl.encoding, data)
	if err != nil {
		return cl.send(protocol.NewErrorMessage("bad_request", err.Error()))
	}

	switch cmd.Type {
	case protocol.TypePing:
		return cl.send(protocol.NewMessage(protocol.TypePong, time.Now().Unix()))
	case protocol.TypeGetStats:
		if h.tracker == nil {
			return cl.send(protocol.NewErrorMessage("unavailable", "tracker not available"))
		}
		return cl.send(protocol.NewMessage(protocol.TypeStats, h.tracker.Stats()))
	default:
		return cl.send(protocol.NewErrorMessage("unknown_type", "unknown message type "+string(cmd.Type)))
	}
}

// ClientCount returns the number of connected WebSocket clients
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close shuts down the WebSocket hub
func (h *WSHub) Close() {
	h.cancelMu.Lock()
	cancel := h.cancel
	h.cancelMu.Unlock()

	if cancel != nil {
		cancel()
		<-h.done
	}

	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*client)
	h.mu.Unlock()
}
