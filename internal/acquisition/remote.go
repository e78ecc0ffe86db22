package acquisition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-mudoa/internal/beamformer"
)

// RemoteConfig holds acquisition server settings.
type RemoteConfig struct {
	URL              string        // WebSocket URL (e.g., "ws://192.168.1.10:8002")
	Mems             []int         // Activated microphones, all when empty
	Counter          bool          // Server prepends a sample counter channel
	CounterSkip      bool          // Server strips the counter before sending
	Duration         float64       // Run duration in seconds, 0 runs until stopped
	BuffersNumber    int           // Server side transfer buffers
	ReconnectBackoff time.Duration // Initial reconnect delay
	MaxBackoff       time.Duration // Maximum reconnect delay
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// DefaultRemoteConfig returns sensible defaults.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		BuffersNumber:    8,
		ReconnectBackoff: 1 * time.Second,
		MaxBackoff:       30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// RunParameters is the payload of a run request.
type RunParameters struct {
	SamplingFrequency float64 `json:"sampling_frequency"`
	Mems              []int   `json:"mems"`
	Analogs           []int   `json:"analogs"`
	Counter           bool    `json:"counter"`
	CounterSkip       bool    `json:"counter_skip"`
	Status            bool    `json:"status"`
	Duration          float64 `json:"duration"`
	BufferLength      int     `json:"buffer_length"`
	BuffersNumber     int     `json:"buffers_number"`
}

type request struct {
	Request    string         `json:"request"`
	Parameters *RunParameters `json:"parameters,omitempty"`
}

type serverMessage struct {
	Type     string `json:"type"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
	Message  string `json:"message,omitempty"`
}

// RemoteStats holds remote source statistics.
type RemoteStats struct {
	Connected  bool   `json:"connected"`
	Frames     uint64 `json:"frames"`
	Dropped    uint64 `json:"dropped"`
	Reconnects uint64 `json:"reconnects"`
	Errors     uint64 `json:"errors"`
}

// RemoteSource streams transfer buffers from an acquisition server.
type RemoteSource struct {
	cfg    RemoteConfig
	params RunParameters
	logger *slog.Logger
	queue  *Queue

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}

	frames     atomic.Uint64
	reconnects atomic.Uint64
	failures   atomic.Uint64
}

// NewRemoteSource creates a source for an array of mics microphones.
// Call Start to begin streaming.
func NewRemoteSource(cfg Config, mics int, logger *slog.Logger) *RemoteSource {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultRemoteConfig()
	rc := cfg.Remote
	if rc.ReconnectBackoff <= 0 {
		rc.ReconnectBackoff = defaults.ReconnectBackoff
	}
	if rc.MaxBackoff <= 0 {
		rc.MaxBackoff = defaults.MaxBackoff
	}
	if rc.HandshakeTimeout <= 0 {
		rc.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if rc.WriteTimeout <= 0 {
		rc.WriteTimeout = defaults.WriteTimeout
	}
	if rc.BuffersNumber <= 0 {
		rc.BuffersNumber = defaults.BuffersNumber
	}

	mems := rc.Mems
	if len(mems) == 0 {
		mems = make([]int, mics)
		for i := range mems {
			mems[i] = i
		}
	}

	return &RemoteSource{
		cfg: rc,
		params: RunParameters{
			SamplingFrequency: cfg.SampleRate,
			Mems:              mems,
			Analogs:           []int{},
			Counter:           rc.Counter,
			CounterSkip:       rc.CounterSkip,
			Duration:          rc.Duration,
			BufferLength:      cfg.BlockSamples(),
			BuffersNumber:     rc.BuffersNumber,
		},
		logger: logger.With("component", "remote", "url", rc.URL),
		queue:  NewQueue(cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

// Parameters returns the run request sent to the server.
func (r *RemoteSource) Parameters() RunParameters {
	return r.params
}

// Channels returns the number of channels in each transfer buffer.
func (r *RemoteSource) Channels() int {
	n := len(r.params.Mems)
	if r.hasCounter() {
		n++
	}
	return n
}

func (r *RemoteSource) hasCounter() bool {
	return r.params.Counter && !r.params.CounterSkip
}

// Start connects in the background and keeps reconnecting until the server
// ends the run or Close is called.
func (r *RemoteSource) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return fmt.Errorf("acquisition: remote source already started")
	}

	ctx, r.cancel = context.WithCancel(ctx)
	go r.connectionLoop(ctx)
	return nil
}

func (r *RemoteSource) connectionLoop(ctx context.Context) {
	defer close(r.done)
	defer r.queue.Close()

	backoff := r.cfg.ReconnectBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		started, ended, err := r.run(ctx)
		if ended {
			r.logger.Info("acquisition ended by server")
			return
		}
		if ctx.Err() != nil {
			return
		}

		// Reset backoff after a session the server accepted
		if started {
			backoff = r.cfg.ReconnectBackoff
		}

		if err != nil {
			r.failures.Add(1)
			r.logger.Warn("acquisition connection failed",
				"error", err,
				"retry_in", backoff,
			)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}

		if !started {
			backoff *= 2
			if backoff > r.cfg.MaxBackoff {
				backoff = r.cfg.MaxBackoff
			}
		}
		r.reconnects.Add(1)
	}
}

// run performs one acquisition session. It reports whether the server
// accepted the run and whether it ended it.
func (r *RemoteSource) run(ctx context.Context) (started, ended bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: r.cfg.HandshakeTimeout}
	logger := r.logger.With("session", uuid.NewString())

	conn, _, err := dialer.DialContext(ctx, r.cfg.URL, nil)
	if err != nil {
		return false, false, fmt.Errorf("dial: %w", err)
	}
	defer r.closeConnection()

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	// Unblock reads on cancellation.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := r.send(request{Request: "run", Parameters: &r.params}); err != nil {
		return false, false, err
	}

	var reply serverMessage
	if err := conn.ReadJSON(&reply); err != nil {
		return false, false, fmt.Errorf("read run reply: %w", err)
	}
	if reply.Type != "status" || reply.Response != "OK" {
		return false, false, replyError(reply)
	}

	r.mu.Lock()
	r.connected = true
	r.mu.Unlock()

	logger.Info("acquisition started",
		"sampling_frequency", r.params.SamplingFrequency,
		"mems", len(r.params.Mems),
		"buffer_length", r.params.BufferLength,
	)

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return true, false, fmt.Errorf("read: %w", err)
		}

		if kind == websocket.TextMessage {
			var msg serverMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				return true, false, fmt.Errorf("parse server message: %w", err)
			}
			if msg.Type == "status" && msg.Response == "END" {
				return true, true, nil
			}
			return true, false, replyError(msg)
		}

		if err := r.handleFrame(data); err != nil {
			r.failures.Add(1)
			logger.Warn("dropping transfer buffer", "error", err)
		}
	}
}

func (r *RemoteSource) handleFrame(data []byte) error {
	raw, err := DecodeFrame(data, r.Channels(), r.hasCounter())
	if err != nil {
		return err
	}

	signal, err := beamformer.NormalizeInt32(raw)
	if err != nil {
		return err
	}

	seq := r.frames.Add(1) - 1
	return r.queue.Put(Block{
		Seq:        seq,
		Timestamp:  time.Now(),
		SampleRate: r.params.SamplingFrequency,
		Signal:     signal,
	})
}

func replyError(msg serverMessage) error {
	if msg.Type == "error" {
		return fmt.Errorf("%w: %s: %s", ErrRemote, msg.Error, msg.Message)
	}
	return fmt.Errorf("%w: unexpected %s message %q", ErrRemote, msg.Type, msg.Response)
}

func (r *RemoteSource) send(v any) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (r *RemoteSource) closeConnection() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connected = false
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

// Next returns the oldest queued block.
func (r *RemoteSource) Next(ctx context.Context) (Block, error) {
	return r.queue.Get(ctx)
}

// Close asks the server to stop and shuts the source down.
func (r *RemoteSource) Close() error {
	r.mu.Lock()
	connected := r.connected
	cancel := r.cancel
	r.mu.Unlock()

	if connected {
		if err := r.send(request{Request: "stop"}); err != nil {
			r.logger.Debug("stop request failed", "error", err)
		}
	}

	if cancel != nil {
		cancel()
		<-r.done
	} else {
		r.queue.Close()
	}
	r.closeConnection()
	return nil
}

// Healthy returns true while a run is in progress.
func (r *RemoteSource) Healthy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// Name returns the source type name.
func (r *RemoteSource) Name() string {
	return "remote"
}

// Stats returns remote source statistics.
func (r *RemoteSource) Stats() RemoteStats {
	r.mu.Lock()
	connected := r.connected
	r.mu.Unlock()

	return RemoteStats{
		Connected:  connected,
		Frames:     r.frames.Load(),
		Dropped:    r.queue.Dropped(),
		Reconnects: r.reconnects.Load(),
		Errors:     r.failures.Load(),
	}
}
