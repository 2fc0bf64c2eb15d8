// Package session manages the persistent connection to the
// conversational-audio backend: dialling, the inbound demultiplexer,
// keepalive, and reconnection with exponential backoff.
//
// Inbound binary frames are fenced against the current ambient stream
// identity and admitted to the playback queue; inbound text documents are
// decoded once and delivered on the control channel. Outbound audio is sent
// synchronously from the capture loop — there is deliberately no send queue,
// so transport backpressure stalls capture rather than buffering stale audio.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric"

	"github.com/eyeb33/jellyberry-sub000/internal/observe"
	"github.com/eyeb33/jellyberry-sub000/internal/protocol"
	"github.com/eyeb33/jellyberry-sub000/internal/state"
	"github.com/eyeb33/jellyberry-sub000/pkg/audio"
)

// State is the connection lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected // socket up, ready document not yet received
	Ready
	Streaming  // ready with recent wire activity
	IdleOnWire // ready with no recent wire activity
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Ready:
		return "READY"
	case Streaming:
		return "STREAMING"
	case IdleOnWire:
		return "IDLE_ON_WIRE"
	default:
		return "UNKNOWN"
	}
}

// streamingIdle is the wire inactivity after which a ready session reports
// IdleOnWire instead of Streaming.
const streamingIdle = 3 * time.Second

// cueSuppressWindow suppresses repeated ready cues during reconnection
// storms.
const cueSuppressWindow = 30 * time.Second

// sendTimeout bounds a single outbound socket write.
const sendTimeout = 2 * time.Second

// FrameSink accepts inbound audio frames that passed the protocol checks.
// Implemented by the playback queue.
type FrameSink interface {
	Enqueue(ctx context.Context, f audio.Frame) error
}

// Config configures a [Client].
type Config struct {
	// URL is the websocket endpoint of the backend.
	URL string

	// KeepaliveInterval between pings. Default: 20s.
	KeepaliveInterval time.Duration

	// Backoff is the initial reconnect backoff, doubling up to MaxBackoff.
	// Defaults: 1s, 30s.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// MaxRetries bounds reconnection attempts per outage. Default: 10.
	MaxRetries int

	// OnReady is called when the backend signals readiness, at most once per
	// [cueSuppressWindow]. The device plays its audible connection cue here;
	// the cue is gated on the ready document, not on raw socket connect.
	OnReady func()

	// OnForeground is called for every admitted foreground audio frame.
	// Must not block; the arbiter adapter forwards it as an event with a
	// non-blocking send.
	OnForeground func()
}

// Client is the device's session with the backend. Create with [New], start
// with [Client.Run].
type Client struct {
	cfg     Config
	store   *state.Store
	metrics *observe.Metrics
	sink    FrameSink

	controls chan protocol.Control

	mu   sync.Mutex
	conn *websocket.Conn

	st           atomic.Int32
	retries      atomic.Int64
	lastActivity atomic.Int64
	lastCue      atomic.Int64
}

// New creates a Client. Defaults are applied for zero-valued Config timing
// fields.
func New(cfg Config, store *state.Store, metrics *observe.Metrics, sink FrameSink) *Client {
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 20 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	return &Client{
		cfg:      cfg,
		store:    store,
		metrics:  metrics,
		sink:     sink,
		controls: make(chan protocol.Control, 16),
	}
}

// Controls returns the channel of decoded inbound control documents. Closed
// when [Client.Run] returns.
func (c *Client) Controls() <-chan protocol.Control { return c.controls }

// State returns the current lifecycle state. Streaming and IdleOnWire are
// derived from recent wire activity.
func (c *Client) State() State {
	st := State(c.st.Load())
	if st != Ready {
		return st
	}
	if time.Since(time.Unix(0, c.lastActivity.Load())) < streamingIdle {
		return Streaming
	}
	return IdleOnWire
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

// Run owns the connection for the lifetime of ctx: it connects, serves the
// receive and keepalive loops, and reconnects with exponential backoff after
// a drop. Connection loss is an expected, recoverable condition; Run only
// returns on ctx cancellation.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.controls)
	first := true

	for {
		if err := c.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("session: initial connect failed", "err", err)
		} else {
			if !first {
				c.metrics.Reconnects.Add(ctx, 1)
			}
			first = false
			c.serve(ctx) // returns on connection loss or ctx done
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.store.CountDisconnect()
		c.store.SetConnected(false)
		c.st.Store(int32(Disconnected))

		if !c.reconnectWait(ctx) {
			return ctx.Err()
		}
	}
}

// connect dials the backend and transitions to Connected. The session is not
// usable until the peer's ready document arrives.
func (c *Client) connect(ctx context.Context) error {
	c.st.Store(int32(Connecting))

	conn, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
	if err != nil {
		c.st.Store(int32(Disconnected))
		return fmt.Errorf("session: dial %s: %w", c.cfg.URL, err)
	}
	// Inbound audio frames can approach the full frame capacity plus framing
	// overhead; raise the read limit well past that.
	conn.SetReadLimit(64 * 1024)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.st.Store(int32(Connected))
	c.store.SetConnected(true)
	slog.Info("session: connected", "url", c.cfg.URL)
	return nil
}

// serve runs the receive loop and keepalive until the connection drops or
// ctx is cancelled.
func (c *Client) serve(ctx context.Context) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.receiveLoop(connCtx)
	}()
	go c.keepaliveLoop(connCtx)

	<-done
	c.closeConn(websocket.StatusNormalClosure, "serve done")
}

// reconnectWait sleeps through the backoff schedule between reconnection
// attempts made by the outer Run loop. Returns false when ctx is done.
// Backoff state is bounded by MaxRetries; after that the wait restarts from
// the max backoff so the device keeps trying forever at a gentle pace.
func (c *Client) reconnectWait(ctx context.Context) bool {
	backoff := c.cfg.Backoff
	n := c.retries.Add(1)
	for i := int64(1); i < n && backoff < c.cfg.MaxBackoff; i++ {
		backoff *= 2
	}
	if backoff > c.cfg.MaxBackoff {
		backoff = c.cfg.MaxBackoff
	}

	slog.Info("session: reconnecting", "attempt", n, "backoff", backoff)

	select {
	case <-ctx.Done():
		return false
	case <-time.After(backoff):
		return true
	}
}

// ── Receive path ──────────────────────────────────────────────────────────────

// receiveLoop reads messages from the socket and dispatches them until the
// connection fails or ctx is cancelled.
func (c *Client) receiveLoop(ctx context.Context) {
	for {
		typ, data, err := c.read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("session: read failed", "err", err)
			}
			return
		}
		c.lastActivity.Store(time.Now().UnixNano())

		switch typ {
		case websocket.MessageBinary:
			c.handleBinary(ctx, data)
		case websocket.MessageText:
			c.handleText(data)
		}
	}
}

func (c *Client) read(ctx context.Context) (websocket.MessageType, []byte, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, nil, fmt.Errorf("session: not connected")
	}
	return conn.Read(ctx)
}

// handleBinary demultiplexes one inbound binary frame per the wire format:
// tagged frames are fenced against the active ambient sequence; untagged
// frames are foreground response audio, suppressed while the previous
// response's interruption is still being resolved.
func (c *Client) handleBinary(ctx context.Context, data []byte) {
	now := time.Now()

	switch f := protocol.DecodeBinary(data).(type) {
	case protocol.AmbientFrame:
		if !c.store.MatchesAmbient(f.Seq) {
			c.store.CountStaleDrop()
			c.metrics.FrameDrops.Add(ctx, 1, metric.WithAttributes(observe.ReasonStaleSequence))
			slog.Debug("session: stale ambient frame discarded", "seq", f.Seq)
			return
		}
		c.enqueue(ctx, audio.Frame{PCM: f.PCM, At: now})

	case protocol.ForegroundFrame:
		if c.store.ResponseInterrupted() && !c.store.AlarmActive() {
			c.metrics.FrameDrops.Add(ctx, 1, metric.WithAttributes(observe.ReasonInterrupted))
			return
		}
		if c.cfg.OnForeground != nil {
			c.cfg.OnForeground()
		}
		c.enqueue(ctx, audio.Frame{PCM: f.PCM, At: now})
	}
}

// enqueue admits a frame to the playback queue, splitting payloads larger
// than [audio.MaxFrameBytes] into frame-sized pieces so the queue's capacity
// invariant holds regardless of how the peer batches its audio.
func (c *Client) enqueue(ctx context.Context, f audio.Frame) {
	for len(f.PCM) > 0 {
		n := len(f.PCM)
		if n > audio.MaxFrameBytes {
			n = audio.MaxFrameBytes
		}
		c.admit(ctx, audio.Frame{PCM: f.PCM[:n], At: f.At})
		f.PCM = f.PCM[n:]
	}
}

// admit hands one frame to the queue. Admission applies bounded backpressure;
// a timeout here is a counted fault, not routine flow.
func (c *Client) admit(ctx context.Context, f audio.Frame) {
	start := time.Now()
	err := c.sink.Enqueue(ctx, f)
	c.metrics.EnqueueWait.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		c.store.CountAdmissionDrop()
		c.metrics.FrameDrops.Add(ctx, 1, metric.WithAttributes(observe.ReasonAdmissionTimeout))
		slog.Warn("session: playback queue admission timed out, frame dropped", "err", err)
	}
}

// handleText decodes one control document and dispatches it.
func (c *Client) handleText(data []byte) {
	ctl, err := protocol.ParseControl(data)
	if err != nil {
		slog.Debug("session: control document discarded", "err", err)
		return
	}

	switch ctl.Type {
	case protocol.TypeReady:
		c.st.Store(int32(Ready))
		c.retries.Store(0)
		c.onReady()
		return
	case protocol.TypeSetupComplete:
		slog.Debug("session: setup complete")
		return
	case protocol.TypeError:
		slog.Warn("session: backend error", "message", ctl.ErrorMessage)
		return
	case protocol.TypeFunctionCall:
		c.handleFunctionCall(ctl.Function)
		return
	case protocol.TypeText:
		slog.Debug("session: text", "text", ctl.Text)
		return
	}

	// Turn completion, stream completion, and feature payloads belong to the
	// arbiter and display collaborators.
	select {
	case c.controls <- ctl:
	default:
		slog.Warn("session: control channel full, document dropped", "type", ctl.Type)
	}
}

// onReady marks the session usable, resumes a paused ambient stream at its
// last known sequence, and plays the connection cue — at most once per
// suppression window, so reconnection storms stay quiet.
func (c *Client) onReady() {
	slog.Info("session: ready")

	if name, seq, active := c.store.Ambient(); active {
		if err := c.requestAmbient(name, seq); err != nil {
			slog.Warn("session: ambient resume failed", "sound", name, "err", err)
		} else {
			slog.Info("session: ambient stream resumed", "sound", name, "seq", seq)
		}
	}

	if c.cfg.OnReady == nil {
		return
	}
	now := time.Now()
	last := time.Unix(0, c.lastCue.Load())
	if now.Sub(last) >= cueSuppressWindow {
		c.lastCue.Store(now.UnixNano())
		c.cfg.OnReady()
	}
}

// handleFunctionCall executes an inbound tool invocation. Volume adjustment
// is the only call the device honours; anything else is discarded with a log
// entry.
func (c *Client) handleFunctionCall(fc *protocol.FunctionCall) {
	switch fc.Name {
	case "setVolume":
		if v, ok := fc.Args["volume"].(float64); ok {
			c.store.SetVolume(v)
			slog.Info("session: volume set", "volume", c.store.Volume())
			return
		}
		slog.Debug("session: setVolume missing volume argument")
	case "adjustVolume":
		if delta, ok := fc.Args["delta"].(float64); ok {
			c.store.SetVolume(c.store.Volume() + delta)
			slog.Info("session: volume adjusted", "volume", c.store.Volume())
			return
		}
		slog.Debug("session: adjustVolume missing delta argument")
	default:
		slog.Debug("session: unknown function call discarded", "name", fc.Name)
	}
}

// ── Send path ─────────────────────────────────────────────────────────────────

// SendAudio ships one captured PCM frame in the realtime-input envelope.
// While disconnected the frame is silently skipped — capture continues
// regardless so VAD timing is not starved.
func (c *Client) SendAudio(ctx context.Context, pcm []byte) error {
	if !c.store.Connected() {
		return nil
	}
	data, err := protocol.EncodeAudio(pcm)
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

// RequestAmbient registers name as the active ambient stream and asks the
// backend to start streaming it. Returns the new stream sequence.
func (c *Client) RequestAmbient(ctx context.Context, name string) (uint16, error) {
	seq := c.store.StartAmbient(name)
	if err := c.requestAmbient(name, seq); err != nil {
		return seq, err
	}
	return seq, nil
}

func (c *Client) requestAmbient(name string, seq uint16) error {
	data, err := protocol.EncodeRequestAmbient(name, seq)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return c.write(ctx, data)
}

// StopAmbient pauses the ambient stream. Identity is preserved so the stream
// can resume after a reconnect.
func (c *Client) StopAmbient(ctx context.Context) error {
	c.store.StopAmbient()
	data, err := protocol.EncodeStopAmbient()
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

// RequestAlarm asks the backend to stream alarm audio.
func (c *Client) RequestAlarm(ctx context.Context) error {
	data, err := protocol.EncodeRequestAlarm()
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

// StopAlarm asks the backend to stop alarm audio.
func (c *Client) StopAlarm(ctx context.Context) error {
	data, err := protocol.EncodeStopAlarm()
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

// write sends one text message with a bounded timeout. Failures are counted
// and surfaced to the caller, which logs and skips — the receive loop is the
// authority on declaring the connection dead.
func (c *Client) write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	wctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		c.store.CountSendFailure()
		c.metrics.SendFailures.Add(ctx, 1)
		return fmt.Errorf("session: write: %w", err)
	}
	c.store.MarkSendSuccess(time.Now())
	c.lastActivity.Store(time.Now().UnixNano())
	return nil
}

// ── Keepalive ─────────────────────────────────────────────────────────────────

// keepaliveLoop pings the backend at the configured interval.
func (c *Client) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				continue
			}
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := conn.Ping(pingCtx); err != nil && ctx.Err() == nil {
				slog.Debug("session: keepalive ping failed", "err", err)
			}
			cancel()
		}
	}
}

func (c *Client) closeConn(code websocket.StatusCode, reason string) {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close(code, reason)
	}
}
