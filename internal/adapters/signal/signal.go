// Package signal implements the client side of the room signaling socket.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/costudy/internal/core"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var (
	ErrBackpressure      = errors.New("backpressure")
	ErrClosed            = errors.New("signal session closed")
	ErrNotConnected      = errors.New("signal session not connected")
	ErrAlreadyConnected  = errors.New("signal session already connected")
	ErrConnectionTimeout = core.ErrConnectionTimeout
	ErrConnection        = core.ErrConnection
	ErrActionTimeout     = core.ErrActionTimeout
	ErrRateLimited       = core.ErrRateLimited
)

type ServerError = core.ServerError

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	WriteControl(mt int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

type Dialer func(ctx context.Context, url string) (WSConn, error)

// WebsocketDialer dials with the gorilla default dialer.
func WebsocketDialer(ctx context.Context, url string) (WSConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Options struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	ReadLimit      int64
	PingPeriod     time.Duration
	MailboxSize    int
	SendBuffer     int
	Dial           Dialer

	// Limiter throttles emits by message name.
	Limiter *RateLimiter
}

func (o *Options) withDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.MailboxSize <= 0 {
		o.MailboxSize = 64
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	if o.Dial == nil {
		o.Dial = WebsocketDialer
	}
}

// Session is one connection to a signaling server. It is not reusable:
// after Disconnect or a socket drop a new Session must be created.
type Session struct {
	opts Options

	mu     sync.RWMutex
	conn   WSConn
	closed bool
	cancel context.CancelFunc

	send      chan core.Frame
	events    chan core.Event
	done      chan struct{}
	ready     chan struct{}
	readyOnce sync.Once
	evOnce    sync.Once

	pending *pendingTable
	wg      conc.WaitGroup
}

var _ core.SignalSession = (*Session)(nil)

func NewSession(opts Options) *Session {
	opts.withDefaults()
	return &Session{
		opts:    opts,
		send:    make(chan core.Frame, opts.SendBuffer),
		events:  make(chan core.Event, opts.MailboxSize),
		done:    make(chan struct{}),
		ready:   make(chan struct{}),
		pending: newPendingTable(),
	}
}

// Connect dials url and blocks until the server acknowledges the handshake
// with connection-success.
func (s *Session) Connect(ctx context.Context, url string) error {
	s.mu.RLock()
	closed, connected := s.closed, s.conn != nil
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if connected {
		return ErrAlreadyConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	conn, err := s.opts.Dial(ctx, url)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrConnectionTimeout
		}
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	if s.opts.ReadLimit > 0 {
		conn.SetReadLimit(s.opts.ReadLimit)
	}
	if s.opts.PingPeriod > 0 {
		pongWait := s.opts.PingPeriod * 10 / 9
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	pumpCtx, pumpCancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		pumpCancel()
		_ = conn.Close()
		return ErrClosed
	}
	s.conn = conn
	s.cancel = pumpCancel
	s.mu.Unlock()

	log.Info().Str("module", "signal").Str("url", url).Msg("socket dialed")

	s.wg.Go(func() { s.writePump(pumpCtx, conn) })
	s.wg.Go(func() { s.readPump(conn) })

	select {
	case <-s.ready:
		log.Info().Str("module", "signal").Msg("connection-success")
		return nil
	case <-s.done:
		return fmt.Errorf("%w: closed before handshake", ErrConnection)
	case <-ctx.Done():
		s.Disconnect()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrConnectionTimeout
		}
		return ctx.Err()
	}
}

// Events is the mailbox of unsolicited server events. It is closed once the
// session is torn down.
func (s *Session) Events() <-chan core.Event { return s.events }

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Emit(name string, payload any) error {
	if s.limited(name) {
		return ErrRateLimited
	}
	data, err := marshalData(payload)
	if err != nil {
		return err
	}
	return s.write(core.Envelope{Type: name, Data: data})
}

func (s *Session) Request(ctx context.Context, name string, payload, out any) error {
	data, err := s.roundTrip(ctx, name, payload)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", name, err)
	}
	return nil
}

func (s *Session) RequestPrimitive(ctx context.Context, name string, payload any) (core.Ack, error) {
	var ack core.Ack
	if err := s.Request(ctx, name, payload, &ack); err != nil {
		return core.Ack{}, err
	}
	if !ack.Success {
		return ack, &ServerError{Name: name, Message: ack.Message}
	}
	return ack, nil
}

func (s *Session) roundTrip(ctx context.Context, name string, payload any) (json.RawMessage, error) {
	data, err := marshalData(payload)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	slot := s.pending.add(name, id)
	defer s.pending.remove(name, id)

	if err := s.write(core.Envelope{Type: name, ID: id, Data: data}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.opts.RequestTimeout)
	defer timer.Stop()

	select {
	case res := <-slot:
		return res.data, res.err
	case <-timer.C:
		log.Warn().Str("module", "signal").Str("type", name).Str("id", id).Msg("request timed out")
		return nil, fmt.Errorf("%s: %w", name, ErrActionTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrClosed
	}
}

func (s *Session) write(env core.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", env.Type, err)
	}
	return s.TrySend(b)
}

func (s *Session) TrySend(f core.Frame) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if s.conn == nil {
		return ErrNotConnected
	}
	select {
	case s.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Disconnect tears the session down, fails pending requests and discards
// events that have not been read yet. It never reconnects.
func (s *Session) Disconnect() {
	if !s.shutdown() {
		return
	}
	log.Info().Str("module", "signal").Msg("disconnected by client")
	for {
		select {
		case _, ok := <-s.events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Wait blocks until both pumps have exited.
func (s *Session) Wait() { s.wg.Wait() }

func (s *Session) shutdown() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	close(s.done)
	if s.cancel != nil {
		s.cancel()
	}
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	} else {
		s.closeEvents()
	}
	s.pending.failAll(ErrClosed)
	return true
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) closeEvents() {
	s.evOnce.Do(func() { close(s.events) })
}

func (s *Session) limited(name string) bool {
	return s.opts.Limiter != nil && !s.opts.Limiter.Allow(name)
}

func marshalData(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return b, nil
}
