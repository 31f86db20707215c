// Package session owns one TCP connection's lifecycle to one device.
//
// Ownership boundary:
// - connect/send/receive/close with per-phase deadlines
// - transport error classification
//
// A DeviceSession is single-use per connection attempt. Reconnect policy
// lives in the engine, not here.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/togglectl/internal/protocol/frame"
)

var (
	ErrConnectTimeout = errors.New("session: connect timeout")
	ErrConnectRefused = errors.New("session: connect refused")
	ErrSendTimeout    = errors.New("session: send timeout")
	ErrRecvTimeout    = errors.New("session: recv timeout")
	ErrPeerClosed     = errors.New("session: peer closed connection")
	ErrNotConnected   = errors.New("session: not connected")
	ErrAlreadyUsed    = errors.New("session: connection already used")
)

// State is the connection lifecycle position.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DeviceSession drives one connection attempt to one device address.
// Any I/O failure drops it back to StateDisconnected; callers wanting a
// fresh connection construct a new session.
type DeviceSession struct {
	addr string
	cfg  Config
	log  zerolog.Logger

	mu     sync.Mutex
	state  State
	used   bool
	conn   net.Conn
	reader *bufio.Reader
}

func New(addr string, cfg Config, log zerolog.Logger) (*DeviceSession, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if addr == "" {
		return nil, fmt.Errorf("%w: device address required", ErrInvalidConfig)
	}
	return &DeviceSession{
		addr:  addr,
		cfg:   cfg,
		log:   log.With().Str("component", "session").Str("addr", addr).Logger(),
		state: StateDisconnected,
	}, nil
}

func (s *DeviceSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect dials the device. It may be called once per session.
func (s *DeviceSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.used {
		s.mu.Unlock()
		return ErrAlreadyUsed
	}
	s.used = true
	s.state = StateConnecting
	s.mu.Unlock()

	dialer := net.Dialer{Timeout: s.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		return classifyDial(err)
	}

	s.mu.Lock()
	s.conn = conn
	s.reader = bufio.NewReader(conn)
	s.state = StateConnected
	s.mu.Unlock()
	s.log.Debug().Msg("connected")
	return nil
}

// Send writes one framed payload with the configured write deadline.
func (s *DeviceSession) Send(payload []byte) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	conn := s.conn
	s.mu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.SendTimeout))
	if err := frame.WriteFrame(conn, payload, s.cfg.Limits); err != nil {
		s.fail()
		return classifyIO(err, ErrSendTimeout)
	}
	return nil
}

// Receive reads one frame, capped at the configured maximum payload size.
// The read deadline is the sooner of RecvTimeout and the context deadline.
func (s *DeviceSession) Receive(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	conn := s.conn
	reader := s.reader
	s.mu.Unlock()

	deadline := time.Now().Add(s.cfg.RecvTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	payload, err := frame.ReadFrame(reader, s.cfg.Limits)
	if err != nil {
		s.fail()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyIO(err, ErrRecvTimeout)
	}
	return payload, nil
}

// Close tears the connection down and unblocks any outstanding read or write.
func (s *DeviceSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		s.state = StateDisconnected
		return nil
	}
	s.state = StateClosing
	err := s.conn.Close()
	s.conn = nil
	s.reader = nil
	s.state = StateDisconnected
	return err
}

func (s *DeviceSession) fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
		s.reader = nil
	}
	s.state = StateDisconnected
}

func classifyDial(err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: %v", ErrConnectRefused, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	}
	return fmt.Errorf("session: dial: %w", err)
}

func classifyIO(err error, onTimeout error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%w: %v", onTimeout, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, frame.ErrTruncatedFrame) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrPeerClosed, err)
	}
	// Framing violations pass through untouched so callers can treat them
	// as fatal for the connection.
	if errors.Is(err, frame.ErrBadMagic) || errors.Is(err, frame.ErrUnsupportedVersion) ||
		errors.Is(err, frame.ErrFrameTooLarge) {
		return err
	}
	return fmt.Errorf("session: io: %w", err)
}
