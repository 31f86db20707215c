// Package devicesim is a frame-speaking actuator simulator for tests and
// manual runs against a real socket.
package devicesim

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/togglectl/internal/protocol/frame"
	"github.com/danmuck/togglectl/internal/protocol/wire"
)

// Config scripts the simulator's behavior.
type Config struct {
	Addr string
	// DropFirst swallows the first N commands without responding, which
	// looks like a receive timeout to the client.
	DropFirst int
	// NackAll refuses every command instead of applying it.
	NackAll bool
	// ResponseDelay pauses before each response.
	ResponseDelay time.Duration
	Limits        frame.Limits
}

// Simulator applies toggle commands to an in-memory device state table and
// answers with ack/nack responses.
type Simulator struct {
	cfg Config
	log zerolog.Logger

	ln net.Listener
	wg sync.WaitGroup

	mu       sync.Mutex
	states   map[string]bool
	received int
}

func New(cfg Config, log zerolog.Logger) *Simulator {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	return &Simulator{
		cfg:    cfg,
		log:    log.With().Str("component", "devicesim").Logger(),
		states: make(map[string]bool),
	}
}

func (s *Simulator) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.log.Info().Str("addr", ln.Addr().String()).Msg("simulator listening")
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listen address.
func (s *Simulator) Addr() string {
	return s.ln.Addr().String()
}

func (s *Simulator) Close() error {
	err := s.ln.Close()
	s.wg.Wait()
	return err
}

// DeviceState reports the last applied state for a device id.
func (s *Simulator) DeviceState(deviceID string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[deviceID]
	return state, ok
}

// Received counts commands seen across all connections, dropped ones
// included.
func (s *Simulator) Received() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}

func (s *Simulator) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return // listener closed
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Simulator) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	peer := conn.RemoteAddr().String()
	s.log.Debug().Str("peer", peer).Msg("client connected")

	for {
		payload, err := frame.ReadFrame(conn, s.cfg.Limits)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug().Err(err).Str("peer", peer).Msg("read ended")
			}
			return
		}
		cmd, err := wire.DecodeCommand(payload)
		if err != nil {
			s.log.Warn().Err(err).Str("peer", peer).Msg("ignoring malformed command")
			continue
		}

		s.mu.Lock()
		s.received++
		seen := s.received
		s.mu.Unlock()
		if seen <= s.cfg.DropFirst {
			s.log.Info().Str("msg_id", cmd.MsgID).Msg("dropping command")
			continue
		}

		if s.cfg.ResponseDelay > 0 {
			time.Sleep(s.cfg.ResponseDelay)
		}

		resp := wire.Response{
			Opcode:   cmd.Opcode,
			DeviceID: cmd.DeviceID,
			MsgID:    cmd.MsgID,
			Status:   wire.StatusAck,
		}
		if s.cfg.NackAll {
			resp.Status = wire.StatusNack
			resp.Detail = "refused by configuration"
		} else {
			s.mu.Lock()
			s.states[cmd.DeviceID] = cmd.State
			s.mu.Unlock()
		}

		out, err := wire.EncodeResponse(resp)
		if err != nil {
			s.log.Error().Err(err).Msg("encode response")
			return
		}
		if err := frame.WriteFrame(conn, out, s.cfg.Limits); err != nil {
			s.log.Debug().Err(err).Str("peer", peer).Msg("write failed")
			return
		}
	}
}
