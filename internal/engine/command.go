package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var ErrInvalidCommandSpec = errors.New("engine: invalid command")

// State is one position in the per-command lifecycle.
type State string

const (
	StateCreated          State = "created"
	StateQueued           State = "queued"
	StateSent             State = "sent"
	StateAwaitingResponse State = "awaiting_response"
	StateRetry            State = "retry"
	StateSuccess          State = "success"
	StateFailed           State = "failed"
)

// Outcome is a terminal command result.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Failure reasons carried by terminal results.
const (
	ReasonQueueFull           = "queue_full"
	ReasonCancelled           = "cancelled"
	ReasonDeadlineExceeded    = "deadline_exceeded"
	ReasonDeviceRejected      = "device_rejected"
	ReasonProtocolError       = "protocol_error"
	ReasonAllAttemptsTimedOut = "all_attempts_timed_out"
	ReasonAttemptsExhausted   = "attempts_exhausted"
)

// Result is the single terminal outcome a command resolves to.
type Result struct {
	Outcome  Outcome
	Reason   string
	Err      error
	Attempts int
}

func (r Result) Success() bool {
	return r.Outcome == OutcomeSuccess
}

// Command is one logical intent against one device. Its MsgID is assigned
// once here and reused verbatim on every retry attempt: it is the
// idempotency key.
type Command struct {
	DeviceID     string
	Addr         string
	Opcode       string
	DesiredState bool
	MsgID        string

	ctx context.Context

	mu          sync.Mutex
	state       State
	resolveOnce sync.Once
	done        chan Result
}

// NewCommand validates the intent and assigns its message identity.
// ctx governs cancellation for the command's whole lifetime.
func NewCommand(ctx context.Context, deviceID, addr, opcode string, desired bool) (*Command, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, fmt.Errorf("%w: missing device id", ErrInvalidCommandSpec)
	}
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("%w: missing device address", ErrInvalidCommandSpec)
	}
	if strings.TrimSpace(opcode) == "" {
		return nil, fmt.Errorf("%w: missing opcode", ErrInvalidCommandSpec)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id := uuid.New()
	return &Command{
		DeviceID:     deviceID,
		Addr:         addr,
		Opcode:       opcode,
		DesiredState: desired,
		MsgID:        hex.EncodeToString(id[:]),
		ctx:          ctx,
		state:        StateCreated,
		done:         make(chan Result, 1),
	}, nil
}

func (c *Command) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Command) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// resolve delivers the terminal result exactly once.
func (c *Command) resolve(res Result) {
	c.resolveOnce.Do(func() {
		if res.Success() {
			c.setState(StateSuccess)
		} else {
			c.setState(StateFailed)
		}
		c.done <- res
	})
}

// Wait blocks until the command reaches a terminal outcome or ctx ends.
func (c *Command) Wait(ctx context.Context) (Result, error) {
	select {
	case res := <-c.done:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
