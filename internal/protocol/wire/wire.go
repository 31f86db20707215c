// Package wire owns the JSON payload contract carried inside frames.
//
// Ownership boundary:
// - command payload shape and validation
// - response payload shape, ack/nack status
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	OpcodeToggle = "toggle"

	StatusAck  = "ack"
	StatusNack = "nack"
)

var (
	ErrInvalidCommand  = errors.New("wire: invalid command")
	ErrInvalidResponse = errors.New("wire: invalid response")
)

// Command is the caller intent carried device-ward on every attempt.
// MsgID is assigned once per logical command and repeats across retries.
type Command struct {
	Opcode   string `json:"opcode"`
	DeviceID string `json:"device_id"`
	MsgID    string `json:"msg_id"`
	State    bool   `json:"state"`
}

func (c Command) Validate() error {
	if strings.TrimSpace(c.Opcode) == "" {
		return fmt.Errorf("%w: missing opcode", ErrInvalidCommand)
	}
	if strings.TrimSpace(c.DeviceID) == "" {
		return fmt.Errorf("%w: missing device_id", ErrInvalidCommand)
	}
	if strings.TrimSpace(c.MsgID) == "" {
		return fmt.Errorf("%w: missing msg_id", ErrInvalidCommand)
	}
	return nil
}

func EncodeCommand(c Command) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(c)
}

func DecodeCommand(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if err := c.Validate(); err != nil {
		return Command{}, err
	}
	return c, nil
}

// Response echoes the command's msg_id plus an explicit ack/nack status.
// Status is required: a response without it is malformed, there is no
// "any reply means success" fallback.
type Response struct {
	Opcode   string `json:"opcode"`
	DeviceID string `json:"device_id"`
	MsgID    string `json:"msg_id"`
	Status   string `json:"status"`
	Detail   string `json:"detail,omitempty"`
}

func (r Response) Validate() error {
	if strings.TrimSpace(r.Opcode) == "" {
		return fmt.Errorf("%w: missing opcode", ErrInvalidResponse)
	}
	if strings.TrimSpace(r.MsgID) == "" {
		return fmt.Errorf("%w: missing msg_id", ErrInvalidResponse)
	}
	if r.Status != StatusAck && r.Status != StatusNack {
		return fmt.Errorf("%w: status must be %q or %q, got %q", ErrInvalidResponse, StatusAck, StatusNack, r.Status)
	}
	return nil
}

func (r Response) Acked() bool {
	return r.Status == StatusAck
}

func EncodeResponse(r Response) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

func DecodeResponse(data []byte) (Response, error) {
	var r Response
	if err := json.Unmarshal(data, &r); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := r.Validate(); err != nil {
		return Response{}, err
	}
	return r, nil
}
