package frame

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	// Magic marks the start of every actuator-protocol frame.
	Magic uint16 = 0xF00D
	// Version is the only wire version this codec speaks.
	Version byte = 0x01
	// HeaderLen is magic(2) + version(1) + payload length(4).
	HeaderLen = 7
)

var (
	ErrBadMagic           = errors.New("frame: bad magic")
	ErrUnsupportedVersion = errors.New("frame: unsupported version")
	ErrTruncatedFrame     = errors.New("frame: truncated frame")
	ErrFrameTooLarge      = errors.New("frame: frame too large")
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 256 * 1024,
	}
}

// Encode wraps payload in a wire frame. Fails only when payload exceeds the limit.
func Encode(payload []byte, limits Limits) ([]byte, error) {
	if uint64(len(payload)) > uint64(limits.MaxPayloadBytes) {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, HeaderLen+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	buf[2] = Version
	binary.BigEndian.PutUint32(buf[3:7], uint32(len(payload)))
	copy(buf[HeaderLen:], payload)
	return buf, nil
}

// Decode extracts the first complete frame from buf and reports how many bytes
// it consumed. It keeps no state: callers accumulate bytes across partial
// socket reads and re-invoke Decode until it stops returning ErrTruncatedFrame.
// ErrTruncatedFrame is recoverable (read more bytes); ErrBadMagic,
// ErrUnsupportedVersion and ErrFrameTooLarge are fatal for the connection.
func Decode(buf []byte, limits Limits) (payload []byte, consumed int, err error) {
	if len(buf) < HeaderLen {
		return nil, 0, ErrTruncatedFrame
	}
	if binary.BigEndian.Uint16(buf[0:2]) != Magic {
		return nil, 0, ErrBadMagic
	}
	if buf[2] != Version {
		return nil, 0, ErrUnsupportedVersion
	}
	length := binary.BigEndian.Uint32(buf[3:7])
	if length > limits.MaxPayloadBytes {
		return nil, 0, ErrFrameTooLarge
	}
	total := HeaderLen + int(length)
	if len(buf) < total {
		return nil, 0, ErrTruncatedFrame
	}
	payload = make([]byte, length)
	copy(payload, buf[HeaderLen:total])
	return payload, total, nil
}

// ReadFrame reads exactly one frame from r. A clean EOF before any header byte
// is returned as io.EOF so callers can tell peer close from a torn frame.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	var header [HeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncatedFrame
		}
		return nil, err
	}
	if binary.BigEndian.Uint16(header[0:2]) != Magic {
		return nil, ErrBadMagic
	}
	if header[2] != Version {
		return nil, ErrUnsupportedVersion
	}
	length := binary.BigEndian.Uint32(header[3:7])
	if length > limits.MaxPayloadBytes {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, ErrTruncatedFrame
			}
			return nil, err
		}
	}
	return payload, nil
}

// WriteFrame encodes payload and writes the full frame to w.
func WriteFrame(w io.Writer, payload []byte, limits Limits) error {
	buf, err := Encode(payload, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}
