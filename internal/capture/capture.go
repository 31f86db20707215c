// Package capture walks raw byte dumps of actuator-protocol traffic for
// offline analysis. It is a passive consumer: it never touches the live
// engine, only the codec.
package capture

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/togglectl/internal/protocol/frame"
	"github.com/danmuck/togglectl/internal/protocol/wire"
)

// Kind labels what a decoded payload turned out to be.
type Kind string

const (
	KindCommand  Kind = "command"
	KindResponse Kind = "response"
	KindOpaque   Kind = "opaque"
)

// FrameInfo summarizes one frame found in the dump.
type FrameInfo struct {
	Offset     int
	PayloadLen int
	Kind       Kind
	Opcode     string
	DeviceID   string
	MsgID      string
	Status     string
}

// Report is the outcome of scanning one dump.
type Report struct {
	Frames       []FrameInfo
	SkippedBytes int              // bytes discarded while resyncing after bad data
	TailBytes    int              // trailing bytes of an incomplete final frame
	ByMsgID      map[string][]int // frame indexes per msg_id, duplicates stand out
}

// Analyze scans r in chunks, using the codec's resumable decoder the same
// way a session read loop would. On a framing violation it skips one byte
// and resyncs, so a single corrupt region doesn't hide the rest of the dump.
func Analyze(r io.Reader, limits frame.Limits) (Report, error) {
	report := Report{ByMsgID: make(map[string][]int)}
	var (
		buf    []byte
		offset int
		chunk  = make([]byte, 4096)
		eof    bool
	)

	for {
		for !eof && len(buf) < frame.HeaderLen+int(limits.MaxPayloadBytes) {
			n, err := r.Read(chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					return report, fmt.Errorf("capture: read: %w", err)
				}
				eof = true
			}
			if n > 0 {
				break
			}
		}
		if len(buf) == 0 {
			return report, nil
		}

		payload, consumed, err := frame.Decode(buf, limits)
		switch {
		case err == nil:
			info := classify(payload)
			info.Offset = offset
			info.PayloadLen = len(payload)
			if info.MsgID != "" {
				report.ByMsgID[info.MsgID] = append(report.ByMsgID[info.MsgID], len(report.Frames))
			}
			report.Frames = append(report.Frames, info)
			buf = buf[consumed:]
			offset += consumed
		case errors.Is(err, frame.ErrTruncatedFrame):
			if eof {
				report.TailBytes = len(buf)
				return report, nil
			}
		default:
			// Bad magic, bad version, or an oversized length field: shift
			// one byte and look for the next plausible frame start.
			buf = buf[1:]
			offset++
			report.SkippedBytes++
		}
	}
}

func classify(payload []byte) FrameInfo {
	if resp, err := wire.DecodeResponse(payload); err == nil {
		return FrameInfo{
			Kind:     KindResponse,
			Opcode:   resp.Opcode,
			DeviceID: resp.DeviceID,
			MsgID:    resp.MsgID,
			Status:   resp.Status,
		}
	}
	if cmd, err := wire.DecodeCommand(payload); err == nil {
		return FrameInfo{
			Kind:     KindCommand,
			Opcode:   cmd.Opcode,
			DeviceID: cmd.DeviceID,
			MsgID:    cmd.MsgID,
		}
	}
	return FrameInfo{Kind: KindOpaque}
}

// Duplicates returns msg_ids seen in more than one frame: retries on the
// wire, or a device double-answering.
func (r Report) Duplicates() map[string]int {
	out := make(map[string]int)
	for id, idxs := range r.ByMsgID {
		if len(idxs) > 1 {
			out[id] = len(idxs)
		}
	}
	return out
}
