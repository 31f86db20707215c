package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte(`{"opcode":"toggle","device_id":"dev-1","msg_id":"ab12","state":true}`)
	buf, err := Encode(payload, DefaultLimits())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, consumed, err := Decode(buf, DefaultLimits())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if consumed != len(buf) {
		t.Fatalf("consumed=%d want=%d", consumed, len(buf))
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: got=%q", string(got))
	}
}

func TestEncodeEmptyPayload(t *testing.T) {
	buf, err := Encode(nil, DefaultLimits())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, consumed, err := Decode(buf, DefaultLimits())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if consumed != HeaderLen || len(got) != 0 {
		t.Fatalf("consumed=%d len=%d", consumed, len(got))
	}
}

func TestEncodeFrameTooLarge(t *testing.T) {
	limits := Limits{MaxPayloadBytes: 8}
	_, err := Encode(make([]byte, 9), limits)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestDecodeResumableAcrossPartialReads(t *testing.T) {
	payload := []byte("partial-read-payload")
	buf, err := Encode(payload, DefaultLimits())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Feed the frame one byte at a time; every prefix short of the full
	// frame must come back as ErrTruncatedFrame.
	for i := 0; i < len(buf); i++ {
		_, _, err := Decode(buf[:i], DefaultLimits())
		if !errors.Is(err, ErrTruncatedFrame) {
			t.Fatalf("prefix len=%d: expected ErrTruncatedFrame, got %v", i, err)
		}
	}
	got, consumed, err := Decode(buf, DefaultLimits())
	if err != nil {
		t.Fatalf("full decode: %v", err)
	}
	if consumed != len(buf) || !bytes.Equal(got, payload) {
		t.Fatalf("full decode mismatch: consumed=%d", consumed)
	}
}

func TestDecodeTrailingBytesLeftForNextFrame(t *testing.T) {
	first, _ := Encode([]byte("one"), DefaultLimits())
	second, _ := Encode([]byte("two"), DefaultLimits())
	stream := append(append([]byte{}, first...), second...)

	p1, consumed, err := Decode(stream, DefaultLimits())
	if err != nil {
		t.Fatalf("decode first: %v", err)
	}
	if string(p1) != "one" {
		t.Fatalf("first payload=%q", string(p1))
	}
	p2, _, err := Decode(stream[consumed:], DefaultLimits())
	if err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if string(p2) != "two" {
		t.Fatalf("second payload=%q", string(p2))
	}
}

func TestDecodeBadMagic(t *testing.T) {
	buf, _ := Encode([]byte("x"), DefaultLimits())
	buf[0] = 0xDE
	buf[1] = 0xAD
	_, _, err := Decode(buf, DefaultLimits())
	if !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestDecodeUnsupportedVersion(t *testing.T) {
	buf, _ := Encode([]byte("x"), DefaultLimits())
	buf[2] = 0x7F
	_, _, err := Decode(buf, DefaultLimits())
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestDecodeDeclaredLengthOverLimit(t *testing.T) {
	limits := Limits{MaxPayloadBytes: 16}
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	buf[2] = Version
	binary.BigEndian.PutUint32(buf[3:7], 1<<20)
	_, _, err := Decode(buf, limits)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadWriteFrameStream(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("stream"), DefaultLimits()); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "stream" {
		t.Fatalf("payload=%q", string(got))
	}
	// Next read hits clean EOF, not a torn frame.
	if _, err := ReadFrame(&buf, DefaultLimits()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadFrameTornMidPayload(t *testing.T) {
	full, _ := Encode([]byte("torn-off"), DefaultLimits())
	_, err := ReadFrame(bytes.NewReader(full[:len(full)-2]), DefaultLimits())
	if !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("expected ErrTruncatedFrame, got %v", err)
	}
}
