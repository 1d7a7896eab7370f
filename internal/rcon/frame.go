package rcon

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Packet types. The auth response and command request share a value, which
// is how the wire protocol is defined.
const (
	PacketTypeAuth         int32 = 3
	PacketTypeAuthResponse int32 = 2
	PacketTypeCommand      int32 = 2
	PacketTypeResponse     int32 = 0
)

const (
	// FragmentSize is the payload size at which servers split a response.
	// A fragment of exactly this size means more fragments follow.
	FragmentSize = 4096

	// MaxFrameLength bounds the declared length of an incoming frame.
	MaxFrameLength = 1 << 20

	headerSize     = 8 // request id + type
	trailerSize    = 2 // two NUL bytes
	minFrameLength = headerSize + trailerSize
)

// Packet is a single RCON frame.
type Packet struct {
	ID      int32
	Type    int32
	Payload string
}

// Encode serializes a packet as
// [length][requestId][type][payload][0x00 0x00], little-endian.
func Encode(p Packet) []byte {
	body := []byte(p.Payload)
	length := headerSize + len(body) + trailerSize

	buf := make([]byte, 4+length)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(length))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.ID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(p.Type))
	copy(buf[12:], body)
	// trailing two bytes are already zero
	return buf
}

// Decode parses exactly one packet from b.
func Decode(b []byte) (Packet, error) {
	return ReadPacket(bytes.NewReader(b))
}

// WritePacket writes a single encoded packet to w.
func WritePacket(w io.Writer, p Packet) error {
	if _, err := w.Write(Encode(p)); err != nil {
		return fmt.Errorf("write rcon packet: %w", err)
	}
	return nil
}

// ReadPacket reads one packet from r.
// A clean EOF before the length prefix is reported as ErrConnectionClosed.
func ReadPacket(r io.Reader) (Packet, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Packet{}, fmt.Errorf("%w: %w", ErrConnectionClosed, err)
		}
		return Packet{}, fmt.Errorf("read rcon length: %w", err)
	}

	length := int32(binary.LittleEndian.Uint32(lenBuf[:]))
	if length < minFrameLength || length > MaxFrameLength {
		return Packet{}, fmt.Errorf("%w: declared length %d", ErrMalformedFrame, length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return Packet{}, fmt.Errorf("incomplete rcon packet: %w", err)
	}

	return Packet{
		ID:      int32(binary.LittleEndian.Uint32(data[0:4])),
		Type:    int32(binary.LittleEndian.Uint32(data[4:8])),
		Payload: string(data[headerSize : length-trailerSize]),
	}, nil
}
