// Package ipdiscovery contains the datagram format used to discover the
// client's external UDP address through the voice server.
package ipdiscovery

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Size is the wire size of a discovery packet.
const Size = 74

// payloadLength is the value of the length field: the packet size minus the
// type and length fields themselves.
const payloadLength = 70

// addressSize is the size of the null-terminated address field.
const addressSize = 64

// Type is the type of a discovery packet.
type Type uint16

// discovery packet types.
const (
	TypeRequest  Type = 1
	TypeResponse Type = 2
)

// Packet is an IP discovery packet.
type Packet struct {
	Type    Type
	SSRC    uint32
	Address string
	Port    uint16
}

// Marshal encodes the packet.
func (p Packet) Marshal() ([]byte, error) {
	if len(p.Address) >= addressSize {
		return nil, fmt.Errorf("address too long (%d bytes)", len(p.Address))
	}

	buf := make([]byte, Size)
	binary.BigEndian.PutUint16(buf[0:2], uint16(p.Type))
	binary.BigEndian.PutUint16(buf[2:4], payloadLength)
	binary.BigEndian.PutUint32(buf[4:8], p.SSRC)
	copy(buf[8:8+addressSize], p.Address)
	binary.BigEndian.PutUint16(buf[72:74], p.Port)
	return buf, nil
}

// Unmarshal decodes a discovery packet.
func (p *Packet) Unmarshal(buf []byte) error {
	if len(buf) < Size {
		return fmt.Errorf("packet too short (%d bytes)", len(buf))
	}

	p.Type = Type(binary.BigEndian.Uint16(buf[0:2]))
	if p.Type != TypeRequest && p.Type != TypeResponse {
		return fmt.Errorf("invalid packet type %d", p.Type)
	}

	if length := binary.BigEndian.Uint16(buf[2:4]); length != payloadLength {
		return fmt.Errorf("invalid length field %d", length)
	}

	p.SSRC = binary.BigEndian.Uint32(buf[4:8])

	addr := buf[8 : 8+addressSize]
	end := bytes.IndexByte(addr, 0)
	if end < 0 {
		return fmt.Errorf("address field is not null-terminated")
	}
	p.Address = string(addr[:end])

	p.Port = binary.BigEndian.Uint16(buf[72:74])
	return nil
}
