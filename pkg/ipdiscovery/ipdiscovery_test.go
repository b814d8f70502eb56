package ipdiscovery

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalRequest(t *testing.T) {
	buf, err := Packet{
		Type: TypeRequest,
		SSRC: 7,
	}.Marshal()
	require.NoError(t, err)
	require.Equal(t, Size, len(buf))

	require.Equal(t, uint16(1), binary.BigEndian.Uint16(buf[0:2]))
	require.Equal(t, uint16(70), binary.BigEndian.Uint16(buf[2:4]))
	require.Equal(t, uint32(7), binary.BigEndian.Uint32(buf[4:8]))

	// remaining bytes are zero
	for _, b := range buf[8:] {
		require.Equal(t, byte(0), b)
	}
}

func TestRoundTrip(t *testing.T) {
	buf, err := Packet{
		Type:    TypeResponse,
		SSRC:    348923,
		Address: "203.0.113.7",
		Port:    51000,
	}.Marshal()
	require.NoError(t, err)

	var p Packet
	require.NoError(t, p.Unmarshal(buf))
	require.Equal(t, Packet{
		Type:    TypeResponse,
		SSRC:    348923,
		Address: "203.0.113.7",
		Port:    51000,
	}, p)
}

func TestUnmarshalErrors(t *testing.T) {
	valid, err := Packet{
		Type:    TypeResponse,
		SSRC:    1,
		Address: "198.51.100.1",
		Port:    50001,
	}.Marshal()
	require.NoError(t, err)

	for _, ca := range []struct {
		name string
		buf  func() []byte
	}{
		{
			"too short",
			func() []byte {
				return valid[:Size-1]
			},
		},
		{
			"invalid type",
			func() []byte {
				buf := append([]byte(nil), valid...)
				binary.BigEndian.PutUint16(buf[0:2], 9)
				return buf
			},
		},
		{
			"invalid length",
			func() []byte {
				buf := append([]byte(nil), valid...)
				binary.BigEndian.PutUint16(buf[2:4], 71)
				return buf
			},
		},
		{
			"unterminated address",
			func() []byte {
				buf := append([]byte(nil), valid...)
				for i := 8; i < 72; i++ {
					buf[i] = 'a'
				}
				return buf
			},
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			var p Packet
			require.Error(t, p.Unmarshal(ca.buf()))
		})
	}
}

func TestMarshalAddressTooLong(t *testing.T) {
	long := make([]byte, addressSize)
	for i := range long {
		long[i] = 'a'
	}

	_, err := Packet{
		Type:    TypeResponse,
		Address: string(long),
	}.Marshal()
	require.Error(t, err)
}
