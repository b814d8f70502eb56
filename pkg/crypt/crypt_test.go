package crypt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var testKey = [KeySize]byte{
	0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07,
	0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f,
	0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17,
	0x18, 0x19, 0x1a, 0x1b, 0x1c, 0x1d, 0x1e, 0x1f,
}

func TestSealOpenRoundTrip(t *testing.T) {
	for _, ca := range []struct {
		name    string
		payload []byte
	}{
		{"opus frame", []byte{0xF8, 0xFF, 0xFE}},
		{"empty", []byte{}},
		{"long", make([]byte, 1200)},
	} {
		t.Run(ca.name, func(t *testing.T) {
			ci := NewCipher(testKey)

			header := []byte{0x80, 0x78, 0x00, 0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00, 0x07}
			packet := ci.Seal(append([]byte(nil), header...), ca.payload)

			require.Equal(t, header, packet[:len(header)])
			require.Equal(t, len(header)+TagSize+len(ca.payload), len(packet))

			out, err := ci.Open(nil, packet[:len(header)], packet[len(header):])
			require.NoError(t, err)
			require.Equal(t, len(ca.payload), len(out))
			require.Equal(t, ca.payload, out[:len(ca.payload)])
		})
	}
}

func TestOpenTampered(t *testing.T) {
	ci := NewCipher(testKey)

	header := []byte{0x80, 0x78, 0x00, 0x01, 0x00, 0x00, 0x03, 0xC0, 0x00, 0x00, 0x00, 0x07}
	packet := ci.Seal(append([]byte(nil), header...), []byte("some audio"))

	packet[len(packet)-1] ^= 0xFF

	_, err := ci.Open(nil, packet[:len(header)], packet[len(header):])
	require.Equal(t, ErrDecrypt{}, err)
}

func TestOpenWrongKey(t *testing.T) {
	ci := NewCipher(testKey)

	header := []byte{0x80, 0x78, 0x00, 0x01, 0x00, 0x00, 0x03, 0xC0, 0x00, 0x00, 0x00, 0x07}
	packet := ci.Seal(append([]byte(nil), header...), []byte("some audio"))

	other := testKey
	other[0] ^= 0x01

	_, err := NewCipher(other).Open(nil, packet[:len(header)], packet[len(header):])
	require.Equal(t, ErrDecrypt{}, err)
}

func TestOpenTruncated(t *testing.T) {
	ci := NewCipher(testKey)

	_, err := ci.Open(nil, make([]byte, 12), make([]byte, TagSize-1))
	require.Error(t, err)
}
