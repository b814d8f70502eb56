// Package crypt contains the XSalsa20-Poly1305 session cipher that protects
// voice datagrams.
package crypt

import (
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// KeySize is the size of a session key.
	KeySize = 32

	// NonceSize is the size of an encryption nonce.
	NonceSize = 24

	// TagSize is the size of the Poly1305 authentication tag, which sits
	// between the packet header and the ciphertext.
	TagSize = secretbox.Overhead
)

// ErrDecrypt is returned when a sealed payload fails authentication.
type ErrDecrypt struct{}

// Error implements the error interface.
func (e ErrDecrypt) Error() string {
	return "payload failed decryption"
}

// Cipher seals and opens voice packet payloads with a XSalsa20-Poly1305
// session key. The nonce of each packet is its unencrypted header, zero-padded
// to 24 bytes. A Cipher is safe for concurrent use by the transmit and
// receive paths, since the key is never mutated after construction.
type Cipher struct {
	key [KeySize]byte
}

// NewCipher allocates a Cipher from a session key.
func NewCipher(key [KeySize]byte) *Cipher {
	return &Cipher{key: key}
}

// Seal encrypts payload and appends the tag and ciphertext to header,
// returning the full packet. header must be at most NonceSize bytes; it is
// both the authenticated nonce source and the packet prefix.
func (c *Cipher) Seal(header []byte, payload []byte) []byte {
	var nonce [NonceSize]byte
	copy(nonce[:], header)
	return secretbox.Seal(header, payload, &nonce, &c.key)
}

// Open authenticates and decrypts box, the tag-plus-ciphertext section of a
// packet whose unencrypted prefix is header. The plaintext is appended to dst,
// which may be nil.
func (c *Cipher) Open(dst []byte, header []byte, box []byte) ([]byte, error) {
	if len(box) < TagSize {
		return nil, fmt.Errorf("sealed payload too short (%d bytes)", len(box))
	}

	var nonce [NonceSize]byte
	copy(nonce[:], header)

	out, ok := secretbox.Open(dst, box, &nonce, &c.key)
	if !ok {
		return nil, ErrDecrypt{}
	}
	return out, nil
}
