package govoice

import (
	"gopkg.in/hraban/opus.v2"
)

// defaultBitrate is the encoder bitrate used when none is configured.
const defaultBitrate = 128000

// Bitrate selects the Opus encoder bitrate. The zero value picks the
// 128 kbps default; positive values are bits per second.
type Bitrate int

// bitrate modes.
const (
	// BitrateDefault encodes at 128 kbps.
	BitrateDefault Bitrate = 0

	// BitrateAuto lets the encoder choose.
	BitrateAuto Bitrate = -1

	// BitrateMax encodes at the highest rate the encoder supports.
	BitrateMax Bitrate = -2
)

// Bits returns a fixed bitrate in bits per second. Sensible values range
// between 512 and 512000.
func Bits(b int) Bitrate {
	return Bitrate(b)
}

// apply configures enc with the selected bitrate.
func (b Bitrate) apply(enc *opus.Encoder) error {
	switch {
	case b == BitrateAuto:
		return enc.SetBitrateToAuto()

	case b == BitrateMax:
		return enc.SetBitrateToMax()

	case b > 0:
		return enc.SetBitrate(int(b))
	}

	return enc.SetBitrate(defaultBitrate)
}
