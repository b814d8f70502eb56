/*
Package govoice is a voice driver for chat platforms that carry voice over a
per-guild gateway and an encrypted RTP data plane.

For a single voice session, the Driver performs the control-plane handshake
over a secure WebSocket, discovers its external UDP address, negotiates an
AEAD session key, mixes concurrent playback tracks into 20ms stereo Opus
frames transmitted as encrypted RTP, and decrypts and decodes received
RTP/RTCP into speaking-state and PCM audio events.
*/
package govoice

import (
	"time"
)

// cryptoMode is the only supported encryption mode: XSalsa20-Poly1305 with
// the nonce derived from the RTP header.
const cryptoMode = "xsalsa20_poly1305"

const (
	// rtpVersion is the RTP protocol version.
	rtpVersion = 2

	// rtpProfileType is the payload type the voice server assigns to Opus
	// audio.
	rtpProfileType = 0x78

	// rtpHeaderSize is the fixed RTP header size. No CSRCs are ever sent,
	// and header extensions travel inside the encrypted payload.
	rtpHeaderSize = 12

	// rtcpHeaderSize is the unencrypted prefix of a received RTCP packet.
	rtcpHeaderSize = 8

	// voicePacketMax is the maximum size of an inbound voice datagram.
	voicePacketMax = 1460

	// timestampStep is the RTP timestamp increment per 20ms frame at 48 kHz.
	timestampStep = 960

	// silentFrameTrail is how many silent datagrams follow the last audible
	// frame before transmission pauses, and symmetrically how many silent
	// inbound frames mark a speaker as stopped.
	silentFrameTrail = 5

	// udpKeepaliveGap is the interval of the data-plane keepalive datagram.
	udpKeepaliveGap = 5 * time.Second

	// keepalivePacketSize is the size of the keepalive datagram: a
	// big-endian SSRC followed by zeros.
	keepalivePacketSize = 8

	// udpQueueSize is the capacity of the UDP writer's outbound datagram
	// queue. Must be a power of two.
	udpQueueSize = 64

	// auxDrainTimeout bounds each socket drain of the auxiliary network
	// loop, so that WebSocket, UDP and control traffic all progress within
	// one mixer tick.
	auxDrainTimeout = 10 * time.Millisecond
)

// silentFrame is the canonical silent Opus frame.
var silentFrame = []byte{0xF8, 0xFF, 0xFE}

// ConnectionInfo is everything needed to open one voice session. It is
// assembled by the host bot from VoiceServerUpdate and VoiceStateUpdate
// events and is immutable once handed to the Driver.
type ConnectionInfo struct {
	// Endpoint is the voice server host. A trailing ":80" is stripped
	// before the gateway URL is built.
	Endpoint string

	// GuildID is the guild whose voice channel is being joined.
	GuildID uint64

	// SessionID is the voice session of the current user.
	SessionID string

	// Token is the ephemeral voice token, distinct from the bot token.
	Token string

	// UserID is the current user.
	UserID uint64
}
