package govoice

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/corvomedia/govoice/pkg/crypt"
	"github.com/corvomedia/govoice/pkg/gateway"
)

// auxNetwork is the receive side of the driver. It is the single owner of
// the WebSocket and the receive half of the UDP socket: it heartbeats the
// gateway, forwards inbound control frames as core events, and decrypts,
// demultiplexes and decodes inbound RTP/RTCP.
//
// Errors on inbound data are warnings, never fatal: received packets are
// adversarial input. Only a WebSocket failure (a failed write or a dead read
// side) escalates, by nulling the socket and asking the supervisor to resume.
type auxNetwork struct {
	ic  *interconnect
	log *slog.Logger

	ws     *gateway.Conn
	udp    net.PacketConn
	cipher *crypt.Cipher
	ssrc   uint32

	heartbeatInterval time.Duration
	heartbeatTime     time.Time
	lastNonce         uint64
	hasNonce          bool

	speaking gateway.SpeakingFlags
	wsFailed bool

	ssrcStates map[uint32]*ssrcState
	packetBuf  []byte
	scratch    []byte
}

func newAuxNetwork(ic *interconnect, log *slog.Logger) *auxNetwork {
	return &auxNetwork{
		ic:         ic,
		log:        log.With("task", "aux"),
		ssrcStates: make(map[uint32]*ssrcState),
		packetBuf:  make([]byte, voicePacketMax),
		scratch:    make([]byte, 0, voicePacketMax),
	}
}

func (a *auxNetwork) run() {
	for {
		a.processWS()
		a.processUDP()

		if !a.drainInbox() {
			if a.ws != nil {
				a.ws.Close() //nolint:errcheck
			}
			a.log.Debug("auxiliary network task stopped")
			return
		}

		if a.wsFailed {
			a.wsFailed = false
			if a.ws != nil {
				a.ws.Close() //nolint:errcheck
				a.ws = nil
			}
			a.requestReconnect()
		}

		if a.ws == nil && a.udp == nil {
			// Nothing to drain; avoid spinning on the control inbox.
			time.Sleep(auxDrainTimeout)
		}
	}
}

// processWS sends a due heartbeat and drains inbound control frames within a
// bounded window.
func (a *auxNetwork) processWS() {
	if a.ws == nil {
		return
	}

	if a.heartbeatInterval > 0 && !time.Now().Before(a.heartbeatTime) {
		nonce := rand.Uint64()
		a.lastNonce = nonce
		a.hasNonce = true

		if err := a.ws.WriteHeartbeat(nonce); err != nil {
			a.log.Error("unable to send heartbeat", "error", err)
			a.wsFailed = true
			return
		}
		a.heartbeatTime = a.heartbeatTime.Add(a.heartbeatInterval)
	}

	deadline := time.Now().Add(auxDrainTimeout)

	for {
		ev, err := a.ws.ReadEvent(deadline)
		if err != nil {
			if gateway.IsTimeout(err) {
				return
			}

			a.log.Error("gateway read failed", "error", err)
			a.wsFailed = true
			return
		}

		switch ev := ev.(type) {
		case *gateway.ParseError:
			a.log.Warn("unparsable gateway frame", "error", ev.Err)
		case *gateway.Speaking:
			a.ic.fireCore(CoreSpeakingStateUpdate, EventContext{Speaking: ev})

		case *gateway.ClientConnect:
			a.ic.fireCore(CoreClientConnect, EventContext{ClientConnect: ev})

		case *gateway.ClientDisconnect:
			a.ic.fireCore(CoreClientDisconnect, EventContext{ClientDisconnect: ev})

		case *gateway.HeartbeatAck:
			if a.hasNonce {
				if ev.Nonce == a.lastNonce {
					a.hasNonce = false
					a.log.Debug("heartbeat acknowledged")
				} else {
					a.log.Warn("heartbeat nonce mismatch",
						"expected", a.lastNonce,
						"got", ev.Nonce,
					)
				}
			}

		case *gateway.Unknown:
			a.log.Warn("unknown gateway opcode", "op", int(ev.Op))

		default:
			a.log.Debug("unexpected gateway frame outside handshake")
		}
	}
}

// processUDP drains inbound datagrams within a bounded window.
func (a *auxNetwork) processUDP() {
	if a.udp == nil {
		return
	}

	a.udp.SetReadDeadline(time.Now().Add(auxDrainTimeout)) //nolint:errcheck

	for {
		n, _, err := a.udp.ReadFrom(a.packetBuf)
		if err != nil {
			return
		}
		a.handlePacket(a.packetBuf[:n])
	}
}

// handlePacket demultiplexes one datagram by its payload-type byte.
func (a *auxNetwork) handlePacket(packet []byte) {
	if a.cipher == nil {
		return
	}

	if len(packet) < rtcpHeaderSize {
		a.log.Warn("runt voice datagram", "size", len(packet))
		return
	}

	if pt := packet[1]; pt >= 200 && pt <= 204 {
		a.handleRTCP(packet)
		return
	}

	a.handleRTP(packet)
}

func (a *auxNetwork) handleRTP(packet []byte) {
	if len(packet) < rtpHeaderSize+crypt.TagSize {
		a.log.Warn("runt RTP packet", "size", len(packet))
		return
	}

	version := packet[0] >> 6
	payloadType := packet[1] & 0x7F
	if version != rtpVersion || payloadType != rtpProfileType {
		a.log.Warn("illegal RTP packet",
			"version", version,
			"payload_type", payloadType,
		)
		return
	}

	plain, err := a.cipher.Open(a.scratch[:0], packet[:rtpHeaderSize], packet[rtpHeaderSize:])
	if err != nil {
		a.log.Warn("RTP decryption failed", "error", err)
		return
	}

	offset := 0
	if packet[0]&0x10 != 0 {
		offset, err = extensionLength(plain)
		if err != nil {
			a.log.Warn("illegal RTP extension block", "error", err)
			return
		}
	}

	sequence := binary.BigEndian.Uint16(packet[2:4])
	ssrc := binary.BigEndian.Uint32(packet[8:12])

	state, ok := a.ssrcStates[ssrc]
	if !ok {
		state, err = newSsrcState(sequence)
		if err != nil {
			a.log.Error("unable to create decoder", "ssrc", ssrc, "error", err)
			return
		}
		a.ssrcStates[ssrc] = state
	}

	delta, audio, err := state.process(sequence, plain[offset:])
	if err != nil {
		if err == errReordered {
			return
		}
		a.log.Warn("RTP decode failed", "ssrc", ssrc, "error", err)
		return
	}

	switch delta {
	case deltaStart:
		a.ic.fireCore(CoreSpeakingUpdate, EventContext{
			SpeakingUpdate: &SpeakingUpdate{SSRC: ssrc, Speaking: true},
		})

	case deltaStop:
		a.ic.fireCore(CoreSpeakingUpdate, EventContext{
			SpeakingUpdate: &SpeakingUpdate{SSRC: ssrc, Speaking: false},
		})
	}

	a.ic.fireCore(CoreVoicePacket, EventContext{
		Voice: &VoicePacket{
			Audio: audio,
			Packet: &rtp.Packet{
				Header: rtp.Header{
					Version:        version,
					Extension:      packet[0]&0x10 != 0,
					Marker:         packet[1]&0x80 != 0,
					PayloadType:    payloadType,
					SequenceNumber: sequence,
					Timestamp:      binary.BigEndian.Uint32(packet[4:8]),
					SSRC:           ssrc,
				},
				Payload: append([]byte(nil), plain...),
			},
			PayloadOffset: offset,
		},
	})
}

func (a *auxNetwork) handleRTCP(packet []byte) {
	if len(packet) < rtcpHeaderSize+crypt.TagSize {
		a.log.Warn("runt RTCP packet", "size", len(packet))
		return
	}

	plain, err := a.cipher.Open(a.scratch[:0], packet[:rtcpHeaderSize], packet[rtcpHeaderSize:])
	if err != nil {
		a.log.Warn("RTCP decryption failed", "error", err)
		return
	}

	raw := make([]byte, 0, rtcpHeaderSize+len(plain))
	raw = append(raw, packet[:rtcpHeaderSize]...)
	raw = append(raw, plain...)

	packets, err := rtcp.Unmarshal(raw)
	if err != nil {
		a.log.Warn("unparsable RTCP packet", "error", err)
		packets = nil
	}

	a.ic.fireCore(CoreRtcpPacket, EventContext{
		Rtcp: &RtcpPacket{
			Packets:       packets,
			Raw:           raw,
			PayloadOffset: rtcpHeaderSize,
		},
	})
}

// drainInbox applies queued control messages. It returns false on poison.
func (a *auxNetwork) drainInbox() bool {
	for {
		select {
		case msg := <-a.ic.aux:
			switch msg := msg.(type) {
			case auxSetUDP:
				a.udp = msg.conn

			case auxSetWS:
				a.ws = msg.conn
				if a.heartbeatInterval > 0 {
					a.heartbeatTime = time.Now().Add(a.heartbeatInterval)
				}

			case auxSetCipher:
				a.cipher = msg.cipher

			case auxSetSsrc:
				a.ssrc = msg.ssrc

			case auxSetKeepalive:
				a.heartbeatInterval = msg.interval
				a.heartbeatTime = time.Now().Add(msg.interval)

			case auxSpeaking:
				a.setSpeaking(msg.speaking)

			case auxPoison:
				return false
			}

		default:
			return true
		}
	}
}

// setSpeaking forwards a microphone-state flip over the gateway.
func (a *auxNetwork) setSpeaking(speaking bool) {
	current := a.speaking&gateway.SpeakingMicrophone != 0
	if current == speaking {
		return
	}

	if speaking {
		a.speaking |= gateway.SpeakingMicrophone
	} else {
		a.speaking &^= gateway.SpeakingMicrophone
	}

	if a.ws == nil {
		return
	}

	err := a.ws.WriteEvent(gateway.OpSpeaking, gateway.Speaking{
		Speaking: a.speaking,
		Delay:    0,
		SSRC:     a.ssrc,
	})
	if err != nil {
		a.log.Error("unable to send speaking update", "error", err)
		a.wsFailed = true
	}
}

func (a *auxNetwork) requestReconnect() {
	select {
	case a.ic.core <- coreReconnect:
	default:
	}
}

// extensionLength returns the size of the one-byte-profile header extension
// block at the start of a decrypted payload: a BE DE profile marker, a
// big-endian length in 4-byte words, then that many words.
func extensionLength(payload []byte) (int, error) {
	if len(payload) < 4 {
		return 0, errors.New("payload too short for extension header")
	}

	words := binary.BigEndian.Uint16(payload[2:4])
	length := 4 + 4*int(words)
	if len(payload) < length {
		return 0, errors.New("payload too short for extension body")
	}

	return length, nil
}
