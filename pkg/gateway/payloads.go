// Package gateway contains the voice gateway WebSocket protocol: opcodes,
// payloads and a connection wrapper.
package gateway

import (
	"encoding/json"
)

// Version is the negotiated voice gateway version.
const Version = 4

// OpCode is the numeric opcode of a gateway frame.
type OpCode int

// gateway opcodes.
const (
	OpIdentify           OpCode = 0
	OpSelectProtocol     OpCode = 1
	OpReady              OpCode = 2
	OpHeartbeat          OpCode = 3
	OpSessionDescription OpCode = 4
	OpSpeaking           OpCode = 5
	OpHeartbeatAck       OpCode = 6
	OpResume             OpCode = 7
	OpHello              OpCode = 8
	OpResumed            OpCode = 9
	OpClientConnect      OpCode = 12
	OpClientDisconnect   OpCode = 13
)

// envelope is the wire framing of every gateway message.
type envelope struct {
	Op OpCode          `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
}

// SpeakingFlags is the bitfield carried by outbound Speaking frames.
type SpeakingFlags uint32

// speaking flags.
const (
	SpeakingMicrophone SpeakingFlags = 1 << 0
	SpeakingSoundshare SpeakingFlags = 1 << 1
	SpeakingPriority   SpeakingFlags = 1 << 2
)

// Identify is the payload that opens a new session.
type Identify struct {
	ServerID  uint64 `json:"server_id,string"`
	UserID    uint64 `json:"user_id,string"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

// Resume is the payload that resumes an interrupted session.
type Resume struct {
	ServerID  uint64 `json:"server_id,string"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

// Hello carries the server-chosen heartbeat interval in milliseconds.
type Hello struct {
	HeartbeatInterval float64 `json:"heartbeat_interval"`
}

// Ready carries the session parameters of the data plane.
type Ready struct {
	SSRC  uint32   `json:"ssrc"`
	IP    string   `json:"ip"`
	Port  uint16   `json:"port"`
	Modes []string `json:"modes"`
}

// SelectProtocol tells the server which transport and encryption mode the
// client picked, along with its discovered external address.
type SelectProtocol struct {
	Protocol string             `json:"protocol"`
	Data     SelectProtocolData `json:"data"`
}

// SelectProtocolData is the inner block of SelectProtocol.
type SelectProtocolData struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Mode    string `json:"mode"`
}

// SessionDescription carries the negotiated mode and session key.
type SessionDescription struct {
	Mode      string   `json:"mode"`
	SecretKey [32]byte `json:"secret_key"`
}

// Speaking is the payload of a Speaking frame, both inbound and outbound.
type Speaking struct {
	Speaking SpeakingFlags `json:"speaking"`
	Delay    int           `json:"delay"`
	SSRC     uint32        `json:"ssrc"`
	UserID   uint64        `json:"user_id,string,omitempty"`
}

// HeartbeatAck echoes the nonce of the last heartbeat.
type HeartbeatAck struct {
	Nonce uint64
}

// Resumed confirms a session resume.
type Resumed struct{}

// ClientConnect announces another client joining the call.
type ClientConnect struct {
	AudioSSRC uint32 `json:"audio_ssrc"`
	VideoSSRC uint32 `json:"video_ssrc"`
	UserID    uint64 `json:"user_id,string"`
}

// ClientDisconnect announces another client leaving the call.
type ClientDisconnect struct {
	UserID uint64 `json:"user_id,string"`
}

// Unknown is any frame whose opcode is not part of the negotiated version.
type Unknown struct {
	Op OpCode
	D  json.RawMessage
}
