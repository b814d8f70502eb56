package govoice

import (
	"net"
	"time"

	"github.com/corvomedia/govoice/pkg/crypt"
	"github.com/corvomedia/govoice/pkg/gateway"
	"github.com/corvomedia/govoice/pkg/ringbuffer"
)

// interconnect bundles the channels through which the driver's tasks
// communicate. Each task owns exactly one receiver; every sender is shared.
type interconnect struct {
	core   chan coreMessage
	mixer  chan mixerMessage
	aux    chan auxMessage
	events chan eventMessage
}

func newInterconnect() *interconnect {
	return &interconnect{
		core:   make(chan coreMessage, 16),
		mixer:  make(chan mixerMessage, 64),
		aux:    make(chan auxMessage, 64),
		events: make(chan eventMessage, 256),
	}
}

// fireCore hands a core event to the event dispatcher without ever blocking
// the network tasks. Events are dropped if the dispatcher has fallen a full
// queue behind.
func (ic *interconnect) fireCore(t CoreEventType, ctx EventContext) {
	select {
	case ic.events <- eventFireCore{t: t, ctx: ctx}:
	default:
	}
}

// coreMessage is a status message from a task to the driver supervisor.
type coreMessage int

const (
	// coreReconnect asks the supervisor to attempt a session resume.
	coreReconnect coreMessage = iota
)

// mixerConnection is the mixer's grip on a live data plane: the session
// cipher and the UDP writer's outbound datagram queue.
type mixerConnection struct {
	cipher *crypt.Cipher
	udp    *ringbuffer.RingBuffer
}

// mixer messages.

type mixerMessage interface {
	isMixerMessage()
}

// mixerAddTrack adds a playback track to the mix.
type mixerAddTrack struct {
	track *Track
}

// mixerSetTrack stops every current track and replaces them with the given
// one. A nil track just stops everything.
type mixerSetTrack struct {
	track *Track
}

// mixerSetBitrate reconfigures the Opus encoder.
type mixerSetBitrate struct {
	bitrate Bitrate
}

// mixerSetConn hands the mixer a live data plane.
type mixerSetConn struct {
	conn *mixerConnection
	ssrc uint32
}

// mixerPoison stops the mixer after the current iteration.
type mixerPoison struct{}

func (mixerAddTrack) isMixerMessage()   {}
func (mixerSetTrack) isMixerMessage()   {}
func (mixerSetBitrate) isMixerMessage() {}
func (mixerSetConn) isMixerMessage()    {}
func (mixerPoison) isMixerMessage()     {}

// aux messages.

type auxMessage interface {
	isAuxMessage()
}

// auxSetUDP hands the auxiliary task the receive half of the voice socket.
type auxSetUDP struct {
	conn net.PacketConn
}

// auxSetWS hands the auxiliary task a live gateway connection.
type auxSetWS struct {
	conn *gateway.Conn
}

// auxSetCipher hands the auxiliary task the session cipher.
type auxSetCipher struct {
	cipher *crypt.Cipher
}

// auxSetSsrc sets the session SSRC used in outbound speaking frames.
type auxSetSsrc struct {
	ssrc uint32
}

// auxSetKeepalive sets the WebSocket heartbeat interval.
type auxSetKeepalive struct {
	interval time.Duration
}

// auxSpeaking is the mixer announcing a speaking-state flip to be forwarded
// over the gateway.
type auxSpeaking struct {
	speaking bool
}

// auxPoison stops the auxiliary task after the current iteration.
type auxPoison struct{}

func (auxSetUDP) isAuxMessage()       {}
func (auxSetWS) isAuxMessage()        {}
func (auxSetCipher) isAuxMessage()    {}
func (auxSetSsrc) isAuxMessage()      {}
func (auxSetKeepalive) isAuxMessage() {}
func (auxSpeaking) isAuxMessage()     {}
func (auxPoison) isAuxMessage()       {}

// event messages.

type eventMessage interface {
	isEventMessage()
}

// eventAddGlobal registers a global event.
type eventAddGlobal struct {
	data *EventData
}

// eventFireCore fires the actions attached to a core event.
type eventFireCore struct {
	t   CoreEventType
	ctx EventContext
}

// eventPoison stops the event dispatcher.
type eventPoison struct{}

func (eventAddGlobal) isEventMessage() {}
func (eventFireCore) isEventMessage()  {}
func (eventPoison) isEventMessage()    {}
