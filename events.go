package govoice

import (
	"log/slog"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/corvomedia/govoice/pkg/gateway"
)

// TrackEvent is a lifecycle transition of one playback track.
type TrackEvent int

// track events.
const (
	// TrackPlay fires when a track starts or resumes playing.
	TrackPlay TrackEvent = iota

	// TrackPause fires when a track is paused.
	TrackPause

	// TrackEnd fires when a track finishes or is stopped. It is terminal.
	TrackEnd

	// TrackLoop fires when a track restarts due to its loop setting.
	TrackLoop
)

// CoreEventType is a connection-wide event produced by the network tasks.
type CoreEventType int

// core events.
const (
	// CoreSpeakingStateUpdate fires when the server relays another client's
	// Speaking frame.
	CoreSpeakingStateUpdate CoreEventType = iota

	// CoreSpeakingUpdate fires when an inbound audio stream transitions
	// between speech and silence.
	CoreSpeakingUpdate

	// CoreVoicePacket fires for every decoded inbound voice packet.
	CoreVoicePacket

	// CoreRtcpPacket fires for every inbound RTCP packet.
	CoreRtcpPacket

	// CoreClientConnect fires when another client joins the call.
	CoreClientConnect

	// CoreClientDisconnect fires when another client leaves the call.
	CoreClientDisconnect

	// CoreReconnect fires after the driver resumes an interrupted session.
	CoreReconnect
)

// SpeakingUpdate reports an inbound stream starting or stopping speech,
// derived from its silent-frame runs.
type SpeakingUpdate struct {
	SSRC     uint32
	Speaking bool
}

// VoicePacket is one decrypted and decoded inbound voice packet.
type VoicePacket struct {
	// Audio is the decoded stereo PCM, interleaved, 48 kHz.
	Audio []int16

	// Packet is the parsed RTP packet. Its payload is the decrypted
	// payload, including any header extension block.
	Packet *rtp.Packet

	// PayloadOffset is where the Opus data starts within Packet.Payload,
	// after any header extension.
	PayloadOffset int
}

// RtcpPacket is one decrypted inbound RTCP packet.
type RtcpPacket struct {
	// Packets holds the parsed compound packet, or nil if it did not parse.
	Packets []rtcp.Packet

	// Raw is the decrypted datagram.
	Raw []byte

	// PayloadOffset is where the decrypted body starts within Raw.
	PayloadOffset int
}

// EventContext carries the data of the event currently firing. Only the
// fields relevant to the event's type are set.
type EventContext struct {
	// Track is a snapshot of the track an event fired for.
	Track *TrackState

	Speaking         *gateway.Speaking
	SpeakingUpdate   *SpeakingUpdate
	Voice            *VoicePacket
	Rtcp             *RtcpPacket
	ClientConnect    *gateway.ClientConnect
	ClientDisconnect *gateway.ClientDisconnect
}

// Action is invoked when its event fires. Returning a non-nil event replaces
// the trigger, which lets periodic actions reschedule themselves.
type Action func(ctx *EventContext) *Event

type eventKind int

const (
	eventPeriodic eventKind = iota
	eventDelayed
	eventTrack
	eventCore
)

// Event selects when an attached Action fires.
type Event struct {
	kind   eventKind
	period time.Duration
	phase  time.Duration
	delay  time.Duration
	track  TrackEvent
	core   CoreEventType
}

// Periodic fires repeatedly with the given period. A non-zero phase delays
// the first firing; otherwise the first firing happens after one period.
func Periodic(period time.Duration, phase time.Duration) Event {
	return Event{kind: eventPeriodic, period: period, phase: phase}
}

// Delayed fires once after the given delay.
func Delayed(delay time.Duration) Event {
	return Event{kind: eventDelayed, delay: delay}
}

// OnTrack fires on a track lifecycle transition.
func OnTrack(ev TrackEvent) Event {
	return Event{kind: eventTrack, track: ev}
}

// OnCore fires on a connection-wide event.
func OnCore(ev CoreEventType) Event {
	return Event{kind: eventCore, core: ev}
}

// EventData pairs an event with its action.
type EventData struct {
	event    Event
	action   Action
	fireTime time.Duration
}

// NewEventData allocates an EventData.
func NewEventData(event Event, action Action) *EventData {
	return &EventData{
		event:  event,
		action: action,
	}
}

// schedule computes the next fire time of a timed event relative to now.
func (d *EventData) schedule(now time.Duration) {
	switch d.event.kind {
	case eventPeriodic:
		if d.event.phase != 0 {
			d.fireTime = now + d.event.phase
		} else {
			d.fireTime = now + d.event.period
		}

	case eventDelayed:
		d.fireTime = now + d.event.delay
	}
}

// eventStore is a registry of events keyed by their class. Eligibility is
// checked by linear scan; stores stay small in practice.
type eventStore struct {
	timed []*EventData
	track map[TrackEvent][]*EventData
	core  map[CoreEventType][]*EventData
}

func newEventStore() *eventStore {
	return &eventStore{
		track: make(map[TrackEvent][]*EventData),
		core:  make(map[CoreEventType][]*EventData),
	}
}

// add registers an event, scheduling timed ones relative to now.
func (s *eventStore) add(d *EventData, now time.Duration) {
	switch d.event.kind {
	case eventPeriodic, eventDelayed:
		d.schedule(now)
		s.timed = append(s.timed, d)

	case eventTrack:
		s.track[d.event.track] = append(s.track[d.event.track], d)

	case eventCore:
		s.core[d.event.core] = append(s.core[d.event.core], d)
	}
}

// fireTimed fires every timed event due at now. Periodic events advance by
// their period; delayed events fire once. Actions returning a replacement
// event are rescheduled under the replacement.
func (s *eventStore) fireTimed(now time.Duration, ctx *EventContext) {
	kept := s.timed[:0]
	var moved []*EventData

	for _, d := range s.timed {
		if d.fireTime > now {
			kept = append(kept, d)
			continue
		}

		replacement := d.action(ctx)

		switch {
		case replacement != nil:
			d.event = *replacement
			d.schedule(now)
			if d.event.kind == eventPeriodic || d.event.kind == eventDelayed {
				kept = append(kept, d)
			} else {
				// changing class mid-iteration would grow s.timed under us
				moved = append(moved, d)
			}

		case d.event.kind == eventPeriodic:
			d.fireTime += d.event.period
			kept = append(kept, d)
		}
	}

	s.timed = kept
	for _, d := range moved {
		s.add(d, now)
	}
}

// fireClass fires every event of a keyed class, handling replacements.
func (s *eventStore) fireClass(list []*EventData, now time.Duration, ctx *EventContext) []*EventData {
	kept := list[:0]

	for _, d := range list {
		replacement := d.action(ctx)
		if replacement == nil {
			kept = append(kept, d)
			continue
		}

		prev := d.event
		d.event = *replacement
		if d.event.kind == prev.kind && d.event.track == prev.track && d.event.core == prev.core {
			kept = append(kept, d)
		} else {
			s.add(d, now)
		}
	}

	return kept
}

// fireTrack fires the actions attached to a track lifecycle transition.
func (s *eventStore) fireTrack(ev TrackEvent, now time.Duration, ctx *EventContext) {
	if list, ok := s.track[ev]; ok {
		s.track[ev] = s.fireClass(list, now, ctx)
	}
}

// fireCore fires the actions attached to a core event.
func (s *eventStore) fireCore(ev CoreEventType, now time.Duration, ctx *EventContext) {
	if list, ok := s.core[ev]; ok {
		s.core[ev] = s.fireClass(list, now, ctx)
	}
}

// eventDispatcher owns the global event store. It receives core events from
// the network tasks and ticks global timed events on wall time.
type eventDispatcher struct {
	ic    *interconnect
	log   *slog.Logger
	store *eventStore
}

func newEventDispatcher(ic *interconnect, log *slog.Logger) *eventDispatcher {
	return &eventDispatcher{
		ic:    ic,
		log:   log,
		store: newEventStore(),
	}
}

func (e *eventDispatcher) run() {
	start := time.Now()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case msg := <-e.ic.events:
			switch msg := msg.(type) {
			case eventAddGlobal:
				e.store.add(msg.data, time.Since(start))

			case eventFireCore:
				e.store.fireCore(msg.t, time.Since(start), &msg.ctx)

			case eventPoison:
				e.log.Debug("event dispatcher stopped")
				return
			}

		case <-ticker.C:
			e.store.fireTimed(time.Since(start), &EventContext{})
		}
	}
}
