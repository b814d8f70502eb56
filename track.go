package govoice

import (
	"time"

	"github.com/google/uuid"

	"github.com/corvomedia/govoice/pkg/input"
)

// PlayMode is the playback state of a track.
type PlayMode int

// play modes.
const (
	PlayModePlay PlayMode = iota
	PlayModePause
	PlayModeStop
)

// String implements fmt.Stringer.
func (m PlayMode) String() string {
	switch m {
	case PlayModePlay:
		return "play"
	case PlayModePause:
		return "pause"
	case PlayModeStop:
		return "stop"
	}
	return "unknown"
}

// LoopMode is how many times a track restarts after reaching its end.
// Non-negative values count remaining restarts; LoopInfinite never stops.
type LoopMode int

// LoopInfinite restarts the track forever.
const LoopInfinite LoopMode = -1

// TrackState is a snapshot of a track's playback state.
type TrackState struct {
	Mode     PlayMode
	Volume   float32
	Finished bool
	Position time.Duration
	PlayTime time.Duration
	Loops    LoopMode
}

// Track is the playback state of one audio source. It lives inside the mixer
// task and is never aliased; all external access goes through a TrackHandle.
type Track struct {
	mode             PlayMode
	volume           float32
	finished         bool
	position         time.Duration
	positionModified bool
	playTime         time.Duration
	loops            LoopMode

	in       *input.Input
	events   *eventStore
	commands chan trackCommand
	done     chan struct{}
	id       uuid.UUID
}

// NewTrack wraps an input into a track and its handle. The track starts in
// the playing state at full volume.
func NewTrack(in *input.Input) (*Track, *TrackHandle) {
	commands := make(chan trackCommand, 16)
	done := make(chan struct{})
	id := uuid.New()

	t := &Track{
		mode:     PlayModePlay,
		volume:   1,
		in:       in,
		events:   newEventStore(),
		commands: commands,
		done:     done,
		id:       id,
	}

	h := &TrackHandle{
		id:       id,
		commands: commands,
		done:     done,
		seekable: in.IsSeekable(),
		metadata: in.Metadata,
	}

	return t, h
}

// Play resumes playback.
func (t *Track) Play() {
	if !t.finished {
		t.mode = PlayModePlay
	}
}

// Pause pauses playback without losing the position.
func (t *Track) Pause() {
	if !t.finished {
		t.mode = PlayModePause
	}
}

// Stop ends the track. Stopping is terminal.
func (t *Track) Stop() {
	t.mode = PlayModeStop
	t.finished = true
}

// SetVolume changes the playback volume. Sensible values fall between 0 and 1.
func (t *Track) SetVolume(volume float32) {
	t.volume = volume
}

// SetLoops changes how many times the track restarts at its end.
func (t *Track) SetLoops(loops LoopMode) {
	t.loops = loops
}

// State returns a snapshot of the track.
func (t *Track) State() TrackState {
	return TrackState{
		Mode:     t.mode,
		Volume:   t.volume,
		Finished: t.finished,
		Position: t.position,
		PlayTime: t.playTime,
		Loops:    t.loops,
	}
}

// close tears the track down, failing all future handle operations.
func (t *Track) close() {
	close(t.done)
	t.in.Close() //nolint:errcheck
}

// trackCommand is the mutation surface of a track. Commands are drained by
// the mixer at the start of every tick.
type trackCommand interface {
	isTrackCommand()
}

type trackPlay struct{}
type trackPause struct{}
type trackStop struct{}

type trackVolume struct {
	volume float32
}

type trackSeek struct {
	position time.Duration
}

type trackLoop struct {
	loops LoopMode
}

type trackAddEvent struct {
	data *EventData
}

type trackDo struct {
	action func(*Track)
}

type trackRequest struct {
	reply chan TrackState
}

func (trackPlay) isTrackCommand()     {}
func (trackPause) isTrackCommand()    {}
func (trackStop) isTrackCommand()     {}
func (trackVolume) isTrackCommand()   {}
func (trackSeek) isTrackCommand()     {}
func (trackLoop) isTrackCommand()     {}
func (trackAddEvent) isTrackCommand() {}
func (trackDo) isTrackCommand()       {}
func (trackRequest) isTrackCommand()  {}

// TrackHandle is a cheaply copyable remote control for a track living inside
// the mixer. Handles outlive their track: operations after teardown return
// ErrTrackClosed.
type TrackHandle struct {
	id       uuid.UUID
	commands chan<- trackCommand
	done     <-chan struct{}
	seekable bool
	metadata input.Metadata
}

// UUID returns the track's identity.
func (h *TrackHandle) UUID() uuid.UUID {
	return h.id
}

// Metadata returns the metadata of the track's input.
func (h *TrackHandle) Metadata() input.Metadata {
	return h.metadata
}

// IsSeekable reports whether Seek works on this track.
func (h *TrackHandle) IsSeekable() bool {
	return h.seekable
}

// Play resumes playback.
func (h *TrackHandle) Play() error {
	return h.send(trackPlay{})
}

// Pause pauses playback.
func (h *TrackHandle) Pause() error {
	return h.send(trackPause{})
}

// Stop ends the track. Stopping is terminal; the mixer garbage-collects the
// track on its next tick.
func (h *TrackHandle) Stop() error {
	return h.send(trackStop{})
}

// SetVolume changes the playback volume.
func (h *TrackHandle) SetVolume(volume float32) error {
	return h.send(trackVolume{volume: volume})
}

// SetLoops changes how many times the track restarts at its end.
func (h *TrackHandle) SetLoops(loops LoopMode) error {
	return h.send(trackLoop{loops: loops})
}

// Seek moves playback to the given position.
func (h *TrackHandle) Seek(position time.Duration) error {
	if !h.seekable {
		return ErrSeekUnsupported{}
	}
	return h.send(trackSeek{position: position})
}

// AddEvent attaches an event to the track. Periodic and delayed events are
// measured against the track's play time.
func (h *TrackHandle) AddEvent(event Event, action Action) error {
	return h.send(trackAddEvent{data: NewEventData(event, action)})
}

// Do runs a closure against the track inside the mixer task. The closure
// must not block; taking excess time delays packet transmission.
func (h *TrackHandle) Do(action func(*Track)) error {
	return h.send(trackDo{action: action})
}

// State queries a snapshot of the track's playback state.
func (h *TrackHandle) State() (TrackState, error) {
	reply := make(chan TrackState, 1)
	if err := h.send(trackRequest{reply: reply}); err != nil {
		return TrackState{}, err
	}

	select {
	case state := <-reply:
		return state, nil
	case <-h.done:
		return TrackState{}, ErrTrackClosed{}
	}
}

func (h *TrackHandle) send(cmd trackCommand) error {
	select {
	case <-h.done:
		return ErrTrackClosed{}
	default:
	}

	select {
	case h.commands <- cmd:
		return nil
	case <-h.done:
		return ErrTrackClosed{}
	}
}
