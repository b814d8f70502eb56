package govoice

import (
	"bytes"
	"errors"
	"math"

	"gopkg.in/hraban/opus.v2"

	"github.com/corvomedia/govoice/pkg/input"
)

// errReordered marks a late packet that arrived after a later sequence
// number was already processed. It is dropped without touching state.
var errReordered = errors.New("late reordered packet")

// speakingDelta is the speech transition implied by one inbound packet.
type speakingDelta int

const (
	deltaSame speakingDelta = iota
	deltaStart
	deltaStop
)

// ssrcState is the decode state of one inbound audio stream. States are
// created lazily on a stream's first packet and live for the session.
type ssrcState struct {
	silentFrames uint16
	decoder      *opus.Decoder
	lastSeq      uint16

	pcmBuf [input.StereoFrameSize]int16
}

func newSsrcState(sequence uint16) (*ssrcState, error) {
	// Decoding always targets stereo, whatever the sender used.
	dec, err := opus.NewDecoder(input.SampleRate, 2)
	if err != nil {
		return nil, err
	}

	return &ssrcState{
		// Saturated, so the very first audible packet fires a start event.
		silentFrames: silentFrameTrail,
		decoder:      dec,
		lastSeq:      sequence,
	}, nil
}

// process decodes one packet's Opus payload and computes the speech
// transition from the stream's silent-frame run length.
//
// Sequence gaps in [2^15, 2^16) mean the packet is a late arrival of an
// already-skipped slot: it is dropped via errReordered. Smaller gaps are
// genuine losses, bridged by running the decoder's loss concealment once per
// missing packet.
func (s *ssrcState) process(sequence uint16, payload []byte) (speakingDelta, []int16, error) {
	seqDelta := sequence - s.lastSeq
	if seqDelta >= 1<<15 {
		return deltaSame, nil, errReordered
	}

	s.lastSeq = sequence

	var missed uint16
	if seqDelta > 0 {
		missed = seqDelta - 1
	}

	for i := uint16(0); i < missed; i++ {
		if err := s.decoder.DecodePLC(s.pcmBuf[:]); err != nil {
			break
		}
	}

	n, err := s.decoder.Decode(payload, s.pcmBuf[:])
	if err != nil {
		return deltaSame, nil, err
	}

	// n counts samples per channel; the decoder emits stereo.
	audio := append([]int16(nil), s.pcmBuf[:2*n]...)

	var delta speakingDelta
	if bytes.Equal(payload, silentFrame) {
		old := s.silentFrames

		sum := uint32(s.silentFrames) + 1 + uint32(missed)
		if sum > math.MaxUint16 {
			sum = math.MaxUint16
		}
		s.silentFrames = uint16(sum)

		if s.silentFrames >= silentFrameTrail && old < silentFrameTrail {
			delta = deltaStop
		}
	} else {
		if s.silentFrames >= silentFrameTrail {
			delta = deltaStart
		}
		s.silentFrames = 0
	}

	return delta, audio, nil
}
