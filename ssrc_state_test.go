package govoice

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/hraban/opus.v2"

	"github.com/corvomedia/govoice/pkg/input"
)

// encodeFrame produces one real audible Opus frame.
func encodeFrame(t *testing.T) []byte {
	t.Helper()

	enc, err := opus.NewEncoder(input.SampleRate, 2, opus.AppAudio)
	require.NoError(t, err)

	pcm := make([]float32, input.StereoFrameSize)
	for i := range pcm {
		pcm[i] = 0.4
	}

	buf := make([]byte, maxOpusPacketSize)
	n, err := enc.EncodeFloat32(pcm, buf)
	require.NoError(t, err)

	return buf[:n]
}

func TestSsrcStateFirstAudiblePacketStarts(t *testing.T) {
	s, err := newSsrcState(100)
	require.NoError(t, err)

	delta, audio, err := s.process(100, encodeFrame(t))
	require.NoError(t, err)
	require.Equal(t, deltaStart, delta)
	require.Equal(t, input.StereoFrameSize, len(audio))
}

func TestSsrcStateSilenceCrossingFiresStop(t *testing.T) {
	s, err := newSsrcState(0)
	require.NoError(t, err)

	frame := encodeFrame(t)

	delta, _, err := s.process(1, frame)
	require.NoError(t, err)
	require.Equal(t, deltaStart, delta)

	// counts 1..4 stay Same; crossing the threshold at 5 fires Stop once
	seq := uint16(1)
	for i := 0; i < silentFrameTrail-1; i++ {
		seq++
		delta, _, err = s.process(seq, silentFrame)
		require.NoError(t, err)
		require.Equal(t, deltaSame, delta)
	}

	seq++
	delta, _, err = s.process(seq, silentFrame)
	require.NoError(t, err)
	require.Equal(t, deltaStop, delta)

	seq++
	delta, _, err = s.process(seq, silentFrame)
	require.NoError(t, err)
	require.Equal(t, deltaSame, delta)

	// audio resumes
	seq++
	delta, _, err = s.process(seq, frame)
	require.NoError(t, err)
	require.Equal(t, deltaStart, delta)
}

func TestSsrcStateReorderTolerance(t *testing.T) {
	s, err := newSsrcState(100)
	require.NoError(t, err)

	frame := encodeFrame(t)

	// 100, 102: one missed packet, decoder runs loss concealment
	_, _, err = s.process(100, frame)
	require.NoError(t, err)
	_, _, err = s.process(102, frame)
	require.NoError(t, err)
	require.Equal(t, uint16(102), s.lastSeq)

	// 101 arrives late: dropped without touching state
	_, _, err = s.process(101, frame)
	require.Equal(t, errReordered, err)
	require.Equal(t, uint16(102), s.lastSeq)

	// 103 continues normally
	_, _, err = s.process(103, frame)
	require.NoError(t, err)
	require.Equal(t, uint16(103), s.lastSeq)
}

func TestSsrcStateMissedPacketsCountTowardsSilence(t *testing.T) {
	s, err := newSsrcState(0)
	require.NoError(t, err)

	_, _, err = s.process(1, encodeFrame(t))
	require.NoError(t, err)

	// a silent frame after 3 losses counts as 4 silent slots
	delta, _, err := s.process(5, silentFrame)
	require.NoError(t, err)
	require.Equal(t, deltaSame, delta)
	require.Equal(t, uint16(4), s.silentFrames)

	// the next one crosses the threshold
	delta, _, err = s.process(6, silentFrame)
	require.NoError(t, err)
	require.Equal(t, deltaStop, delta)
}

func TestExtensionLength(t *testing.T) {
	for _, ca := range []struct {
		name    string
		payload []byte
		length  int
		err     bool
	}{
		{
			"no words",
			[]byte{0xBE, 0xDE, 0x00, 0x00, 0xAA},
			4,
			false,
		},
		{
			"two words",
			[]byte{0xBE, 0xDE, 0x00, 0x02, 1, 2, 3, 4, 5, 6, 7, 8, 0xAA},
			12,
			false,
		},
		{
			"too short for header",
			[]byte{0xBE, 0xDE},
			0,
			true,
		},
		{
			"too short for body",
			[]byte{0xBE, 0xDE, 0x00, 0x04, 1, 2},
			0,
			true,
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			length, err := extensionLength(ca.payload)
			if ca.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, ca.length, length)
		})
	}
}
