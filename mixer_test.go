package govoice

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvomedia/govoice/pkg/crypt"
	"github.com/corvomedia/govoice/pkg/input"
	"github.com/corvomedia/govoice/pkg/ringbuffer"
)

// audibleInput returns a float-PCM input with the given number of stereo
// frames of a full-scale sine, loud enough that Opus never encodes silence.
func audibleInput(frames int) *input.Input {
	var buf bytes.Buffer
	total := frames * input.StereoFrameSize
	for i := 0; i < total; i++ {
		sample := float32(0.5 * math.Sin(2*math.Pi*440*float64(i/2)/input.SampleRate))
		var raw [4]byte
		binary.LittleEndian.PutUint32(raw[:], math.Float32bits(sample))
		buf.Write(raw[:])
	}
	return input.NewFloatPcm(true, input.NewExtensionReader(bytes.NewReader(buf.Bytes())))
}

// startTestMixer runs a mixer with a live fake connection and returns its
// interconnect, the datagram queue and the cipher.
func startTestMixer(t *testing.T) (*interconnect, *ringbuffer.RingBuffer, *crypt.Cipher) {
	t.Helper()

	ic := newInterconnect()
	m, err := newMixer(ic, discardLogger(), BitrateDefault)
	require.NoError(t, err)

	cipher := crypt.NewCipher([32]byte{1, 2, 3})
	queue, err := ringbuffer.New(1024)
	require.NoError(t, err)

	ic.mixer <- mixerSetConn{
		conn: &mixerConnection{cipher: cipher, udp: queue},
		ssrc: 7,
	}

	go m.run()
	t.Cleanup(func() {
		ic.mixer <- mixerPoison{}
	})

	return ic, queue, cipher
}

// collect drains datagrams from queue until none arrive for the given quiet
// period.
func collect(queue *ringbuffer.RingBuffer, quiet time.Duration) [][]byte {
	var packets [][]byte
	for {
		select {
		case <-queue.Wait():
			for {
				p, ok := queue.Pull()
				if !ok {
					break
				}
				packets = append(packets, p)
			}
		case <-time.After(quiet):
			return packets
		}
	}
}

func TestMixerTransmitsNothingWhileIdle(t *testing.T) {
	_, queue, _ := startTestMixer(t)

	packets := collect(queue, 200*time.Millisecond)
	require.Empty(t, packets)
}

func TestMixerSilenceTrail(t *testing.T) {
	ic, queue, cipher := startTestMixer(t)

	track, _ := NewTrack(audibleInput(3))
	ic.mixer <- mixerAddTrack{track: track}

	packets := collect(queue, 400*time.Millisecond)

	// 3 audible frames, then exactly 5 silent ones, then nothing
	require.Equal(t, 3+silentFrameTrail, len(packets))

	for i, p := range packets {
		require.GreaterOrEqual(t, len(p), rtpHeaderSize+crypt.TagSize)

		payload, err := cipher.Open(nil, p[:rtpHeaderSize], p[rtpHeaderSize:])
		require.NoError(t, err)

		if i < 3 {
			require.NotEqual(t, silentFrame, payload)
		} else {
			require.Equal(t, silentFrame, payload)
		}
	}
}

func TestMixerRTPMonotonicity(t *testing.T) {
	ic, queue, _ := startTestMixer(t)

	track, _ := NewTrack(audibleInput(10))
	ic.mixer <- mixerAddTrack{track: track}

	packets := collect(queue, 400*time.Millisecond)
	require.NotEmpty(t, packets)

	for i, p := range packets {
		require.Equal(t, byte(0x80), p[0])
		require.Equal(t, byte(rtpProfileType), p[1])

		seq := binary.BigEndian.Uint16(p[2:4])
		ts := binary.BigEndian.Uint32(p[4:8])
		ssrc := binary.BigEndian.Uint32(p[8:12])

		require.Equal(t, uint16(i), seq)
		require.Equal(t, uint32(i)*timestampStep, ts)
		require.Equal(t, uint32(7), ssrc)
	}
}

func TestMixerNonceDerivation(t *testing.T) {
	ic, queue, cipher := startTestMixer(t)

	track, _ := NewTrack(audibleInput(1))
	ic.mixer <- mixerAddTrack{track: track}

	packets := collect(queue, 300*time.Millisecond)
	require.NotEmpty(t, packets)

	// decryption succeeds only if the nonce is the 12-byte header zero-padded:
	// seal again under the recovered plaintext and compare
	p := packets[0]
	payload, err := cipher.Open(nil, p[:rtpHeaderSize], p[rtpHeaderSize:])
	require.NoError(t, err)

	resealed := cipher.Seal(append([]byte(nil), p[:rtpHeaderSize]...), payload)
	require.Equal(t, p, resealed)
}

func TestMixerTickCadence(t *testing.T) {
	ic, queue, _ := startTestMixer(t)

	const frames = 25
	track, _ := NewTrack(audibleInput(frames))
	ic.mixer <- mixerAddTrack{track: track}

	start := time.Now()
	packets := collect(queue, 400*time.Millisecond)
	elapsed := time.Since(start) - 400*time.Millisecond

	expected := frames + silentFrameTrail
	require.InDelta(t, expected, len(packets), 2)

	// one datagram per 20ms
	require.InDelta(t, float64(expected)*20, float64(elapsed.Milliseconds()), 100)
}

func TestMixerLoopRestart(t *testing.T) {
	ic, queue, _ := startTestMixer(t)

	// seekable input: loops are possible
	var buf bytes.Buffer
	total := 2 * input.StereoFrameSize
	for i := 0; i < total; i++ {
		var raw [4]byte
		binary.LittleEndian.PutUint32(raw[:], math.Float32bits(0.3))
		buf.Write(raw[:])
	}
	in := input.NewFloatPcm(true, input.NewExtensionSeekReader(bytes.NewReader(buf.Bytes())))

	track, _ := NewTrack(in)
	track.loops = 1

	loops := make(chan struct{}, 4)
	track.events.add(NewEventData(OnTrack(TrackLoop), func(ctx *EventContext) *Event {
		loops <- struct{}{}
		return nil
	}), 0)

	ic.mixer <- mixerAddTrack{track: track}

	// 2 audible frames, one silent tick while the loop restarts, 2 more
	// audible frames, then the silent trail
	packets := collect(queue, 400*time.Millisecond)
	require.Equal(t, 5+silentFrameTrail, len(packets))
	require.Len(t, loops, 1)
}

func TestMixerPlayOnlyReplacesTracks(t *testing.T) {
	ic, queue, _ := startTestMixer(t)

	first, firstHandle := NewTrack(audibleInput(1000))
	ic.mixer <- mixerAddTrack{track: first}

	collect(queue, 100*time.Millisecond)

	second, _ := NewTrack(audibleInput(5))
	ic.mixer <- mixerSetTrack{track: second}

	require.Eventually(t, func() bool {
		return firstHandle.Play() == (ErrTrackClosed{})
	}, time.Second, 10*time.Millisecond)
}
