package input

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func floatBytes(samples ...float32) []byte {
	var buf bytes.Buffer
	for _, s := range samples {
		var raw [4]byte
		binary.LittleEndian.PutUint32(raw[:], math.Float32bits(s))
		buf.Write(raw[:])
	}
	return buf.Bytes()
}

func pcmBytes(samples ...int16) []byte {
	var buf bytes.Buffer
	for _, s := range samples {
		var raw [2]byte
		binary.LittleEndian.PutUint16(raw[:], uint16(s))
		buf.Write(raw[:])
	}
	return buf.Bytes()
}

func TestMixFloatPcmStereo(t *testing.T) {
	samples := make([]float32, StereoFrameSize)
	for i := range samples {
		samples[i] = float32(i%7) / 10
	}

	in := NewFloatPcm(true, NewExtensionReader(bytes.NewReader(floatBytes(samples...))))

	var buf [StereoFrameSize]float32
	n, err := in.Mix(&buf, 0.5)
	require.NoError(t, err)
	require.Equal(t, StereoFrameSize, n)

	for i := range samples {
		require.InDelta(t, samples[i]*0.5, buf[i], 1e-6)
	}

	n, err = in.Mix(&buf, 0.5)
	require.Equal(t, io.EOF, err)
	require.Equal(t, 0, n)
}

func TestMixFloatPcmMonoDuplicates(t *testing.T) {
	samples := make([]float32, MonoFrameSize)
	for i := range samples {
		samples[i] = float32(i%5) / 8
	}

	in := NewFloatPcm(false, NewExtensionReader(bytes.NewReader(floatBytes(samples...))))

	var buf [StereoFrameSize]float32
	n, err := in.Mix(&buf, 1)
	require.NoError(t, err)
	require.Equal(t, MonoFrameSize, n)

	for i := range samples {
		require.InDelta(t, samples[i], buf[2*i], 1e-6)
		require.InDelta(t, samples[i], buf[2*i+1], 1e-6)
	}
}

func TestMixPcmScaling(t *testing.T) {
	samples := make([]int16, StereoFrameSize)
	samples[0] = -32768
	samples[1] = 16384

	in := NewPcm(true, NewExtensionReader(bytes.NewReader(pcmBytes(samples...))))

	var buf [StereoFrameSize]float32
	n, err := in.Mix(&buf, 1)
	require.NoError(t, err)
	require.Equal(t, StereoFrameSize, n)
	require.InDelta(t, float32(-1), buf[0], 1e-6)
	require.InDelta(t, float32(0.5), buf[1], 1e-6)
}

func TestMixAccumulates(t *testing.T) {
	a := NewFloatPcm(true, NewExtensionReader(bytes.NewReader(floatBytes(0.25, 0.25))))
	b := NewFloatPcm(true, NewExtensionReader(bytes.NewReader(floatBytes(0.5, -0.25))))

	var buf [StereoFrameSize]float32
	n, err := a.Mix(&buf, 1)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = b.Mix(&buf, 1)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.InDelta(t, float32(0.75), buf[0], 1e-6)
	require.InDelta(t, float32(0), buf[1], 1e-6)
}

func TestMixShortRead(t *testing.T) {
	// 3 samples, less than one stereo frame
	in := NewFloatPcm(true, NewExtensionReader(bytes.NewReader(floatBytes(0.1, 0.2, 0.3))))

	var buf [StereoFrameSize]float32
	n, err := in.Mix(&buf, 1)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.InDelta(t, float32(0.3), buf[2], 1e-6)

	n, err = in.Mix(&buf, 1)
	require.Equal(t, io.EOF, err)
	require.Equal(t, 0, n)
}

func TestMixOpusInRawContainer(t *testing.T) {
	codec, err := NewOpusCodec()
	require.NoError(t, err)

	in := &Input{
		Stereo:    true,
		Reader:    NewExtensionReader(bytes.NewReader([]byte{1, 2, 3})),
		Codec:     codec,
		Container: ContainerRaw,
	}

	var buf [StereoFrameSize]float32
	_, err = in.Mix(&buf, 1)
	require.Equal(t, ErrRawOpus{}, err)
}

func TestSeekability(t *testing.T) {
	seekable := NewFloatPcm(true, NewExtensionSeekReader(bytes.NewReader(nil)))
	require.True(t, seekable.IsSeekable())

	pipe := NewFloatPcm(true, NewExtensionReader(bytes.NewReader(nil)))
	require.False(t, pipe.IsSeekable())

	_, err := pipe.SeekTime(time.Second)
	require.Equal(t, ErrSeekUnsupported{}, err)

	opusIn, err := NewOpus(true, NewExtensionSeekReader(bytes.NewReader(nil)))
	require.NoError(t, err)
	require.False(t, opusIn.IsSeekable())
}

func TestSeekTime(t *testing.T) {
	// 100ms of stereo float PCM
	samples := make([]float32, SampleRate/10*2)
	for i := range samples {
		samples[i] = float32(i) / float32(len(samples))
	}

	in := NewFloatPcm(true, NewExtensionSeekReader(bytes.NewReader(floatBytes(samples...))))

	reached, err := in.SeekTime(40 * time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 40*time.Millisecond, reached)

	var buf [StereoFrameSize]float32
	_, err = in.Mix(&buf, 1)
	require.NoError(t, err)

	offset := 40 * SampleRate / 1000 * 2
	require.InDelta(t, samples[offset], buf[0], 1e-6)
}

func TestReadAhead(t *testing.T) {
	payload := make([]byte, 10000)
	for i := range payload {
		payload[i] = byte(i)
	}

	ra := newReadAhead(bytes.NewReader(payload), 256)
	defer ra.Close()

	out := make([]byte, 0, len(payload))
	buf := make([]byte, 300)
	for {
		n, err := ra.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			require.Equal(t, io.EOF, err)
			break
		}
		if n == 0 {
			// the filler has not caught up yet
			time.Sleep(time.Millisecond)
		}
	}

	require.Equal(t, payload, out)
}

func TestReadAheadNeverBlocks(t *testing.T) {
	pr, pw := io.Pipe()

	ra := newReadAhead(pr, 256)
	defer ra.Close()
	defer pw.Close()

	// nothing produced yet: an immediate read reports an underrun instead
	// of waiting
	buf := make([]byte, 16)
	n, err := ra.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	go pw.Write([]byte{1, 2, 3}) //nolint:errcheck

	require.Eventually(t, func() bool {
		n, err := ra.Read(buf)
		require.NoError(t, err)
		return n == 3 && bytes.Equal(buf[:3], []byte{1, 2, 3})
	}, time.Second, time.Millisecond)
}

// chunkReader scripts a reader's behavior: each entry is returned by one
// Read call, with nil entries standing for an underrun (0, nil).
type chunkReader struct {
	chunks [][]byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}

	c := r.chunks[0]
	if c == nil {
		r.chunks = r.chunks[1:]
		return 0, nil
	}

	n := copy(p, c)
	if n == len(c) {
		r.chunks = r.chunks[1:]
	} else {
		r.chunks[0] = c[n:]
	}
	return n, nil
}

func TestMixUnderrun(t *testing.T) {
	frame := make([]float32, StereoFrameSize)
	for i := range frame {
		frame[i] = float32(i%9) / 10
	}
	raw := floatBytes(frame...)

	// half a frame, an underrun, then the rest
	in := NewFloatPcm(true, NewExtensionReader(&chunkReader{
		chunks: [][]byte{raw[:len(raw)/2], nil, raw[len(raw)/2:]},
	}))

	var buf [StereoFrameSize]float32

	// first call hits the underrun: nothing mixed, no EOF
	n, err := in.Mix(&buf, 1)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, float32(0), buf[0])

	// second call completes the carried frame
	n, err = in.Mix(&buf, 1)
	require.NoError(t, err)
	require.Equal(t, StereoFrameSize, n)
	for i := range frame {
		require.InDelta(t, frame[i], buf[i], 1e-6)
	}

	n, err = in.Mix(&buf, 1)
	require.Equal(t, io.EOF, err)
	require.Equal(t, 0, n)
}

func TestMixOpusHeaderSplitAcrossTicks(t *testing.T) {
	// a DCA frame header split by an underrun must carry over, not be
	// misread or lost
	in, err := NewOpus(true, NewExtensionReader(&chunkReader{
		chunks: [][]byte{{0x03}, nil, {0x00}, nil, {0xF8, 0xFF, 0xFE}},
	}))
	require.NoError(t, err)

	var buf [StereoFrameSize]float32

	// first byte of the header only
	n, err := in.Mix(&buf, 1)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	// header complete, body still missing
	n, err = in.Mix(&buf, 1)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	// body arrives and decodes
	n, err = in.Mix(&buf, 1)
	require.NoError(t, err)
	require.Equal(t, StereoFrameSize, n)

	_, err = in.Mix(&buf, 1)
	require.Equal(t, io.EOF, err)
}
