// Package input contains the audio sources that playback tracks pull from:
// byte readers, codec state and container framing, and the mix path that
// turns them into 20ms stereo float frames.
package input

import (
	"encoding/binary"
	"io"
	"math"
	"time"

	"gopkg.in/hraban/opus.v2"

	"github.com/corvomedia/govoice/pkg/dca"
)

// audio format constants. All playback runs at 48 kHz stereo in 20ms steps.
const (
	SampleRate      = 48000
	MonoFrameSize   = 960
	StereoFrameSize = 1920
	FrameLen        = 20 * time.Millisecond
)

// maxOpusFrameSize is the largest Opus frame a container may carry.
const maxOpusFrameSize = 4000

// ErrRawOpus is returned when reading Opus from a raw container, which has
// no way to demarcate frames.
type ErrRawOpus struct{}

// Error implements the error interface.
func (e ErrRawOpus) Error() string {
	return "a raw container cannot demarcate Opus frames"
}

// CodecType is the kind of data produced by a Reader.
type CodecType int

// codec types.
const (
	CodecTypeOpus CodecType = iota
	CodecTypePcm
	CodecTypeFloatPcm
)

// SampleLen returns the size of one decoded sample in bytes.
func (t CodecType) SampleLen() int {
	switch t {
	case CodecTypePcm:
		return 2
	}
	return 4
}

// String implements fmt.Stringer.
func (t CodecType) String() string {
	switch t {
	case CodecTypeOpus:
		return "opus"
	case CodecTypePcm:
		return "pcm"
	case CodecTypeFloatPcm:
		return "float-pcm"
	}
	return "unknown"
}

// Codec is the decoder state needed to turn a Reader's bytes into samples.
type Codec struct {
	Type    CodecType
	decoder *opus.Decoder
}

// NewPcmCodec allocates a signed 16-bit little-endian PCM codec.
func NewPcmCodec() Codec {
	return Codec{Type: CodecTypePcm}
}

// NewFloatPcmCodec allocates a 32-bit little-endian float PCM codec.
func NewFloatPcmCodec() Codec {
	return Codec{Type: CodecTypeFloatPcm}
}

// NewOpusCodec allocates an Opus codec. Decoding always targets stereo so
// that decoded frames drop straight into the mix buffer.
func NewOpusCodec() (Codec, error) {
	dec, err := opus.NewDecoder(SampleRate, 2)
	if err != nil {
		return Codec{}, err
	}
	return Codec{Type: CodecTypeOpus, decoder: dec}, nil
}

// Container is the framing of a Reader's bytestream.
type Container int

// containers.
const (
	// ContainerRaw carries bare samples with no frame headers.
	ContainerRaw Container = iota

	// ContainerDca carries Opus frames behind little-endian int16 length
	// prefixes.
	ContainerDca
)

// Input is one track's audio source: a byte reader plus the codec and
// container needed to parse it.
type Input struct {
	Metadata  Metadata
	Stereo    bool
	Reader    Reader
	Codec     Codec
	Container Container

	byteBuf   []byte
	frameBuf  []byte
	decodeBuf []float32

	// partial-frame state carried across ticks, so an underrunning reader
	// never forces a wait: pendingLen counts bytes already read of the
	// current frame; frameLen is the body length of the Opus frame whose
	// header has been read, 0 before then.
	pendingLen int
	frameLen   int
	headerBuf  [2]byte
}

// IsSeekable reports whether SeekTime works on this input. Framed containers
// have no stable sample-to-byte mapping, so only raw containers over
// seekable readers qualify.
func (in *Input) IsSeekable() bool {
	return in.Container == ContainerRaw && in.Reader.IsSeekable()
}

// Close releases the underlying reader.
func (in *Input) Close() error {
	return in.Reader.Close()
}

// Mix reads the input's next 20ms of audio, scales it by volume and sums it
// into buf. It returns the number of samples accumulated; zero with io.EOF
// means the source ended, while zero with a nil error means nothing was
// buffered this tick (partial data is carried to the next call). A short
// count means the source ended partway through the frame, and the next call
// reports EOF.
//
// Mix never waits on the reader's producer; see the Reader contract.
func (in *Input) Mix(buf *[StereoFrameSize]float32, volume float32) (int, error) {
	switch in.Codec.Type {
	case CodecTypeFloatPcm:
		return in.mixPcm(buf, volume, 4)

	case CodecTypePcm:
		return in.mixPcm(buf, volume, 2)

	default: // CodecTypeOpus
		if in.Container != ContainerDca {
			return 0, ErrRawOpus{}
		}
		return in.mixOpus(buf, volume)
	}
}

// mixPcm reads raw little-endian samples of the given width and accumulates
// them, duplicating mono sources into both output channels. Bytes of an
// incomplete frame stay in byteBuf until the reader produces the rest.
func (in *Input) mixPcm(buf *[StereoFrameSize]float32, volume float32, sampleLen int) (int, error) {
	samples := StereoFrameSize
	if !in.Stereo {
		samples = MonoFrameSize
	}

	if in.byteBuf == nil {
		in.byteBuf = make([]byte, StereoFrameSize*4)
	}
	raw := in.byteBuf[:samples*sampleLen]

	n, err := readAvailable(in.Reader, raw[in.pendingLen:])
	in.pendingLen += n
	got := in.pendingLen / sampleLen

	switch {
	case err == io.EOF:
		if got == 0 {
			in.pendingLen = 0
			return 0, io.EOF
		}
		// mix the final partial frame; the next call reports EOF

	case err != nil:
		return 0, err

	case in.pendingLen < len(raw):
		// underrun: keep what arrived and try again next tick
		return 0, nil
	}

	in.pendingLen = 0

	for i := 0; i < got; i++ {
		var sample float32
		if sampleLen == 2 {
			sample = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32768
		} else {
			sample = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		sample *= volume

		if in.Stereo {
			buf[i] += sample
		} else {
			buf[2*i] += sample
			buf[2*i+1] += sample
		}
	}

	return got, nil
}

// mixOpus reads one length-framed Opus frame, decodes it to stereo float
// samples and accumulates them. Both the two-byte frame header and the frame
// body may arrive split across ticks.
func (in *Input) mixOpus(buf *[StereoFrameSize]float32, volume float32) (int, error) {
	if in.frameBuf == nil {
		in.frameBuf = make([]byte, maxOpusFrameSize)
		in.decodeBuf = make([]float32, StereoFrameSize)
	}

	if in.frameLen == 0 {
		n, err := readAvailable(in.Reader, in.headerBuf[in.pendingLen:])
		in.pendingLen += n

		if in.pendingLen < len(in.headerBuf) {
			switch {
			case err == io.EOF:
				in.pendingLen = 0
				return 0, io.EOF
			case err != nil:
				return 0, err
			}
			return 0, nil
		}

		size := int16(binary.LittleEndian.Uint16(in.headerBuf[:]))
		if size <= 0 || int(size) > maxOpusFrameSize {
			return 0, dca.ErrInvalidFrameSize{Size: size}
		}
		in.frameLen = int(size)
		in.pendingLen = 0
	}

	n, err := readAvailable(in.Reader, in.frameBuf[in.pendingLen:in.frameLen])
	in.pendingLen += n

	if in.pendingLen < in.frameLen {
		switch {
		case err == io.EOF:
			// truncated final frame
			in.pendingLen = 0
			in.frameLen = 0
			return 0, io.EOF
		case err != nil:
			return 0, err
		}
		return 0, nil
	}

	frame := in.frameBuf[:in.frameLen]
	in.frameLen = 0
	in.pendingLen = 0

	decoded, err := in.Codec.decoder.DecodeFloat32(frame, in.decodeBuf)
	if err != nil {
		return 0, err
	}

	total := 2 * decoded
	for i := 0; i < total && i < StereoFrameSize; i++ {
		buf[i] += in.decodeBuf[i] * volume
	}

	return total, nil
}

// readAvailable fills dst with whatever the reader has buffered, stopping at
// the first underrun ((0, nil) read) instead of waiting for more.
func readAvailable(r io.Reader, dst []byte) (int, error) {
	total := 0
	for total < len(dst) {
		n, err := r.Read(dst[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// SeekTime moves the read position to the given playback time, returning the
// time actually reached.
func (in *Input) SeekTime(t time.Duration) (time.Duration, error) {
	if !in.IsSeekable() {
		return 0, ErrSeekUnsupported{}
	}

	pos, err := in.Reader.Seek(in.timeToByteCount(t), io.SeekStart)
	if err != nil {
		return 0, err
	}
	return in.byteCountToTime(pos), nil
}

func (in *Input) channels() int64 {
	if in.Stereo {
		return 2
	}
	return 1
}

func (in *Input) timeToByteCount(t time.Duration) int64 {
	samples := t.Milliseconds() * SampleRate / 1000
	return samples * int64(in.Codec.Type.SampleLen()) * in.channels()
}

func (in *Input) byteCountToTime(count int64) time.Duration {
	samples := count / (int64(in.Codec.Type.SampleLen()) * in.channels())
	return time.Duration(samples) * time.Second / SampleRate
}
