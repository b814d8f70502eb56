package input

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// NewPcm allocates an Input over raw signed 16-bit little-endian PCM.
func NewPcm(stereo bool, r Reader) *Input {
	return &Input{
		Stereo:    stereo,
		Reader:    r,
		Codec:     NewPcmCodec(),
		Container: ContainerRaw,
	}
}

// NewFloatPcm allocates an Input over raw 32-bit little-endian float PCM.
func NewFloatPcm(stereo bool, r Reader) *Input {
	return &Input{
		Stereo:    stereo,
		Reader:    r,
		Codec:     NewFloatPcmCodec(),
		Container: ContainerRaw,
	}
}

// NewOpus allocates an Input over a stream of length-framed Opus frames of
// the kind the voice server expects.
func NewOpus(stereo bool, r Reader) (*Input, error) {
	codec, err := NewOpusCodec()
	if err != nil {
		return nil, err
	}

	return &Input{
		Stereo:    stereo,
		Reader:    r,
		Codec:     codec,
		Container: ContainerDca,
	}, nil
}

// Ffmpeg opens an audio file through ffmpeg.
func Ffmpeg(path string) (*Input, error) {
	metadata, err := Probe(path)
	if err != nil {
		metadata = Metadata{}
	}
	stereo := metadata.Channels == 2

	channels := "1"
	if stereo {
		channels = "2"
	}

	return ffmpegOptioned(path, metadata, nil, []string{
		"-f", "f32le",
		"-ac", channels,
		"-ar", strconv.Itoa(SampleRate),
		"-acodec", "pcm_f32le",
		"-",
	})
}

// FfmpegOptioned opens an audio file through ffmpeg with caller-supplied
// arguments. These do not build on the arguments of Ffmpeg; the output is
// still expected to be raw 48 kHz float PCM.
func FfmpegOptioned(path string, preInputArgs []string, args []string) (*Input, error) {
	metadata, err := Probe(path)
	if err != nil {
		metadata = Metadata{}
	}

	return ffmpegOptioned(path, metadata, preInputArgs, args)
}

func ffmpegOptioned(path string, metadata Metadata, preInputArgs []string, args []string) (*Input, error) {
	cmdArgs := append([]string(nil), preInputArgs...)
	cmdArgs = append(cmdArgs, "-i", path)
	cmdArgs = append(cmdArgs, args...)

	cmd := exec.Command("ffmpeg", cmdArgs...)
	cmd.Stdin = nil
	cmd.Stderr = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	in := NewFloatPcm(metadata.Channels == 2, NewPipeReader(stdout, cmd))
	in.Metadata = metadata
	return in, nil
}

// Ytdl opens an online resource through youtube-dl piped into ffmpeg.
func Ytdl(uri string) (*Input, error) {
	ytdl := exec.Command("youtube-dl",
		"-f", "webm[abr>0]/bestaudio/best",
		"-R", "infinite",
		"--no-playlist",
		"--ignore-config",
		uri,
		"-o", "-",
	)
	ytdl.Stdin = nil
	ytdl.Stderr = nil

	ytdlOut, err := ytdl.StdoutPipe()
	if err != nil {
		return nil, err
	}

	ffmpeg := exec.Command("ffmpeg",
		"-i", "-",
		"-f", "f32le",
		"-ac", "2",
		"-ar", strconv.Itoa(SampleRate),
		"-acodec", "pcm_f32le",
		"-",
	)
	ffmpeg.Stdin = ytdlOut
	ffmpeg.Stderr = nil

	ffmpegOut, err := ffmpeg.StdoutPipe()
	if err != nil {
		return nil, err
	}

	if err := ytdl.Start(); err != nil {
		return nil, err
	}
	if err := ffmpeg.Start(); err != nil {
		ytdl.Process.Kill() //nolint:errcheck
		ytdl.Wait()         //nolint:errcheck
		return nil, err
	}

	in := NewFloatPcm(true, NewPipeReader(ffmpegOut, ytdl, ffmpeg))
	in.Metadata = YtdlMetadata(uri)
	return in, nil
}

// YtdlSearch opens the first result of an online search through youtube-dl.
func YtdlSearch(name string) (*Input, error) {
	return Ytdl(fmt.Sprintf("ytsearch1:%s", name))
}

// Dca opens a DCA1 file.
func Dca(path string) (*Input, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r := NewFileReader(f)

	metadata, err := readDcaHeader(r)
	if err != nil {
		f.Close()
		return nil, err
	}

	in, err := NewOpus(metadata.Channels == 2, r)
	if err != nil {
		f.Close()
		return nil, err
	}

	in.Metadata = metadata
	return in, nil
}
