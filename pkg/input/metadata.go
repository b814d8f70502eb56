package input

import (
	"encoding/json"
	"io"
	"os/exec"
	"strconv"
	"time"

	"github.com/corvomedia/govoice/pkg/dca"
)

// Metadata describes an Input's source.
type Metadata struct {
	Title  string
	Artist string
	Date   string

	Channels   int
	StartTime  time.Duration
	Duration   time.Duration
	SampleRate int
}

// ffprobe JSON layout, limited to the fields we read.
type ffprobeOutput struct {
	Format struct {
		Duration  string `json:"duration"`
		StartTime string `json:"start_time"`
		Tags      struct {
			Title  string `json:"title"`
			Artist string `json:"artist"`
			Date   string `json:"date"`
		} `json:"tags"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Channels   int    `json:"channels"`
		SampleRate string `json:"sample_rate"`
	} `json:"streams"`
}

// Probe extracts metadata from a local file with ffprobe.
func Probe(path string) (Metadata, error) {
	out, err := exec.Command("ffprobe",
		"-v", "quiet",
		"-of", "json",
		"-show_format",
		"-show_streams",
		"-i", path,
	).Output()
	if err != nil {
		return Metadata{}, err
	}

	var probed ffprobeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return Metadata{}, err
	}

	metadata := Metadata{
		Title:     probed.Format.Tags.Title,
		Artist:    probed.Format.Tags.Artist,
		Date:      probed.Format.Tags.Date,
		StartTime: secondsToDuration(probed.Format.StartTime),
		Duration:  secondsToDuration(probed.Format.Duration),
	}

	for _, stream := range probed.Streams {
		if stream.CodecType != "audio" {
			continue
		}
		metadata.Channels = stream.Channels
		if rate, err := strconv.Atoi(stream.SampleRate); err == nil {
			metadata.SampleRate = rate
		}
		break
	}

	return metadata, nil
}

// ytdl -j JSON layout, limited to the fields we read.
type ytdlOutput struct {
	Track       string  `json:"track"`
	Title       string  `json:"title"`
	Artist      string  `json:"artist"`
	ReleaseDate string  `json:"release_date"`
	UploadDate  string  `json:"upload_date"`
	Duration    float64 `json:"duration"`
}

// YtdlMetadata extracts metadata for an online resource with youtube-dl.
// Failures never yield an error, since metadata is advisory: the result then
// carries only the stereo channel count and the 48 kHz sample rate.
func YtdlMetadata(uri string) Metadata {
	out, err := exec.Command("youtube-dl", "-s", "-j", uri).Output()
	if err != nil {
		return Metadata{Channels: 2, SampleRate: SampleRate}
	}

	var probed ytdlOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return Metadata{Channels: 2, SampleRate: SampleRate}
	}

	title := probed.Track
	if title == "" {
		title = probed.Title
	}

	date := probed.ReleaseDate
	if date == "" {
		date = probed.UploadDate
	}

	return Metadata{
		Title:      title,
		Artist:     probed.Artist,
		Date:       date,
		Channels:   2,
		Duration:   time.Duration(probed.Duration * float64(time.Second)),
		SampleRate: SampleRate,
	}
}

// readDcaHeader reads a DCA1 metadata block and converts it.
func readDcaHeader(r io.Reader) (Metadata, error) {
	header, err := dca.ReadHeader(r)
	if err != nil {
		return Metadata{}, err
	}

	metadata := Metadata{}
	if header.Info != nil {
		metadata.Title = header.Info.Title
		metadata.Artist = header.Info.Artist
	}
	if header.Opus != nil {
		metadata.Channels = header.Opus.Channels
		metadata.SampleRate = header.Opus.SampleRate
	}

	return metadata, nil
}

func secondsToDuration(s string) time.Duration {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}
