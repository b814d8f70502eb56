// Package dca contains a reader for the DCA1 container format: a magic
// header, a JSON metadata block, then a sequence of Opus frames each prefixed
// by a little-endian int16 length.
package dca

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Magic is the file magic of the supported container version.
var Magic = [4]byte{'D', 'C', 'A', '1'}

// ErrInvalidHeader is returned when the file magic is not DCA1.
type ErrInvalidHeader struct{}

// Error implements the error interface.
func (e ErrInvalidHeader) Error() string {
	return "invalid DCA magic header"
}

// ErrInvalidMetadataSize is returned when the metadata block size is
// implausible.
type ErrInvalidMetadataSize struct {
	Size int32
}

// Error implements the error interface.
func (e ErrInvalidMetadataSize) Error() string {
	return fmt.Sprintf("invalid DCA metadata size %d", e.Size)
}

// ErrInvalidMetadata is returned when the metadata block is not valid JSON.
type ErrInvalidMetadata struct {
	Err error
}

// Error implements the error interface.
func (e ErrInvalidMetadata) Error() string {
	return fmt.Sprintf("invalid DCA metadata: %v", e.Err)
}

// ErrInvalidFrameSize is returned when a frame header carries a non-positive
// length.
type ErrInvalidFrameSize struct {
	Size int16
}

// Error implements the error interface.
func (e ErrInvalidFrameSize) Error() string {
	return fmt.Sprintf("invalid DCA frame size %d", e.Size)
}

// Metadata is the JSON metadata block at the start of a DCA1 file.
type Metadata struct {
	Dca    *DcaInfo    `json:"dca"`
	Opus   *OpusInfo   `json:"opus"`
	Info   *SongInfo   `json:"info"`
	Origin *OriginInfo `json:"origin"`
}

// DcaInfo describes the tool that wrote the file.
type DcaInfo struct {
	Version int `json:"version"`
	Tool    *struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"tool"`
}

// OpusInfo describes the encoding parameters of the contained frames.
type OpusInfo struct {
	Mode       string `json:"mode"`
	SampleRate int    `json:"sample_rate"`
	FrameSize  int    `json:"frame_size"`
	Channels   int    `json:"channels"`
	VBR        bool   `json:"vbr"`
	Bitrate    *int   `json:"abr"`
}

// SongInfo carries the track tags.
type SongInfo struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Album  string `json:"album"`
	Genre  string `json:"genre"`
	Cover  string `json:"cover"`
}

// OriginInfo describes where the audio came from.
type OriginInfo struct {
	Source   string `json:"source"`
	Bitrate  int    `json:"abr"`
	Channels int    `json:"channels"`
	Encoding string `json:"encoding"`
	URL      string `json:"url"`
}

// IsStereo reports whether the contained frames are stereo.
func (m *Metadata) IsStereo() bool {
	return m.Opus != nil && m.Opus.Channels == 2
}

// ReadHeader validates the magic of a DCA1 stream and reads the metadata
// block, leaving r positioned at the first frame header.
func ReadHeader(r io.Reader) (*Metadata, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	if header != Magic {
		return nil, ErrInvalidHeader{}
	}

	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := int32(binary.LittleEndian.Uint32(header[:]))
	if size < 2 {
		return nil, ErrInvalidMetadataSize{Size: size}
	}

	raw := make([]byte, size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, err
	}

	var metadata Metadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, ErrInvalidMetadata{Err: err}
	}

	return &metadata, nil
}

// ReadFrameHeader reads the length prefix of the next Opus frame.
// It returns io.EOF at the end of the stream.
func ReadFrameHeader(r io.Reader) (int, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return 0, io.EOF
		}
		return 0, err
	}

	size := int16(binary.LittleEndian.Uint16(buf[:]))
	if size <= 0 {
		return 0, ErrInvalidFrameSize{Size: size}
	}

	return int(size), nil
}
