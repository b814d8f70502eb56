package govoice

import (
	"io"
	"log/slog"
	"time"

	"github.com/pion/rtp"
	"gopkg.in/hraban/opus.v2"

	"github.com/corvomedia/govoice/pkg/crypt"
	"github.com/corvomedia/govoice/pkg/input"
)

// maxOpusPacketSize bounds one encoded frame at the highest bitrates.
const maxOpusPacketSize = 4000

// mixer is the transmit side of the driver: every 20ms it sums all playing
// tracks into a stereo float frame, encodes it as Opus, seals it as RTP and
// queues it for the UDP writer.
//
// The mixer never waits on track input on the hot path; inputs present a
// read-what-you-can contract, with pipe-backed readers buffered by their own
// goroutine.
type mixer struct {
	ic  *interconnect
	log *slog.Logger

	tracks  []*Track
	conn    *mixerConnection
	ssrc    uint32
	bitrate Bitrate

	encoder   *opus.Encoder
	sequence  uint16
	timestamp uint32

	// silentCount counts consecutive silent ticks. It starts saturated so
	// that nothing is transmitted before the first audible frame.
	silentCount int
	speaking    bool

	mixBuf  [input.StereoFrameSize]float32
	opusBuf []byte
}

func newMixer(ic *interconnect, log *slog.Logger, bitrate Bitrate) (*mixer, error) {
	enc, err := opus.NewEncoder(input.SampleRate, 2, opus.AppAudio)
	if err != nil {
		return nil, err
	}
	if err := bitrate.apply(enc); err != nil {
		return nil, err
	}

	return &mixer{
		ic:          ic,
		log:         log.With("task", "mixer"),
		bitrate:     bitrate,
		encoder:     enc,
		silentCount: silentFrameTrail,
		opusBuf:     make([]byte, maxOpusPacketSize),
	}, nil
}

// run drives the tick loop from a monotonic deadline rather than sleep
// chaining, so that processing time does not accumulate into drift.
func (m *mixer) run() {
	deadline := time.Now()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case msg := <-m.ic.mixer:
			if !m.handleMessage(msg) {
				m.dropTracks()
				m.log.Debug("mixer stopped")
				return
			}

		case <-timer.C:
			m.tick()

			deadline = deadline.Add(input.FrameLen)
			if now := time.Now(); now.After(deadline.Add(input.FrameLen)) {
				// Too far behind to catch up; skip rather than flood.
				deadline = now
			}
			timer.Reset(time.Until(deadline))
		}
	}
}

func (m *mixer) handleMessage(msg mixerMessage) bool {
	switch msg := msg.(type) {
	case mixerAddTrack:
		m.addTrack(msg.track)

	case mixerSetTrack:
		for _, t := range m.tracks {
			m.finishTrack(t)
		}
		m.removeFinished()
		if msg.track != nil {
			m.addTrack(msg.track)
		}

	case mixerSetBitrate:
		m.bitrate = msg.bitrate
		if err := m.bitrate.apply(m.encoder); err != nil {
			m.log.Warn("unable to set bitrate", "error", err)
		}

	case mixerSetConn:
		m.conn = msg.conn
		m.ssrc = msg.ssrc
		m.sequence = 0
		m.timestamp = 0

	case mixerPoison:
		return false
	}

	return true
}

func (m *mixer) addTrack(t *Track) {
	m.tracks = append(m.tracks, t)
	if t.mode == PlayModePlay {
		m.fireTrackEvent(t, TrackPlay)
	}
}

// tick is one 20ms mixer period.
func (m *mixer) tick() {
	m.processCommands()

	for i := range m.mixBuf {
		m.mixBuf[i] = 0
	}

	audible := false
	for _, t := range m.tracks {
		if t.mode != PlayModePlay || t.finished {
			continue
		}

		n, err := t.in.Mix(&m.mixBuf, t.volume)
		switch {
		case err == io.EOF:
			m.advanceLoop(t)
			continue

		case err != nil:
			m.log.Warn("track read failed", "track", t.id, "error", err)
			m.finishTrack(t)
			continue

		case n == 0:
			// the track's source has nothing buffered this tick
			continue
		}

		audible = true
		t.position += input.FrameLen
		t.playTime += input.FrameLen
		t.positionModified = false

		state := t.State()
		t.events.fireTimed(t.playTime, &EventContext{Track: &state})
	}

	m.transmit(audible)
}

// transmit encodes and sends this tick's frame. After the last audible frame,
// exactly silentFrameTrail explicit silent frames go out, then transmission
// pauses until audio returns.
func (m *mixer) transmit(audible bool) {
	if m.conn == nil {
		return
	}

	var payload []byte

	if audible {
		m.silentCount = 0
		if !m.speaking {
			m.speaking = true
			m.sendSpeaking(true)
		}

		n, err := m.encoder.EncodeFloat32(m.mixBuf[:], m.opusBuf)
		if err != nil {
			m.log.Error("opus encode failed", "error", err)
			m.requestReconnect()
			return
		}
		payload = m.opusBuf[:n]
	} else {
		if m.silentCount >= silentFrameTrail {
			return
		}
		m.silentCount++
		payload = silentFrame

		if m.silentCount == silentFrameTrail && m.speaking {
			m.speaking = false
			m.sendSpeaking(false)
		}
	}

	packet, err := m.buildPacket(payload)
	if err != nil {
		m.log.Error("unable to build RTP packet", "error", err)
		m.requestReconnect()
		return
	}

	if !m.conn.udp.Push(packet) {
		m.log.Warn("UDP send queue full, dropping frame")
	}

	m.sequence++
	m.timestamp += timestampStep
}

// buildPacket seals payload into an encrypted RTP datagram. The nonce is the
// 12-byte header zero-padded to 24 bytes; the tag lands right after the
// header with the ciphertext behind it.
func (m *mixer) buildPacket(payload []byte) ([]byte, error) {
	header := rtp.Header{
		Version:        rtpVersion,
		PayloadType:    rtpProfileType,
		SequenceNumber: m.sequence,
		Timestamp:      m.timestamp,
		SSRC:           m.ssrc,
	}

	buf := make([]byte, rtpHeaderSize, rtpHeaderSize+crypt.TagSize+len(payload))
	if _, err := header.MarshalTo(buf); err != nil {
		return nil, err
	}

	return m.conn.cipher.Seal(buf, payload), nil
}

func (m *mixer) sendSpeaking(speaking bool) {
	select {
	case m.ic.aux <- auxSpeaking{speaking: speaking}:
	default:
		m.log.Warn("aux channel full, dropping speaking update")
	}
}

func (m *mixer) requestReconnect() {
	select {
	case m.ic.core <- coreReconnect:
	default:
	}
}

// processCommands drains every track's inbox, then garbage-collects finished
// tracks.
func (m *mixer) processCommands() {
	for _, t := range m.tracks {
	drain:
		for {
			select {
			case cmd := <-t.commands:
				m.handleCommand(t, cmd)
			default:
				break drain
			}
		}
	}

	m.removeFinished()
}

func (m *mixer) handleCommand(t *Track, cmd trackCommand) {
	switch cmd := cmd.(type) {
	case trackPlay:
		if !t.finished && t.mode != PlayModePlay {
			t.Play()
			m.fireTrackEvent(t, TrackPlay)
		}

	case trackPause:
		if !t.finished && t.mode == PlayModePlay {
			t.Pause()
			m.fireTrackEvent(t, TrackPause)
		}

	case trackStop:
		if !t.finished {
			m.finishTrack(t)
		}

	case trackVolume:
		t.volume = cmd.volume

	case trackSeek:
		pos, err := t.in.SeekTime(cmd.position)
		if err != nil {
			m.log.Warn("seek failed", "track", t.id, "error", err)
			return
		}
		t.position = pos
		t.positionModified = true

	case trackLoop:
		t.loops = cmd.loops

	case trackAddEvent:
		t.events.add(cmd.data, t.playTime)

	case trackDo:
		cmd.action(t)

	case trackRequest:
		cmd.reply <- t.State()
	}
}

// advanceLoop handles a track reaching the end of its input: restart while
// loops remain, otherwise finish.
func (m *mixer) advanceLoop(t *Track) {
	if t.loops != 0 && t.in.IsSeekable() {
		if _, err := t.in.SeekTime(0); err == nil {
			if t.loops > 0 {
				t.loops--
			}
			t.position = 0
			m.fireTrackEvent(t, TrackLoop)
			return
		}
	}

	m.finishTrack(t)
}

func (m *mixer) finishTrack(t *Track) {
	if t.finished {
		return
	}
	t.Stop()
	m.fireTrackEvent(t, TrackEnd)
}

func (m *mixer) removeFinished() {
	kept := m.tracks[:0]
	for _, t := range m.tracks {
		if t.finished {
			t.close()
			continue
		}
		kept = append(kept, t)
	}
	m.tracks = kept
}

func (m *mixer) dropTracks() {
	for _, t := range m.tracks {
		if !t.finished {
			t.Stop()
		}
		t.close()
	}
	m.tracks = nil
}

func (m *mixer) fireTrackEvent(t *Track, ev TrackEvent) {
	state := t.State()
	t.events.fireTrack(ev, t.playTime, &EventContext{Track: &state})
}
