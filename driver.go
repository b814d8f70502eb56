package govoice

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	"github.com/corvomedia/govoice/pkg/input"
)

// Driver is a single voice session: the control-plane WebSocket, the RTP
// data plane, the mixer and the event machinery, supervised together.
//
// A zero-value Driver is ready to configure; call Connect to bring the
// session up. All exported fields must be set before Connect and not touched
// afterwards.
type Driver struct {
	//
	// parameters
	//
	// the Opus encoder bitrate.
	// It defaults to 128 kbps.
	Bitrate Bitrate
	// timeout of handshake reads.
	// It defaults to 10 seconds.
	ReadTimeout time.Duration
	// timeout of WebSocket writes.
	// It defaults to 10 seconds.
	WriteTimeout time.Duration
	// a TLS configuration to connect to the gateway.
	// It defaults to nil.
	TLSConfig *tls.Config

	//
	// system functions
	//
	// function used to initialize the gateway's TCP connection.
	// It defaults to the net package's default dialer.
	DialContext func(ctx context.Context, network, address string) (net.Conn, error)
	// function used to initialize the voice UDP socket.
	// It defaults to net.ListenPacket.
	ListenPacket func(network, address string) (net.PacketConn, error)
	// destination of the driver's logs.
	// It defaults to slog.Default().
	Log *slog.Logger

	//
	// private
	//
	info      ConnectionInfo
	log       *slog.Logger
	ic        *interconnect
	ctx       context.Context
	ctxCancel func()
	done      chan struct{}
	closeErr  error
}

// Connect performs the voice handshake and starts the session's tasks. On
// success the driver is live: tracks can be played and events fire until
// Close is called or an unrecoverable transport failure occurs.
func (d *Driver) Connect(ctx context.Context, info ConnectionInfo) error {
	if d.ReadTimeout == 0 {
		d.ReadTimeout = 10 * time.Second
	}
	if d.WriteTimeout == 0 {
		d.WriteTimeout = 10 * time.Second
	}
	if d.ListenPacket == nil {
		d.ListenPacket = net.ListenPacket
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}

	d.info = info
	d.log = d.Log.With("guild_id", info.GuildID)
	d.ic = newInterconnect()
	d.ctx, d.ctxCancel = context.WithCancel(context.Background())
	d.done = make(chan struct{})

	mix, err := newMixer(d.ic, d.log, d.Bitrate)
	if err != nil {
		d.ctxCancel()
		close(d.done)
		return err
	}

	aux := newAuxNetwork(d.ic, d.log)
	events := newEventDispatcher(d.ic, d.log)

	go mix.run()
	go aux.run()
	go events.run()

	if err := d.connect(ctx); err != nil {
		d.poison()
		close(d.done)
		return err
	}

	go d.run()

	return nil
}

// run is the supervisor loop: it reacts to task status messages, attempting
// a single session resume per transport failure.
func (d *Driver) run() {
	defer close(d.done)

	for {
		select {
		case <-d.ctx.Done():
			d.poison()
			return

		case msg := <-d.ic.core:
			switch msg {
			case coreReconnect:
				d.log.Info("transport failure, attempting resume")

				if err := d.resume(context.Background()); err != nil {
					d.log.Error("resume failed", "error", err)
					d.closeErr = err
					d.poison()
					return
				}

				d.ic.fireCore(CoreReconnect, EventContext{})
				d.drainReconnects()
			}
		}
	}
}

// drainReconnects swallows reconnect requests queued up by multiple tasks
// noticing the same dead socket.
func (d *Driver) drainReconnects() {
	for {
		select {
		case <-d.ic.core:
		default:
			return
		}
	}
}

func (d *Driver) poison() {
	d.ctxCancel()
	d.ic.mixer <- mixerPoison{}
	d.ic.aux <- auxPoison{}
	d.ic.events <- eventPoison{}
}

// Close tears the session down: it waits for the supervisor to exit after it
// has sent every task its poison message. It does not wait for the tasks
// themselves to finish.
func (d *Driver) Close() error {
	d.ctxCancel()
	<-d.done
	return d.closeErr
}

// Wait blocks until the session ends, either through Close or through an
// unrecoverable transport failure.
func (d *Driver) Wait() error {
	<-d.done
	return d.closeErr
}

// Play adds a track for the given input to the mix and returns its handle.
func (d *Driver) Play(in *input.Input) (*TrackHandle, error) {
	t, h := NewTrack(in)
	if err := d.sendMixer(mixerAddTrack{track: t}); err != nil {
		return nil, err
	}
	return h, nil
}

// PlayOnly stops all current tracks and plays the given input alone.
func (d *Driver) PlayOnly(in *input.Input) (*TrackHandle, error) {
	t, h := NewTrack(in)
	if err := d.sendMixer(mixerSetTrack{track: t}); err != nil {
		return nil, err
	}
	return h, nil
}

// PlayTrack adds a prepared track to the mix. This allows configuring the
// track through its handle before playback begins.
func (d *Driver) PlayTrack(t *Track) error {
	return d.sendMixer(mixerAddTrack{track: t})
}

// Stop stops all current tracks.
func (d *Driver) Stop() error {
	return d.sendMixer(mixerSetTrack{track: nil})
}

// SetBitrate reconfigures the Opus encoder bitrate.
func (d *Driver) SetBitrate(b Bitrate) error {
	return d.sendMixer(mixerSetBitrate{bitrate: b})
}

// AddGlobalEvent attaches an event to the connection. Periodic and delayed
// events tick on wall time for as long as the session lives, whether or not
// audio is playing.
func (d *Driver) AddGlobalEvent(event Event, action Action) error {
	select {
	case d.ic.events <- eventAddGlobal{data: NewEventData(event, action)}:
		return nil
	case <-d.ctx.Done():
		return ErrInterconnectSend{Channel: "events"}
	}
}

func (d *Driver) sendMixer(msg mixerMessage) error {
	select {
	case d.ic.mixer <- msg:
		return nil
	case <-d.ctx.Done():
		return ErrInterconnectSend{Channel: "mixer"}
	}
}
