package govoice

import (
	"context"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/corvomedia/govoice/pkg/crypt"
	"github.com/corvomedia/govoice/pkg/gateway"
	"github.com/corvomedia/govoice/pkg/ipdiscovery"
	"github.com/corvomedia/govoice/pkg/ringbuffer"
)

// connect drives the new-connection handshake: open the gateway, identify,
// observe Hello and Ready in either order, discover the external address over
// UDP, select the protocol, wait for the session description, then hand the
// durable halves off to the mixer, auxiliary and UDP writer tasks.
func (d *Driver) connect(ctx context.Context) error {
	if _, err := gateway.URL(d.info.Endpoint); err != nil {
		return ErrEndpointURL{Endpoint: d.info.Endpoint, Err: err}
	}

	ws, err := gateway.Dial(ctx, d.info.Endpoint, d.DialContext, d.TLSConfig, d.WriteTimeout)
	if err != nil {
		return err
	}

	err = ws.WriteEvent(gateway.OpIdentify, gateway.Identify{
		ServerID:  d.info.GuildID,
		UserID:    d.info.UserID,
		SessionID: d.info.SessionID,
		Token:     d.info.Token,
	})
	if err != nil {
		ws.Close() //nolint:errcheck
		return err
	}

	// Hello and Ready arrive in either order; anything else at this stage is
	// a handshake violation.
	var hello *gateway.Hello
	var ready *gateway.Ready

	deadline := time.Now().Add(d.ReadTimeout)
	for hello == nil || ready == nil {
		ev, err := ws.ReadEvent(deadline)
		if err != nil {
			ws.Close() //nolint:errcheck
			return err
		}

		switch ev := ev.(type) {
		case *gateway.Hello:
			hello = ev
		case *gateway.Ready:
			ready = ev
		case *gateway.ParseError:
			ws.Close() //nolint:errcheck
			return ev.Err
		default:
			ws.Close() //nolint:errcheck
			return ErrExpectedHandshake{Got: eventName(ev)}
		}
	}

	if !slices.Contains(ready.Modes, cryptoMode) {
		ws.Close() //nolint:errcheck
		return ErrCryptoModeUnavailable{Modes: ready.Modes}
	}

	udp, raddr, external, err := d.discoverAddress(ready)
	if err != nil {
		ws.Close() //nolint:errcheck
		return err
	}

	err = ws.WriteEvent(gateway.OpSelectProtocol, gateway.SelectProtocol{
		Protocol: "udp",
		Data: gateway.SelectProtocolData{
			Address: external.Address,
			Port:    external.Port,
			Mode:    cryptoMode,
		},
	})
	if err != nil {
		ws.Close()  //nolint:errcheck
		udp.Close() //nolint:errcheck
		return err
	}

	cipher, err := d.awaitSessionDescription(ws)
	if err != nil {
		ws.Close()  //nolint:errcheck
		udp.Close() //nolint:errcheck
		return err
	}

	d.log.Info("voice connection established",
		"endpoint", d.info.Endpoint,
		"ssrc", ready.SSRC,
		"heartbeat_interval_ms", hello.HeartbeatInterval,
	)

	// Handoff: the writer task owns the socket's send half and its lifetime,
	// the auxiliary task owns the receive half and the WebSocket.
	udpQueue, err := ringbuffer.New(udpQueueSize)
	if err != nil {
		ws.Close()  //nolint:errcheck
		udp.Close() //nolint:errcheck
		return err
	}
	go runUDPWriter(d.ctx, udp, raddr, ready.SSRC, udpQueue, d.log)

	heartbeat := time.Duration(hello.HeartbeatInterval * float64(time.Millisecond))
	d.ic.aux <- auxSetCipher{cipher: cipher}
	d.ic.aux <- auxSetKeepalive{interval: heartbeat}
	d.ic.aux <- auxSetSsrc{ssrc: ready.SSRC}
	d.ic.aux <- auxSetUDP{conn: udp}
	d.ic.aux <- auxSetWS{conn: ws}

	d.ic.mixer <- mixerSetConn{
		conn: &mixerConnection{cipher: cipher, udp: udpQueue},
		ssrc: ready.SSRC,
	}

	return nil
}

// discoverAddress opens the voice UDP socket and runs the IP discovery
// exchange on it, returning the socket, the server's address and the
// discovered external address.
func (d *Driver) discoverAddress(ready *gateway.Ready) (net.PacketConn, *net.UDPAddr, *ipdiscovery.Packet, error) {
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(ready.IP, strconv.Itoa(int(ready.Port))))
	if err != nil {
		return nil, nil, nil, err
	}

	udp, err := d.ListenPacket("udp", ":0")
	if err != nil {
		return nil, nil, nil, err
	}

	request, err := ipdiscovery.Packet{
		Type: ipdiscovery.TypeRequest,
		SSRC: ready.SSRC,
	}.Marshal()
	if err != nil {
		udp.Close() //nolint:errcheck
		return nil, nil, nil, err
	}

	if _, err := udp.WriteTo(request, raddr); err != nil {
		udp.Close() //nolint:errcheck
		return nil, nil, nil, err
	}

	udp.SetReadDeadline(time.Now().Add(d.ReadTimeout)) //nolint:errcheck

	buf := make([]byte, ipdiscovery.Size)
	n, _, err := udp.ReadFrom(buf)
	if err != nil {
		udp.Close() //nolint:errcheck
		return nil, nil, nil, err
	}

	var response ipdiscovery.Packet
	if err := response.Unmarshal(buf[:n]); err != nil {
		udp.Close() //nolint:errcheck
		return nil, nil, nil, ErrIllegalDiscoveryResponse{Err: err}
	}
	if response.Type != ipdiscovery.TypeResponse {
		udp.Close() //nolint:errcheck
		return nil, nil, nil, ErrIllegalDiscoveryResponse{Err: errUnexpectedType(response.Type)}
	}

	udp.SetReadDeadline(time.Time{}) //nolint:errcheck

	d.log.Debug("discovered external address",
		"address", response.Address,
		"port", response.Port,
	)

	return udp, raddr, &response, nil
}

type errUnexpectedType ipdiscovery.Type

func (e errUnexpectedType) Error() string {
	return "unexpected discovery packet type " + strconv.Itoa(int(e))
}

// awaitSessionDescription consumes gateway frames until the session
// description arrives, then validates the mode and builds the cipher. Other
// frames at this stage are tolerated, since the server may interleave
// client-state traffic.
func (d *Driver) awaitSessionDescription(ws *gateway.Conn) (*crypt.Cipher, error) {
	deadline := time.Now().Add(d.ReadTimeout)

	for {
		ev, err := ws.ReadEvent(deadline)
		if err != nil {
			return nil, err
		}

		desc, ok := ev.(*gateway.SessionDescription)
		if !ok {
			d.log.Debug("ignoring frame while awaiting session description",
				"frame", eventName(ev),
			)
			continue
		}

		if desc.Mode != cryptoMode {
			return nil, ErrCryptoModeInvalid{Mode: desc.Mode}
		}

		return crypt.NewCipher(desc.SecretKey), nil
	}
}

// resume drives the session-resume handshake: re-open the gateway, send
// Resume, observe Hello and Resumed in either order. No address rediscovery
// and no rekey; the existing data plane keeps running.
func (d *Driver) resume(ctx context.Context) error {
	ws, err := gateway.Dial(ctx, d.info.Endpoint, d.DialContext, d.TLSConfig, d.WriteTimeout)
	if err != nil {
		return err
	}

	err = ws.WriteEvent(gateway.OpResume, gateway.Resume{
		ServerID:  d.info.GuildID,
		SessionID: d.info.SessionID,
		Token:     d.info.Token,
	})
	if err != nil {
		ws.Close() //nolint:errcheck
		return err
	}

	var hello *gateway.Hello
	resumed := false

	deadline := time.Now().Add(d.ReadTimeout)
	for hello == nil || !resumed {
		ev, err := ws.ReadEvent(deadline)
		if err != nil {
			ws.Close() //nolint:errcheck
			return err
		}

		switch ev := ev.(type) {
		case *gateway.Hello:
			hello = ev
		case *gateway.Resumed:
			resumed = true
		case *gateway.ParseError:
			ws.Close() //nolint:errcheck
			return ev.Err
		default:
			ws.Close() //nolint:errcheck
			return ErrExpectedHandshake{Got: eventName(ev)}
		}
	}

	heartbeat := time.Duration(hello.HeartbeatInterval * float64(time.Millisecond))
	d.ic.aux <- auxSetKeepalive{interval: heartbeat}
	d.ic.aux <- auxSetWS{conn: ws}

	d.log.Info("voice connection resumed", "endpoint", d.info.Endpoint)
	return nil
}

// eventName names a decoded gateway frame for error reporting.
func eventName(ev interface{}) string {
	switch ev := ev.(type) {
	case *gateway.Hello:
		return "hello"
	case *gateway.Ready:
		return "ready"
	case *gateway.SessionDescription:
		return "session description"
	case *gateway.Speaking:
		return "speaking"
	case *gateway.HeartbeatAck:
		return "heartbeat ack"
	case *gateway.Resumed:
		return "resumed"
	case *gateway.ClientConnect:
		return "client connect"
	case *gateway.ClientDisconnect:
		return "client disconnect"
	case *gateway.Unknown:
		return "op " + strconv.Itoa(int(ev.Op))
	case *gateway.ParseError:
		return "unparsable frame"
	}
	return "unknown frame"
}
