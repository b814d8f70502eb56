package govoice

import (
	"context"
	"encoding/binary"
	"log/slog"
	"net"
	"time"

	"github.com/corvomedia/govoice/pkg/ringbuffer"
)

// runUDPWriter is the single writer of the voice socket's send half. It
// drains queued datagrams from the ring buffer and transmits a small
// keepalive frame whenever nothing has been sent for udpKeepaliveGap, so NAT
// mappings stay open. It owns
// the socket's lifetime: the socket is closed when the writer exits.
func runUDPWriter(
	ctx context.Context,
	conn net.PacketConn,
	raddr net.Addr,
	ssrc uint32,
	queue *ringbuffer.RingBuffer,
	log *slog.Logger,
) {
	log = log.With("task", "udp-writer")
	log.Debug("UDP writer started")

	defer conn.Close()

	var keepalive [keepalivePacketSize]byte
	binary.BigEndian.PutUint32(keepalive[0:4], ssrc)

	timer := time.NewTimer(udpKeepaliveGap)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("UDP writer stopped")
			return

		case <-queue.Wait():
			sent := false
			for {
				packet, ok := queue.Pull()
				if !ok {
					break
				}
				if _, err := conn.WriteTo(packet, raddr); err != nil {
					log.Debug("UDP write failed", "error", err)
				}
				sent = true
			}

			// traffic keeps the mapping open: push the keepalive back
			if sent {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(udpKeepaliveGap)
			}

		case <-timer.C:
			log.Debug("sending UDP keepalive")
			if _, err := conn.WriteTo(keepalive[:], raddr); err != nil {
				log.Debug("UDP keepalive failed", "error", err)
			}
			timer.Reset(udpKeepaliveGap)
		}
	}
}
