package govoice

import (
	"fmt"
)

// ErrEndpointURL is returned when the voice endpoint cannot be turned into a
// gateway URL.
type ErrEndpointURL struct {
	Endpoint string
	Err      error
}

// Error implements the error interface.
func (e ErrEndpointURL) Error() string {
	return fmt.Sprintf("invalid voice endpoint %q: %v", e.Endpoint, e.Err)
}

// ErrExpectedHandshake is returned when the server sends an unexpected frame
// during the handshake phase.
type ErrExpectedHandshake struct {
	Got string
}

// Error implements the error interface.
func (e ErrExpectedHandshake) Error() string {
	return fmt.Sprintf("expected a handshake frame, got %s", e.Got)
}

// ErrCryptoModeUnavailable is returned when the server does not offer the
// supported encryption mode.
type ErrCryptoModeUnavailable struct {
	Modes []string
}

// Error implements the error interface.
func (e ErrCryptoModeUnavailable) Error() string {
	return fmt.Sprintf("server does not support %s (offered %v)", cryptoMode, e.Modes)
}

// ErrCryptoModeInvalid is returned when the session description names a mode
// other than the one selected.
type ErrCryptoModeInvalid struct {
	Mode string
}

// Error implements the error interface.
func (e ErrCryptoModeInvalid) Error() string {
	return fmt.Sprintf("server selected unexpected encryption mode %q", e.Mode)
}

// ErrIllegalDiscoveryResponse is returned when the IP discovery reply cannot
// be parsed.
type ErrIllegalDiscoveryResponse struct {
	Err error
}

// Error implements the error interface.
func (e ErrIllegalDiscoveryResponse) Error() string {
	return fmt.Sprintf("illegal IP discovery response: %v", e.Err)
}

// ErrInterconnectSend is returned when a command is issued after the driver's
// tasks have shut down.
type ErrInterconnectSend struct {
	Channel string
}

// Error implements the error interface.
func (e ErrInterconnectSend) Error() string {
	return fmt.Sprintf("driver is closed (%s channel gone)", e.Channel)
}

// ErrTrackClosed is returned by track handle operations after the track has
// been torn down.
type ErrTrackClosed struct{}

// Error implements the error interface.
func (e ErrTrackClosed) Error() string {
	return "track is closed"
}

// ErrSeekUnsupported is returned when seeking a track whose input has no
// stable byte positions.
type ErrSeekUnsupported struct{}

// Error implements the error interface.
func (e ErrSeekUnsupported) Error() string {
	return "track input is not seekable"
}
