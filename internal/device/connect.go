package device

import (
	"context"
	"errors"
	"log"

	"github.com/gammasense/gammalink/internal/transport"
)

// ConnectionKind selects the transport when connecting through the facade.
type ConnectionKind int

const (
	ConnectAuto ConnectionKind = iota // USB first, BLE fallback
	ConnectUSB
	ConnectBLE
)

// ErrNoTransport is returned by Connect when no supported transport could
// reach a device.
var ErrNoTransport = errors.New("device: no transport reached a device")

// Connect builds a transport of the requested kind, connects it, and runs
// the session handshake. With ConnectAuto, USB is tried first because it is
// cheaper to probe; if no USB device answers, BLE discovery runs.
func Connect(ctx context.Context, kind ConnectionKind, debug bool, opts ...Option) (*Session, error) {
	switch kind {
	case ConnectUSB:
		return connectOver(ctx, transport.NewUSBTransport(debug), opts...)
	case ConnectBLE:
		return connectOver(ctx, transport.NewBLETransport(debug), opts...)
	case ConnectAuto:
		s, err := connectOver(ctx, transport.NewUSBTransport(debug), opts...)
		var notFound *transport.DeviceNotFoundError
		if err == nil {
			return s, nil
		}
		if !errors.As(err, &notFound) {
			return nil, err
		}
		if debug {
			log.Printf("device: no USB device, trying BLE: %v", err)
		}
		ble := transport.NewBLETransport(debug)
		if !ble.IsSupported() {
			return nil, ErrNoTransport
		}
		return connectOver(ctx, ble, opts...)
	default:
		return nil, ErrNoTransport
	}
}

func connectOver(ctx context.Context, t transport.Transport, opts ...Option) (*Session, error) {
	s := NewSession(t, opts...)
	if err := s.Init(ctx); err != nil {
		t.Disconnect()
		return nil, err
	}
	return s, nil
}
