// Package transport provides the physical channels to the detector: a USB
// bulk interface and a BLE GATT service. Both expose the same
// connect/send/receive contract; what differs is how a complete
// length-prefixed response is reassembled from the link's native transfer
// units.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies the physical channel.
type Kind int

const (
	KindUSB Kind = iota
	KindBLE
)

func (k Kind) String() string {
	switch k {
	case KindUSB:
		return "USB"
	case KindBLE:
		return "BLE"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Transport is one physical channel to the device.
//
// Send writes one complete request frame. Receive blocks until a complete
// response (declared length fully assembled, length prefix stripped) is
// available or ctx expires. At most one Receive may be outstanding; the
// wire protocol has no multiplexing, so callers serialize externally.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Disconnect() error
	Connected() bool
	Kind() Kind
}

var (
	// ErrConnectionClosed is returned for operations attempted after a
	// disconnect was initiated or the link dropped unsolicited. In-flight
	// receives are rejected with it rather than left pending.
	ErrConnectionClosed = errors.New("transport: connection closed")

	// ErrTimeout is returned when a receive did not complete within the
	// caller's window. A late response is discarded, never delivered to a
	// later request.
	ErrTimeout = errors.New("transport: receive timed out")

	// ErrReceiveBusy is returned by a second Receive call while one is
	// already pending. Only one receive slot exists; this is a contract
	// violation, not a queueing situation.
	ErrReceiveBusy = errors.New("transport: receive already in progress")
)

// DeviceNotFoundError indicates discovery or connect failed: no matching
// device, pairing declined, or the capability is unavailable on this host.
type DeviceNotFoundError struct {
	Kind   Kind
	Detail string
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("%s device not found: %s", e.Kind, e.Detail)
}

// MultipleReadFailureError indicates the USB transport exhausted its trial
// read budget without obtaining any data. Distinct from ErrTimeout: this is
// a data-availability problem, not a deadline problem.
type MultipleReadFailureError struct {
	Attempts int
}

func (e *MultipleReadFailureError) Error() string {
	return fmt.Sprintf("no data after %d bulk read attempts", e.Attempts)
}

// ctxError maps a context expiry to the transport error taxonomy.
func ctxError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}
