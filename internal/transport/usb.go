package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/gousb"
)

// USB identifiers and transfer parameters.
const (
	USB_VENDOR_ID  = gousb.ID(0x0483)
	USB_PRODUCT_ID = gousb.ID(0xF123)

	// The device exposes a single bulk pair on interface 0: OUT 0x01,
	// IN 0x81.
	USB_ENDPOINT_NUM = 1

	USB_READ_CHUNK  = 256
	USB_TRIAL_READS = 3

	// Short pause after each write; the firmware needs a moment before it
	// starts answering bulk IN requests.
	USB_SETTLE_DELAY = 10 * time.Millisecond
)

// USBTransport talks to the detector over its vendor bulk interface.
type USBTransport struct {
	ctx     *gousb.Context
	dev     *gousb.Device
	cfg     *gousb.Config
	intf    *gousb.Interface
	out     *gousb.OutEndpoint
	in      *gousb.InEndpoint
	closing bool
	debug   bool
}

// NewUSBTransport creates an unconnected USB transport.
func NewUSBTransport(debug bool) *USBTransport {
	return &USBTransport{debug: debug}
}

// Kind reports KindUSB.
func (t *USBTransport) Kind() Kind { return KindUSB }

// IsSupported reports whether a USB stack is available on this host. libusb
// is compiled in, so the capability is always present.
func (t *USBTransport) IsSupported() bool { return true }

// Connect opens the first device matching the vendor/product pair, selects
// configuration 1 and claims interface 0.
func (t *USBTransport) Connect(_ context.Context) error {
	t.ctx = gousb.NewContext()

	dev, err := t.ctx.OpenDeviceWithVIDPID(USB_VENDOR_ID, USB_PRODUCT_ID)
	if err != nil {
		t.teardown()
		return &DeviceNotFoundError{Kind: KindUSB, Detail: err.Error()}
	}
	if dev == nil {
		t.teardown()
		return &DeviceNotFoundError{
			Kind:   KindUSB,
			Detail: fmt.Sprintf("no device with VID:PID %s:%s", USB_VENDOR_ID, USB_PRODUCT_ID),
		}
	}
	t.dev = dev

	// Detach a kernel driver if one grabbed the interface first.
	if err := dev.SetAutoDetach(true); err != nil && t.debug {
		log.Printf("USB: SetAutoDetach: %v", err)
	}

	cfg, err := dev.Config(1)
	if err != nil {
		t.teardown()
		return fmt.Errorf("USB: select configuration 1: %v", err)
	}
	t.cfg = cfg

	intf, err := cfg.Interface(0, 0)
	if err != nil {
		t.teardown()
		return fmt.Errorf("USB: claim interface 0: %v", err)
	}
	t.intf = intf

	out, err := intf.OutEndpoint(USB_ENDPOINT_NUM)
	if err != nil {
		t.teardown()
		return fmt.Errorf("USB: open OUT endpoint %d: %v", USB_ENDPOINT_NUM, err)
	}
	in, err := intf.InEndpoint(USB_ENDPOINT_NUM)
	if err != nil {
		t.teardown()
		return fmt.Errorf("USB: open IN endpoint %d: %v", USB_ENDPOINT_NUM, err)
	}
	t.out = out
	t.in = in
	t.closing = false

	if t.debug {
		log.Printf("USB: connected to %s:%s", USB_VENDOR_ID, USB_PRODUCT_ID)
	}
	return nil
}

// Connected reports whether the bulk endpoints are open.
func (t *USBTransport) Connected() bool {
	return t.in != nil && !t.closing
}

// Send writes the frame in a single bulk transfer. The USB stack chunks at
// the driver layer, so no host-side splitting is needed. A short settle
// delay follows every write.
func (t *USBTransport) Send(ctx context.Context, frame []byte) error {
	if !t.Connected() {
		return ErrConnectionClosed
	}
	if _, err := t.out.WriteContext(ctx, frame); err != nil {
		if t.closing {
			return ErrConnectionClosed
		}
		if ctx.Err() != nil {
			return ctxError(ctx)
		}
		return fmt.Errorf("USB: bulk write: %v", err)
	}
	time.Sleep(USB_SETTLE_DELAY)
	return nil
}

// Receive assembles one complete response. The first non-empty bulk read
// carries the 4-byte length prefix; further reads of up to USB_READ_CHUNK
// bytes follow until the declared length is satisfied.
func (t *USBTransport) Receive(ctx context.Context) ([]byte, error) {
	if !t.Connected() {
		return nil, ErrConnectionClosed
	}
	return readResponse(func(buf []byte) (int, error) {
		n, err := t.in.ReadContext(ctx, buf)
		if err != nil {
			if t.closing {
				return 0, ErrConnectionClosed
			}
			if ctx.Err() != nil {
				return 0, ctxError(ctx)
			}
		}
		return n, err
	}, t.debug)
}

// readResponse runs the trial-read and reassembly loop over a raw bulk read
// function. Split out so the reassembly logic is testable without hardware.
func readResponse(read func([]byte) (int, error), debug bool) ([]byte, error) {
	buf := make([]byte, USB_READ_CHUNK)

	// Trial reads: the firmware sometimes needs more than one bulk IN
	// request before data shows up. Empty reads burn an attempt; a timeout
	// or closed link fails immediately.
	var first []byte
	for attempt := 0; attempt < USB_TRIAL_READS; attempt++ {
		n, err := read(buf)
		if errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectionClosed) {
			return nil, err
		}
		if err != nil {
			if debug {
				log.Printf("USB: trial read %d: %v", attempt+1, err)
			}
			continue
		}
		if n == 0 {
			continue
		}
		first = buf[:n]
		break
	}
	if first == nil {
		return nil, &MultipleReadFailureError{Attempts: USB_TRIAL_READS}
	}
	if len(first) < 4 {
		return nil, fmt.Errorf("USB: first bulk read returned %d bytes, need at least the length prefix", len(first))
	}

	total := int(binary.LittleEndian.Uint32(first[:4]))
	response := make([]byte, 0, total)
	response = append(response, first[4:]...)

	for len(response) < total {
		want := total - len(response)
		if want > USB_READ_CHUNK {
			want = USB_READ_CHUNK
		}
		n, err := read(buf[:want])
		if err != nil {
			if errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectionClosed) {
				return nil, err
			}
			return nil, fmt.Errorf("USB: bulk read: %v", err)
		}
		response = append(response, buf[:n]...)
	}
	if len(response) > total {
		return nil, fmt.Errorf("USB: device sent %d bytes, declared %d", len(response), total)
	}
	return response, nil
}

// Disconnect releases the claimed interface and closes the device. It is
// idempotent; teardown failures are logged, never re-raised.
func (t *USBTransport) Disconnect() error {
	if t.closing && t.ctx == nil {
		return nil
	}
	t.closing = true
	t.teardown()
	if t.debug {
		log.Printf("USB: disconnected")
	}
	return nil
}

func (t *USBTransport) teardown() {
	t.out = nil
	t.in = nil
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.cfg != nil {
		if err := t.cfg.Close(); err != nil && t.debug {
			log.Printf("USB: config close: %v", err)
		}
		t.cfg = nil
	}
	if t.dev != nil {
		if err := t.dev.Close(); err != nil && t.debug {
			log.Printf("USB: device close: %v", err)
		}
		t.dev = nil
	}
	if t.ctx != nil {
		if err := t.ctx.Close(); err != nil && t.debug {
			log.Printf("USB: context close: %v", err)
		}
		t.ctx = nil
	}
}
