package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// GATT identifiers of the detector's protocol service. These are fixed and
// must match the device exactly for discovery to succeed.
const (
	BLE_SERVICE_UUID     = "e63215e5-7003-49d8-96b0-b024798fb901"
	BLE_WRITE_CHAR_UUID  = "e63215e6-7003-49d8-96b0-b024798fb901"
	BLE_NOTIFY_CHAR_UUID = "e63215e7-7003-49d8-96b0-b024798fb901"

	// Largest chunk written per GATT operation. 18 bytes is the guaranteed
	// ATT payload under the default MTU, so it works before any MTU
	// negotiation.
	BLE_WRITE_CHUNK = 18

	BLE_SCAN_TIMEOUT = 20 * time.Second
)

// BLETransport talks to the detector over its GATT service. Responses
// arrive as notifications and are reassembled by a responseAssembler;
// notifications push, the single Receive waiter pulls.
type BLETransport struct {
	adapter *bluetooth.Adapter
	device  bluetooth.Device

	writeChar  bluetooth.DeviceCharacteristic
	notifyChar bluetooth.DeviceCharacteristic

	asm *responseAssembler

	mu        sync.Mutex
	connected bool
	closing   bool
	debug     bool
}

// NewBLETransport creates an unconnected BLE transport using the host's
// default adapter.
func NewBLETransport(debug bool) *BLETransport {
	return &BLETransport{
		adapter: bluetooth.DefaultAdapter,
		asm:     newResponseAssembler(),
		debug:   debug,
	}
}

// Kind reports KindBLE.
func (t *BLETransport) Kind() Kind { return KindBLE }

// IsSupported reports whether the host's BLE adapter can be enabled.
func (t *BLETransport) IsSupported() bool {
	return t.adapter.Enable() == nil
}

// Connect scans for a device advertising the protocol service, connects,
// and wires up the write and notify characteristics.
func (t *BLETransport) Connect(ctx context.Context) error {
	if err := t.adapter.Enable(); err != nil {
		return &DeviceNotFoundError{Kind: KindBLE, Detail: fmt.Sprintf("enable adapter: %v", err)}
	}

	serviceUUID, err := bluetooth.ParseUUID(BLE_SERVICE_UUID)
	if err != nil {
		return fmt.Errorf("BLE: parse service UUID: %v", err)
	}

	// Track live link state; an unsolicited drop must reject the pending
	// receive so no caller hangs.
	t.adapter.SetConnectHandler(func(dev bluetooth.Device, connected bool) {
		t.mu.Lock()
		t.connected = connected
		closing := t.closing
		t.mu.Unlock()
		if !connected && !closing {
			if t.debug {
				log.Printf("BLE: link dropped")
			}
			t.asm.fail(ErrConnectionClosed)
		}
	})

	result, err := t.scan(ctx, serviceUUID)
	if err != nil {
		return err
	}
	if t.debug {
		log.Printf("BLE: found %s (%s)", result.LocalName(), result.Address)
	}

	device, err := t.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return &DeviceNotFoundError{Kind: KindBLE, Detail: fmt.Sprintf("connect: %v", err)}
	}
	t.device = device

	if err := t.discoverCharacteristics(serviceUUID); err != nil {
		t.device.Disconnect()
		return err
	}

	if err := t.notifyChar.EnableNotifications(func(data []byte) {
		t.asm.feed(data)
	}); err != nil {
		t.device.Disconnect()
		return fmt.Errorf("BLE: enable notifications: %v", err)
	}

	t.mu.Lock()
	t.connected = true
	t.closing = false
	t.mu.Unlock()
	return nil
}

func (t *BLETransport) scan(ctx context.Context, serviceUUID bluetooth.UUID) (bluetooth.ScanResult, error) {
	var found bluetooth.ScanResult

	scanCtx, cancel := context.WithTimeout(ctx, BLE_SCAN_TIMEOUT)
	defer cancel()
	go func() {
		<-scanCtx.Done()
		t.adapter.StopScan()
	}()

	matched := false
	err := t.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if result.AdvertisementPayload.HasServiceUUID(serviceUUID) {
			found = result
			matched = true
			adapter.StopScan()
		}
	})
	if err != nil {
		return found, &DeviceNotFoundError{Kind: KindBLE, Detail: fmt.Sprintf("scan: %v", err)}
	}
	if !matched {
		return found, &DeviceNotFoundError{Kind: KindBLE, Detail: "no device advertising the protocol service"}
	}
	return found, nil
}

func (t *BLETransport) discoverCharacteristics(serviceUUID bluetooth.UUID) error {
	writeUUID, _ := bluetooth.ParseUUID(BLE_WRITE_CHAR_UUID)
	notifyUUID, _ := bluetooth.ParseUUID(BLE_NOTIFY_CHAR_UUID)

	services, err := t.device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil || len(services) == 0 {
		return &DeviceNotFoundError{Kind: KindBLE, Detail: fmt.Sprintf("discover service: %v", err)}
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{writeUUID, notifyUUID})
	if err != nil || len(chars) != 2 {
		return &DeviceNotFoundError{Kind: KindBLE, Detail: fmt.Sprintf("discover characteristics: %v", err)}
	}
	t.writeChar = chars[0]
	t.notifyChar = chars[1]
	return nil
}

// Connected reports the live GATT link state, not a latch set at connect
// time.
func (t *BLETransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected && !t.closing
}

// Send splits the frame into chunks no larger than BLE_WRITE_CHUNK and
// writes them in order, each write completing before the next starts.
func (t *BLETransport) Send(ctx context.Context, frame []byte) error {
	if !t.Connected() {
		return ErrConnectionClosed
	}
	for off := 0; off < len(frame); off += BLE_WRITE_CHUNK {
		if err := ctx.Err(); err != nil {
			return ctxError(ctx)
		}
		end := off + BLE_WRITE_CHUNK
		if end > len(frame) {
			end = len(frame)
		}
		if _, err := t.writeChar.WriteWithoutResponse(frame[off:end]); err != nil {
			if !t.Connected() {
				return ErrConnectionClosed
			}
			return fmt.Errorf("BLE: characteristic write: %v", err)
		}
	}
	return nil
}

// Receive waits for the notification stream to assemble one complete
// response. A second Receive while one is pending fails immediately with
// ErrReceiveBusy.
func (t *BLETransport) Receive(ctx context.Context) ([]byte, error) {
	if !t.Connected() {
		return nil, ErrConnectionClosed
	}
	ch, err := t.asm.begin()
	if err != nil {
		return nil, err
	}
	select {
	case res := <-ch:
		return res.data, res.err
	case <-ctx.Done():
		t.asm.abort()
		return nil, ctxError(ctx)
	}
}

// Disconnect is idempotent: it rejects any pending receive, tears down the
// GATT connection and logs (never re-raises) teardown failures.
func (t *BLETransport) Disconnect() error {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	wasConnected := t.connected
	t.connected = false
	t.mu.Unlock()

	t.asm.fail(ErrConnectionClosed)

	if wasConnected {
		if err := t.device.Disconnect(); err != nil && t.debug {
			log.Printf("BLE: disconnect: %v", err)
		}
	}
	if t.debug {
		log.Printf("BLE: disconnected")
	}
	return nil
}
