package device

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/gammasense/gammalink/internal/protocol"
	"github.com/gammasense/gammalink/internal/transport"
)

// fakeTransport scripts device responses per command. Receive echoes the
// last request's header the way the firmware does, so the codec's
// correlation check passes unless corruptEcho is set.
type fakeTransport struct {
	connected   bool
	frames      [][]byte
	handler     func(command uint16, args []byte) ([]byte, error)
	corruptEcho bool
}

func (f *fakeTransport) Connect(context.Context) error {
	f.connected = true
	return nil
}

func (f *fakeTransport) Send(_ context.Context, frame []byte) error {
	if !f.connected {
		return transport.ErrConnectionClosed
	}
	f.frames = append(f.frames, append([]byte{}, frame...))
	return nil
}

func (f *fakeTransport) Receive(context.Context) ([]byte, error) {
	if !f.connected {
		return nil, transport.ErrConnectionClosed
	}
	frame := f.frames[len(f.frames)-1]
	command := binary.LittleEndian.Uint16(frame[4:6])

	payload, err := f.handler(command, frame[8:])
	if err != nil {
		return nil, err
	}
	echo := append([]byte{}, frame[4:8]...)
	if f.corruptEcho {
		echo[3] ^= 0xFF
	}
	return append(echo, payload...), nil
}

func (f *fakeTransport) Disconnect() error {
	f.connected = false
	return nil
}

func (f *fakeTransport) Connected() bool      { return f.connected }
func (f *fakeTransport) Kind() transport.Kind { return transport.KindUSB }

func u32le(values ...uint32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[4*i:], v)
	}
	return out
}

// handshakeHandler answers the four initialization commands and delegates
// everything else to next.
func handshakeHandler(next func(command uint16, args []byte) ([]byte, error)) func(uint16, []byte) ([]byte, error) {
	return func(command uint16, args []byte) ([]byte, error) {
		switch command {
		case protocol.CMD_SET_EXCHANGE, protocol.CMD_SET_TIME:
			return nil, nil
		case protocol.CMD_WR_VIRT_SFR:
			return u32le(protocol.RetcodeOK), nil
		case protocol.CMD_RD_VIRT_STRING:
			id := binary.LittleEndian.Uint32(args)
			if id == protocol.VS_TEXT_MESSAGE {
				msg := []byte("hello")
				return append(u32le(protocol.RetcodeOK, uint32(len(msg))), msg...), nil
			}
		}
		if next != nil {
			return next(command, args)
		}
		return nil, errors.New("unexpected command")
	}
}

func newReadySession(t *testing.T, next func(uint16, []byte) ([]byte, error)) (*Session, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{handler: handshakeHandler(next)}
	s := NewSession(ft, WithTimeout(time.Second))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	return s, ft
}

func TestSession_InitHandshake(t *testing.T) {
	before := time.Now()
	s, ft := newReadySession(t, nil)

	if s.Status() != StatusReady {
		t.Errorf("status = %s, want ready", s.Status())
	}
	if s.Message() != "hello" {
		t.Errorf("message = %q, want %q", s.Message(), "hello")
	}

	// Base time must carry the 128 s lead over the host clock captured at
	// the device-time reset.
	lead := s.BaseTime().Sub(before)
	if lead < 127*time.Second || lead > 129*time.Second {
		t.Errorf("base time lead = %s, want ~128s", lead)
	}

	// Handshake ran exchange, set-time, time-reset, message read.
	if len(ft.frames) != 4 {
		t.Errorf("handshake sent %d frames, want 4", len(ft.frames))
	}

	// The set-time frame packs day/month/year-2000/0/sec/min/hour/0.
	setTime := ft.frames[1]
	args := setTime[8:]
	if len(args) != 8 {
		t.Fatalf("set-time args = %d bytes, want 8", len(args))
	}
	now := time.Now()
	if args[0] != byte(now.Day()) || args[1] != byte(now.Month()) || args[2] != byte(now.Year()-2000) {
		t.Errorf("set-time date bytes = %v", args[:3])
	}
	if args[3] != 0 || args[7] != 0 {
		t.Errorf("set-time padding bytes = %d, %d, want 0, 0", args[3], args[7])
	}
}

func TestSession_InitMessageFailureNonFatal(t *testing.T) {
	ft := &fakeTransport{handler: func(command uint16, args []byte) ([]byte, error) {
		switch command {
		case protocol.CMD_SET_EXCHANGE, protocol.CMD_SET_TIME:
			return nil, nil
		case protocol.CMD_WR_VIRT_SFR:
			return u32le(protocol.RetcodeOK), nil
		case protocol.CMD_RD_VIRT_STRING:
			return u32le(0xFFFFFFFF), nil // device refuses the message read
		}
		return nil, errors.New("unexpected command")
	}}
	s := NewSession(ft, WithTimeout(time.Second))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() must tolerate a failed message read, got: %v", err)
	}
	if s.Message() != "" {
		t.Errorf("message = %q, want empty", s.Message())
	}
}

func TestSession_InitExchangeFailureAborts(t *testing.T) {
	ft := &fakeTransport{handler: func(command uint16, args []byte) ([]byte, error) {
		return nil, transport.ErrTimeout
	}}
	s := NewSession(ft, WithTimeout(time.Second))
	if err := s.Init(context.Background()); !errors.Is(err, transport.ErrTimeout) {
		t.Fatalf("Init() error = %v, want wrapped ErrTimeout", err)
	}
	if s.Status() != StatusDisconnected {
		t.Errorf("status after failed init = %s, want disconnected", s.Status())
	}
}

func TestSession_FreshSequencePerRequest(t *testing.T) {
	s, ft := newReadySession(t, func(command uint16, args []byte) ([]byte, error) {
		return u32le(0), nil
	})

	if _, err := s.DeviceStatus(context.Background()); err != nil {
		t.Fatalf("DeviceStatus() error: %v", err)
	}
	if _, err := s.DeviceStatus(context.Background()); err != nil {
		t.Fatalf("DeviceStatus() error: %v", err)
	}

	n := len(ft.frames)
	seqA := ft.frames[n-2][7]
	seqB := ft.frames[n-1][7]
	if seqA == seqB {
		t.Errorf("consecutive requests reused sequence 0x%02X", seqA)
	}
	if (seqA+1)&0x1F != seqB&0x1F {
		t.Errorf("sequence did not advance by one: 0x%02X -> 0x%02X", seqA, seqB)
	}
}

func TestSession_HeaderMismatch(t *testing.T) {
	s, ft := newReadySession(t, func(command uint16, args []byte) ([]byte, error) {
		return u32le(0), nil
	})
	ft.corruptEcho = true

	_, err := s.DeviceStatus(context.Background())
	var mismatch *protocol.HeaderMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("error = %v, want *HeaderMismatchError", err)
	}
}

func TestSession_Version(t *testing.T) {
	s, _ := newReadySession(t, func(command uint16, args []byte) ([]byte, error) {
		if command != protocol.CMD_GET_VERSION {
			return nil, errors.New("unexpected command")
		}
		payload := []byte{
			0x02, 0x00, 0x04, 0x00, // boot 4.2
			0x07, 0x00, 0x01, 0x00, // firmware 1.7
			0x06, 'A', 'u', 'g', ' ', '2', '6',
		}
		return payload, nil
	})

	v, err := s.Version(context.Background())
	if err != nil {
		t.Fatalf("Version() error: %v", err)
	}
	if v.BootMajor != 4 || v.BootMinor != 2 {
		t.Errorf("boot version = %d.%d, want 4.2", v.BootMajor, v.BootMinor)
	}
	if v.FirmMajor != 1 || v.FirmMinor != 7 {
		t.Errorf("firmware version = %d.%d, want 1.7", v.FirmMajor, v.FirmMinor)
	}
	if v.BuildDate != "Aug 26" {
		t.Errorf("build date = %q, want %q", v.BuildDate, "Aug 26")
	}
}

func TestSession_VirtualStringTrailingNullQuirk(t *testing.T) {
	payload := []byte("0123456789")

	tests := []struct {
		name      string
		response  []byte
		want      string
		expectErr bool
	}{
		{
			name:     "exact length",
			response: append(u32le(protocol.RetcodeOK, 10), payload...),
			want:     "0123456789",
		},
		{
			name:     "single trailing null discarded",
			response: append(append(u32le(protocol.RetcodeOK, 10), payload...), 0x00),
			want:     "0123456789",
		},
		{
			name:      "trailing non-null byte",
			response:  append(append(u32le(protocol.RetcodeOK, 10), payload...), 0x7F),
			expectErr: true,
		},
		{
			name:      "two trailing bytes",
			response:  append(append(u32le(protocol.RetcodeOK, 10), payload...), 0x00, 0x00),
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newReadySession(t, func(command uint16, args []byte) ([]byte, error) {
				return tt.response, nil
			})

			got, err := s.ReadVirtualString(context.Background(), protocol.VS_CONFIGURATION)
			if tt.expectErr {
				var trailing *protocol.TrailingBytesError
				if !errors.As(err, &trailing) {
					t.Fatalf("error = %v, want *TrailingBytesError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadVirtualString() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSession_VirtualStringRetcodeFailure(t *testing.T) {
	s, _ := newReadySession(t, func(command uint16, args []byte) ([]byte, error) {
		return u32le(0), nil
	})

	_, err := s.ReadVirtualBinary(context.Background(), protocol.VS_SPECTRUM)
	var failed *protocol.RegisterReadFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("error = %v, want *RegisterReadFailedError", err)
	}
	if failed.RegisterID != protocol.VS_SPECTRUM {
		t.Errorf("register id = 0x%04X, want VS_SPECTRUM", failed.RegisterID)
	}
}

func TestSession_WriteVirtualStringTrailingBytes(t *testing.T) {
	s, _ := newReadySession(t, func(command uint16, args []byte) ([]byte, error) {
		if command == protocol.CMD_WR_VIRT_STRING {
			return append(u32le(protocol.RetcodeOK), 0x00), nil
		}
		return nil, errors.New("unexpected command")
	})

	err := s.WriteVirtualString(context.Background(), protocol.VS_SPECTRUM, nil)
	var trailing *protocol.TrailingBytesError
	if !errors.As(err, &trailing) {
		t.Fatalf("error = %v, want *TrailingBytesError (write acks admit no trailing bytes)", err)
	}
}

func TestSession_BatchRead(t *testing.T) {
	ids := []uint32{protocol.VSFR_CR_LEV1, protocol.VSFR_CR_LEV2, protocol.VSFR_DS_UNITS}

	t.Run("all resolved", func(t *testing.T) {
		s, ft := newReadySession(t, func(command uint16, args []byte) ([]byte, error) {
			return u32le(0b111, 100, 200, 1), nil
		})

		values, err := s.BatchReadVSFR(context.Background(), ids)
		if err != nil {
			t.Fatalf("BatchReadVSFR() error: %v", err)
		}
		if len(values) != 3 || values[0] != 100 || values[1] != 200 || values[2] != 1 {
			t.Errorf("values = %v", values)
		}

		// Request payload is [N][id0][id1][id2].
		args := ft.frames[len(ft.frames)-1][8:]
		if binary.LittleEndian.Uint32(args[0:4]) != 3 {
			t.Errorf("request count = %d, want 3", binary.LittleEndian.Uint32(args[0:4]))
		}
		if binary.LittleEndian.Uint32(args[4:8]) != ids[0] {
			t.Errorf("first id = 0x%04X, want 0x%04X", binary.LittleEndian.Uint32(args[4:8]), ids[0])
		}
	})

	t.Run("partial failure", func(t *testing.T) {
		s, _ := newReadySession(t, func(command uint16, args []byte) ([]byte, error) {
			return u32le(0b011, 100, 200, 0), nil
		})

		_, err := s.BatchReadVSFR(context.Background(), ids)
		var partial *protocol.PartialBatchFailureError
		if !errors.As(err, &partial) {
			t.Fatalf("error = %v, want *PartialBatchFailureError", err)
		}
		if len(partial.FailedIndices) != 1 || partial.FailedIndices[0] != 2 {
			t.Errorf("failed indices = %v, want [2]", partial.FailedIndices)
		}
	})

	t.Run("leftover bytes", func(t *testing.T) {
		s, _ := newReadySession(t, func(command uint16, args []byte) ([]byte, error) {
			return append(u32le(0b111, 100, 200, 1), 0xEE), nil
		})

		_, err := s.BatchReadVSFR(context.Background(), ids)
		var trailing *protocol.TrailingBytesError
		if !errors.As(err, &trailing) {
			t.Fatalf("error = %v, want *TrailingBytesError", err)
		}
	})

	t.Run("empty id list", func(t *testing.T) {
		s, _ := newReadySession(t, nil)
		if _, err := s.BatchReadVSFR(context.Background(), nil); !errors.Is(err, ErrEmptyBatch) {
			t.Errorf("error = %v, want ErrEmptyBatch", err)
		}
	})
}

func TestSession_NotReady(t *testing.T) {
	s := NewSession(&fakeTransport{}, WithTimeout(time.Second))
	if _, err := s.ReadVSFR(context.Background(), protocol.VSFR_DEVICE_CTRL); !errors.Is(err, ErrNotReady) {
		t.Errorf("error = %v, want ErrNotReady", err)
	}
}

type recordingSink struct {
	samples []Sample
}

func (r *recordingSink) AppendSample(s Sample) error {
	r.samples = append(r.samples, s)
	return nil
}

func TestSession_DrainTelemetry(t *testing.T) {
	// One real-time record followed by one rare record; only the former
	// becomes a persisted sample.
	buf := make([]byte, 0, 48)
	buf = append(buf, 0, 0, 0, 0, 0, 0, 0) // seq 0, real-time, offset 0
	buf = append(buf, 0x00, 0x00, 0x48, 0x42) // count rate 50.0
	buf = append(buf, 0x00, 0x00, 0x80, 0x3F) // dose rate 1.0 raw
	buf = append(buf, 25, 0)                  // count rate error 2.5%
	buf = append(buf, 10, 0)                  // dose rate error 1.0%
	buf = append(buf, 0, 0)                   // flags
	buf = append(buf, 1, 0, 3, 0, 0, 0, 0)    // seq 1, rare, offset 0
	buf = append(buf, 60, 0, 0, 0)            // measurement duration
	buf = append(buf, 0x00, 0x00, 0x00, 0x3F) // accumulated dose 0.5
	buf = append(buf, 0x2E, 0x09)             // temperature raw 2350
	buf = append(buf, 0x2E, 0x22)             // charge raw 8750
	buf = append(buf, 0, 0)                   // flags

	s, _ := newReadySession(t, func(command uint16, args []byte) ([]byte, error) {
		if command != protocol.CMD_RD_VIRT_STRING {
			return nil, errors.New("unexpected command")
		}
		return append(u32le(protocol.RetcodeOK, uint32(len(buf))), buf...), nil
	})

	sink := &recordingSink{}
	records, err := s.DrainTelemetry(context.Background(), sink)
	if err != nil {
		t.Fatalf("DrainTelemetry() error: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("record count = %d, want 2", len(records))
	}
	if len(sink.samples) != 1 {
		t.Fatalf("persisted samples = %d, want 1", len(sink.samples))
	}
	if sink.samples[0].CountRate != 50.0 {
		t.Errorf("count rate = %v, want 50.0", sink.samples[0].CountRate)
	}
	if sink.samples[0].DoseRate != 1.0*protocol.DefaultDoseRateScale {
		t.Errorf("dose rate = %v, want %v", sink.samples[0].DoseRate, protocol.DefaultDoseRateScale)
	}
}

func TestScaleAlarmLimits(t *testing.T) {
	raw := []uint32{
		300, 1200, // count rate levels, raw counts per 10 s
		3000, 12000, // dose rate levels
		50000, 200000, // dose levels
		uint32(DoseUnitSievert), uint32(CountUnitCPS),
	}
	limits := scaleAlarmLimits(raw)

	if limits.CountRateL1 != 30.0 || limits.CountRateL2 != 120.0 {
		t.Errorf("count rate limits = %v, %v, want 30, 120", limits.CountRateL1, limits.CountRateL2)
	}
	if limits.DoseRateL1 != 0.3 || limits.DoseRateL2 != 1.2 {
		t.Errorf("dose rate limits = %v, %v, want 0.3, 1.2", limits.DoseRateL1, limits.DoseRateL2)
	}
	if limits.DoseL1 != 5.0 || limits.DoseL2 != 20.0 {
		t.Errorf("dose limits = %v, %v, want 5, 20", limits.DoseL1, limits.DoseL2)
	}
	if limits.DoseUnit != DoseUnitSievert || limits.CountUnit != CountUnitCPS {
		t.Errorf("units = %s, %s", limits.DoseUnit, limits.CountUnit)
	}

	// Counts-per-minute units multiply the rate limits by 60.
	raw[7] = uint32(CountUnitCPM)
	limits = scaleAlarmLimits(raw)
	if limits.CountRateL1 != 1800.0 {
		t.Errorf("cpm count rate level = %v, want 1800", limits.CountRateL1)
	}
}
