package device

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/gammasense/gammalink/internal/protocol"
)

// VersionInfo holds the bootloader and firmware versions reported by the
// device.
type VersionInfo struct {
	BootMajor uint16
	BootMinor uint16
	FirmMajor uint16
	FirmMinor uint16
	BuildDate string
}

// Version reads the bootloader and firmware versions.
func (s *Session) Version(ctx context.Context) (*VersionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}

	r, err := s.execute(ctx, protocol.CMD_GET_VERSION, nil)
	if err != nil {
		return nil, err
	}
	v := &VersionInfo{}
	if v.BootMinor, err = r.ReadU16(); err != nil {
		return nil, err
	}
	if v.BootMajor, err = r.ReadU16(); err != nil {
		return nil, err
	}
	if v.FirmMinor, err = r.ReadU16(); err != nil {
		return nil, err
	}
	if v.FirmMajor, err = r.ReadU16(); err != nil {
		return nil, err
	}
	if v.BuildDate, err = r.ReadString(); err != nil {
		return nil, err
	}
	return v, nil
}

// Serial reads the device serial number.
func (s *Session) Serial(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return "", err
	}

	r, err := s.execute(ctx, protocol.CMD_GET_SERIAL, nil)
	if err != nil {
		return "", err
	}
	length, err := r.ReadU32()
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(length))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DeviceStatus reads the raw status flags word.
func (s *Session) DeviceStatus(ctx context.Context) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return 0, err
	}

	r, err := s.execute(ctx, protocol.CMD_GET_STATUS, nil)
	if err != nil {
		return 0, err
	}
	return r.ReadU32()
}

// FirmwareSignature reads the firmware image signature word.
func (s *Session) FirmwareSignature(ctx context.Context) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return 0, err
	}

	r, err := s.execute(ctx, protocol.CMD_FW_SIGNATURE, nil)
	if err != nil {
		return 0, err
	}
	return r.ReadU32()
}

// ReadFlash reads size bytes of device flash starting at addr.
func (s *Session) ReadFlash(ctx context.Context, addr, size uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}

	var args [8]byte
	binary.LittleEndian.PutUint32(args[0:4], addr)
	binary.LittleEndian.PutUint32(args[4:8], size)
	r, err := s.execute(ctx, protocol.CMD_RD_FLASH, args[:])
	if err != nil {
		return nil, err
	}
	return r.ReadBytes(r.Remaining())
}

// Spectrum reads and decodes the live spectrum snapshot.
func (s *Session) Spectrum(ctx context.Context) (*protocol.Spectrum, error) {
	return s.readSpectrum(ctx, protocol.VS_SPECTRUM)
}

// AccumulatedSpectrum reads and decodes the accumulated spectrum.
func (s *Session) AccumulatedSpectrum(ctx context.Context) (*protocol.Spectrum, error) {
	return s.readSpectrum(ctx, protocol.VS_SPEC_ACCUM)
}

func (s *Session) readSpectrum(ctx context.Context, id uint32) (*protocol.Spectrum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}

	data, err := s.readVirtualBinary(ctx, id)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeSpectrum(data, s.spectrumFormat)
}

// SpectrumReset clears the device's live spectrum accumulator.
func (s *Session) SpectrumReset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return err
	}
	return s.writeVirtualString(ctx, protocol.VS_SPECTRUM, nil)
}

// EnergyCalibration reads the three calibration coefficients:
// energy(ch) = a0 + a1*ch + a2*ch^2.
func (s *Session) EnergyCalibration(ctx context.Context) (a0, a1, a2 float64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return 0, 0, 0, err
	}

	data, err := s.readVirtualBinary(ctx, protocol.VS_ENERGY_CALIB)
	if err != nil {
		return 0, 0, 0, err
	}
	r := protocol.NewByteReader(data)
	f0, err := r.ReadF32()
	if err != nil {
		return 0, 0, 0, err
	}
	f1, err := r.ReadF32()
	if err != nil {
		return 0, 0, 0, err
	}
	f2, err := r.ReadF32()
	if err != nil {
		return 0, 0, 0, err
	}
	return float64(f0), float64(f1), float64(f2), nil
}

// ReadTelemetry drains the device telemetry ring buffer and decodes it into
// typed records against the session base time.
func (s *Session) ReadTelemetry(ctx context.Context) ([]protocol.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}

	data, err := s.readVirtualBinary(ctx, protocol.VS_DATA_BUF)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeDataBuf(data, protocol.TelemetryOptions{
		BaseTime:      s.baseTime,
		DoseRateScale: s.doseRateScale,
	})
}

// Sample is the persistence tuple produced from real-time telemetry.
type Sample struct {
	Timestamp    time.Time
	CountRate    float64
	DoseRate     float64
	CountRateErr float64
	DoseRateErr  float64
	Flags        uint8
}

// SampleSink is the append-only persistence collaborator. The session
// produces tuples; flush and batching cadence belong to the sink.
type SampleSink interface {
	AppendSample(Sample) error
}

// DrainTelemetry polls the ring buffer once, appends every real-time record
// to sink, and returns all decoded records.
func (s *Session) DrainTelemetry(ctx context.Context, sink SampleSink) ([]protocol.Record, error) {
	records, err := s.ReadTelemetry(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		rt, ok := rec.(protocol.RealTimeData)
		if !ok {
			continue
		}
		if err := sink.AppendSample(Sample{
			Timestamp:    rt.Timestamp,
			CountRate:    rt.CountRate,
			DoseRate:     rt.DoseRate,
			CountRateErr: rt.CountRateErr,
			DoseRateErr:  rt.DoseRateErr,
			Flags:        rt.Flags,
		}); err != nil {
			return records, err
		}
	}
	return records, nil
}
