package protocol

import (
	"time"
)

// Telemetry record tags. Each ring-buffer record carries an (event, group)
// pair that selects one of four fixed wire shapes.
const (
	EVENT_DATA = 0

	GROUP_REAL_TIME    = 0
	GROUP_RAW          = 1
	GROUP_DOSE_RATE_DB = 2
	GROUP_RARE         = 3
)

// DefaultDoseRateScale is the multiplier applied to the real-time dose rate.
// The factor makes the decoded value match the on-device display; it is an
// empirical correction, not a confirmed unit conversion, so it stays
// overridable until the firmware documentation explains it.
const DefaultDoseRateScale = 10000.0

// Record is one decoded telemetry sample from the device ring buffer.
type Record interface {
	// Time returns the absolute sample time, resolved against the session
	// base time.
	Time() time.Time
}

// RealTimeData is the once-per-second live reading.
type RealTimeData struct {
	Timestamp    time.Time
	CountRate    float64 // counts per second
	CountRateErr float64 // percent
	DoseRate     float64 // display units, see DefaultDoseRateScale
	DoseRateErr  float64 // percent
	Flags        uint8
	RealTimeFlags uint8
}

func (d RealTimeData) Time() time.Time { return d.Timestamp }

// RawData is the unfiltered counter reading without error terms.
type RawData struct {
	Timestamp time.Time
	CountRate float64
	DoseRate  float64
}

func (d RawData) Time() time.Time { return d.Timestamp }

// DoseRateDB is a dose-rate database record with the cumulative event count.
type DoseRateDB struct {
	Timestamp   time.Time
	Count       uint32
	CountRate   float64
	DoseRate    float64
	DoseRateErr float64
	Flags       uint16
}

func (d DoseRateDB) Time() time.Time { return d.Timestamp }

// RareData is the slow-changing housekeeping record: accumulated dose,
// temperature and battery state.
type RareData struct {
	Timestamp   time.Time
	Duration    time.Duration
	Dose        float64
	Temperature float64 // degrees Celsius
	ChargeLevel float64 // percent
	Flags       uint16
}

func (d RareData) Time() time.Time { return d.Timestamp }

// TelemetryOptions parameterizes DecodeDataBuf.
type TelemetryOptions struct {
	// BaseTime is the session reference captured at initialization; record
	// time offsets are resolved against it in 10 ms units.
	BaseTime time.Time

	// DoseRateScale overrides DefaultDoseRateScale when non-zero.
	DoseRateScale float64
}

// DecodeDataBuf decodes a telemetry ring-buffer transfer into typed records.
//
// Records are prefixed with a rolling u8 sequence number. A gap in that
// sequence, or an (event, group) pair with an unknown wire shape, stops the
// decode and returns the records accumulated so far: record lengths are not
// self-describing, so anything after an anomaly cannot be trusted to align.
// A buffer that ends mid-record is a hard error and yields no records.
func DecodeDataBuf(data []byte, opts TelemetryOptions) ([]Record, error) {
	scale := opts.DoseRateScale
	if scale == 0 {
		scale = DefaultDoseRateScale
	}

	r := NewByteReader(data)
	var records []Record
	var nextSeq uint8
	haveSeq := false

	for r.Remaining() >= 7 {
		seq, _ := r.ReadU8()
		eventID, _ := r.ReadU8()
		groupID, _ := r.ReadU8()
		offset, _ := r.ReadI32()

		if haveSeq && seq != nextSeq {
			return records, nil
		}
		nextSeq = seq + 1
		haveSeq = true

		ts := opts.BaseTime.Add(time.Duration(offset) * 10 * time.Millisecond)

		if eventID != EVENT_DATA {
			return records, nil
		}

		switch groupID {
		case GROUP_REAL_TIME:
			countRate, err := r.ReadF32()
			if err != nil {
				return nil, err
			}
			doseRate, err := r.ReadF32()
			if err != nil {
				return nil, err
			}
			countRateErr, err := r.ReadU16()
			if err != nil {
				return nil, err
			}
			doseRateErr, err := r.ReadU16()
			if err != nil {
				return nil, err
			}
			flags, err := r.ReadU8()
			if err != nil {
				return nil, err
			}
			rtFlags, err := r.ReadU8()
			if err != nil {
				return nil, err
			}
			records = append(records, RealTimeData{
				Timestamp:     ts,
				CountRate:     float64(countRate),
				CountRateErr:  float64(countRateErr) / 10.0,
				DoseRate:      float64(doseRate) * scale,
				DoseRateErr:   float64(doseRateErr) / 10.0,
				Flags:         flags,
				RealTimeFlags: rtFlags,
			})

		case GROUP_RAW:
			countRate, err := r.ReadF32()
			if err != nil {
				return nil, err
			}
			doseRate, err := r.ReadF32()
			if err != nil {
				return nil, err
			}
			records = append(records, RawData{
				Timestamp: ts,
				CountRate: float64(countRate),
				DoseRate:  float64(doseRate),
			})

		case GROUP_DOSE_RATE_DB:
			count, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			countRate, err := r.ReadF32()
			if err != nil {
				return nil, err
			}
			doseRate, err := r.ReadF32()
			if err != nil {
				return nil, err
			}
			doseRateErr, err := r.ReadU16()
			if err != nil {
				return nil, err
			}
			flags, err := r.ReadU16()
			if err != nil {
				return nil, err
			}
			records = append(records, DoseRateDB{
				Timestamp:   ts,
				Count:       count,
				CountRate:   float64(countRate),
				DoseRate:    float64(doseRate),
				DoseRateErr: float64(doseRateErr) / 10.0,
				Flags:       flags,
			})

		case GROUP_RARE:
			duration, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			dose, err := r.ReadF32()
			if err != nil {
				return nil, err
			}
			temperature, err := r.ReadU16()
			if err != nil {
				return nil, err
			}
			charge, err := r.ReadU16()
			if err != nil {
				return nil, err
			}
			flags, err := r.ReadU16()
			if err != nil {
				return nil, err
			}
			records = append(records, RareData{
				Timestamp:   ts,
				Duration:    time.Duration(duration) * time.Second,
				Dose:        float64(dose),
				Temperature: (float64(temperature) - 2000.0) / 100.0,
				ChargeLevel: float64(charge) / 100.0,
				Flags:       flags,
			})

		default:
			// Unknown record shape: length is unknown, nothing after this
			// point can be parsed safely.
			return records, nil
		}
	}

	return records, nil
}
