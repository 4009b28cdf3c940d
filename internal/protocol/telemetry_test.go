package protocol

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func appendRecordHeader(buf []byte, seq, eventID, groupID uint8, offset int32) []byte {
	buf = append(buf, seq, eventID, groupID)
	var off [4]byte
	binary.LittleEndian.PutUint32(off[:], uint32(offset))
	return append(buf, off[:]...)
}

func appendF32(buf []byte, v float32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	return append(buf, b[:]...)
}

func appendU16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendRealTime(buf []byte, seq uint8, offset int32, countRate, doseRate float32) []byte {
	buf = appendRecordHeader(buf, seq, EVENT_DATA, GROUP_REAL_TIME, offset)
	buf = appendF32(buf, countRate)
	buf = appendF32(buf, doseRate)
	buf = appendU16(buf, 15) // 1.5% count rate error
	buf = appendU16(buf, 33) // 3.3% dose rate error
	return append(buf, 0x02, 0x01)
}

func TestDecodeDataBuf_RealTime(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	buf := appendRealTime(nil, 0, 500, 12.5, 0.0001)

	records, err := DecodeDataBuf(buf, TelemetryOptions{BaseTime: base})
	if err != nil {
		t.Fatalf("DecodeDataBuf() error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	rt, ok := records[0].(RealTimeData)
	if !ok {
		t.Fatalf("record type = %T, want RealTimeData", records[0])
	}
	wantTime := base.Add(5 * time.Second) // 500 * 10ms
	if !rt.Timestamp.Equal(wantTime) {
		t.Errorf("timestamp = %s, want %s", rt.Timestamp, wantTime)
	}
	if rt.CountRate != 12.5 {
		t.Errorf("count rate = %f, want 12.5", rt.CountRate)
	}
	if rt.CountRateErr != 1.5 {
		t.Errorf("count rate error = %f, want 1.5", rt.CountRateErr)
	}
	if rt.DoseRateErr != 3.3 {
		t.Errorf("dose rate error = %f, want 3.3", rt.DoseRateErr)
	}
	// Default display scaling applied to the raw dose rate.
	want := float64(float32(0.0001)) * DefaultDoseRateScale
	if math.Abs(rt.DoseRate-want) > 1e-9 {
		t.Errorf("dose rate = %g, want %g", rt.DoseRate, want)
	}
	if rt.Flags != 0x02 || rt.RealTimeFlags != 0x01 {
		t.Errorf("flags = %#x/%#x, want 0x02/0x01", rt.Flags, rt.RealTimeFlags)
	}
}

func TestDecodeDataBuf_StopOnSequenceGap(t *testing.T) {
	base := time.Now()
	buf := appendRealTime(nil, 5, 0, 1.0, 0.0)
	// Second record skips sequence 6; nothing after the gap can be trusted.
	buf = appendRealTime(buf, 7, 100, 2.0, 0.0)

	records, err := DecodeDataBuf(buf, TelemetryOptions{BaseTime: base})
	if err != nil {
		t.Fatalf("DecodeDataBuf() error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (decode must stop at the gap)", len(records))
	}
	if rt := records[0].(RealTimeData); rt.CountRate != 1.0 {
		t.Errorf("kept record count rate = %f, want 1.0", rt.CountRate)
	}
}

func TestDecodeDataBuf_SequenceWraps(t *testing.T) {
	buf := appendRealTime(nil, 255, 0, 1.0, 0.0)
	buf = appendRealTime(buf, 0, 100, 2.0, 0.0)

	records, err := DecodeDataBuf(buf, TelemetryOptions{BaseTime: time.Now()})
	if err != nil {
		t.Fatalf("DecodeDataBuf() error: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("got %d records, want 2 (255 -> 0 is not a gap)", len(records))
	}
}

func TestDecodeDataBuf_RareData(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	buf := appendRecordHeader(nil, 0, EVENT_DATA, GROUP_RARE, 0)
	buf = appendU32(buf, 60)       // accumulation duration, seconds
	buf = appendF32(buf, 0.5)      // accumulated dose
	buf = appendU16(buf, 2350)     // raw temperature
	buf = appendU16(buf, 8750)     // raw charge level
	buf = appendU16(buf, 0)        // flags

	records, err := DecodeDataBuf(buf, TelemetryOptions{BaseTime: base})
	if err != nil {
		t.Fatalf("DecodeDataBuf() error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	rare, ok := records[0].(RareData)
	if !ok {
		t.Fatalf("record type = %T, want RareData", records[0])
	}
	if rare.Duration != 60*time.Second {
		t.Errorf("duration = %s, want 60s", rare.Duration)
	}
	if rare.Dose != 0.5 {
		t.Errorf("dose = %f, want 0.5", rare.Dose)
	}
	if rare.Temperature != 3.5 {
		t.Errorf("temperature = %f, want 3.5", rare.Temperature)
	}
	if rare.ChargeLevel != 87.5 {
		t.Errorf("charge level = %f, want 87.5", rare.ChargeLevel)
	}
}

func TestDecodeDataBuf_StopOnUnknownGroup(t *testing.T) {
	buf := appendRealTime(nil, 0, 0, 1.0, 0.0)
	// Unknown group: record length is unknown, so decoding must stop here
	// rather than guess at alignment.
	buf = appendRecordHeader(buf, 1, EVENT_DATA, 9, 0)
	buf = append(buf, 0xAA, 0xBB, 0xCC, 0xDD)

	records, err := DecodeDataBuf(buf, TelemetryOptions{BaseTime: time.Now()})
	if err != nil {
		t.Fatalf("DecodeDataBuf() error: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records, want 1", len(records))
	}
}

func TestDecodeDataBuf_TruncatedRecordFails(t *testing.T) {
	full := appendRealTime(nil, 0, 0, 1.0, 0.0)
	// Cut into the record body: a valid header followed by a short body is
	// a framing bug, not a clean stop.
	truncated := full[:len(full)-3]

	if _, err := DecodeDataBuf(truncated, TelemetryOptions{BaseTime: time.Now()}); err == nil {
		t.Error("truncated record body should fail the whole decode")
	}
}

func TestDecodeDataBuf_TrailingShortBytesIgnored(t *testing.T) {
	// Fewer than 7 bytes cannot hold a record header; the loop ends cleanly.
	buf := appendRealTime(nil, 0, 0, 1.0, 0.0)
	buf = append(buf, 0x01, 0x02, 0x03)

	records, err := DecodeDataBuf(buf, TelemetryOptions{BaseTime: time.Now()})
	if err != nil {
		t.Fatalf("DecodeDataBuf() error: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records, want 1", len(records))
	}
}
