package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

func f32bits(v float64) uint32 {
	return math.Float32bits(float32(v))
}

// Spectrum payload formats.
const (
	SPECTRUM_FORMAT_RAW        = 0 // literal u32 count per channel
	SPECTRUM_FORMAT_COMPRESSED = 1 // run-length / delta encoding, the firmware default
)

// Spectrum is a decoded channel histogram with its energy calibration.
// Channel index is positional; energy(ch) = A0 + A1*ch + A2*ch^2 keV.
type Spectrum struct {
	Duration time.Duration // device-reported live time
	A0       float64
	A1       float64
	A2       float64
	Counts   []uint32
}

// ChannelEnergy returns the calibrated energy of a channel in keV.
func (s *Spectrum) ChannelEnergy(channel int) float64 {
	ch := float64(channel)
	return s.A0 + s.A1*ch + s.A2*ch*ch
}

// TotalCounts sums all channel counts.
func (s *Spectrum) TotalCounts() uint64 {
	var total uint64
	for _, c := range s.Counts {
		total += uint64(c)
	}
	return total
}

// Compressed spectrum control word: 12 bits of run length, 4 bits of value
// width code. Within a run every entry decodes one delta per the width code
// into a running accumulator that is the true channel count.
//
//	width 0: delta 0, repeat previous count
//	width 1: absolute unsigned 8-bit value, overwrites the accumulator
//	width 2: signed 8-bit delta
//	width 3: signed 16-bit LE delta
//	width 4: signed 24-bit LE delta
//	width 5: signed 32-bit LE delta
//
// Small deltas dominate because spectra are smooth and mostly low-count, so
// runs of width 0-2 cover nearly all channels in practice.
const (
	widthRepeat   = 0
	widthAbsolute = 1
	widthDelta8   = 2
	widthDelta16  = 3
	widthDelta24  = 4
	widthDelta32  = 5

	maxRunLength = 0x0FFF
)

// DecodeSpectrum decodes a spectrum virtual-string payload. format selects
// the channel-count encoding (the device reports its format in the
// configuration blob; format 1 is the default on current firmware).
func DecodeSpectrum(data []byte, format int) (*Spectrum, error) {
	r := NewByteReader(data)

	duration, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	a0, err := r.ReadF32()
	if err != nil {
		return nil, err
	}
	a1, err := r.ReadF32()
	if err != nil {
		return nil, err
	}
	a2, err := r.ReadF32()
	if err != nil {
		return nil, err
	}

	s := &Spectrum{
		Duration: time.Duration(duration) * time.Second,
		A0:       float64(a0),
		A1:       float64(a1),
		A2:       float64(a2),
	}

	switch format {
	case SPECTRUM_FORMAT_RAW:
		s.Counts = make([]uint32, 0, r.Remaining()/4)
		for r.Remaining() >= 4 {
			v, _ := r.ReadU32()
			s.Counts = append(s.Counts, v)
		}
		if r.Remaining() != 0 {
			return nil, &BufferUnderrunError{Offset: r.Pos(), Want: 4, Have: r.Remaining()}
		}
	case SPECTRUM_FORMAT_COMPRESSED:
		counts, err := decodeCompressedCounts(r)
		if err != nil {
			return nil, err
		}
		s.Counts = counts
	default:
		return nil, fmt.Errorf("unknown spectrum format %d", format)
	}

	return s, nil
}

func decodeCompressedCounts(r *ByteReader) ([]uint32, error) {
	var counts []uint32
	var last int64

	for r.Remaining() > 0 {
		control, err := r.ReadU16()
		if err != nil {
			return nil, err
		}
		runLength := int(control >> 4)
		width := uint8(control & 0x0F)

		for i := 0; i < runLength; i++ {
			switch width {
			case widthRepeat:
				// keep last
			case widthAbsolute:
				v, err := r.ReadU8()
				if err != nil {
					return nil, err
				}
				last = int64(v)
			case widthDelta8:
				d, err := r.ReadI8()
				if err != nil {
					return nil, err
				}
				last += int64(d)
			case widthDelta16:
				d, err := r.ReadI16()
				if err != nil {
					return nil, err
				}
				last += int64(d)
			case widthDelta24:
				lo, err := r.ReadU8()
				if err != nil {
					return nil, err
				}
				mid, err := r.ReadU8()
				if err != nil {
					return nil, err
				}
				hi, err := r.ReadI8()
				if err != nil {
					return nil, err
				}
				last += int64(lo) | int64(mid)<<8 | int64(hi)<<16
			case widthDelta32:
				d, err := r.ReadI32()
				if err != nil {
					return nil, err
				}
				last += int64(d)
			default:
				return nil, &UnsupportedEncodingError{WidthCode: width, Offset: r.Pos()}
			}
			counts = append(counts, uint32(last))
		}
	}

	return counts, nil
}

// EncodeSpectrum produces a format-1 spectrum payload for the given counts
// and calibration. It is the inverse of DecodeSpectrum with
// SPECTRUM_FORMAT_COMPRESSED and exists for round-trip testing and for
// preparing reference spectra to upload to the device.
func EncodeSpectrum(s *Spectrum) []byte {
	out := make([]byte, 16, 16+len(s.Counts))
	binary.LittleEndian.PutUint32(out[0:4], uint32(s.Duration/time.Second))
	binary.LittleEndian.PutUint32(out[4:8], f32bits(s.A0))
	binary.LittleEndian.PutUint32(out[8:12], f32bits(s.A1))
	binary.LittleEndian.PutUint32(out[12:16], f32bits(s.A2))
	return appendCompressedCounts(out, s.Counts)
}

type runEntry struct {
	width uint8
	data  []byte
}

// appendCompressedCounts encodes counts with the run-length/delta scheme,
// always choosing the narrowest width that represents each entry.
func appendCompressedCounts(out []byte, counts []uint32) []byte {
	entries := make([]runEntry, 0, len(counts))
	var last int64
	for _, c := range counts {
		v := int64(c)
		delta := v - last
		var e runEntry
		switch {
		case delta == 0:
			e = runEntry{width: widthRepeat}
		case v >= 0 && v <= 0xFF:
			e = runEntry{width: widthAbsolute, data: []byte{byte(v)}}
		case delta >= -128 && delta <= 127:
			e = runEntry{width: widthDelta8, data: []byte{byte(int8(delta))}}
		case delta >= -32768 && delta <= 32767:
			b := make([]byte, 2)
			binary.LittleEndian.PutUint16(b, uint16(int16(delta)))
			e = runEntry{width: widthDelta16, data: b}
		case delta >= -(1<<23) && delta < (1<<23):
			e = runEntry{width: widthDelta24, data: []byte{
				byte(delta), byte(delta >> 8), byte(delta >> 16),
			}}
		default:
			b := make([]byte, 4)
			binary.LittleEndian.PutUint32(b, uint32(int32(delta)))
			e = runEntry{width: widthDelta32, data: b}
		}
		entries = append(entries, e)
		last = v
	}

	for i := 0; i < len(entries); {
		j := i
		for j < len(entries) && entries[j].width == entries[i].width && j-i < maxRunLength {
			j++
		}
		control := uint16(j-i)<<4 | uint16(entries[i].width)
		var cw [2]byte
		binary.LittleEndian.PutUint16(cw[:], control)
		out = append(out, cw[:]...)
		for k := i; k < j; k++ {
			out = append(out, entries[k].data...)
		}
		i = j
	}

	return out
}
