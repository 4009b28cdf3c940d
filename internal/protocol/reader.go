package protocol

import (
	"encoding/binary"
	"math"
)

// ByteReader is a cursor-based little-endian decoder over an immutable byte
// slice. The cursor only moves forward; a read past the end of the underlying
// buffer fails with BufferUnderrunError and leaves the cursor unchanged.
//
// A ByteReader is owned by the single decode call that constructed it and
// must not be shared.
type ByteReader struct {
	data []byte
	pos  int
}

// NewByteReader creates a reader over data. The slice is not copied; callers
// must not modify it while the reader is in use.
func NewByteReader(data []byte) *ByteReader {
	return &ByteReader{data: data}
}

// Remaining returns the number of unread bytes.
func (r *ByteReader) Remaining() int {
	return len(r.data) - r.pos
}

// Pos returns the current cursor position.
func (r *ByteReader) Pos() int {
	return r.pos
}

func (r *ByteReader) need(n int) error {
	if r.Remaining() < n {
		return &BufferUnderrunError{Offset: r.pos, Want: n, Have: r.Remaining()}
	}
	return nil
}

// ReadU8 reads one unsigned byte.
func (r *ByteReader) ReadU8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

// ReadI8 reads one signed byte.
func (r *ByteReader) ReadI8() (int8, error) {
	v, err := r.ReadU8()
	return int8(v), err
}

// ReadU16 reads a little-endian unsigned 16-bit value.
func (r *ByteReader) ReadU16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadI16 reads a little-endian signed 16-bit value.
func (r *ByteReader) ReadI16() (int16, error) {
	v, err := r.ReadU16()
	return int16(v), err
}

// ReadU32 reads a little-endian unsigned 32-bit value.
func (r *ByteReader) ReadU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadI32 reads a little-endian signed 32-bit value.
func (r *ByteReader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

// ReadF32 reads a little-endian IEEE-754 single-precision float.
func (r *ByteReader) ReadF32() (float32, error) {
	v, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadBytes reads exactly n raw bytes. The returned slice aliases the
// underlying buffer.
func (r *ByteReader) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, &BufferUnderrunError{Offset: r.pos, Want: n, Have: r.Remaining()}
	}
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := r.data[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

// ReadString reads a 1-byte length followed by that many ASCII bytes.
func (r *ByteReader) ReadString() (string, error) {
	n, err := r.ReadU8()
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
