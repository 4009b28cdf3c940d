package device

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/gammasense/gammalink/internal/protocol"
)

// ErrEmptyBatch is returned when a batch read is requested with no register
// IDs.
var ErrEmptyBatch = errors.New("device: batch read needs at least one register ID")

// ReadVSFR reads a single virtual register.
func (s *Session) ReadVSFR(ctx context.Context, id uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return 0, err
	}
	return s.readVSFR(ctx, id)
}

func (s *Session) readVSFR(ctx context.Context, id uint32) (uint32, error) {
	var args [4]byte
	binary.LittleEndian.PutUint32(args[:], id)

	r, err := s.execute(ctx, protocol.CMD_RD_VIRT_SFR, args[:])
	if err != nil {
		return 0, err
	}
	retcode, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if retcode != protocol.RetcodeOK {
		return 0, &protocol.RegisterReadFailedError{RegisterID: id, Retcode: retcode}
	}
	value, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	return value, nil
}

// WriteVSFR writes a single virtual register.
func (s *Session) WriteVSFR(ctx context.Context, id, value uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return err
	}
	return s.writeVSFR(ctx, id, value)
}

func (s *Session) writeVSFR(ctx context.Context, id, value uint32) error {
	var args [8]byte
	binary.LittleEndian.PutUint32(args[0:4], id)
	binary.LittleEndian.PutUint32(args[4:8], value)

	r, err := s.execute(ctx, protocol.CMD_WR_VIRT_SFR, args[:])
	if err != nil {
		return err
	}
	retcode, err := r.ReadU32()
	if err != nil {
		return err
	}
	if retcode != protocol.RetcodeOK {
		return &protocol.RegisterReadFailedError{RegisterID: id, Retcode: retcode}
	}
	return nil
}

// BatchReadVSFR reads several registers in one round trip, preserving the
// request order in the returned values. The device confirms each entry in a
// validity bitmask; any unresolved register fails the whole call with
// PartialBatchFailureError naming the failed indices.
func (s *Session) BatchReadVSFR(ctx context.Context, ids []uint32) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	return s.batchReadVSFR(ctx, ids)
}

func (s *Session) batchReadVSFR(ctx context.Context, ids []uint32) ([]uint32, error) {
	if len(ids) == 0 {
		return nil, ErrEmptyBatch
	}

	args := make([]byte, 4+4*len(ids))
	binary.LittleEndian.PutUint32(args[0:4], uint32(len(ids)))
	for i, id := range ids {
		binary.LittleEndian.PutUint32(args[4+4*i:], id)
	}

	r, err := s.execute(ctx, protocol.CMD_RD_VIRT_SFR_BATCH, args)
	if err != nil {
		return nil, err
	}

	bitmask, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	values := make([]uint32, len(ids))
	for i := range values {
		values[i], err = r.ReadU32()
		if err != nil {
			return nil, err
		}
	}
	if r.Remaining() != 0 {
		return nil, &protocol.TrailingBytesError{Declared: 4 + 4*len(ids), Remaining: r.Remaining()}
	}

	want := uint32(1)<<uint(len(ids)) - 1
	if bitmask != want {
		e := &protocol.PartialBatchFailureError{Bitmask: bitmask, RegisterIDs: ids}
		for i := range ids {
			if bitmask&(1<<uint(i)) == 0 {
				e.FailedIndices = append(e.FailedIndices, i)
			}
		}
		return nil, e
	}
	return values, nil
}

// ReadVirtualString reads a virtual string register and decodes it as
// ASCII.
func (s *Session) ReadVirtualString(ctx context.Context, id uint32) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return "", err
	}
	return s.readVirtualString(ctx, id)
}

func (s *Session) readVirtualString(ctx context.Context, id uint32) (string, error) {
	data, err := s.readVirtualBinary(ctx, id)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReadVirtualBinary reads a virtual string register as raw bytes for
// further decoding (spectrum, telemetry buffer, configuration blob).
func (s *Session) ReadVirtualBinary(ctx context.Context, id uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	return s.readVirtualBinary(ctx, id)
}

func (s *Session) readVirtualBinary(ctx context.Context, id uint32) ([]byte, error) {
	var args [4]byte
	binary.LittleEndian.PutUint32(args[:], id)

	r, err := s.execute(ctx, protocol.CMD_RD_VIRT_STRING, args[:])
	if err != nil {
		return nil, err
	}
	retcode, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if retcode != protocol.RetcodeOK {
		return nil, &protocol.RegisterReadFailedError{RegisterID: id, Retcode: retcode}
	}
	length, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	payload, err := r.ReadBytes(int(length))
	if err != nil {
		return nil, err
	}

	// Firmware quirk: some responses carry exactly one 0x00 byte past the
	// declared payload. Discard it; anything else trailing is a framing
	// error.
	switch r.Remaining() {
	case 0:
	case 1:
		extra, _ := r.ReadU8()
		if extra != 0 {
			return nil, &protocol.TrailingBytesError{Declared: int(length), Remaining: 1}
		}
	default:
		return nil, &protocol.TrailingBytesError{Declared: int(length), Remaining: r.Remaining()}
	}
	return payload, nil
}

// WriteVirtualString writes a virtual string register. Success is retcode 1
// with nothing trailing; the single-null read quirk does not apply to write
// acks.
func (s *Session) WriteVirtualString(ctx context.Context, id uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return err
	}
	return s.writeVirtualString(ctx, id, data)
}

func (s *Session) writeVirtualString(ctx context.Context, id uint32, data []byte) error {
	args := make([]byte, 8+len(data))
	binary.LittleEndian.PutUint32(args[0:4], id)
	binary.LittleEndian.PutUint32(args[4:8], uint32(len(data)))
	copy(args[8:], data)

	r, err := s.execute(ctx, protocol.CMD_WR_VIRT_STRING, args)
	if err != nil {
		return err
	}
	retcode, err := r.ReadU32()
	if err != nil {
		return err
	}
	if retcode != protocol.RetcodeOK {
		return &protocol.RegisterReadFailedError{RegisterID: id, Retcode: retcode}
	}
	if r.Remaining() != 0 {
		return &protocol.TrailingBytesError{Declared: 0, Remaining: r.Remaining()}
	}
	return nil
}
