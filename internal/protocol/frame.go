package protocol

import (
	"bytes"
	"encoding/binary"
)

// Frame layout: [u32 length][u16 command][u8 reserved=0][u8 sequence][args].
// The length prefix covers the 4-byte header plus the argument bytes. The
// device echoes the 4 header bytes verbatim at the start of its response;
// that echo is the only request/response correlation the protocol offers.
const (
	FRAME_HEADER_LENGTH = 4 // command + reserved + sequence, excluding length prefix
	FRAME_PREFIX_LENGTH = 4 // the u32 length prefix itself

	// Sequence numbers carry a fixed high bit; the low 5 bits are a rolling
	// counter. The range reservation is a protocol convention of the sender,
	// not checked by the device.
	SEQUENCE_BASE = 0x80
	SEQUENCE_MOD  = 32
)

// FrameCodec builds request frames and validates the header echo on
// responses. It owns the session's sequence counter and is not safe for
// concurrent use; the session's one-command-at-a-time contract covers it.
type FrameCodec struct {
	counter uint8
}

// NewFrameCodec creates a codec with the sequence counter at zero.
func NewFrameCodec() *FrameCodec {
	return &FrameCodec{}
}

// NextSequence returns the next sequence byte and advances the counter.
func (c *FrameCodec) NextSequence() uint8 {
	seq := SEQUENCE_BASE | (c.counter % SEQUENCE_MOD)
	c.counter++
	return seq
}

// BuildRequest encodes a complete wire frame for the given command and
// argument bytes, and returns the frame together with the 4 header bytes the
// response must echo.
func (c *FrameCodec) BuildRequest(command uint16, args []byte) (frame []byte, header [4]byte) {
	binary.LittleEndian.PutUint16(header[0:2], command)
	header[2] = 0 // reserved
	header[3] = c.NextSequence()

	frame = make([]byte, FRAME_PREFIX_LENGTH+FRAME_HEADER_LENGTH+len(args))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(FRAME_HEADER_LENGTH+len(args)))
	copy(frame[4:8], header[:])
	copy(frame[8:], args)
	return frame, header
}

// VerifyResponse checks that the response starts with the request's header
// echo and returns a reader positioned at the first payload byte. The
// response passed here is the assembled payload after the transport has
// already consumed the length prefix.
func (c *FrameCodec) VerifyResponse(response []byte, header [4]byte) (*ByteReader, error) {
	r := NewByteReader(response)
	echo, err := r.ReadBytes(FRAME_HEADER_LENGTH)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(echo, header[:]) {
		e := &HeaderMismatchError{Sent: header}
		copy(e.Received[:], echo)
		return nil, e
	}
	return r, nil
}
