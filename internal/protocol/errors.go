package protocol

import (
	"fmt"
)

// BufferUnderrunError indicates a decode tried to read past the end of the
// available bytes. It always points at a framing bug or a truncated transfer
// upstream; callers must abort the enclosing decode rather than continue.
type BufferUnderrunError struct {
	Offset int
	Want   int
	Have   int
}

func (e *BufferUnderrunError) Error() string {
	return fmt.Sprintf("buffer underrun at offset %d: need %d bytes, %d available",
		e.Offset, e.Want, e.Have)
}

// HeaderMismatchError indicates the response header did not echo the request
// header. The session has no way to resynchronize; the caller should consider
// the connection suspect and reconnect.
type HeaderMismatchError struct {
	Sent     [4]byte
	Received [4]byte
}

func (e *HeaderMismatchError) Error() string {
	return fmt.Sprintf("response header % X does not echo request header % X",
		e.Received, e.Sent)
}

// RegisterReadFailedError is a device-reported failure reading a virtual
// register or virtual string, distinct from any transport problem.
type RegisterReadFailedError struct {
	RegisterID uint32
	Retcode    uint32
}

func (e *RegisterReadFailedError) Error() string {
	return fmt.Sprintf("device refused read of register 0x%04X (retcode %d)",
		e.RegisterID, e.Retcode)
}

// PartialBatchFailureError indicates the device resolved only some registers
// of a batch read. FailedIndices are positions into the requested ID list.
type PartialBatchFailureError struct {
	Bitmask       uint32
	FailedIndices []int
	RegisterIDs   []uint32
}

func (e *PartialBatchFailureError) Error() string {
	return fmt.Sprintf("batch read resolved mask 0x%X, failed indices %v",
		e.Bitmask, e.FailedIndices)
}

// UnsupportedEncodingError indicates the spectrum decoder hit a value-width
// code outside 0-5, which means a firmware protocol version mismatch.
type UnsupportedEncodingError struct {
	WidthCode uint8
	Offset    int
}

func (e *UnsupportedEncodingError) Error() string {
	return fmt.Sprintf("unsupported spectrum value width code %d at offset %d",
		e.WidthCode, e.Offset)
}

// TrailingBytesError indicates a response carried more bytes than its declared
// payload and the excess is not the known single-null firmware quirk.
type TrailingBytesError struct {
	Declared  int
	Remaining int
}

func (e *TrailingBytesError) Error() string {
	return fmt.Sprintf("response declared %d payload bytes but %d remain unread",
		e.Declared, e.Remaining)
}
