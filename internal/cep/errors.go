package cep

import "fmt"

// InvalidHeaderError is returned by Decode when the first byte of a frame is
// not one of the four recognised header codes.
type InvalidHeaderError struct {
	Byte byte
}

func (e *InvalidHeaderError) Error() string {
	return fmt.Sprintf("cep: invalid header byte 0x%02x", e.Byte)
}

// InvalidLengthError is returned by Decode when a Data frame's length field
// exceeds MaxPayload.
type InvalidLengthError struct {
	Length int
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("cep: invalid data length %d (max %d)", e.Length, MaxPayload)
}

// ErrInvalidCRC is returned by Decode when a Data frame's stored CRC does
// not match the recomputed CRC of its payload.
var ErrInvalidCRC = fmt.Errorf("cep: invalid crc")
