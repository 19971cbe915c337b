// Package smfmt provides the byte cursor and shared parsing options for
// LLVM stackmap sections.
package smfmt

import (
	"encoding/binary"
	"errors"
)

// ErrTruncated is returned when fewer bytes remain than a read requires.
var ErrTruncated = errors.New("stackmap: truncated input")

// Cursor is a forward-only, bounds-checked reader over a byte slice.
// Multi-byte values are decoded with the configured byte order; the
// stackmap format is written in the producer's native order.
type Cursor struct {
	data  []byte
	pos   int
	order binary.ByteOrder
}

// NewCursor creates a cursor over data using the given byte order.
// A nil order selects binary.NativeEndian.
func NewCursor(data []byte, order binary.ByteOrder) *Cursor {
	if order == nil {
		order = binary.NativeEndian
	}
	return &Cursor{data: data, order: order}
}

// Position returns the number of bytes consumed so far.
func (c *Cursor) Position() int { return c.pos }

// Remaining returns bytes left to read.
func (c *Cursor) Remaining() int { return len(c.data) - c.pos }

// ByteOrder returns the order used for multi-byte reads.
func (c *Cursor) ByteOrder() binary.ByteOrder { return c.order }

// take returns the next n bytes and advances, or ErrTruncated.
func (c *Cursor) take(n int) ([]byte, error) {
	if n < 0 || c.Remaining() < n {
		return nil, ErrTruncated
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// Skip discards n bytes.
func (c *Cursor) Skip(n int) error {
	_, err := c.take(n)
	return err
}

// ReadUint8 reads a single byte.
func (c *Cursor) ReadUint8() (uint8, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUint16 reads a uint16.
func (c *Cursor) ReadUint16() (uint16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return c.order.Uint16(b), nil
}

// ReadUint32 reads a uint32.
func (c *Cursor) ReadUint32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return c.order.Uint32(b), nil
}

// ReadUint64 reads a uint64.
func (c *Cursor) ReadUint64() (uint64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return c.order.Uint64(b), nil
}

// ReadInt32 reads an int32.
func (c *Cursor) ReadInt32() (int32, error) {
	v, err := c.ReadUint32()
	return int32(v), err
}
