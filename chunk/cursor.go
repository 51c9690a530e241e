package chunk

import (
	"encoding/binary"
	"math"
)

// Cursor reads typed fields sequentially from an immutable byte buffer.
// A Cursor belongs to exactly one parse.
type Cursor struct {
	data  []byte
	off   int
	order binary.ByteOrder
	arena *Arena
}

// NewCursor creates a little-endian cursor at offset 0. A nil arena gets a
// private one.
func NewCursor(data []byte, arena *Arena) *Cursor {
	if arena == nil {
		arena = NewArena()
	}
	return &Cursor{data: data, order: binary.LittleEndian, arena: arena}
}

// SetByteOrder switches the order used for multi-byte fields.
func (c *Cursor) SetByteOrder(order binary.ByteOrder) { c.order = order }

// Position returns the offset of the next unread byte.
func (c *Cursor) Position() int { return c.off }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.data) - c.off }

func (c *Cursor) need(n int, what string) error {
	if n < 0 || n > c.Remaining() {
		return eofAt(c.off, "reading %s: need %d bytes, have %d", what, n, c.Remaining())
	}
	return nil
}

// ReadByte reads one byte.
func (c *Cursor) ReadByte() (byte, error) {
	if err := c.need(1, "byte"); err != nil {
		return 0, err
	}
	b := c.data[c.off]
	c.off++
	return b, nil
}

// ReadBytes returns the next n bytes. The result aliases the buffer and
// must not be modified.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if err := c.need(n, "bytes"); err != nil {
		return nil, err
	}
	b := c.data[c.off : c.off+n : c.off+n]
	c.off += n
	return b, nil
}

// ReadUint reads an unsigned integer of 1, 2, 4 or 8 bytes.
func (c *Cursor) ReadUint(width int) (uint64, error) {
	if err := c.need(width, "integer"); err != nil {
		return 0, err
	}
	b := c.data[c.off : c.off+width]
	var v uint64
	switch width {
	case 1:
		v = uint64(b[0])
	case 2:
		v = uint64(c.order.Uint16(b))
	case 4:
		v = uint64(c.order.Uint32(b))
	case 8:
		v = c.order.Uint64(b)
	default:
		return 0, unsupportedAt(c.off, "integer width %d", width)
	}
	c.off += width
	return v, nil
}

// ReadInt reads a signed integer of 1, 2, 4 or 8 bytes.
func (c *Cursor) ReadInt(width int) (int64, error) {
	v, err := c.ReadUint(width)
	if err != nil {
		return 0, err
	}
	shift := uint(64 - 8*width)
	return int64(v<<shift) >> shift, nil
}

// ReadFloat reads an IEEE 754 value of 4 or 8 bytes.
func (c *Cursor) ReadFloat(width int) (float64, error) {
	if width != 4 && width != 8 {
		return 0, unsupportedAt(c.off, "float width %d", width)
	}
	v, err := c.ReadUint(width)
	if err != nil {
		return 0, err
	}
	if width == 4 {
		return float64(math.Float32frombits(uint32(v))), nil
	}
	return math.Float64frombits(v), nil
}

// ReadSizedString reads a string using the profile's size encoding. The
// second result is false for the absent string (size 0). When the declared
// size exceeds the input, the error reports the offset where the string
// began, size prefix included.
func (c *Cursor) ReadSizedString(p *Profile) (string, bool, error) {
	start := c.off
	var size uint64
	var err error
	switch p.Strings {
	case StringInlineSmall:
		var b byte
		if b, err = c.ReadByte(); err != nil {
			return "", false, err
		}
		size = uint64(b)
		if b == 0xFF {
			if size, err = c.ReadUint(p.SizeTSize); err != nil {
				return "", false, eofAt(start, "reading string size")
			}
		}
	default:
		if size, err = c.ReadUint(p.SizeTSize); err != nil {
			return "", false, err
		}
	}
	if size == 0 {
		return "", false, nil
	}

	n := size
	if p.Strings == StringInlineSmall {
		// The size counts an implicit terminator that is not stored.
		n--
	}
	if n > uint64(c.Remaining()) {
		return "", false, eofAt(start, "string of %d bytes exceeds remaining %d", n, c.Remaining())
	}
	raw := c.data[c.off : c.off+int(n)]
	c.off += int(n)

	b := c.arena.scratch(raw)
	if p.Terminated && len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return c.arena.intern(b), true, nil
}
