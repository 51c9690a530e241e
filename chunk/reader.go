package chunk

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// DefaultMaxDepth bounds prototype nesting during parsing.
const DefaultMaxDepth = 200

// Header constants
const (
	Signature = "\x1bLua"
	luacData  = "\x19\x93\r\n\x1a\n"
	luacInt   = 0x5678
	luacNum   = 370.5
)

// Constant pool tags
const (
	tagNil      = 0x00
	tagBool     = 0x01
	tagNumber   = 0x03
	tagInteger  = 0x13
	tagShortStr = 0x04
	tagLongStr  = 0x14
)

// ParseOptions controls a parse. The zero value uses DefaultMaxDepth and a
// private arena.
type ParseOptions struct {
	MaxDepth int
	Arena    *Arena
}

// ---------------------------------------------------------------------------
// Header Reading
// ---------------------------------------------------------------------------

// ParseHeader validates the signature and version byte, then the variant's
// header fields, and returns the profile describing the chunk. The cursor's
// byte order is switched to the chunk's.
func ParseHeader(c *Cursor) (*Profile, error) {
	sig, err := c.ReadBytes(len(Signature))
	if err != nil {
		return nil, err
	}
	if string(sig) != Signature {
		return nil, unsupportedAt(0, "bad signature %q", sig)
	}
	verOff := c.Position()
	version, err := c.ReadByte()
	if err != nil {
		return nil, err
	}

	var p *Profile
	switch version {
	case 0x51:
		p = ProfileLua51()
	case 0x53:
		p = ProfileLua53()
	default:
		return nil, unsupportedAt(verOff, "version 0x%02x", version)
	}

	fmtOff := c.Position()
	if p.Format, err = c.ReadByte(); err != nil {
		return nil, err
	}
	if p.Format != 0 {
		return nil, unsupportedAt(fmtOff, "format %d", p.Format)
	}

	if p.Variant == VariantA {
		err = readHeader51(c, p)
	} else {
		err = readHeader53(c, p)
	}
	if err != nil {
		return nil, err
	}
	c.SetByteOrder(p.ByteOrder)
	return p, nil
}

func readSize(c *Cursor, name string, dst *int, allowed ...int) error {
	off := c.Position()
	b, err := c.ReadByte()
	if err != nil {
		return err
	}
	for _, a := range allowed {
		if int(b) == a {
			*dst = a
			return nil
		}
	}
	return unsupportedAt(off, "%s size %d", name, b)
}

func readHeader51(c *Cursor, p *Profile) error {
	off := c.Position()
	endian, err := c.ReadByte()
	if err != nil {
		return err
	}
	switch endian {
	case 0:
		p.ByteOrder = binary.BigEndian
	case 1:
		p.ByteOrder = binary.LittleEndian
	default:
		return unsupportedAt(off, "endianness flag %d", endian)
	}
	if err := readSize(c, "int", &p.IntSize, 4, 8); err != nil {
		return err
	}
	if err := readSize(c, "size_t", &p.SizeTSize, 4, 8); err != nil {
		return err
	}
	if err := readSize(c, "instruction", &p.InstructionSize, 4); err != nil {
		return err
	}
	if err := readSize(c, "number", &p.NumberSize, 4, 8); err != nil {
		return err
	}
	off = c.Position()
	integral, err := c.ReadByte()
	if err != nil {
		return err
	}
	if integral > 1 {
		return unsupportedAt(off, "integral flag %d", integral)
	}
	p.IntegralNumbers = integral == 1
	return nil
}

func readHeader53(c *Cursor, p *Profile) error {
	off := c.Position()
	data, err := c.ReadBytes(len(luacData))
	if err != nil {
		return err
	}
	if string(data) != luacData {
		return unsupportedAt(off, "corrupted conversion data %q", data)
	}
	if err := readSize(c, "int", &p.IntSize, 4, 8); err != nil {
		return err
	}
	if err := readSize(c, "size_t", &p.SizeTSize, 4, 8); err != nil {
		return err
	}
	if err := readSize(c, "instruction", &p.InstructionSize, 4); err != nil {
		return err
	}
	if err := readSize(c, "integer", &p.IntegerSize, 4, 8); err != nil {
		return err
	}
	if err := readSize(c, "number", &p.NumberSize, 4, 8); err != nil {
		return err
	}

	off = c.Position()
	check, err := c.ReadBytes(p.IntegerSize)
	if err != nil {
		return err
	}
	switch {
	case uintOf(binary.LittleEndian, check) == luacInt:
		p.ByteOrder = binary.LittleEndian
	case uintOf(binary.BigEndian, check) == luacInt:
		p.ByteOrder = binary.BigEndian
	default:
		return unsupportedAt(off, "integer check value mismatch")
	}
	c.SetByteOrder(p.ByteOrder)

	off = c.Position()
	num, err := c.ReadFloat(p.NumberSize)
	if err != nil {
		return err
	}
	if num != luacNum {
		return unsupportedAt(off, "float check value %v", num)
	}
	return nil
}

func uintOf(order binary.ByteOrder, b []byte) uint64 {
	if len(b) == 4 {
		return uint64(order.Uint32(b))
	}
	return order.Uint64(b)
}

// ---------------------------------------------------------------------------
// Function Reading
// ---------------------------------------------------------------------------

type loader struct {
	c        *Cursor
	p        *Profile
	maxDepth int
	next     int
}

// ParseFunction parses one function prototype and its nested children.
func ParseFunction(c *Cursor, p *Profile) (*Function, error) {
	l := &loader{c: c, p: p, maxDepth: DefaultMaxDepth}
	return l.function(0)
}

// Parse reads a complete chunk.
func Parse(data []byte, opts ParseOptions) (*Chunk, error) {
	c := NewCursor(data, opts.Arena)
	p, err := ParseHeader(c)
	if err != nil {
		return nil, err
	}
	ch := &Chunk{Profile: p}
	if p.Variant == VariantB {
		b, err := c.ReadByte()
		if err != nil {
			return nil, err
		}
		ch.MainUpvalues = int(b)
	}
	l := &loader{c: c, p: p, maxDepth: opts.MaxDepth}
	if l.maxDepth <= 0 {
		l.maxDepth = DefaultMaxDepth
	}
	if ch.Main, err = l.function(0); err != nil {
		return nil, err
	}
	ch.Trailing = c.Remaining()
	return ch, nil
}

func (l *loader) function(depth int) (*Function, error) {
	start := l.c.Position()
	if depth > l.maxDepth {
		return nil, malformedAt(start, "function nesting deeper than %d", l.maxDepth)
	}
	f := &Function{Index: l.next, Offset: start}
	l.next++

	if err := l.body(f, depth); err != nil {
		var ce *Error
		if errors.As(err, &ce) && ce.Func < 0 {
			ce.Func = f.Index
		}
		return nil, err
	}
	return f, nil
}

func (l *loader) body(f *Function, depth int) error {
	var err error
	if f.Source, _, err = l.c.ReadSizedString(l.p); err != nil {
		return err
	}
	if f.LineDefined, err = l.int(); err != nil {
		return err
	}
	if f.LastLineDefined, err = l.int(); err != nil {
		return err
	}
	if l.p.Variant == VariantA {
		if f.NumUpvalues, err = l.byteInt(); err != nil {
			return err
		}
	}
	if f.NumParams, err = l.byteInt(); err != nil {
		return err
	}
	if f.IsVararg, err = l.c.ReadByte(); err != nil {
		return err
	}
	if f.MaxStack, err = l.byteInt(); err != nil {
		return err
	}
	if err = l.code(f); err != nil {
		return err
	}
	if err = l.constants(f); err != nil {
		return err
	}
	if l.p.Variant == VariantB {
		if err = l.upvalues(f); err != nil {
			return err
		}
	}
	if err = l.protos(f, depth); err != nil {
		return err
	}
	return l.debug(f)
}

func (l *loader) int() (int, error) {
	v, err := l.c.ReadInt(l.p.IntSize)
	return int(v), err
}

func (l *loader) byteInt() (int, error) {
	b, err := l.c.ReadByte()
	return int(b), err
}

// count reads an element count and checks that at least minSize bytes per
// element remain.
func (l *loader) count(what string, minSize int) (int, error) {
	off := l.c.Position()
	n, err := l.int()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, malformedAt(off, "negative %s count %d", what, n)
	}
	if n > l.c.Remaining()/minSize {
		return 0, eofAt(l.c.Position(), "%d %s entries exceed remaining %d bytes", n, what, l.c.Remaining())
	}
	return n, nil
}

func (l *loader) code(f *Function) error {
	n, err := l.count("instruction", l.p.InstructionSize)
	if err != nil {
		return err
	}
	f.Code = make([]Instruction, n)
	for pc := 0; pc < n; pc++ {
		off := l.c.Position()
		w, err := l.c.ReadUint(l.p.InstructionSize)
		if err != nil {
			return err
		}
		word := uint32(w)
		if pc > 0 && l.p.Variant == VariantA && f.Code[pc-1].Op == OpSetList && f.Code[pc-1].C == 0 && !f.Code[pc-1].Data {
			f.Code[pc] = DataWord(word)
			continue
		}
		inst, err := l.p.Decode(word)
		if err != nil {
			return malformedAt(off, "pc %d: %v", pc, err)
		}
		f.Code[pc] = inst
	}
	return nil
}

func (l *loader) constants(f *Function) error {
	n, err := l.count("constant", 1)
	if err != nil {
		return err
	}
	f.Constants = make([]Constant, n)
	for i := range f.Constants {
		if f.Constants[i], err = l.constant(); err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) constant() (Constant, error) {
	off := l.c.Position()
	tag, err := l.c.ReadByte()
	if err != nil {
		return Constant{}, err
	}
	switch {
	case tag == tagNil:
		return NilConst(), nil
	case tag == tagBool:
		b, err := l.c.ReadByte()
		return BoolConst(b != 0), err
	case tag == tagNumber:
		if l.p.Variant == VariantA && l.p.IntegralNumbers {
			v, err := l.c.ReadInt(l.p.NumberSize)
			return IntConst(v), err
		}
		v, err := l.c.ReadFloat(l.p.NumberSize)
		return FloatConst(v), err
	case tag == tagInteger && l.p.Variant == VariantB:
		v, err := l.c.ReadInt(l.p.IntegerSize)
		return IntConst(v), err
	case tag == tagShortStr, tag == tagLongStr && l.p.Variant == VariantB:
		s, _, err := l.c.ReadSizedString(l.p)
		if err != nil {
			return Constant{}, err
		}
		k := StringConst(s)
		k.Long = tag == tagLongStr
		return k, nil
	}
	return Constant{}, malformedAt(off, "unknown constant tag 0x%02x", tag)
}

func (l *loader) upvalues(f *Function) error {
	n, err := l.count("upvalue", 2)
	if err != nil {
		return err
	}
	f.NumUpvalues = n
	f.Upvalues = make([]Upvalue, n)
	for i := range f.Upvalues {
		instack, err := l.c.ReadByte()
		if err != nil {
			return err
		}
		idx, err := l.c.ReadByte()
		if err != nil {
			return err
		}
		f.Upvalues[i] = Upvalue{InStack: instack != 0, Index: int(idx)}
	}
	return nil
}

func (l *loader) protos(f *Function, depth int) error {
	n, err := l.count("prototype", 1)
	if err != nil {
		return err
	}
	f.Protos = make([]*Function, n)
	for i := range f.Protos {
		if f.Protos[i], err = l.function(depth + 1); err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) debug(f *Function) error {
	n, err := l.count("line", l.p.IntSize)
	if err != nil {
		return err
	}
	f.LineInfo = make([]int, n)
	for i := range f.LineInfo {
		if f.LineInfo[i], err = l.int(); err != nil {
			return err
		}
	}

	if n, err = l.count("local", 1); err != nil {
		return err
	}
	f.LocVars = make([]LocVar, n)
	for i := range f.LocVars {
		v := &f.LocVars[i]
		if v.Name, _, err = l.c.ReadSizedString(l.p); err != nil {
			return err
		}
		if v.StartPC, err = l.int(); err != nil {
			return err
		}
		if v.EndPC, err = l.int(); err != nil {
			return err
		}
	}

	if n, err = l.count("upvalue name", 1); err != nil {
		return err
	}
	f.UpvalueNames = make([]string, n)
	for i := range f.UpvalueNames {
		if f.UpvalueNames[i], _, err = l.c.ReadSizedString(l.p); err != nil {
			return err
		}
	}
	if l.p.Variant == VariantA {
		f.Upvalues = make([]Upvalue, f.NumUpvalues)
	}
	return nil
}

// HasSignature reports whether data starts with the chunk signature.
func HasSignature(data []byte) bool {
	return bytes.HasPrefix(data, []byte(Signature))
}
