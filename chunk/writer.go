package chunk

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
)

// ---------------------------------------------------------------------------
// Writer: emits reference bytes for a chunk model
// ---------------------------------------------------------------------------

// Writer serializes a chunk model back to the binary layout of its profile.
// Parsing the output yields a model equal to the input.
type Writer struct {
	buf *bytes.Buffer
	p   *Profile
}

// NewWriter creates a writer for the given profile.
func NewWriter(p *Profile) *Writer {
	return &Writer{buf: new(bytes.Buffer), p: p}
}

// Dump writes a complete chunk to out.
func Dump(out io.Writer, ch *Chunk) error {
	w := NewWriter(ch.Profile)
	w.WriteHeader()
	if ch.Profile.Variant == VariantB {
		w.buf.WriteByte(byte(ch.MainUpvalues))
	}
	w.WriteFunction(ch.Main)
	_, err := w.WriteTo(out)
	return err
}

// DumpBytes returns the bytes of a complete chunk.
func DumpBytes(ch *Chunk) []byte {
	var buf bytes.Buffer
	_ = Dump(&buf, ch)
	return buf.Bytes()
}

// Bytes returns everything written so far.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// WriteTo copies the written bytes to out.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	return w.buf.WriteTo(out)
}

// WriteHeader writes the signature and the variant header fields.
func (w *Writer) WriteHeader() {
	p := w.p
	w.buf.WriteString(Signature)
	w.buf.WriteByte(p.Version)
	w.buf.WriteByte(p.Format)
	if p.Variant == VariantA {
		if p.ByteOrder == binary.BigEndian {
			w.buf.WriteByte(0)
		} else {
			w.buf.WriteByte(1)
		}
		w.buf.WriteByte(byte(p.IntSize))
		w.buf.WriteByte(byte(p.SizeTSize))
		w.buf.WriteByte(byte(p.InstructionSize))
		w.buf.WriteByte(byte(p.NumberSize))
		if p.IntegralNumbers {
			w.buf.WriteByte(1)
		} else {
			w.buf.WriteByte(0)
		}
		return
	}
	w.buf.WriteString(luacData)
	w.buf.WriteByte(byte(p.IntSize))
	w.buf.WriteByte(byte(p.SizeTSize))
	w.buf.WriteByte(byte(p.InstructionSize))
	w.buf.WriteByte(byte(p.IntegerSize))
	w.buf.WriteByte(byte(p.NumberSize))
	w.writeUint(luacInt, p.IntegerSize)
	w.writeFloat(luacNum)
}

func (w *Writer) writeUint(v uint64, width int) {
	var b [8]byte
	order := w.p.ByteOrder
	switch width {
	case 1:
		w.buf.WriteByte(byte(v))
		return
	case 2:
		order.PutUint16(b[:], uint16(v))
	case 4:
		order.PutUint32(b[:], uint32(v))
	default:
		order.PutUint64(b[:], v)
	}
	w.buf.Write(b[:width])
}

func (w *Writer) writeInt(v int) { w.writeUint(uint64(int64(v)), w.p.IntSize) }

func (w *Writer) writeFloat(f float64) {
	if w.p.NumberSize == 4 {
		w.writeUint(uint64(math.Float32bits(float32(f))), 4)
		return
	}
	w.writeUint(math.Float64bits(f), 8)
}

// writeString writes s, or the absent string when present is false.
func (w *Writer) writeString(s string, present bool) {
	if !present {
		if w.p.Strings == StringInlineSmall {
			w.buf.WriteByte(0)
		} else {
			w.writeUint(0, w.p.SizeTSize)
		}
		return
	}
	if w.p.Strings == StringInlineSmall {
		size := len(s) + 1
		if size < 0xFF {
			w.buf.WriteByte(byte(size))
		} else {
			w.buf.WriteByte(0xFF)
			w.writeUint(uint64(size), w.p.SizeTSize)
		}
		w.buf.WriteString(s)
		return
	}
	size := len(s)
	if w.p.Terminated {
		size++
	}
	w.writeUint(uint64(size), w.p.SizeTSize)
	w.buf.WriteString(s)
	if w.p.Terminated {
		w.buf.WriteByte(0)
	}
}

// WriteFunction writes one function record and its children.
func (w *Writer) WriteFunction(f *Function) {
	p := w.p
	w.writeString(f.Source, f.Source != "")
	w.writeInt(f.LineDefined)
	w.writeInt(f.LastLineDefined)
	if p.Variant == VariantA {
		w.buf.WriteByte(byte(f.NumUpvalues))
	}
	w.buf.WriteByte(byte(f.NumParams))
	w.buf.WriteByte(f.IsVararg)
	w.buf.WriteByte(byte(f.MaxStack))

	w.writeInt(len(f.Code))
	for _, inst := range f.Code {
		w.writeUint(uint64(p.Encode(inst)), p.InstructionSize)
	}

	w.writeInt(len(f.Constants))
	for _, k := range f.Constants {
		w.writeConstant(k)
	}

	if p.Variant == VariantB {
		w.writeInt(len(f.Upvalues))
		for _, uv := range f.Upvalues {
			if uv.InStack {
				w.buf.WriteByte(1)
			} else {
				w.buf.WriteByte(0)
			}
			w.buf.WriteByte(byte(uv.Index))
		}
	}

	w.writeInt(len(f.Protos))
	for _, child := range f.Protos {
		w.WriteFunction(child)
	}

	w.writeInt(len(f.LineInfo))
	for _, line := range f.LineInfo {
		w.writeInt(line)
	}
	w.writeInt(len(f.LocVars))
	for _, v := range f.LocVars {
		w.writeString(v.Name, true)
		w.writeInt(v.StartPC)
		w.writeInt(v.EndPC)
	}
	w.writeInt(len(f.UpvalueNames))
	for _, name := range f.UpvalueNames {
		w.writeString(name, true)
	}
}

func (w *Writer) writeConstant(k Constant) {
	p := w.p
	switch k.Kind {
	case ConstNil:
		w.buf.WriteByte(tagNil)
	case ConstBool:
		w.buf.WriteByte(tagBool)
		if k.Bool {
			w.buf.WriteByte(1)
		} else {
			w.buf.WriteByte(0)
		}
	case ConstInt:
		if p.Variant == VariantA {
			w.buf.WriteByte(tagNumber)
			if p.IntegralNumbers {
				w.writeUint(uint64(k.Int), p.NumberSize)
			} else {
				w.writeFloat(float64(k.Int))
			}
			return
		}
		w.buf.WriteByte(tagInteger)
		w.writeUint(uint64(k.Int), p.IntegerSize)
	case ConstFloat:
		w.buf.WriteByte(tagNumber)
		w.writeFloat(k.Float)
	case ConstString:
		if k.Long && p.Variant == VariantB {
			w.buf.WriteByte(tagLongStr)
		} else {
			w.buf.WriteByte(tagShortStr)
		}
		w.writeString(k.Str, true)
	}
}
