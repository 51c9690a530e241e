package chunk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Test Helpers: Building test chunks
// ---------------------------------------------------------------------------

// testChunkBuilder assembles raw 5.1 chunk bytes field by field.
type testChunkBuilder struct {
	buf bytes.Buffer
}

func newTestChunkBuilder() *testChunkBuilder {
	return &testChunkBuilder{}
}

func (b *testChunkBuilder) writeByte(v byte) { b.buf.WriteByte(v) }

func (b *testChunkBuilder) writeUint32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf.Write(tmp[:])
}

func (b *testChunkBuilder) writeUint64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.buf.Write(tmp[:])
}

// writeString writes a 5.1 string: size_t length including the NUL.
func (b *testChunkBuilder) writeString(s string) {
	b.writeUint64(uint64(len(s) + 1))
	b.buf.WriteString(s)
	b.buf.WriteByte(0)
}

// writeHeader51 writes a little-endian 5.1 header (12 bytes).
func (b *testChunkBuilder) writeHeader51() {
	b.buf.WriteString(Signature)
	b.buf.Write([]byte{0x51, 0, 1, 4, 8, 4, 8, 0})
}

// writeFunctionStart writes the fixed fields of a 5.1 function (20 bytes
// after an absent source).
func (b *testChunkBuilder) writeFunctionStart(maxStack byte) {
	b.writeUint64(0) // source
	b.writeUint32(0) // linedefined
	b.writeUint32(0) // lastlinedefined
	b.buf.Write([]byte{0, 0, 2, maxStack})
}

func (b *testChunkBuilder) writeEmptyDebug() {
	b.writeUint32(0)
	b.writeUint32(0)
	b.writeUint32(0)
}

func (b *testChunkBuilder) bytes() []byte { return b.buf.Bytes() }

func expectKind(t *testing.T, err error, kind Kind, offset int) *Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("error %v is not a *chunk.Error", err)
	}
	if ce.Kind != kind {
		t.Fatalf("Kind = %s, want %s (%v)", ce.Kind, kind, err)
	}
	if offset >= 0 && ce.Offset != offset {
		t.Errorf("Offset = %d, want %d (%v)", ce.Offset, offset, err)
	}
	return ce
}

// ---------------------------------------------------------------------------
// Header Tests
// ---------------------------------------------------------------------------

func TestParseHeaderLua51(t *testing.T) {
	b := newTestChunkBuilder()
	b.writeHeader51()

	p, err := ParseHeader(NewCursor(b.bytes(), nil))
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if p.Variant != VariantA {
		t.Errorf("Variant = %s, want lua51", p.Variant)
	}
	if p.SizeTSize != 8 || p.IntSize != 4 || p.NumberSize != 8 {
		t.Errorf("sizes = %d/%d/%d, want 8/4/8", p.SizeTSize, p.IntSize, p.NumberSize)
	}
	if p.Strings != StringPlainLength || !p.Terminated {
		t.Errorf("string encoding = %d terminated=%v", p.Strings, p.Terminated)
	}
}

func TestParseHeaderLua53(t *testing.T) {
	data := DumpBytes(&Chunk{Profile: ProfileLua53(), MainUpvalues: 1, Main: &Function{}})
	p, err := ParseHeader(NewCursor(data, nil))
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if p.Variant != VariantB || p.IntegerSize != 8 || p.Strings != StringInlineSmall {
		t.Errorf("profile = %v", p)
	}
}

func TestParseHeaderLua53BigEndian(t *testing.T) {
	p := ProfileLua53()
	p.ByteOrder = binary.BigEndian
	data := DumpBytes(&Chunk{Profile: p, Main: &Function{Source: "=big", Constants: []Constant{IntConst(7)}}})

	ch, err := Parse(data, ParseOptions{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if ch.Profile.ByteOrder != binary.BigEndian {
		t.Errorf("ByteOrder = %v, want BigEndian", ch.Profile.ByteOrder)
	}
	if ch.Main.Source != "=big" || ch.Main.Constants[0].Int != 7 {
		t.Errorf("main = %+v", ch.Main)
	}
}

func TestParseHeaderBadSignature(t *testing.T) {
	_, err := ParseHeader(NewCursor([]byte("\x1bLuz\x51\x00"), nil))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestParseHeaderBadVersion(t *testing.T) {
	_, err := ParseHeader(NewCursor([]byte("\x1bLua\x52\x00"), nil))
	expectKind(t, err, UnsupportedFormat, 4)
}

func TestParseHeaderTruncated(t *testing.T) {
	_, err := ParseHeader(NewCursor([]byte("\x1bLu"), nil))
	if !errors.Is(err, ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Function Tests
// ---------------------------------------------------------------------------

func TestParseLoadKReturn(t *testing.T) {
	b := newTestChunkBuilder()
	b.writeHeader51()
	b.writeFunctionStart(2)
	b.writeUint32(2)
	b.writeUint32(1)          // LOADK 0 0
	b.writeUint32(30 | 2<<23) // RETURN 0 2
	b.writeUint32(1)
	b.writeByte(tagShortStr)
	b.writeString("hi")
	b.writeUint32(0) // protos
	b.writeEmptyDebug()

	ch, err := Parse(b.bytes(), ParseOptions{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	fn := ch.Main
	if len(fn.Code) != 2 {
		t.Fatalf("len(Code) = %d, want 2", len(fn.Code))
	}
	if fn.Code[0].Op != OpLoadK || fn.Code[0].A != 0 || fn.Code[0].Bx != 0 {
		t.Errorf("Code[0] = %v, want LOADK 0 0", fn.Code[0])
	}
	if fn.Code[1].Op != OpReturn || fn.Code[1].B != 2 {
		t.Errorf("Code[1] = %v, want RETURN 0 2", fn.Code[1])
	}
	if got := fn.Constants[0]; got.Kind != ConstString || got.Str != "hi" {
		t.Errorf("Constants[0] = %v, want \"hi\"", got)
	}
	if ch.Trailing != 0 {
		t.Errorf("Trailing = %d, want 0", ch.Trailing)
	}
}

func TestParseStringExceedsInput(t *testing.T) {
	b := newTestChunkBuilder()
	b.writeHeader51()
	b.writeUint64(100) // source declares 100 bytes
	b.buf.WriteString("abc")

	_, err := Parse(b.bytes(), ParseOptions{})
	ce := expectKind(t, err, UnexpectedEndOfInput, 12)
	if ce.Func != 0 {
		t.Errorf("Func = %d, want 0", ce.Func)
	}
}

func TestParseUnknownConstantTag(t *testing.T) {
	b := newTestChunkBuilder()
	b.writeHeader51()
	b.writeFunctionStart(2)
	b.writeUint32(0) // code
	b.writeUint32(1) // constants
	b.writeByte(9)

	_, err := Parse(b.bytes(), ParseOptions{})
	expectKind(t, err, MalformedChunk, 40)
	if !errors.Is(err, ErrMalformedChunk) {
		t.Errorf("errors.Is(err, ErrMalformedChunk) = false")
	}
}

func TestParseOpcodeOutOfRange(t *testing.T) {
	b := newTestChunkBuilder()
	b.writeHeader51()
	b.writeFunctionStart(2)
	b.writeUint32(1)
	b.writeUint32(45) // 5.1 has 38 opcodes

	_, err := Parse(b.bytes(), ParseOptions{})
	ce := expectKind(t, err, MalformedChunk, 36)
	if !strings.Contains(ce.Msg, "opcode 45") {
		t.Errorf("Msg = %q, want mention of opcode 45", ce.Msg)
	}
}

func TestParseCountExceedsInput(t *testing.T) {
	b := newTestChunkBuilder()
	b.writeHeader51()
	b.writeFunctionStart(2)
	b.writeUint32(1 << 30)

	_, err := Parse(b.bytes(), ParseOptions{})
	expectKind(t, err, UnexpectedEndOfInput, 36)
}

func TestParseDepthGuard(t *testing.T) {
	fn := &Function{}
	for i := 0; i < 5; i++ {
		fn = &Function{Protos: []*Function{fn}}
	}
	data := DumpBytes(&Chunk{Profile: ProfileLua51(), Main: fn})

	if _, err := Parse(data, ParseOptions{MaxDepth: 3}); !errors.Is(err, ErrMalformedChunk) {
		t.Fatalf("expected ErrMalformedChunk from depth guard, got %v", err)
	}
	if _, err := Parse(data, ParseOptions{MaxDepth: 5}); err != nil {
		t.Fatalf("Parse with MaxDepth 5 failed: %v", err)
	}
}

func TestParseSetListDataWord(t *testing.T) {
	p := ProfileLua51()
	fn := &Function{
		MaxStack: 3,
		Code: []Instruction{
			p.ABC(OpNewTable, 0, 0, 0),
			p.ABC(OpSetList, 0, 1, 0),
			DataWord(7),
			p.ABC(OpReturn, 0, 1, 0),
		},
	}
	ch, err := Parse(DumpBytes(&Chunk{Profile: p, Main: fn}), ParseOptions{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	got := ch.Main.Code[2]
	if !got.Data || got.Ax != 7 {
		t.Errorf("Code[2] = %+v, want data word 7", got)
	}
	if ch.Main.Code[3].Op != OpReturn {
		t.Errorf("Code[3] = %v, want RETURN", ch.Main.Code[3])
	}
}

func TestParseInlineSmallEscape(t *testing.T) {
	long := strings.Repeat("x", 300)
	fn := &Function{Constants: []Constant{StringConst(long), StringConst("")}}
	ch, err := Parse(DumpBytes(&Chunk{Profile: ProfileLua53(), Main: fn}), ParseOptions{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := ch.Main.Constants[0].Str; got != long {
		t.Errorf("len(Constants[0]) = %d, want 300", len(got))
	}
	if got := ch.Main.Constants[1]; got.Kind != ConstString || got.Str != "" {
		t.Errorf("Constants[1] = %v, want empty string", got)
	}
}

// ---------------------------------------------------------------------------
// Round Trip Tests
// ---------------------------------------------------------------------------

func sampleFunction(p *Profile) *Function {
	child := &Function{
		LineDefined:     3,
		LastLineDefined: 5,
		NumUpvalues:     1,
		NumParams:       1,
		MaxStack:        2,
		Code: []Instruction{
			p.ABC(OpGetUpval, 1, 0, 0),
			p.ABC(OpReturn, 1, 2, 0),
		},
		LineInfo:     []int{4, 4},
		LocVars:      []LocVar{{Name: "x", StartPC: 0, EndPC: 2}},
		UpvalueNames: []string{"up"},
		Upvalues:     []Upvalue{{}},
	}
	main := &Function{
		Source:   "@sample.lua",
		IsVararg: 2,
		MaxStack: 4,
		Code: []Instruction{
			p.ABx(OpLoadK, 0, 0),
			p.ABx(OpClosure, 1, 0),
			p.ABC(OpMove, 0, 0, 0),
			p.AsBx(OpJmp, 0, -2),
			p.ABC(OpReturn, 0, 1, 0),
		},
		Constants: []Constant{
			StringConst("line\nbreak"),
			BoolConst(true),
			NilConst(),
			FloatConst(math.Inf(1)),
			FloatConst(2.5),
		},
		Protos:   []*Function{child},
		LineInfo: []int{1, 2, 2, 3, 3},
	}
	if p.Variant == VariantB {
		main.Constants = append(main.Constants, IntConst(-42), LongStringConst(strings.Repeat("long ", 10)))
		main.NumUpvalues = 1
		main.Upvalues = []Upvalue{{InStack: true, Index: 0}}
		main.UpvalueNames = []string{"_ENV"}
		child.Upvalues = []Upvalue{{InStack: true, Index: 0}}
	}
	return main
}

func TestRoundTripLua51(t *testing.T) {
	p := ProfileLua51()
	want := &Chunk{Profile: p, Main: sampleFunction(p)}

	got, err := Parse(DumpBytes(want), ParseOptions{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !got.Main.Equal(want.Main) {
		t.Errorf("round trip mismatch:\n%s\nwant:\n%s", Disassemble(got.Main, p), Disassemble(want.Main, p))
	}
	if got.Main.Protos[0].Index != 1 {
		t.Errorf("child Index = %d, want 1", got.Main.Protos[0].Index)
	}
}

func TestRoundTripLua53(t *testing.T) {
	p := ProfileLua53()
	want := &Chunk{Profile: p, MainUpvalues: 1, Main: sampleFunction(p)}

	data := DumpBytes(want)
	got, err := Parse(data, ParseOptions{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !got.Main.Equal(want.Main) {
		t.Errorf("round trip mismatch:\n%s", Disassemble(got.Main, p))
	}
	if got.MainUpvalues != 1 {
		t.Errorf("MainUpvalues = %d, want 1", got.MainUpvalues)
	}
	if !bytes.Equal(DumpBytes(got), data) {
		t.Errorf("second dump differs from first")
	}
}

func TestRoundTripSharedArena(t *testing.T) {
	arena := NewArena()
	p := ProfileLua51()
	data := DumpBytes(&Chunk{Profile: p, Main: sampleFunction(p)})

	for i := 0; i < 3; i++ {
		ch, err := Parse(data, ParseOptions{Arena: arena})
		if err != nil {
			t.Fatalf("Parse %d failed: %v", i, err)
		}
		if ch.Main.Source != "@sample.lua" {
			t.Errorf("Source = %q", ch.Main.Source)
		}
		arena.Reset()
	}
}

// ---------------------------------------------------------------------------
// Instruction Codec Tests
// ---------------------------------------------------------------------------

func TestEncodeDecodeInverse(t *testing.T) {
	for _, p := range []*Profile{ProfileLua51(), ProfileLua53()} {
		for raw := 0; raw < p.NumOpcodes(); raw++ {
			op, _ := p.Op(uint8(raw))
			var inst Instruction
			switch p.Mode(op) {
			case ModeABx:
				inst = p.ABx(op, 3, 70000)
			case ModeAsBx:
				inst = p.AsBx(op, 3, -1000)
			case ModeAx:
				inst = Instruction{Op: op, Ax: 1 << 20}
			default:
				inst = p.ABC(op, 200, 257, 511)
			}
			word := p.Encode(inst)
			back, err := p.Decode(word)
			if err != nil {
				t.Fatalf("%s: Decode(%s) failed: %v", p.Variant, op, err)
			}
			if p.Encode(back) != word || back.Op != op {
				t.Errorf("%s: %s does not round trip (%#x)", p.Variant, op, word)
			}
		}
	}
}

func TestDecodeFields(t *testing.T) {
	p := ProfileLua53()
	inst, err := p.Decode(0x00804024) // raw 36, A=0, B=1, C=1
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if inst.Op != OpCall || inst.A != 0 || inst.B != 1 || inst.C != 1 {
		t.Errorf("Decode = %v, want CALL 0 1 1", inst)
	}
	if !p.IsK(256) || p.KIndex(258) != 2 {
		t.Errorf("RK helpers wrong")
	}
}
