package chunk

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode is canonical so equal models encode to equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("chunk: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type wireProfile struct {
	Variant         Variant `cbor:"1,keyasint"`
	BigEndian       bool    `cbor:"2,keyasint,omitempty"`
	IntSize         int     `cbor:"3,keyasint"`
	SizeTSize       int     `cbor:"4,keyasint"`
	InstructionSize int     `cbor:"5,keyasint"`
	NumberSize      int     `cbor:"6,keyasint"`
	IntegerSize     int     `cbor:"7,keyasint,omitempty"`
	IntegralNumbers bool    `cbor:"8,keyasint,omitempty"`
}

type wireConstant struct {
	_     struct{}  `cbor:",toarray"`
	Kind  ConstKind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Long  bool
}

type wireLocVar struct {
	_       struct{} `cbor:",toarray"`
	Name    string
	StartPC int
	EndPC   int
}

type wireFunction struct {
	Source          string          `cbor:"1,keyasint,omitempty"`
	LineDefined     int             `cbor:"2,keyasint"`
	LastLineDefined int             `cbor:"3,keyasint"`
	NumUpvalues     int             `cbor:"4,keyasint"`
	NumParams       int             `cbor:"5,keyasint"`
	IsVararg        byte            `cbor:"6,keyasint"`
	MaxStack        int             `cbor:"7,keyasint"`
	Code            []uint32        `cbor:"8,keyasint"`
	DataWords       []int           `cbor:"9,keyasint,omitempty"`
	Constants       []wireConstant  `cbor:"10,keyasint,omitempty"`
	Upvalues        []Upvalue       `cbor:"11,keyasint,omitempty"`
	Protos          []*wireFunction `cbor:"12,keyasint,omitempty"`
	LineInfo        []int           `cbor:"13,keyasint,omitempty"`
	LocVars         []wireLocVar    `cbor:"14,keyasint,omitempty"`
	UpvalueNames    []string        `cbor:"15,keyasint,omitempty"`
}

type wireChunk struct {
	Profile      wireProfile   `cbor:"1,keyasint"`
	MainUpvalues int           `cbor:"2,keyasint,omitempty"`
	Main         *wireFunction `cbor:"3,keyasint"`
}

// MarshalChunk serializes a chunk model to CBOR bytes.
func MarshalChunk(ch *Chunk) ([]byte, error) {
	p := ch.Profile
	wc := wireChunk{
		Profile: wireProfile{
			Variant:         p.Variant,
			BigEndian:       p.ByteOrder == binary.BigEndian,
			IntSize:         p.IntSize,
			SizeTSize:       p.SizeTSize,
			InstructionSize: p.InstructionSize,
			NumberSize:      p.NumberSize,
			IntegerSize:     p.IntegerSize,
			IntegralNumbers: p.IntegralNumbers,
		},
		MainUpvalues: ch.MainUpvalues,
		Main:         toWire(ch.Main, p),
	}
	return cborEncMode.Marshal(&wc)
}

func toWire(f *Function, p *Profile) *wireFunction {
	wf := &wireFunction{
		Source:          f.Source,
		LineDefined:     f.LineDefined,
		LastLineDefined: f.LastLineDefined,
		NumUpvalues:     f.NumUpvalues,
		NumParams:       f.NumParams,
		IsVararg:        f.IsVararg,
		MaxStack:        f.MaxStack,
		Code:            make([]uint32, len(f.Code)),
		Upvalues:        f.Upvalues,
		LineInfo:        f.LineInfo,
		UpvalueNames:    f.UpvalueNames,
	}
	for pc, inst := range f.Code {
		wf.Code[pc] = p.Encode(inst)
		if inst.Data {
			wf.DataWords = append(wf.DataWords, pc)
		}
	}
	for _, k := range f.Constants {
		wf.Constants = append(wf.Constants, wireConstant{Kind: k.Kind, Bool: k.Bool, Int: k.Int, Float: k.Float, Str: k.Str, Long: k.Long})
	}
	for _, v := range f.LocVars {
		wf.LocVars = append(wf.LocVars, wireLocVar{Name: v.Name, StartPC: v.StartPC, EndPC: v.EndPC})
	}
	for _, child := range f.Protos {
		wf.Protos = append(wf.Protos, toWire(child, p))
	}
	return wf
}

// UnmarshalChunk deserializes a chunk model from CBOR bytes.
func UnmarshalChunk(data []byte) (*Chunk, error) {
	var wc wireChunk
	if err := cbor.Unmarshal(data, &wc); err != nil {
		return nil, fmt.Errorf("chunk: unmarshal model: %w", err)
	}
	var p *Profile
	switch wc.Profile.Variant {
	case VariantA:
		p = ProfileLua51()
	case VariantB:
		p = ProfileLua53()
	default:
		return nil, fmt.Errorf("chunk: unmarshal model: %w: variant %d", ErrUnsupportedFormat, wc.Profile.Variant)
	}
	if wc.Profile.BigEndian {
		p.ByteOrder = binary.BigEndian
	}
	p.IntSize = wc.Profile.IntSize
	p.SizeTSize = wc.Profile.SizeTSize
	p.InstructionSize = wc.Profile.InstructionSize
	p.NumberSize = wc.Profile.NumberSize
	p.IntegerSize = wc.Profile.IntegerSize
	p.IntegralNumbers = wc.Profile.IntegralNumbers
	if wc.Main == nil {
		return nil, fmt.Errorf("chunk: unmarshal model: %w: no main function", ErrMalformedChunk)
	}

	next := 0
	main, err := fromWire(wc.Main, p, &next)
	if err != nil {
		return nil, fmt.Errorf("chunk: unmarshal model: %w", err)
	}
	return &Chunk{Profile: p, MainUpvalues: wc.MainUpvalues, Main: main}, nil
}

func fromWire(wf *wireFunction, p *Profile, next *int) (*Function, error) {
	f := &Function{
		Index:           *next,
		Offset:          -1,
		Source:          wf.Source,
		LineDefined:     wf.LineDefined,
		LastLineDefined: wf.LastLineDefined,
		NumUpvalues:     wf.NumUpvalues,
		NumParams:       wf.NumParams,
		IsVararg:        wf.IsVararg,
		MaxStack:        wf.MaxStack,
		Code:            make([]Instruction, len(wf.Code)),
		Constants:       make([]Constant, len(wf.Constants)),
		Upvalues:        nonNil(wf.Upvalues),
		LineInfo:        nonNil(wf.LineInfo),
		UpvalueNames:    nonNil(wf.UpvalueNames),
		LocVars:         make([]LocVar, len(wf.LocVars)),
		Protos:          make([]*Function, len(wf.Protos)),
	}
	*next++

	data := make(map[int]bool, len(wf.DataWords))
	for _, pc := range wf.DataWords {
		data[pc] = true
	}
	for pc, word := range wf.Code {
		if data[pc] {
			f.Code[pc] = DataWord(word)
			continue
		}
		inst, err := p.Decode(word)
		if err != nil {
			return nil, MalformedAt(f.Index, pc, "%v", err)
		}
		f.Code[pc] = inst
	}
	for i, k := range wf.Constants {
		f.Constants[i] = Constant{Kind: k.Kind, Bool: k.Bool, Int: k.Int, Float: k.Float, Str: k.Str, Long: k.Long}
	}
	for i, v := range wf.LocVars {
		f.LocVars[i] = LocVar{Name: v.Name, StartPC: v.StartPC, EndPC: v.EndPC}
	}
	for i, child := range wf.Protos {
		var err error
		if f.Protos[i], err = fromWire(child, p, next); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
