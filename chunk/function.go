package chunk

// Upvalue describes where a closure captures an upvalue from. VariantA
// chunks do not store descriptors; their InStack and Index come from the
// capture words that follow CLOSURE in the parent.
type Upvalue struct {
	InStack bool
	Index   int
}

// LocVar is a debug record naming a register for a pc range.
type LocVar struct {
	Name    string
	StartPC int
	EndPC   int
}

// Function is one parsed function prototype. It is immutable once the
// reader returns it.
type Function struct {
	// Index is the pre-order position of the function in its chunk.
	Index int
	// Offset is the byte offset where the function record starts.
	Offset int

	Source          string
	LineDefined     int
	LastLineDefined int
	NumUpvalues     int
	NumParams       int
	IsVararg        byte
	MaxStack        int

	Code      []Instruction
	Constants []Constant
	Upvalues  []Upvalue
	Protos    []*Function

	// Debug information; empty in stripped chunks.
	LineInfo     []int
	LocVars      []LocVar
	UpvalueNames []string
}

// HasVarargs reports whether the function accepts "...".
func (f *Function) HasVarargs() bool { return f.IsVararg != 0 }

// UpvalueName returns the debug name of upvalue i, or "" when stripped.
func (f *Function) UpvalueName(i int) string {
	if i < 0 || i >= len(f.UpvalueNames) {
		return ""
	}
	return f.UpvalueNames[i]
}

// Walk visits f and every nested prototype in pre-order.
func (f *Function) Walk(visit func(*Function)) {
	visit(f)
	for _, p := range f.Protos {
		p.Walk(visit)
	}
}

// Count returns the number of functions rooted at f.
func (f *Function) Count() int {
	n := 0
	f.Walk(func(*Function) { n++ })
	return n
}

// Chunk is a parsed binary chunk.
type Chunk struct {
	Profile *Profile
	// MainUpvalues is the upvalue count stored in a VariantB header.
	MainUpvalues int
	Main         *Function
	// Trailing counts bytes left after the main function.
	Trailing int
}

// Equal reports whether two function trees are structurally equal. Offsets
// and indexes are ignored.
func (f *Function) Equal(o *Function) bool {
	if f == nil || o == nil {
		return f == o
	}
	if f.Source != o.Source || f.LineDefined != o.LineDefined ||
		f.LastLineDefined != o.LastLineDefined || f.NumUpvalues != o.NumUpvalues ||
		f.NumParams != o.NumParams || f.IsVararg != o.IsVararg || f.MaxStack != o.MaxStack {
		return false
	}
	if len(f.Code) != len(o.Code) || len(f.Constants) != len(o.Constants) ||
		len(f.Upvalues) != len(o.Upvalues) || len(f.Protos) != len(o.Protos) ||
		len(f.LineInfo) != len(o.LineInfo) || len(f.LocVars) != len(o.LocVars) ||
		len(f.UpvalueNames) != len(o.UpvalueNames) {
		return false
	}
	for i := range f.Code {
		if f.Code[i].Word != o.Code[i].Word || f.Code[i].Data != o.Code[i].Data {
			return false
		}
	}
	for i := range f.Constants {
		if !f.Constants[i].Equal(o.Constants[i]) {
			return false
		}
	}
	for i := range f.Upvalues {
		if f.Upvalues[i] != o.Upvalues[i] {
			return false
		}
	}
	for i := range f.LineInfo {
		if f.LineInfo[i] != o.LineInfo[i] {
			return false
		}
	}
	for i := range f.LocVars {
		if f.LocVars[i] != o.LocVars[i] {
			return false
		}
	}
	for i := range f.UpvalueNames {
		if f.UpvalueNames[i] != o.UpvalueNames[i] {
			return false
		}
	}
	for i := range f.Protos {
		if !f.Protos[i].Equal(o.Protos[i]) {
			return false
		}
	}
	return true
}
