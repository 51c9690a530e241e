package chunk

// Arena is caller-owned scratch space for parsing. A worker keeps one Arena
// and calls Reset between chunks; an Arena must not be used by two parses at
// the same time.
//
// Strings read through a Cursor are assembled in the scratch buffer and
// interned, so names repeated across nested prototypes share storage.
type Arena struct {
	buf     []byte
	interns map[string]string
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{interns: make(map[string]string)}
}

// Reset drops interned strings and keeps the scratch capacity.
func (a *Arena) Reset() {
	a.buf = a.buf[:0]
	clear(a.interns)
}

// scratch returns the scratch buffer holding a copy of b.
func (a *Arena) scratch(b []byte) []byte {
	a.buf = append(a.buf[:0], b...)
	return a.buf
}

// intern returns a string equal to b, reusing an earlier copy when one
// exists.
func (a *Arena) intern(b []byte) string {
	if s, ok := a.interns[string(b)]; ok {
		return s
	}
	s := string(b)
	a.interns[s] = s
	return s
}

// Len reports the number of distinct interned strings.
func (a *Arena) Len() int { return len(a.interns) }
