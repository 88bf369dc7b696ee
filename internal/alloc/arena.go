package alloc

// StringArena interns short strings into one growing backing buffer so
// a caller can store (offset, length) pairs instead of separate Go
// string headers. §4.B's Phase 1 FRN map is the motivating case:
// millions of filenames, each referenced once, targeting ~100 bytes
// of map overhead per record including the arena slice itself.
type StringArena struct {
	buf []byte
}

// StringRef is a (offset, length) pair into an Arena's backing buffer.
type StringRef struct {
	Offset uint32
	Len    uint16
}

// NewStringArena creates an arena pre-sized for capacityHint bytes.
func NewStringArena(capacityHint int) *StringArena {
	if capacityHint < 0 {
		capacityHint = 0
	}
	return &StringArena{buf: make([]byte, 0, capacityHint)}
}

// Intern copies s into the arena and returns a reference to it. The
// returned StringRef is only valid for the lifetime of this arena;
// Reset or dropping the arena invalidates every reference issued.
func (a *StringArena) Intern(s string) StringRef {
	off := len(a.buf)
	a.buf = append(a.buf, s...)
	return StringRef{Offset: uint32(off), Len: uint16(len(s))}
}

// Get resolves a StringRef back into a string. The returned string
// aliases the arena's backing array; callers that need to retain it
// past a Reset must copy it first.
func (a *StringArena) Get(ref StringRef) string {
	return string(a.buf[ref.Offset : ref.Offset+uint32(ref.Len)])
}

// Len reports the number of bytes currently interned.
func (a *StringArena) Len() int { return len(a.buf) }

// Cap reports the arena's backing capacity.
func (a *StringArena) Cap() int { return cap(a.buf) }

// Reset drops every interned string and releases the backing array,
// per §4.B's "the FRN map is explicitly emptied and its backing arena
// dropped before the writer finalizes".
func (a *StringArena) Reset() {
	a.buf = nil
}
