// Package dataspace builds the table of contents of an executable's data
// segment: scalar slots, the constant pool, string arrays with their dope
// vectors, and parameter clusters for system calls.
package dataspace

import (
	"fmt"
	"strings"
)

// TypeCode is the type tag of a table-of-contents entry.
type TypeCode uint8

const (
	TCVoid    TypeCode = 0x00
	TCUByte   TypeCode = 0x01
	TCSByte   TypeCode = 0x02
	TCUWord   TypeCode = 0x03
	TCSWord   TypeCode = 0x04
	TCULong   TypeCode = 0x05
	TCSLong   TypeCode = 0x06
	TCArray   TypeCode = 0x07
	TCCluster TypeCode = 0x08
	TCMutex   TypeCode = 0x09
)

var typeNames = [...]string{"void", "ubyte", "sbyte", "uword", "sword", "ulong", "slong", "array", "cluster", "mutex"}

func (t TypeCode) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("tc%d", uint8(t))
}

// Size is the storage width of a scalar type, 0 for everything else.
func (t TypeCode) Size() int {
	switch t {
	case TCUByte, TCSByte:
		return 1
	case TCUWord, TCSWord:
		return 2
	case TCULong, TCSLong:
		return 4
	}
	return 0
}

func (t TypeCode) IsScalar() bool { return t.Size() > 0 }

const (
	// FlagWritten marks a slot the program writes before reading; it gets no
	// entry in the default stream.
	FlagWritten uint8 = 0x01

	EntrySize      = 4
	DopeVectorSize = 10
	NoLink         = 0xFFFF
)

// Entry is one slot of the table of contents. Desc is the byte offset of a
// scalar, the dope vector index of an array, or the member count of a cluster.
type Entry struct {
	Type    TypeCode
	Flags   uint8
	Desc    int
	Name    string
	Default int64
	// element entries describe the item type of the array before them
	Element bool
}

func (e Entry) Written() bool { return e.Flags&FlagWritten != 0 }

// Member describes one field of a cluster. Text is the initial content of
// an array member.
type Member struct {
	Type    TypeCode
	Default int64
	Text    string
}

type constKey struct {
	value int64
	typ   TypeCode
}

type array struct {
	slot int
	data []byte
}

// Builder allocates slots. Slot indices never change once returned.
type Builder struct {
	entries []Entry
	offset  int
	consts  map[constKey]int
	arrays  []array
}

func NewBuilder() *Builder {
	return &Builder{consts: make(map[constKey]int)}
}

// Len is the number of entries allocated so far.
func (b *Builder) Len() int { return len(b.entries) }

func (b *Builder) Entry(slot int) Entry { return b.entries[slot] }

func (b *Builder) align(n int) {
	if r := b.offset % n; r != 0 {
		b.offset += n - r
	}
}

// AddScalar places a scalar at the next offset aligned to its own size.
func (b *Builder) AddScalar(tc TypeCode, name string, def int64, flags uint8) int {
	size := tc.Size()
	if size == 0 {
		panic(fmt.Sprintf("dataspace: AddScalar with non-scalar type %s", tc))
	}
	b.align(size)
	slot := len(b.entries)
	b.entries = append(b.entries, Entry{Type: tc, Flags: flags, Desc: b.offset, Name: name, Default: def})
	b.offset += size
	return slot
}

// Constant returns the read-only slot holding value, allocating it on first use.
func (b *Builder) Constant(tc TypeCode, value int64) int {
	key := constKey{value, tc}
	if slot, ok := b.consts[key]; ok {
		return slot
	}
	name := fmt.Sprintf("const_%d", value)
	if tc != TCSLong {
		name = fmt.Sprintf("const_%s_%d", tc, value)
	}
	slot := b.AddScalar(tc, name, value, 0)
	b.consts[key] = slot
	return slot
}

// AddString allocates a byte array holding text plus a NUL terminator.
// Characters outside ASCII are stored as '?'.
func (b *Builder) AddString(text, name string) int {
	data := make([]byte, 0, len(text)+1)
	for _, r := range text {
		if r > 0x7F {
			r = '?'
		}
		data = append(data, byte(r))
	}
	data = append(data, 0)

	slot := len(b.entries)
	b.arrays = append(b.arrays, array{slot: slot, data: data})
	// Index 0 is the sentinel dope vector, so real ones start at 1.
	b.entries = append(b.entries,
		Entry{Type: TCArray, Desc: len(b.arrays), Name: name},
		Entry{Type: TCUByte, Name: name + "[]", Element: true},
	)
	return slot
}

// AddCluster allocates a cluster header followed by its members and returns
// the header slot and the slot of each member.
func (b *Builder) AddCluster(name string, members ...Member) (int, []int) {
	slot := len(b.entries)
	b.entries = append(b.entries, Entry{Type: TCCluster, Desc: len(members), Name: name})

	slots := make([]int, len(members))
	for i, m := range members {
		memberName := fmt.Sprintf("%s.%d", name, i)
		if m.Type == TCArray {
			slots[i] = b.AddString(m.Text, memberName)
			continue
		}
		slots[i] = b.AddScalar(m.Type, memberName, m.Default, 0)
	}
	return slot, slots
}

// DopeVector describes where an array lives in the dynamic data area.
type DopeVector struct {
	Offset   int
	ElemSize int
	Count    int
	Back     int
	Link     int
}

// Layout is the serialized form of a finished builder.
type Layout struct {
	Entries     []Entry
	StaticSize  int
	Compact     []byte // defaults of non-written scalars, in table order
	Dynamic     []byte // dope vectors followed by array contents
	DopeVectors []DopeVector
	Head, Tail  int
}

// Layout serializes the table. It can be called more than once.
func (b *Builder) Layout() *Layout {
	l := &Layout{Entries: append([]Entry(nil), b.entries...)}

	l.StaticSize = b.offset
	if r := l.StaticSize % 4; r != 0 {
		l.StaticSize += 4 - r
	}

	for _, e := range b.entries {
		if !e.Type.IsScalar() || e.Element || e.Written() {
			continue
		}
		l.Compact = appendLE(l.Compact, e.Default, e.Type.Size())
	}

	n := len(b.arrays)
	sentinel := DopeVector{Offset: l.StaticSize, ElemSize: DopeVectorSize, Count: n, Back: NoLink, Link: NoLink}
	if n == 0 {
		sentinel.Count = 1
	}
	l.DopeVectors = append(l.DopeVectors, sentinel)

	dataOffset := l.StaticSize + (n+1)*DopeVectorSize
	for i, a := range b.arrays {
		idx := i + 1
		dv := DopeVector{Offset: dataOffset, ElemSize: 1, Count: len(a.data), Back: idx - 1, Link: idx + 1}
		if idx == 1 {
			dv.Back = NoLink
		}
		if idx == n {
			dv.Link = NoLink
		}
		l.DopeVectors = append(l.DopeVectors, dv)
		dataOffset += len(a.data)
	}

	for _, dv := range l.DopeVectors {
		for _, v := range []int{dv.Offset, dv.ElemSize, dv.Count, dv.Back, dv.Link} {
			l.Dynamic = appendLE(l.Dynamic, int64(v), 2)
		}
	}
	for _, a := range b.arrays {
		l.Dynamic = append(l.Dynamic, a.data...)
	}

	if n > 0 {
		l.Head, l.Tail = 1, n
	}
	return l
}

// InitialSize is the data segment size the firmware allocates at load time.
func (l *Layout) InitialSize() int { return l.StaticSize + len(l.Dynamic) }

// ArrayData returns the initial bytes of the array at slot.
func (l *Layout) ArrayData(slot int) ([]byte, bool) {
	if slot < 0 || slot >= len(l.Entries) || l.Entries[slot].Type != TCArray {
		return nil, false
	}
	dv := l.DopeVectors[l.Entries[slot].Desc]
	start := dv.Offset - l.StaticSize
	if start < 0 || start+dv.Count*dv.ElemSize > len(l.Dynamic) {
		return nil, false
	}
	return l.Dynamic[start : start+dv.Count*dv.ElemSize], true
}

// Describe renders a slot for listings, e.g. "x:slong@4" or "str_0:array#1 \"Hi\"".
func (l *Layout) Describe(slot int) string {
	if slot < 0 || slot >= len(l.Entries) {
		return fmt.Sprintf("?%d", slot)
	}
	e := l.Entries[slot]
	switch {
	case e.Type == TCArray:
		s := fmt.Sprintf("%s:array#%d", e.Name, e.Desc)
		if data, ok := l.ArrayData(slot); ok {
			s += fmt.Sprintf(" %q", strings.TrimSuffix(string(data), "\x00"))
		}
		return s
	case e.Type == TCCluster:
		return fmt.Sprintf("%s:cluster(%d)", e.Name, e.Desc)
	}
	return fmt.Sprintf("%s:%s@%d", e.Name, e.Type, e.Desc)
}

func appendLE(buf []byte, v int64, size int) []byte {
	u := uint64(v)
	for i := 0; i < size; i++ {
		buf = append(buf, byte(u>>(8*i)))
	}
	return buf
}
