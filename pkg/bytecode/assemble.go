package bytecode

import (
	"bytes"
	"encoding/binary"
)

// Builder assembles an in-memory bytecode image. It exists so that
// pkg/vm, pkg/verifier and pkg/idiom can build small fixture programs
// without hand-encoding the wire format in every test file — the same
// role the teacher's bytecode package plays for its own format tests.
type Builder struct {
	strings        bytes.Buffer
	stringOffsets  map[string]uint32
	publics        []Public
	code           bytes.Buffer
	globalAreaSize int
}

// NewBuilder starts an empty image with the given global area size.
func NewBuilder(globalAreaSize int) *Builder {
	return &Builder{stringOffsets: make(map[string]uint32), globalAreaSize: globalAreaSize}
}

// Intern adds s to the string table (deduplicated) and returns its byte
// offset.
func (b *Builder) Intern(s string) uint32 {
	if off, ok := b.stringOffsets[s]; ok {
		return off
	}
	off := uint32(b.strings.Len())
	b.strings.WriteString(s)
	b.strings.WriteByte(0)
	b.stringOffsets[s] = off
	return off
}

// Public registers name as a public symbol bound to codeOffset.
func (b *Builder) Public(name string, codeOffset uint32) {
	b.publics = append(b.publics, Public{NameOffset: b.Intern(name), CodeOffset: codeOffset})
}

// Offset reports the current end of the code region — useful for
// recording a jump/call target before emitting the instruction it targets.
func (b *Builder) Offset() int { return b.code.Len() }

// Emit appends a raw opcode byte (family<<4 | variant).
func (b *Builder) Emit(op byte) { b.code.WriteByte(op) }

// Imm32 appends a 32-bit little-endian immediate.
func (b *Builder) Imm32(n int32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(n))
	b.code.Write(buf[:])
}

// Byte appends a single raw byte (used for Closure capture-kind nibbles).
func (b *Builder) Byte(v byte) { b.code.WriteByte(v) }

// Bytes returns the assembled file per the §6 wire format.
func (b *Builder) Bytes() []byte {
	var out bytes.Buffer
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(b.strings.Len()))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(b.globalAreaSize))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(b.publics)))
	out.Write(hdr[:])
	for _, p := range b.publics {
		var pair [8]byte
		binary.LittleEndian.PutUint32(pair[0:4], p.NameOffset)
		binary.LittleEndian.PutUint32(pair[4:8], p.CodeOffset)
		out.Write(pair[:])
	}
	out.Write(b.strings.Bytes())
	out.Write(b.code.Bytes())
	return out.Bytes()
}

// Image loads the assembled bytes back through Load, so fixtures exercise
// exactly the same path real files take.
func (b *Builder) Image() (*Image, error) {
	return Load(bytes.NewReader(b.Bytes()))
}
