// Package bytecode parses and represents the persisted program image: the
// header, string table, publics table, code region and global area
// descriptor described in the specification's external interface (§6).
//
// The image is immutable once loaded — neither the verifier nor the
// interpreter ever mutates it, so *Image is safe to share across goroutines
// even though the VM itself is single-threaded.
package bytecode

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Public is one entry of the publics table: a name (by string-table
// offset) bound to a code offset.
type Public struct {
	NameOffset uint32
	CodeOffset uint32
}

// Image is the parsed, immutable bytecode file.
type Image struct {
	GlobalAreaSize int
	Publics        []Public
	strings        []byte // NUL-terminated entries, indexed by byte offset
	Code           []byte
}

// LoadError reports a malformed bytecode file: truncated header,
// inconsistent offsets, or a missing `main` public symbol.
type LoadError struct {
	Offset int
	Reason string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("bytecode load error at byte %d: %s", e.Offset, e.Reason)
}

// Load parses the wire format from §6 of the specification:
//
//	 0: u32 stringtab_size
//	 4: u32 global_area_size
//	 8: u32 public_symbols_number (N)
//	12: N × (u32 name_offset, u32 code_offset)
//	  : stringtab_size bytes of NUL-terminated strings
//	  : remaining bytes are the code region
func Load(r io.Reader) (*Image, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("bytecode: read: %w", err)
	}
	if len(raw) < 12 {
		return nil, &LoadError{Offset: 0, Reason: "file shorter than the 12-byte header"}
	}
	stringtabSize := binary.LittleEndian.Uint32(raw[0:4])
	globalAreaSize := binary.LittleEndian.Uint32(raw[4:8])
	numPublics := binary.LittleEndian.Uint32(raw[8:12])

	publicsStart := 12
	publicsBytes := int(numPublics) * 8
	if publicsBytes/8 != int(numPublics) || publicsStart+publicsBytes < publicsStart {
		return nil, &LoadError{Offset: 8, Reason: "public_symbols_number overflows the publics table"}
	}
	stringsStart := publicsStart + publicsBytes
	if stringsStart > len(raw) {
		return nil, &LoadError{Offset: publicsStart, Reason: "publics table runs past end of file"}
	}

	publics := make([]Public, numPublics)
	for i := uint32(0); i < numPublics; i++ {
		off := publicsStart + int(i)*8
		publics[i] = Public{
			NameOffset: binary.LittleEndian.Uint32(raw[off : off+4]),
			CodeOffset: binary.LittleEndian.Uint32(raw[off+4 : off+8]),
		}
	}

	codeStart := stringsStart + int(stringtabSize)
	if codeStart < stringsStart || codeStart > len(raw) {
		return nil, &LoadError{Offset: stringsStart, Reason: "stringtab_size runs past end of file"}
	}

	img := &Image{
		GlobalAreaSize: int(globalAreaSize),
		Publics:        publics,
		strings:        raw[stringsStart:codeStart],
		Code:           raw[codeStart:],
	}
	if _, ok := img.Main(); !ok {
		return nil, &LoadError{Offset: publicsStart, Reason: `no public symbol named "main"`}
	}
	return img, nil
}

// String reads the NUL-terminated string at the given byte offset into the
// string table.
func (img *Image) String(offset uint32) (string, error) {
	if int(offset) >= len(img.strings) {
		return "", &LoadError{Offset: int(offset), Reason: "string offset out of range"}
	}
	end := int(offset)
	for end < len(img.strings) && img.strings[end] != 0 {
		end++
	}
	if end >= len(img.strings) {
		return "", &LoadError{Offset: int(offset), Reason: "string is not NUL-terminated"}
	}
	return string(img.strings[offset:end]), nil
}

// StringTableSize reports the size in bytes of the string table, for
// bounds-checking string-index immediates during verification.
func (img *Image) StringTableSize() int { return len(img.strings) }

// Main resolves the public symbol named "main", the program's entry point.
func (img *Image) Main() (codeOffset uint32, ok bool) {
	for _, p := range img.Publics {
		name, err := img.String(p.NameOffset)
		if err != nil {
			continue
		}
		if name == "main" {
			return p.CodeOffset, true
		}
	}
	return 0, false
}
