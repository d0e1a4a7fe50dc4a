package opcode

import (
	"encoding/binary"
	"fmt"
)

// ErrTruncated is wrapped into the returned error when an instruction's
// immediates run past the end of the code region.
type ErrTruncated struct {
	Offset int
	Need   int
}

func (e *ErrTruncated) Error() string {
	return fmt.Sprintf("offset %#x: instruction truncated (needs %d more byte(s))", e.Offset, e.Need)
}

// ErrIllegal is wrapped into the returned error for an unknown (family,
// variant) combination, or for the two reserved-dead primary sub-codes.
type ErrIllegal struct {
	Offset int
	Byte   byte
	Reason string
}

func (e *ErrIllegal) Error() string {
	return fmt.Sprintf("offset %#x: illegal opcode byte %#02x: %s", e.Offset, e.Byte, e.Reason)
}

// Decode reads exactly one instruction starting at code[offset:]. It never
// reads past len(code); a short read is reported as *ErrTruncated.
func Decode(code []byte, offset int) (Decoded, error) {
	if offset < 0 || offset >= len(code) {
		return Decoded{}, &ErrTruncated{Offset: offset, Need: 1}
	}
	b := code[offset]
	family := Family(b >> 4)
	variant := b & 0x0F
	d := Decoded{Offset: offset, Family: family, Variant: variant}
	pos := offset + 1

	readImm := func() (int32, error) {
		if pos+4 > len(code) {
			return 0, &ErrTruncated{Offset: pos, Need: pos + 4 - len(code)}
		}
		v := int32(binary.LittleEndian.Uint32(code[pos:]))
		pos += 4
		return v, nil
	}
	readLoc := func() (Loc, error) {
		if pos >= len(code) {
			return 0, &ErrTruncated{Offset: pos, Need: 1}
		}
		k := Loc(code[pos] & 0x0F)
		pos++
		return k, nil
	}

	switch family {
	case Halt:
		// no immediates; variant is ignored (the family alone terminates)
	case Binop:
		if !BinopValid(variant) {
			return Decoded{}, &ErrIllegal{offset, b, "binop sub-code out of 1..=13"}
		}
	case Primary:
		switch variant {
		case PrimaryConst, PrimaryString, PrimaryJmp:
			imm, err := readImm()
			if err != nil {
				return Decoded{}, err
			}
			d.Imm = []int32{imm}
		case PrimarySexp:
			name, err := readImm()
			if err != nil {
				return Decoded{}, err
			}
			n, err := readImm()
			if err != nil {
				return Decoded{}, err
			}
			d.Imm = []int32{name, n}
		case PrimarySti, PrimaryRet:
			return Decoded{}, &ErrIllegal{offset, b, "reserved primary opcode"}
		case PrimarySta, PrimaryEnd, PrimaryDrop, PrimaryDup, PrimarySwap, PrimaryElem:
			// no immediates
		default:
			return Decoded{}, &ErrIllegal{offset, b, "unknown primary variant"}
		}
	case Load, LoadAddr, Store:
		if !LocValid(Loc(variant)) {
			return Decoded{}, &ErrIllegal{offset, b, "unknown location kind"}
		}
		idx, err := readImm()
		if err != nil {
			return Decoded{}, err
		}
		d.Imm = []int32{idx}
	case Control:
		switch variant {
		case CtrlCJmpZero, CtrlCJmpNonZero, CtrlCallC, CtrlArray, CtrlLine:
			imm, err := readImm()
			if err != nil {
				return Decoded{}, err
			}
			d.Imm = []int32{imm}
		case CtrlBegin, CtrlCBegin, CtrlCall, CtrlTag:
			a, err := readImm()
			if err != nil {
				return Decoded{}, err
			}
			bImm, err := readImm()
			if err != nil {
				return Decoded{}, err
			}
			d.Imm = []int32{a, bImm}
		case CtrlClosure:
			entry, err := readImm()
			if err != nil {
				return Decoded{}, err
			}
			nCaps, err := readImm()
			if err != nil {
				return Decoded{}, err
			}
			d.Imm = []int32{entry, nCaps}
			if nCaps < 0 {
				return Decoded{}, &ErrIllegal{offset, b, "negative capture count"}
			}
			caps := make([]CaptureSpec, 0, nCaps)
			for i := int32(0); i < nCaps; i++ {
				kind, err := readLoc()
				if err != nil {
					return Decoded{}, err
				}
				if !LocValid(kind) {
					return Decoded{}, &ErrIllegal{offset, b, "unknown capture location kind"}
				}
				idx, err := readImm()
				if err != nil {
					return Decoded{}, err
				}
				caps = append(caps, CaptureSpec{Kind: kind, Idx: idx})
			}
			d.Captures = caps
		case CtrlFail:
			line, err := readImm()
			if err != nil {
				return Decoded{}, err
			}
			col, err := readImm()
			if err != nil {
				return Decoded{}, err
			}
			d.Imm = []int32{line, col}
		default:
			return Decoded{}, &ErrIllegal{offset, b, "unknown control variant"}
		}
	case Pattern:
		if variant >= pattCount {
			return Decoded{}, &ErrIllegal{offset, b, "unknown pattern variant"}
		}
	case Builtin:
		switch variant {
		case BuiltinArrayCtor:
			n, err := readImm()
			if err != nil {
				return Decoded{}, err
			}
			d.Imm = []int32{n}
		case BuiltinRead, BuiltinWrite, BuiltinLength, BuiltinStringVal:
			// no immediates
		default:
			return Decoded{}, &ErrIllegal{offset, b, "unknown builtin variant"}
		}
	default:
		return Decoded{}, &ErrIllegal{offset, b, "unknown family"}
	}

	d.Length = pos - offset
	return d, nil
}

// StackDelta returns the (pops, pushes) pair for an already-decoded
// instruction, per the authoritative table in the specification. The
// verifier calls this; the interpreter shares Decode with it but does not
// call StackDelta, and implements each opcode's stack effect in its own
// handlers in pkg/vm.
func StackDelta(d Decoded) (pops, pushes int) {
	switch d.Family {
	case Halt:
		return 0, 0
	case Binop:
		return 2, 1
	case Primary:
		switch d.Variant {
		case PrimaryConst, PrimaryString:
			return 0, 1
		case PrimarySexp:
			return int(d.Imm[1]), 1
		case PrimarySta:
			return 3, 1
		case PrimaryJmp:
			return 0, 0
		case PrimaryEnd:
			return 1, 0
		case PrimaryDrop:
			return 1, 0
		case PrimaryDup:
			return 1, 2
		case PrimarySwap:
			return 2, 2
		case PrimaryElem:
			return 2, 1
		}
	case Load:
		return 0, 1
	case LoadAddr:
		return 0, 2
	case Store:
		return 1, 1
	case Control:
		switch d.Variant {
		case CtrlCJmpZero, CtrlCJmpNonZero:
			return 1, 0
		case CtrlBegin:
			return 2, 0
		case CtrlCBegin:
			return 2, 0
		case CtrlClosure:
			return 0, 1
		case CtrlCallC:
			return int(d.Imm[0]) + 1, 1
		case CtrlCall:
			return int(d.Imm[1]), 1
		case CtrlTag:
			return 1, 1
		case CtrlArray:
			return 1, 1
		case CtrlFail:
			return 1, 0
		case CtrlLine:
			return 0, 0
		}
	case Pattern:
		switch d.Variant {
		case PattEqStr:
			return 2, 1
		default:
			return 1, 1
		}
	case Builtin:
		switch d.Variant {
		case BuiltinRead:
			return 0, 1
		case BuiltinWrite:
			return 1, 1
		case BuiltinLength, BuiltinStringVal:
			return 1, 1
		case BuiltinArrayCtor:
			return int(d.Imm[0]), 1
		}
	}
	return 0, 0
}
