// Package opcode defines the canonical bytecode instruction encoding shared
// by the loader, the interpreter and the verifier.
//
// Every instruction is a one-byte primary: the high nibble selects a family,
// the low nibble selects a variant within that family. Fixed-width 32-bit
// little-endian immediates follow, and exactly one variant (Closure) carries
// a variable-length tail. A single table here answers, for any (family,
// variant) pair, the instruction's total length (Decode) and its
// stack-height delta (StackDelta). The interpreter and the verifier both
// decode through Decode, so they agree on lengths and immediates; only the
// verifier consults StackDelta, while the interpreter's handlers apply each
// opcode's stack effect directly.
package opcode

import "fmt"

// Family is the high nibble of an instruction's leading byte.
type Family byte

const (
	Binop    Family = 0x0
	Primary  Family = 0x1
	Load     Family = 0x2
	LoadAddr Family = 0x3
	Store    Family = 0x4
	Control  Family = 0x5
	Pattern  Family = 0x6
	Builtin  Family = 0x7
	Halt     Family = 0xF
)

func (f Family) String() string {
	switch f {
	case Binop:
		return "BINOP"
	case Primary:
		return "PRIMARY"
	case Load:
		return "LD"
	case LoadAddr:
		return "LDA"
	case Store:
		return "ST"
	case Control:
		return "CTRL"
	case Pattern:
		return "PATT"
	case Builtin:
		return "BUILTIN"
	case Halt:
		return "HALT"
	default:
		return fmt.Sprintf("FAMILY(%#x)", byte(f))
	}
}

// Binop sub-codes (low nibble when Family == Binop). Sub-code 0 is unused;
// valid operators are 1..=13.
const (
	BinAdd byte = iota + 1
	BinSub
	BinMul
	BinDiv
	BinMod
	BinLt
	BinLe
	BinGt
	BinGe
	BinEq
	BinNeq
	BinAnd
	BinOr
	binCount // exclusive upper bound
)

// BinopValid reports whether sub is a legal binary operator sub-code.
func BinopValid(sub byte) bool { return sub >= BinAdd && sub < binCount }

// Primary sub-codes (low nibble when Family == Primary).
const (
	PrimaryConst byte = iota
	PrimaryString
	PrimarySexp
	PrimarySti // reserved/dead: always illegal, see spec open question
	PrimarySta
	PrimaryJmp
	PrimaryEnd
	PrimaryRet // reserved/dead: always illegal, see spec open question
	PrimaryDrop
	PrimaryDup
	PrimarySwap
	PrimaryElem
	primaryCount
)

// Control sub-codes (low nibble when Family == Control).
const (
	CtrlCJmpZero byte = iota
	CtrlCJmpNonZero
	CtrlBegin
	CtrlCBegin
	CtrlClosure
	CtrlCallC
	CtrlCall
	CtrlTag
	CtrlArray
	CtrlFail
	CtrlLine
	ctrlCount
)

// Pattern sub-codes (low nibble when Family == Pattern).
const (
	PattEqStr byte = iota
	PattStringTag
	PattArrayTag
	PattSexpTag
	PattBoxed
	PattUnboxed
	PattClosureTag
	pattCount
)

// Builtin sub-codes (low nibble when Family == Builtin).
const (
	BuiltinRead byte = iota
	BuiltinWrite
	BuiltinLength
	BuiltinStringVal
	BuiltinArrayCtor
	builtinCount
)

// Loc is the addressing-kind nibble used by Load, LoadAddr, Store and the
// per-capture specifiers inside Closure.
type Loc byte

const (
	LocGlobal Loc = iota
	LocLocal
	LocArgument
	LocCapture
	locCount
)

func (k Loc) String() string {
	switch k {
	case LocGlobal:
		return "G"
	case LocLocal:
		return "L"
	case LocArgument:
		return "A"
	case LocCapture:
		return "C"
	default:
		return fmt.Sprintf("LOC(%d)", byte(k))
	}
}

// LocValid reports whether k is one of the four addressable kinds.
func LocValid(k Loc) bool { return k < locCount }

// Decoded is a single decoded instruction: its family/variant, its fixed
// immediates (in encounter order) and, for Closure only, its capture
// specifiers.
type Decoded struct {
	Offset   int // code offset of the leading byte
	Family   Family
	Variant  byte
	Imm      []int32
	Captures []CaptureSpec // populated only for Control/CtrlClosure
	Length   int           // total encoded length in bytes
}

// CaptureSpec is one (kind, index) pair inside a Closure's variable tail.
type CaptureSpec struct {
	Kind Loc
	Idx  int32
}

// Mnemonic renders a short human-readable instruction name for diagnostics.
func (d Decoded) Mnemonic() string {
	switch d.Family {
	case Binop:
		return "BINOP:" + binopName(d.Variant)
	case Primary:
		return "PRIMARY:" + primaryName(d.Variant)
	case Load:
		return "LD:" + Loc(d.Variant).String()
	case LoadAddr:
		return "LDA:" + Loc(d.Variant).String()
	case Store:
		return "ST:" + Loc(d.Variant).String()
	case Control:
		return "CTRL:" + ctrlName(d.Variant)
	case Pattern:
		return "PATT:" + pattName(d.Variant)
	case Builtin:
		return "BUILTIN:" + builtinName(d.Variant)
	case Halt:
		return "HALT"
	default:
		return fmt.Sprintf("?(%s.%d)", d.Family, d.Variant)
	}
}

func binopName(v byte) string {
	names := [...]string{"", "+", "-", "*", "/", "%", "<", "<=", ">", ">=", "==", "!=", "&&", "!!"}
	if int(v) < len(names) {
		return names[v]
	}
	return fmt.Sprintf("%d", v)
}

func primaryName(v byte) string {
	names := [...]string{"CONST", "STRING", "SEXP", "STI", "STA", "JMP", "END", "RET", "DROP", "DUP", "SWAP", "ELEM"}
	if int(v) < len(names) {
		return names[v]
	}
	return fmt.Sprintf("%d", v)
}

func ctrlName(v byte) string {
	names := [...]string{"CJMPz", "CJMPnz", "BEGIN", "CBEGIN", "CLOSURE", "CALLC", "CALL", "TAG", "ARRAY", "FAIL", "LINE"}
	if int(v) < len(names) {
		return names[v]
	}
	return fmt.Sprintf("%d", v)
}

func pattName(v byte) string {
	names := [...]string{"=str", "#string", "#array", "#sexp", "#ref", "#val", "#fun"}
	if int(v) < len(names) {
		return names[v]
	}
	return fmt.Sprintf("%d", v)
}

func builtinName(v byte) string {
	names := [...]string{"Lread", "Lwrite", "Llength", "Lstring", "Barray"}
	if int(v) < len(names) {
		return names[v]
	}
	return fmt.Sprintf("%d", v)
}
