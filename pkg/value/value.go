// Package value implements the tagged machine word shared by the VM and the
// runtime heap.
//
// The source VM encodes this as a single pointer-sized word: low bit set
// means unboxed integer, low bit clear means a boxed heap reference. That
// bit trick is an implementation detail of a C interpreter walking raw
// memory; re-expressed idiomatically (spec design note §9) a Value is a
// small tagged struct with explicit constructors, plus a third variant,
// StackSlot, for address-taken frame slots produced by LoadAddr. Carrying
// StackSlot as a distinct variant (rather than a raw address) means stack
// growth never needs a pointer-relocation pass: a StackSlot's index stays
// valid no matter how the underlying slice is reallocated.
package value

import "fmt"

// Kind discriminates the three things a Value can hold.
type Kind byte

const (
	KindInt Kind = iota
	KindRef
	KindStackSlot
)

// Ref is an opaque handle to a heap object. The vm package never looks
// inside it; every operation on the referent goes through pkg/heap, which
// mints the concrete *heap.Object values stored behind this handle. Kept
// as `any` rather than a marker interface so pkg/heap does not need to
// import pkg/value (and vice versa) just to satisfy a method set.
type Ref = any

// Value is the tagged machine word that flows through the stack, globals
// and heap object payloads.
type Value struct {
	kind Kind
	i    int32
	ref  Ref
	slot int
}

// Int constructs an unboxed integer value. This is the Go-level
// constructor; Box/Unbox below additionally model the bit-level contract
// the specification describes, so code ported from the original's pointer
// arithmetic still reads the same way.
func Int(n int32) Value { return Value{kind: KindInt, i: n} }

// RefOf constructs a boxed reference value wrapping a heap object handle.
func RefOf(r Ref) Value { return Value{kind: KindRef, ref: r} }

// StackSlotValue constructs an address-taken value: the index (not an address)
// of a frame slot, produced by LoadAddr and consumed by Sta.
func StackSlotValue(index int) Value { return Value{kind: KindStackSlot, slot: index} }

// IsUnboxed mirrors the spec's is_unboxed(v): true for both plain integers
// and stack-slot addresses, since neither points into the GC heap.
func (v Value) IsUnboxed() bool { return v.kind != KindRef }

// IsInt reports whether v holds a plain unboxed integer.
func (v Value) IsInt() bool { return v.kind == KindInt }

// IsRef reports whether v holds a boxed heap reference.
func (v Value) IsRef() bool { return v.kind == KindRef }

// IsStackSlot reports whether v holds an address-taken frame slot index.
func (v Value) IsStackSlot() bool { return v.kind == KindStackSlot }

// Int unwraps an unboxed integer. Panics if v is not KindInt; callers must
// check IsInt first (the vm package turns such misuse into a Trap, never a
// panic reaching the caller).
func (v Value) Int() int32 {
	if v.kind != KindInt {
		panic(fmt.Sprintf("value: Int() on non-integer value (kind=%d)", v.kind))
	}
	return v.i
}

// Ref unwraps a heap reference. Panics if v is not KindRef.
func (v Value) Ref() Ref {
	if v.kind != KindRef {
		panic(fmt.Sprintf("value: Ref() on non-reference value (kind=%d)", v.kind))
	}
	return v.ref
}

// SlotIndex unwraps a stack-slot index. Panics if v is not KindStackSlot.
func (v Value) SlotIndex() int {
	if v.kind != KindStackSlot {
		panic(fmt.Sprintf("value: SlotIndex() on non-slot value (kind=%d)", v.kind))
	}
	return v.slot
}

// Box encodes an integer the way the bytecode's wire/stack representation
// would: (n<<1)|1. Exposed so tests can assert the documented
// bit-level invariant even though Go's Value is a tagged struct rather than
// a raw word.
func Box(n int32) int64 { return (int64(n) << 1) | 1 }

// Unbox decodes a boxed word produced by Box back to the integer it holds.
func Unbox(word int64) int32 { return int32(word >> 1) }

// Truthy reports the VM's definition of "non-zero" truthiness for logical
// binary operators: any unboxed integer other than 0.
func Truthy(v Value) bool { return v.IsInt() && v.Int() != 0 }

// Bool converts a Go boolean to the VM's canonical 0/1 integer encoding.
func Bool(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}

// Unit is the canonical "no value" result: the unboxed integer 0, used to
// initialise globals and locals, and returned by Write.
func Unit() Value { return Int(0) }

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindRef:
		return fmt.Sprintf("ref(%v)", v.ref)
	case KindStackSlot:
		return fmt.Sprintf("&slot[%d]", v.slot)
	default:
		return "?"
	}
}
