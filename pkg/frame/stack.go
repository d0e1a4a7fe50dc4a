// Package frame implements the reallocatable value stack and the parallel
// call-info stack described in the specification's §4.3, plus frame
// addressing and the enter/leave-frame protocol.
//
// The source manages this with raw pointer arithmetic over a manually
// grown C array, and must walk every live stack slot on growth to rewrite
// any address-taken pointer that fell inside the old region (spec §4.3,
// §9). Re-expressed per the spec's design note, lamavm represents the
// value stack as a Go slice addressed by index and represents an
// address-taken slot as value.StackSlotValue(index) rather than a raw address
// — so growth is an ordinary append, and no relocation pass is needed: a
// StackSlot's index is stable across any number of grows by construction.
package frame

import (
	"fmt"

	"github.com/arlovski/lamavm/pkg/opcode"
	"github.com/arlovski/lamavm/pkg/value"
)

// CallInfo records one active call's shape, mirroring the spec's parallel
// call-info stack entry.
type CallInfo struct {
	NArgs, NLocs, NCaps int
	Base                int // index into Stack.values of this frame's base
	ReturnIP             int
	Fn                   value.Ref // closure object, or nil for the dummy/no-function marker
}

// Loc addresses one frame slot by (kind, index), matching opcode.Loc.
type Loc struct {
	Kind opcode.Loc
	Idx  int
}

// ErrOutOfFrame is returned when a slot address falls outside the current
// frame's declared (n_args, n_locs, n_caps) shape.
type ErrOutOfFrame struct {
	Loc Loc
	Max int
}

func (e *ErrOutOfFrame) Error() string {
	return fmt.Sprintf("variable access %s[%d] out of frame bounds (max %d)", e.Loc.Kind, e.Loc.Idx, e.Max)
}

// ErrStackUnderflow is returned by Pop/At/SetAt when fewer than the
// requested number of values are live on the whole stack. The check does
// not stop at the current frame's base.
type ErrStackUnderflow struct {
	Requested, Have int
}

func (e *ErrStackUnderflow) Error() string {
	return fmt.Sprintf("stack underflow: requested %d value(s), have %d", e.Requested, e.Have)
}

// dummyFn is the sentinel "no function" marker pushed for the outermost
// frame, distinguishable from any real closure reference.
type dummyFn struct{}

var dummyMarker = &dummyFn{}

// IsDummy reports whether v is the push_dummy sentinel.
func IsDummy(v value.Ref) bool { _, ok := v.(*dummyFn); return ok }

// Stack owns the value stack and the call-info stack. Both grow by
// ordinary append; StackSlot values hold indices, so growth never needs a
// relocation pass.
type Stack struct {
	values      []value.Value // values[0] is the bottom; the *end* of the slice is the current top
	calls       []CallInfo
	cur         CallInfo // the active frame; calls holds the suspended callers
	globalCount int       // set once by SetGlobalCount; globals live in values[0:globalCount]
}

// SetGlobalCount records the global area size so AddrOf can bounds-check
// LocGlobal. The caller pushes GlobalAreaSize unit values onto an empty
// stack immediately after this call.
func (s *Stack) SetGlobalCount(n int) { s.globalCount = n }

// New creates an empty stack. Globals are pushed by the caller immediately
// after construction (they occupy the first GlobalAreaSize slots and are
// addressed as LocGlobal, independent of frame pushes/pops).
func New() *Stack {
	return &Stack{cur: CallInfo{Base: 0}}
}

// Depth reports the number of live values (used by verifiers/tests, and to
// compute relative heights).
func (s *Stack) Depth() int { return len(s.values) }

// Push appends one value to the top of the stack.
func (s *Stack) Push(v value.Value) { s.values = append(s.values, v) }

// PushDummy pushes the sentinel "no function" marker, used as the
// function slot for the initial frame and as LoadAddr's second word.
func (s *Stack) PushDummy() { s.Push(value.RefOf(dummyMarker)) }

// Pop removes and discards n values from the top; it is an error to pop
// more than are live.
func (s *Stack) Pop(n int) error {
	if n > len(s.values) {
		return &ErrStackUnderflow{Requested: n, Have: len(s.values)}
	}
	s.values = s.values[:len(s.values)-n]
	return nil
}

// At returns the value i slots from the top, 1-based (At(1) is the top).
func (s *Stack) At(i int) (value.Value, error) {
	if i < 1 || i > len(s.values) {
		return value.Value{}, &ErrStackUnderflow{Requested: i, Have: len(s.values)}
	}
	return s.values[len(s.values)-i], nil
}

// SetAt overwrites the value i slots from the top, 1-based, without
// changing stack depth.
func (s *Stack) SetAt(i int, v value.Value) error {
	if i < 1 || i > len(s.values) {
		return &ErrStackUnderflow{Requested: i, Have: len(s.values)}
	}
	s.values[len(s.values)-i] = v
	return nil
}

// CheckStack is a no-op under a Go slice (append grows on demand); it
// exists so callers mirror the spec's check-then-push discipline and so a
// future fixed-capacity implementation could slot in without touching call
// sites.
func (s *Stack) CheckStack(int) {}

// frameBase returns the current top of the stack (the index one past the
// last live value), which EnterFrame uses as the new frame's base.
func (s *Stack) frameBase() int { return len(s.values) }

// AddrOf resolves (kind, index) against the current frame and returns the
// absolute stack index of that slot, or an error if it is out of the
// frame's declared shape.
func (s *Stack) AddrOf(loc Loc) (int, error) {
	ci := s.cur
	switch loc.Kind {
	case opcode.LocGlobal:
		if loc.Idx < 0 || loc.Idx >= s.globalCount {
			return 0, &ErrOutOfFrame{Loc: loc, Max: s.globalCount}
		}
		return loc.Idx, nil
	case opcode.LocCapture:
		// Captures occupy the first NCaps slots above base.
		if loc.Idx < 0 || loc.Idx >= ci.NCaps {
			return 0, &ErrOutOfFrame{Loc: loc, Max: ci.NCaps}
		}
		return ci.Base + loc.Idx, nil
	case opcode.LocLocal:
		// Locals sit above captures.
		if loc.Idx < 0 || loc.Idx >= ci.NLocs {
			return 0, &ErrOutOfFrame{Loc: loc, Max: ci.NLocs}
		}
		return ci.Base + ci.NCaps + loc.Idx, nil
	case opcode.LocArgument:
		// Arguments were pushed by the caller before base, argument 0
		// first (lowest index), argument NArgs-1 last (closest to base).
		if loc.Idx < 0 || loc.Idx >= ci.NArgs {
			return 0, &ErrOutOfFrame{Loc: loc, Max: ci.NArgs}
		}
		return ci.Base - ci.NArgs + loc.Idx, nil
	default:
		return 0, &ErrOutOfFrame{Loc: loc, Max: 0}
	}
}

// Load returns the value currently stored at (kind, index).
func (s *Stack) Load(loc Loc) (value.Value, error) {
	addr, err := s.AddrOf(loc)
	if err != nil {
		return value.Value{}, err
	}
	return s.values[addr], nil
}

// Store writes v into (kind, index) without touching the working stack.
func (s *Stack) Store(loc Loc, v value.Value) error {
	addr, err := s.AddrOf(loc)
	if err != nil {
		return err
	}
	s.values[addr] = v
	return nil
}

// Deref reads the value at an absolute stack index produced by AddrOf
// (via a StackSlot value captured earlier by LoadAddr).
func (s *Stack) Deref(addr int) (value.Value, error) {
	if addr < 0 || addr >= len(s.values) {
		return value.Value{}, fmt.Errorf("frame: stack-slot address %d out of range", addr)
	}
	return s.values[addr], nil
}

// SetDeref writes through an absolute stack index produced by AddrOf.
func (s *Stack) SetDeref(addr int, v value.Value) error {
	if addr < 0 || addr >= len(s.values) {
		return fmt.Errorf("frame: stack-slot address %d out of range", addr)
	}
	s.values[addr] = v
	return nil
}

// EnterFrame establishes a new frame on top of the current one: it does
// NOT push the function slot or arguments (the caller already did, per the
// Begin/CBegin contract), it reserves nCaps+nLocs slots, copies captures
// in from fn (nil fn / a dummy marker means no captures), fills locals
// with the unboxed 0, and records the call-info needed to return later.
func (s *Stack) EnterFrame(nCaps, nArgs, nLocs, returnIP int, fn value.Ref, captures []value.Value) {
	s.calls = append(s.calls, s.cur)
	base := s.frameBase()
	for i := 0; i < nCaps; i++ {
		if i < len(captures) {
			s.Push(captures[i])
		} else {
			s.Push(value.Unit())
		}
	}
	for i := 0; i < nLocs; i++ {
		s.Push(value.Unit())
	}
	s.cur = CallInfo{NArgs: nArgs, NLocs: nLocs, NCaps: nCaps, Base: base, ReturnIP: returnIP, Fn: fn}
}

// LeaveFrame reads the return value from the top of the frame's working
// area, discards the frame (locals, captures and arguments), and returns
// the return value plus the return instruction pointer. The function slot
// and capture-count sentinel are not part of this frame's storage — pkg/vm
// pops those itself at Begin/CBegin time, before calling EnterFrame — so
// LeaveFrame does not remove them here. The caller (pkg/vm) is responsible
// for pushing the return value back and writing mutated captures back into
// the closure object via pkg/heap — frame only hands back the raw slice of
// capture values that were live at teardown.
func (s *Stack) LeaveFrame() (ret value.Value, returnIP int, liveCaptures []value.Value, fn value.Ref, err error) {
	ret, err = s.At(1)
	if err != nil {
		return value.Value{}, 0, nil, nil, err
	}
	ci := s.cur
	liveCaptures = make([]value.Value, ci.NCaps)
	copy(liveCaptures, s.values[ci.Base:ci.Base+ci.NCaps])
	fn = ci.Fn

	// Drop everything from this frame's base upward (captures, locals,
	// whatever remained of the working area), then the arguments below it.
	s.values = s.values[:ci.Base]
	if err := s.Pop(ci.NArgs); err != nil {
		return value.Value{}, 0, nil, nil, err
	}
	returnIP = ci.ReturnIP
	if n := len(s.calls); n > 0 {
		s.cur = s.calls[n-1]
		s.calls = s.calls[:n-1]
	} else {
		s.cur = CallInfo{Base: 0}
	}
	return ret, returnIP, liveCaptures, fn, nil
}

// CurrentFrame exposes the active call-info, mostly for diagnostics.
func (s *Stack) CurrentFrame() CallInfo { return s.cur }

// HasCaller reports whether LeaveFrame has a suspended caller to resume
// into. calls[0] is always the pre-call placeholder New() seeds before
// main's own Begin ever runs, so a single entry means the current frame
// is main itself: false there, true for anything nested under it, so
// pkg/vm can tell "this END returns to a caller" from "this END halts the
// program" before it tears the frame down.
func (s *Stack) HasCaller() bool { return len(s.calls) > 1 }
