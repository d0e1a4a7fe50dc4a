package vm

import (
	"github.com/arlovski/lamavm/pkg/frame"
	"github.com/arlovski/lamavm/pkg/heap"
	"github.com/arlovski/lamavm/pkg/opcode"
	"github.com/arlovski/lamavm/pkg/value"
)

// execControl dispatches the CTRL family: conditional/unconditional
// control transfer, the call/return protocol (Begin, CBegin, Closure,
// Call, CallC), the arity pattern tests used by match compilation (Tag,
// Array), Fail, and the Line debug marker.
func (vm *VM) execControl(d opcode.Decoded, next *int) error {
	switch d.Variant {
	case opcode.CtrlCJmpZero, opcode.CtrlCJmpNonZero:
		n, err := vm.popInt("CJMP")
		if err != nil {
			return err
		}
		z := n == 0
		if (d.Variant == opcode.CtrlCJmpZero) == z {
			*next = int(d.Imm[0])
		}
	case opcode.CtrlBegin:
		return vm.execBegin(d, false)
	case opcode.CtrlCBegin:
		return vm.execBegin(d, true)
	case opcode.CtrlClosure:
		return vm.execClosure(d)
	case opcode.CtrlCallC:
		return vm.execCallC(d, next)
	case opcode.CtrlCall:
		return vm.execCall(d, next)
	case opcode.CtrlTag:
		return vm.execTag(d)
	case opcode.CtrlArray:
		return vm.execArrayTest(d)
	case opcode.CtrlFail:
		v, err := vm.stack.At(1)
		if err != nil {
			return vm.trap("FAIL: %v", err)
		}
		if err := vm.stack.Pop(1); err != nil {
			return vm.trap("FAIL: %v", err)
		}
		var r any
		if v.IsRef() {
			r = v.Ref()
		}
		if err := vm.heap.MatchFailure(r, "", int(d.Imm[0]), int(d.Imm[1])); err != nil {
			return vm.trap("%v", err)
		}
		return nil
	case opcode.CtrlLine:
		// pure debug marker, no stack effect
	default:
		return vm.trap("unknown control variant %d", d.Variant)
	}
	return nil
}

// execBegin pops the capture-count sentinel and function slot that Call or
// CallC pushed, validates them, then establishes the callee's frame. For a
// plain Begin the sentinel must be 0 (no captures); for CBegin it carries
// the closure's real capture count, read off the stack rather than an
// immediate, exactly as the interpreter this is grounded on does.
func (vm *VM) execBegin(d opcode.Decoded, closure bool) error {
	capSentinel, err := vm.stack.At(2)
	if err != nil {
		return vm.trap("BEGIN: %v", err)
	}
	fnVal, err := vm.stack.At(1)
	if err != nil {
		return vm.trap("BEGIN: %v", err)
	}
	if err := vm.stack.Pop(2); err != nil {
		return vm.trap("BEGIN: %v", err)
	}
	if !capSentinel.IsInt() {
		return vm.trap("BEGIN: capture-count sentinel is not an integer")
	}
	nCaps := int(capSentinel.Int())
	if !closure && nCaps != 0 {
		return vm.trap("BEGIN: non-closure entry called with %d captures", nCaps)
	}

	var fn value.Ref
	var captures []value.Value
	if closure {
		if !fnVal.IsRef() || frame.IsDummy(fnVal.Ref()) {
			return vm.trap("CBEGIN: expected a closure, got %s", fnVal)
		}
		fn = fnVal.Ref()
		raw, err := vm.heap.Captures(fn)
		if err != nil {
			return vm.trap("CBEGIN: %v", err)
		}
		captures = make([]value.Value, len(raw))
		for i, r := range raw {
			captures[i] = r.(value.Value)
		}
	} else {
		if !fnVal.IsRef() || !frame.IsDummy(fnVal.Ref()) {
			return vm.trap("BEGIN: expected the dummy function marker, got %s", fnVal)
		}
	}

	nArgs := int(d.Imm[0])
	nLocs := int(d.Imm[1])
	if nArgs < 0 || nLocs < 0 {
		return vm.trap("BEGIN: negative arity (%d args, %d locals)", nArgs, nLocs)
	}
	vm.stack.EnterFrame(nCaps, nArgs, nLocs, vm.pendingReturnIP, fn, captures)
	return nil
}

// execClosure allocates a closure capturing the addressed slots, copying
// each one's current value in by value (mutations after capture reach the
// closure only through END's write-back, matching Captures()/SetCapture()
// in pkg/heap).
func (vm *VM) execClosure(d opcode.Decoded) error {
	entry := int(d.Imm[0])
	nCaps := int(d.Imm[1])
	c := vm.heap.MakeClosure(nCaps, entry)
	for i, cs := range d.Captures {
		v, err := vm.stack.Load(frame.Loc{Kind: cs.Kind, Idx: int(cs.Idx)})
		if err != nil {
			return vm.trap("CLOSURE: capture %d: %v", i, err)
		}
		if err := vm.heap.SetCapture(c, i, v); err != nil {
			return vm.trap("CLOSURE: %v", err)
		}
	}
	vm.stack.Push(value.RefOf(c))
	return nil
}

// execCallC implements the closure call protocol: the callee is read off
// the stack (above its n_args arguments), validated as a closure, then the
// capture-count sentinel and the closure itself are pushed in its place so
// the CBegin at its entry point can pick them back up.
func (vm *VM) execCallC(d opcode.Decoded, next *int) error {
	nArgs := int(d.Imm[0])
	callee, err := vm.stack.At(nArgs + 1)
	if err != nil {
		return vm.trap("CALLC: %v", err)
	}
	if !callee.IsRef() || frame.IsDummy(callee.Ref()) {
		return vm.trap("CALLC: attempt to call a non-function value %s", callee)
	}
	closureRef := callee.Ref()
	entry, err := vm.heap.EntryIP(closureRef)
	if err != nil {
		return vm.trap("CALLC: %v", err)
	}
	caps, err := vm.heap.Captures(closureRef)
	if err != nil {
		return vm.trap("CALLC: %v", err)
	}

	// Shift the n_args argument slots down by one, closing the gap where
	// the callee sat, then drop the now-duplicated top slot. Each deeper
	// slot i is overwritten from the shallower slot i-1, exactly as the
	// interpreter this is grounded on does (lvm.c's arg-shift loop),
	// working from the deepest pair (the callee's slot) up toward the top
	// so no slot is read after being overwritten.
	for i := nArgs + 1; i > 1; i-- {
		v, err := vm.stack.At(i - 1)
		if err != nil {
			return vm.trap("CALLC: %v", err)
		}
		if err := vm.stack.SetAt(i, v); err != nil {
			return vm.trap("CALLC: %v", err)
		}
	}
	if err := vm.stack.Pop(1); err != nil {
		return vm.trap("CALLC: %v", err)
	}

	vm.stack.Push(value.Int(int32(len(caps))))
	vm.stack.Push(value.RefOf(closureRef))
	if err := vm.requireEntryIsBeginLike(entry); err != nil {
		return err
	}
	vm.pendingReturnIP = *next
	*next = entry
	return nil
}

// execCall implements the direct (non-closure) call protocol: push the
// capture-count-0 sentinel and the dummy function marker, then jump.
func (vm *VM) execCall(d opcode.Decoded, next *int) error {
	entry := int(d.Imm[0])
	if err := vm.requireEntryIsBeginLike(entry); err != nil {
		return err
	}
	vm.stack.Push(value.Int(0))
	vm.stack.PushDummy()
	vm.pendingReturnIP = *next
	*next = entry
	return nil
}

// requireEntryIsBeginLike validates that a call target's first instruction
// is Begin or CBegin, the way the interpreter this is grounded on refuses
// to jump anywhere else.
func (vm *VM) requireEntryIsBeginLike(entry int) error {
	d, err := opcode.Decode(vm.img.Code, entry)
	if err != nil {
		return vm.trap("call target %#x: %v", entry, err)
	}
	if d.Family != opcode.Control || (d.Variant != opcode.CtrlBegin && d.Variant != opcode.CtrlCBegin) {
		return vm.trap("call target %#x is not a function entry point (BEGIN/CBEGIN)", entry)
	}
	return nil
}

// execTag implements the Sexp (name, arity) pattern test used by match
// compilation: pop a value, push 1/0 for whether it is a correctly tagged,
// correctly sized S-expression.
func (vm *VM) execTag(d opcode.Decoded) error {
	v, err := vm.stack.At(1)
	if err != nil {
		return vm.trap("TAG: %v", err)
	}
	if err := vm.stack.Pop(1); err != nil {
		return vm.trap("TAG: %v", err)
	}
	name, err := vm.img.String(uint32(d.Imm[0]))
	if err != nil {
		return vm.trap("TAG: %v", err)
	}
	arity := int(d.Imm[1])
	ok := v.IsRef() && vm.heap.Tag(v.Ref(), heap.TagHash(name), arity)
	vm.stack.Push(value.Bool(ok))
	return nil
}

// execArrayTest implements the array-of-length-n pattern test.
func (vm *VM) execArrayTest(d opcode.Decoded) error {
	v, err := vm.stack.At(1)
	if err != nil {
		return vm.trap("ARRAY: %v", err)
	}
	if err := vm.stack.Pop(1); err != nil {
		return vm.trap("ARRAY: %v", err)
	}
	n := int(d.Imm[0])
	ok := v.IsRef() && vm.heap.ArrayPattern(v.Ref(), n)
	vm.stack.Push(value.Bool(ok))
	return nil
}
