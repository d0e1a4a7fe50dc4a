package vm

import (
	"github.com/arlovski/lamavm/pkg/frame"
	"github.com/arlovski/lamavm/pkg/heap"
	"github.com/arlovski/lamavm/pkg/opcode"
	"github.com/arlovski/lamavm/pkg/value"
)

// execPrimary dispatches the PRIMARY family: constants, literal
// construction, stack shuffling and unconditional jump. next is the
// already-computed fallthrough offset; Jmp overwrites it.
func (vm *VM) execPrimary(d opcode.Decoded, next *int) error {
	switch d.Variant {
	case opcode.PrimaryConst:
		vm.stack.Push(value.Int(d.Imm[0]))
	case opcode.PrimaryString:
		s, err := vm.img.String(uint32(d.Imm[0]))
		if err != nil {
			return vm.trap("STRING: %v", err)
		}
		vm.stack.Push(value.RefOf(vm.heap.MakeString(s)))
	case opcode.PrimarySexp:
		name, err := vm.img.String(uint32(d.Imm[0]))
		if err != nil {
			return vm.trap("SEXP: %v", err)
		}
		n := int(d.Imm[1])
		elems := make([]value.Value, n)
		for i := n - 1; i >= 0; i-- {
			v, err := vm.stack.At(1)
			if err != nil {
				return vm.trap("SEXP: %v", err)
			}
			if err := vm.stack.Pop(1); err != nil {
				return vm.trap("SEXP: %v", err)
			}
			elems[i] = v
		}
		s := vm.heap.MakeSexp(n, heap.TagHash(name))
		for i, v := range elems {
			if err := vm.heap.Sta(s, i, v); err != nil {
				return vm.trap("SEXP: %v", err)
			}
		}
		vm.stack.Push(value.RefOf(s))
	case opcode.PrimarySta:
		if err := vm.execSta(); err != nil {
			return err
		}
	case opcode.PrimaryJmp:
		*next = int(d.Imm[0])
	case opcode.PrimaryEnd:
		if err := vm.execEnd(next); err != nil {
			return err
		}
	case opcode.PrimaryDrop:
		if err := vm.stack.Pop(1); err != nil {
			return vm.trap("DROP: %v", err)
		}
	case opcode.PrimaryDup:
		v, err := vm.stack.At(1)
		if err != nil {
			return vm.trap("DUP: %v", err)
		}
		vm.stack.Push(v)
	case opcode.PrimarySwap:
		a, err := vm.stack.At(1)
		if err != nil {
			return vm.trap("SWAP: %v", err)
		}
		b, err := vm.stack.At(2)
		if err != nil {
			return vm.trap("SWAP: %v", err)
		}
		if err := vm.stack.SetAt(1, b); err != nil {
			return vm.trap("SWAP: %v", err)
		}
		if err := vm.stack.SetAt(2, a); err != nil {
			return vm.trap("SWAP: %v", err)
		}
	case opcode.PrimaryElem:
		idx, err := vm.popInt("ELEM")
		if err != nil {
			return err
		}
		a, err := vm.stack.At(1)
		if err != nil {
			return vm.trap("ELEM: %v", err)
		}
		if err := vm.stack.Pop(1); err != nil {
			return vm.trap("ELEM: %v", err)
		}
		if !a.IsRef() {
			return vm.trap("ELEM: expected array or sexp, got %s", a)
		}
		r, err := vm.heap.Elem(a.Ref(), int(idx))
		if err != nil {
			return vm.trap("ELEM: %v", err)
		}
		vm.stack.Push(r.(value.Value))
	default:
		return vm.trap("unknown primary variant %d", d.Variant)
	}
	return nil
}

// execSta implements STA: pop value, index, destination; store value at
// destination[index] when the destination is an array (or, when the
// destination is a StackSlot produced by LDA, write straight through the
// slot and ignore the popped index); any other destination traps. Push the
// stored value back.
func (vm *VM) execSta() error {
	v, err := vm.stack.At(1)
	if err != nil {
		return vm.trap("STA: %v", err)
	}
	idx, err := vm.stack.At(2)
	if err != nil {
		return vm.trap("STA: %v", err)
	}
	dst, err := vm.stack.At(3)
	if err != nil {
		return vm.trap("STA: %v", err)
	}
	if err := vm.stack.Pop(3); err != nil {
		return vm.trap("STA: %v", err)
	}

	switch {
	case dst.IsStackSlot():
		if err := vm.stack.SetDeref(dst.SlotIndex(), v); err != nil {
			return vm.trap("STA: %v", err)
		}
	case dst.IsRef():
		if !vm.heap.ArrayTagPattern(dst.Ref()) {
			return vm.trap("STA: invalid assignment target %s", dst)
		}
		if !idx.IsInt() {
			return vm.trap("STA: index must be an integer, got %s", idx)
		}
		if err := vm.heap.Sta(dst.Ref(), int(idx.Int()), v); err != nil {
			return vm.trap("STA: %v", err)
		}
	default:
		return vm.trap("STA: invalid assignment target %s", dst)
	}
	vm.stack.Push(v)
	return nil
}

// execEnd implements the function epilogue: tear down the current frame,
// write live captures back into the closure (if any), and either resume
// the caller at its recorded return IP or halt if this was the outermost
// frame.
func (vm *VM) execEnd(next *int) error {
	hasCaller := vm.stack.HasCaller()
	ret, returnIP, liveCaptures, fn, err := vm.stack.LeaveFrame()
	if err != nil {
		return vm.trap("END: %v", err)
	}
	if fn != nil && !frame.IsDummy(fn) {
		for i, cv := range liveCaptures {
			if err := vm.heap.SetCapture(fn, i, cv); err != nil {
				return vm.trap("END: %v", err)
			}
		}
	}
	if !hasCaller {
		vm.halted = true
		return nil
	}
	vm.stack.Push(ret)
	*next = returnIP
	return nil
}
