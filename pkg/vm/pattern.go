package vm

import (
	"github.com/arlovski/lamavm/pkg/opcode"
	"github.com/arlovski/lamavm/pkg/value"
)

// execPattern dispatches the PATT family: the binary string-equality test
// and the six unary structural tests used by match compilation.
func (vm *VM) execPattern(d opcode.Decoded) error {
	if d.Variant == opcode.PattEqStr {
		b, err := vm.stack.At(1)
		if err != nil {
			return vm.trap("=str: %v", err)
		}
		a, err := vm.stack.At(2)
		if err != nil {
			return vm.trap("=str: %v", err)
		}
		if err := vm.stack.Pop(2); err != nil {
			return vm.trap("=str: %v", err)
		}
		ok := a.IsRef() && b.IsRef() && vm.heap.StringPattern(a.Ref(), b.Ref())
		vm.stack.Push(value.Bool(ok))
		return nil
	}

	v, err := vm.stack.At(1)
	if err != nil {
		return vm.trap("pattern test: %v", err)
	}
	if err := vm.stack.Pop(1); err != nil {
		return vm.trap("pattern test: %v", err)
	}
	var ok bool
	switch d.Variant {
	case opcode.PattStringTag:
		ok = v.IsRef() && vm.heap.StringTagPattern(v.Ref())
	case opcode.PattArrayTag:
		ok = v.IsRef() && vm.heap.ArrayTagPattern(v.Ref())
	case opcode.PattSexpTag:
		ok = v.IsRef() && vm.heap.SexpTagPattern(v.Ref())
	case opcode.PattBoxed:
		ok = !v.IsUnboxed()
	case opcode.PattUnboxed:
		ok = v.IsUnboxed()
	case opcode.PattClosureTag:
		ok = v.IsRef() && vm.heap.ClosureTagPattern(v.Ref())
	default:
		return vm.trap("unknown pattern variant %d", d.Variant)
	}
	vm.stack.Push(value.Bool(ok))
	return nil
}
