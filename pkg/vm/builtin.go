package vm

import (
	"github.com/arlovski/lamavm/pkg/opcode"
	"github.com/arlovski/lamavm/pkg/value"
)

// execBuiltin dispatches the BUILTIN family: the Read/Write I/O primitives,
// Length, StringVal and array construction.
func (vm *VM) execBuiltin(d opcode.Decoded) error {
	switch d.Variant {
	case opcode.BuiltinRead:
		n, err := vm.heap.Read()
		if err != nil {
			return vm.trap("Lread: %v", err)
		}
		vm.stack.Push(value.Int(n))
	case opcode.BuiltinWrite:
		v, err := vm.stack.At(1)
		if err != nil {
			return vm.trap("Lwrite: %v", err)
		}
		if !v.IsInt() {
			return vm.trap("Lwrite: expected integer, got %s", v)
		}
		if err := vm.stack.Pop(1); err != nil {
			return vm.trap("Lwrite: %v", err)
		}
		if err := vm.heap.Write(v.Int()); err != nil {
			return vm.trap("Lwrite: %v", err)
		}
		vm.stack.Push(value.Unit())
	case opcode.BuiltinLength:
		v, err := vm.stack.At(1)
		if err != nil {
			return vm.trap("Llength: %v", err)
		}
		if err := vm.stack.Pop(1); err != nil {
			return vm.trap("Llength: %v", err)
		}
		if !v.IsRef() {
			return vm.trap("Llength: expected a heap value, got %s", v)
		}
		n, err := vm.heap.Length(v.Ref())
		if err != nil {
			return vm.trap("Llength: %v", err)
		}
		vm.stack.Push(value.Int(int32(n)))
	case opcode.BuiltinStringVal:
		v, err := vm.stack.At(1)
		if err != nil {
			return vm.trap("Lstring: %v", err)
		}
		if err := vm.stack.Pop(1); err != nil {
			return vm.trap("Lstring: %v", err)
		}
		var s string
		if v.IsRef() {
			s, err = vm.heap.StringVal(v.Ref())
			if err != nil {
				return vm.trap("Lstring: %v", err)
			}
		} else {
			s = v.String()
		}
		vm.stack.Push(value.RefOf(vm.heap.MakeString(s)))
	case opcode.BuiltinArrayCtor:
		n := int(d.Imm[0])
		elems := make([]value.Value, n)
		for i := n - 1; i >= 0; i-- {
			v, err := vm.stack.At(1)
			if err != nil {
				return vm.trap("Barray: %v", err)
			}
			if err := vm.stack.Pop(1); err != nil {
				return vm.trap("Barray: %v", err)
			}
			elems[i] = v
		}
		a := vm.heap.MakeArray(n)
		for i, v := range elems {
			if err := vm.heap.Sta(a, i, v); err != nil {
				return vm.trap("Barray: %v", err)
			}
		}
		vm.stack.Push(value.RefOf(a))
	default:
		return vm.trap("unknown builtin variant %d", d.Variant)
	}
	return nil
}
