// Package vm implements the bytecode interpreter: a fetch-decode-dispatch
// loop over pkg/opcode's shared instruction table, driving pkg/frame's
// value stack and pkg/heap's runtime ABI.
//
// The VM is a stack-based interpreter, the final stage of the pipeline
// described by the specification: a loaded bytecode.Image goes in, Run
// drives it to HALT or the first Trap.
package vm

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/arlovski/lamavm/pkg/bytecode"
	"github.com/arlovski/lamavm/pkg/frame"
	"github.com/arlovski/lamavm/pkg/heap"
	"github.com/arlovski/lamavm/pkg/opcode"
	"github.com/arlovski/lamavm/pkg/value"
)

// VM interprets one loaded bytecode.Image against a fresh frame.Stack and
// heap.Heap. It owns no goroutines; Run drives a single fetch-decode-
// dispatch loop to completion or to the first Trap.
type VM struct {
	img   *bytecode.Image
	stack *frame.Stack
	heap  *heap.Heap
	log   zerolog.Logger

	ip              int
	pendingReturnIP int // set by Call/CallC, consumed by the Begin/CBegin they jump to
	halted          bool
	steps           int64
}

// New builds a VM ready to execute img's "main" entry point. The returned
// VM owns h for the lifetime of the run; the caller wires its in/out
// streams (typically os.Stdin/os.Stdout) when constructing it.
func New(img *bytecode.Image, h *heap.Heap, log zerolog.Logger) (*VM, error) {
	entry, ok := img.Main()
	if !ok {
		return nil, fmt.Errorf("vm: image has no main entry point")
	}
	s := frame.New()
	s.SetGlobalCount(img.GlobalAreaSize)
	for i := 0; i < img.GlobalAreaSize; i++ {
		s.Push(value.Unit())
	}
	// main is entered exactly like any other direct call: push the
	// capture-count-0 sentinel and the dummy function marker that its
	// leading Begin instruction expects to pop.
	s.Push(value.Int(0))
	s.PushDummy()
	return &VM{img: img, stack: s, heap: h, log: log, ip: int(entry)}, nil
}

// Steps reports how many instructions have been dispatched so far, mostly
// useful for --log-level=trace diagnostics and tests.
func (vm *VM) Steps() int64 { return vm.steps }

// snapshot renders a call-stack view for Trap diagnostics. The wire format
// (§6) carries no debug-info side table mapping code offsets back to
// source names, so this records only what's recoverable from the running
// IP — a fuller symbolicated trace is future work were debug info added.
func (vm *VM) snapshot() []Frame {
	return []Frame{{IP: vm.ip}}
}

// Run executes instructions until HALT or a Trap, flushing the heap's
// output buffer before returning. It returns nil on a normal HALT.
func (vm *VM) Run() error {
	for !vm.halted {
		if err := vm.step(); err != nil {
			return err
		}
	}
	return vm.heap.Flush()
}

func (vm *VM) step() error {
	d, err := opcode.Decode(vm.img.Code, vm.ip)
	if err != nil {
		return vm.trap("decode: %v", err)
	}
	vm.steps++
	next := vm.ip + d.Length

	vm.log.Trace().Int("ip", vm.ip).Str("op", d.Mnemonic()).Int("depth", vm.stack.Depth()).Send()

	switch d.Family {
	case opcode.Halt:
		vm.halted = true
		return nil
	case opcode.Binop:
		if err := vm.execBinop(d); err != nil {
			return err
		}
	case opcode.Primary:
		if err := vm.execPrimary(d, &next); err != nil {
			return err
		}
	case opcode.Load:
		v, err := vm.stack.Load(frame.Loc{Kind: opcode.Loc(d.Variant), Idx: int(d.Imm[0])})
		if err != nil {
			return vm.trap("LD: %v", err)
		}
		vm.stack.Push(v)
	case opcode.LoadAddr:
		addr, err := vm.stack.AddrOf(frame.Loc{Kind: opcode.Loc(d.Variant), Idx: int(d.Imm[0])})
		if err != nil {
			return vm.trap("LDA: %v", err)
		}
		// Two words: the real slot address, and the dummy marker as a
		// placeholder that a following STA discards when its destination is
		// a StackSlot.
		vm.stack.Push(value.StackSlotValue(addr))
		vm.stack.PushDummy()
	case opcode.Store:
		v, err := vm.stack.At(1)
		if err != nil {
			return vm.trap("ST: %v", err)
		}
		if err := vm.stack.Store(frame.Loc{Kind: opcode.Loc(d.Variant), Idx: int(d.Imm[0])}, v); err != nil {
			return vm.trap("ST: %v", err)
		}
	case opcode.Control:
		if err := vm.execControl(d, &next); err != nil {
			return err
		}
	case opcode.Pattern:
		if err := vm.execPattern(d); err != nil {
			return err
		}
	case opcode.Builtin:
		if err := vm.execBuiltin(d); err != nil {
			return err
		}
	default:
		return vm.trap("unreachable instruction family %s", d.Family)
	}

	vm.ip = next
	return nil
}

func (vm *VM) popInt(what string) (int32, error) {
	v, err := vm.stack.At(1)
	if err != nil {
		return 0, vm.trap("%s: %v", what, err)
	}
	if !v.IsInt() {
		return 0, vm.trap("%s: expected integer, got %s", what, v)
	}
	if err := vm.stack.Pop(1); err != nil {
		return 0, vm.trap("%s: %v", what, err)
	}
	return v.Int(), nil
}

func (vm *VM) execBinop(d opcode.Decoded) error {
	b, err := vm.popInt("binop")
	if err != nil {
		return err
	}
	a, err := vm.popInt("binop")
	if err != nil {
		return err
	}
	var r int32
	switch d.Variant {
	case opcode.BinAdd:
		r = a + b
	case opcode.BinSub:
		r = a - b
	case opcode.BinMul:
		r = a * b
	case opcode.BinDiv:
		if b == 0 {
			return vm.trap("division by zero")
		}
		r = a / b
	case opcode.BinMod:
		if b == 0 {
			return vm.trap("division by zero")
		}
		r = a % b
		if r < 0 && b > 0 {
			r += b
		}
	case opcode.BinLt:
		r = boolInt(a < b)
	case opcode.BinLe:
		r = boolInt(a <= b)
	case opcode.BinGt:
		r = boolInt(a > b)
	case opcode.BinGe:
		r = boolInt(a >= b)
	case opcode.BinEq:
		r = boolInt(a == b)
	case opcode.BinNeq:
		r = boolInt(a != b)
	case opcode.BinAnd:
		r = boolInt(a != 0 && b != 0)
	case opcode.BinOr:
		r = boolInt(a != 0 || b != 0)
	default:
		return vm.trap("unknown binop sub-code %d", d.Variant)
	}
	vm.stack.Push(value.Int(r))
	return nil
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
