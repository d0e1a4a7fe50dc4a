package vm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/arlovski/lamavm/pkg/bytecode"
	"github.com/arlovski/lamavm/pkg/heap"
	"github.com/arlovski/lamavm/pkg/opcode"
)

func runProgram(t *testing.T, b *bytecode.Builder, in string) (string, error) {
	t.Helper()
	img, err := b.Image()
	require.NoError(t, err)
	var out bytes.Buffer
	h := heap.New(strings.NewReader(in), &out)
	machine, err := New(img, h, zerolog.Nop())
	require.NoError(t, err)
	err = machine.Run()
	return out.String(), err
}

// emitBeginMain writes a Begin(0, nLocs) prologue for a zero-argument main.
func emitBeginMain(b *bytecode.Builder, nLocs int32) int {
	off := b.Offset()
	b.Emit(byte(opcode.Control)<<4 | opcode.CtrlBegin)
	b.Imm32(0)
	b.Imm32(nLocs)
	return off
}

func TestIntegerIdentityThroughArithmetic(t *testing.T) {
	// main: push 40, push 2, add, write, drop unit, push 0, end.
	b := bytecode.NewBuilder(0)
	mainOff := emitBeginMain(b, 0)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryConst)
	b.Imm32(40)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryConst)
	b.Imm32(2)
	b.Emit(byte(opcode.Binop)<<4 | opcode.BinAdd)
	b.Emit(byte(opcode.Builtin)<<4 | opcode.BuiltinWrite)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryDrop)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryConst)
	b.Imm32(0)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryEnd)
	b.Public("main", uint32(mainOff))

	out, err := runProgram(t, b, "")
	require.NoError(t, err)
	require.Equal(t, "42\n", out)
}

func TestDivisionByZeroTraps(t *testing.T) {
	b := bytecode.NewBuilder(0)
	mainOff := emitBeginMain(b, 0)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryConst)
	b.Imm32(1)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryConst)
	b.Imm32(0)
	b.Emit(byte(opcode.Binop)<<4 | opcode.BinDiv)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryEnd)
	b.Public("main", uint32(mainOff))

	_, err := runProgram(t, b, "")
	require.Error(t, err)
	var tr *Trap
	require.ErrorAs(t, err, &tr)
	require.Contains(t, tr.Message, "division by zero")
}

func TestClosureCaptureMutationIsVisibleAfterCall(t *testing.T) {
	// Captures are copied in by value at CLOSURE time (CTRL_CLOSURE in the
	// source this is grounded on does the same); a mutation is only
	// observable on a *second call to the same closure instance*, via
	// END's write-back into that instance's own capture storage — not on
	// the local variable the capture was read from, and not on a
	// different closure built from the same local.
	//
	// bump(no args, 1 capture, 0 locals): CBEGIN 0,0; LD C0; CONST 1; ADD;
	// DUP; ST C0; END
	//
	// main: BEGIN 0,2
	//   CONST 0; ST L0; DROP        ; local0 = 0 (the captured seed)
	//   CLOSURE bump, 1 cap=L0
	//   ST L1; DROP                 ; local1 = the one closure instance
	//   LD L1; CALLC 0; DROP        ; first call: 0 -> 1, discarded
	//   LD L1; CALLC 0; WRITE; DROP ; second call on the SAME instance: 1 -> 2
	//   CONST 0; END
	b := bytecode.NewBuilder(0)

	bumpOff := b.Offset()
	b.Emit(byte(opcode.Control)<<4 | opcode.CtrlCBegin)
	b.Imm32(0)
	b.Imm32(0)
	b.Emit(byte(opcode.Load)<<4 | byte(opcode.LocCapture))
	b.Imm32(0)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryConst)
	b.Imm32(1)
	b.Emit(byte(opcode.Binop)<<4 | opcode.BinAdd)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryDup)
	b.Emit(byte(opcode.Store)<<4 | byte(opcode.LocCapture))
	b.Imm32(0)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryEnd)

	mainOff := b.Offset()
	b.Emit(byte(opcode.Control)<<4 | opcode.CtrlBegin)
	b.Imm32(0)
	b.Imm32(2)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryConst)
	b.Imm32(0)
	b.Emit(byte(opcode.Store)<<4 | byte(opcode.LocLocal))
	b.Imm32(0)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryDrop)

	b.Emit(byte(opcode.Control)<<4 | opcode.CtrlClosure)
	b.Imm32(int32(bumpOff))
	b.Imm32(1)
	b.Byte(byte(opcode.LocLocal))
	b.Imm32(0)
	b.Emit(byte(opcode.Store)<<4 | byte(opcode.LocLocal))
	b.Imm32(1)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryDrop)

	b.Emit(byte(opcode.Load)<<4 | byte(opcode.LocLocal))
	b.Imm32(1)
	b.Emit(byte(opcode.Control)<<4 | opcode.CtrlCallC)
	b.Imm32(0)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryDrop)

	b.Emit(byte(opcode.Load)<<4 | byte(opcode.LocLocal))
	b.Imm32(1)
	b.Emit(byte(opcode.Control)<<4 | opcode.CtrlCallC)
	b.Imm32(0)
	b.Emit(byte(opcode.Builtin)<<4 | opcode.BuiltinWrite)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryDrop)

	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryConst)
	b.Imm32(0)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryEnd)
	b.Public("main", uint32(mainOff))

	out, err := runProgram(t, b, "")
	require.NoError(t, err)
	require.Equal(t, "2\n", out)
}

func TestPatternMatchFallthroughToFailTraps(t *testing.T) {
	// main: push 5 (an int, so every structural test below fails), run the
	// #sexp test, CJMPnz (never taken since the test pushed 0), push 5 as
	// the scrutinee and fall through to FAIL.
	b := bytecode.NewBuilder(0)
	mainOff := emitBeginMain(b, 0)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryConst)
	b.Imm32(5)
	b.Emit(byte(opcode.Pattern)<<4 | opcode.PattSexpTag)
	failOff := b.Offset()
	b.Emit(byte(opcode.Control)<<4 | opcode.CtrlCJmpNonZero)
	b.Imm32(int32(failOff)) // never taken: operand is 0 (not a sexp)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryConst)
	b.Imm32(5)
	b.Emit(byte(opcode.Control)<<4 | opcode.CtrlFail)
	b.Imm32(1)
	b.Imm32(1)
	b.Public("main", uint32(mainOff))

	_, err := runProgram(t, b, "")
	require.Error(t, err)
	var tr *Trap
	require.ErrorAs(t, err, &tr)
	require.Contains(t, tr.Message, "pattern match failure")
}

func TestDirectCallReturnsAndResumesCaller(t *testing.T) {
	// callee: BEGIN 1,0; LD A0; CONST 1; ADD; END
	// main: CONST 41; CALL callee(1 arg); WRITE; DROP; CONST 0; END
	b := bytecode.NewBuilder(0)
	calleeOff := b.Offset()
	b.Emit(byte(opcode.Control)<<4 | opcode.CtrlBegin)
	b.Imm32(1)
	b.Imm32(0)
	b.Emit(byte(opcode.Load)<<4 | byte(opcode.LocArgument))
	b.Imm32(0)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryConst)
	b.Imm32(1)
	b.Emit(byte(opcode.Binop)<<4 | opcode.BinAdd)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryEnd)

	mainOff := b.Offset()
	b.Emit(byte(opcode.Control)<<4 | opcode.CtrlBegin)
	b.Imm32(0)
	b.Imm32(0)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryConst)
	b.Imm32(41)
	b.Emit(byte(opcode.Control)<<4 | opcode.CtrlCall)
	b.Imm32(int32(calleeOff))
	b.Imm32(1)
	b.Emit(byte(opcode.Builtin)<<4 | opcode.BuiltinWrite)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryDrop)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryConst)
	b.Imm32(0)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryEnd)
	b.Public("main", uint32(mainOff))

	out, err := runProgram(t, b, "")
	require.NoError(t, err)
	require.Equal(t, "42\n", out)
}

func TestModNormalizesRemainderToDivisorSign(t *testing.T) {
	b := bytecode.NewBuilder(0)
	mainOff := emitBeginMain(b, 0)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryConst)
	b.Imm32(-7)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryConst)
	b.Imm32(3)
	b.Emit(byte(opcode.Binop)<<4 | opcode.BinMod)
	b.Emit(byte(opcode.Builtin)<<4 | opcode.BuiltinWrite)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryDrop)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryConst)
	b.Imm32(0)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryEnd)
	b.Public("main", uint32(mainOff))

	out, err := runProgram(t, b, "")
	require.NoError(t, err)
	require.Equal(t, "2\n", out)
}

func TestCallCWithArgumentsPreservesArgumentOrder(t *testing.T) {
	// sub(2 args, 0 captures, 0 locals): CBEGIN 2,0; LD A0; LD A1; SUB; END
	//
	// main pushes the closure first, then its arguments on top of it, the
	// layout CALLC expects (arg0 deepest, arg1 shallowest, closure below
	// both) so the shift that closes the gap where the closure sat must
	// preserve each argument's own value and relative order: 52-10 prints
	// 42, swapped arguments would print -42.
	b := bytecode.NewBuilder(0)
	subOff := b.Offset()
	b.Emit(byte(opcode.Control)<<4 | opcode.CtrlCBegin)
	b.Imm32(2)
	b.Imm32(0)
	b.Emit(byte(opcode.Load)<<4 | byte(opcode.LocArgument))
	b.Imm32(0)
	b.Emit(byte(opcode.Load)<<4 | byte(opcode.LocArgument))
	b.Imm32(1)
	b.Emit(byte(opcode.Binop)<<4 | opcode.BinSub)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryEnd)

	mainOff := b.Offset()
	b.Emit(byte(opcode.Control)<<4 | opcode.CtrlBegin)
	b.Imm32(0)
	b.Imm32(0)
	b.Emit(byte(opcode.Control)<<4 | opcode.CtrlClosure)
	b.Imm32(int32(subOff))
	b.Imm32(0)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryConst)
	b.Imm32(52)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryConst)
	b.Imm32(10)
	b.Emit(byte(opcode.Control)<<4 | opcode.CtrlCallC)
	b.Imm32(2)
	b.Emit(byte(opcode.Builtin)<<4 | opcode.BuiltinWrite)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryDrop)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryConst)
	b.Imm32(0)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryEnd)
	b.Public("main", uint32(mainOff))

	out, err := runProgram(t, b, "")
	require.NoError(t, err)
	require.Equal(t, "42\n", out)
}

func TestCallThroughNonFunctionValueTraps(t *testing.T) {
	b := bytecode.NewBuilder(0)
	mainOff := emitBeginMain(b, 0)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryConst)
	b.Imm32(7)
	b.Emit(byte(opcode.Control)<<4 | opcode.CtrlCallC)
	b.Imm32(0)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryEnd)
	b.Public("main", uint32(mainOff))

	_, err := runProgram(t, b, "")
	require.Error(t, err)
	var tr *Trap
	require.ErrorAs(t, err, &tr)
	require.Contains(t, tr.Message, "non-function value")
}
