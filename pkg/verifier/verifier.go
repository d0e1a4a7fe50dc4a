// Package verifier implements the two-pass static check described in the
// specification: an encoding pass that validates every instruction's shape
// and bounds, then a worklist abstract interpretation that tracks stack
// height across every reachable code path and reports height mismatches.
package verifier

import (
	"fmt"
	"sort"

	"github.com/arlovski/lamavm/pkg/bytecode"
	"github.com/arlovski/lamavm/pkg/opcode"
)

// Phase distinguishes which pass produced a Diagnostic, for grouping.
type Phase string

const (
	PhaseEncoding    Phase = "encoding"
	PhaseStackHeight Phase = "stack-height"
)

// Diagnostic is one verification finding. Result.Diagnostics is capped and
// grouped by Phase per the specification's error-reporting contract.
type Diagnostic struct {
	Phase  Phase
	Offset int
	Reason string
}

func (d *Diagnostic) Error() string {
	return fmt.Sprintf("[%s] offset %#x: %s", d.Phase, d.Offset, d.Reason)
}

// MaxDiagnostics caps how many findings a single Verify call reports,
// preventing one badly malformed file from producing unbounded output.
const MaxDiagnostics = 200

// Result is the full report returned by Verify.
type Result struct {
	OK                 bool
	Diagnostics        []*Diagnostic
	IsInstructionStart []bool // indexed by code offset
	IsJumpTarget       []bool // indexed by code offset
	Truncated          bool   // true if MaxDiagnostics was hit
}

// Verify runs both passes over img's code region and returns a Result.
// OK is true only when both passes found nothing to report.
func Verify(img *bytecode.Image) *Result {
	r := &Result{
		IsInstructionStart: make([]bool, len(img.Code)+1),
		IsJumpTarget:       make([]bool, len(img.Code)+1),
	}

	instructions := encodingPass(img, r)
	if len(r.Diagnostics) == 0 {
		stackHeightPass(img, instructions, r)
	}

	r.OK = len(r.Diagnostics) == 0
	return r
}

func (r *Result) report(phase Phase, offset int, format string, args ...any) {
	if len(r.Diagnostics) >= MaxDiagnostics {
		r.Truncated = true
		return
	}
	r.Diagnostics = append(r.Diagnostics, &Diagnostic{Phase: phase, Offset: offset, Reason: fmt.Sprintf(format, args...)})
}

// encodingPass linearly decodes every reachable byte of the code region,
// validating immediates and jump/call targets against the code and string
// table bounds, and records which offsets are legal instruction starts.
func encodingPass(img *bytecode.Image, r *Result) map[int]opcode.Decoded {
	instructions := make(map[int]opcode.Decoded)
	offset := 0
	for offset < len(img.Code) {
		d, err := opcode.Decode(img.Code, offset)
		if err != nil {
			r.report(PhaseEncoding, offset, "%v", err)
			return instructions
		}
		instructions[offset] = d
		r.IsInstructionStart[offset] = true

		if err := checkOperandBounds(img, d, r); err != nil {
			return instructions
		}
		offset += d.Length
	}
	return instructions
}

func checkOperandBounds(img *bytecode.Image, d opcode.Decoded, r *Result) error {
	switch d.Family {
	case opcode.Primary:
		switch d.Variant {
		case opcode.PrimaryString, opcode.PrimarySexp:
			if int(d.Imm[0]) < 0 || int(d.Imm[0]) >= img.StringTableSize() {
				r.report(PhaseEncoding, d.Offset, "string-table offset %d out of range", d.Imm[0])
			}
		case opcode.PrimaryJmp:
			recordJumpTarget(img, int(d.Imm[0]), d.Offset, r)
		}
	case opcode.Control:
		switch d.Variant {
		case opcode.CtrlCJmpZero, opcode.CtrlCJmpNonZero:
			recordJumpTarget(img, int(d.Imm[0]), d.Offset, r)
		case opcode.CtrlCall:
			recordJumpTarget(img, int(d.Imm[0]), d.Offset, r)
		case opcode.CtrlClosure:
			recordJumpTarget(img, int(d.Imm[0]), d.Offset, r)
		case opcode.CtrlTag:
			if int(d.Imm[0]) < 0 || int(d.Imm[0]) >= img.StringTableSize() {
				r.report(PhaseEncoding, d.Offset, "string-table offset %d out of range", d.Imm[0])
			}
		}
	}
	return nil
}

func recordJumpTarget(img *bytecode.Image, target, from int, r *Result) {
	if target < 0 || target >= len(img.Code) {
		r.report(PhaseEncoding, from, "jump/call target %#x out of code bounds", target)
		return
	}
	if target < len(r.IsJumpTarget) {
		r.IsJumpTarget[target] = true
	}
}

// entryPoints returns main's entry plus every offset named by a Call or
// Closure target immediate — the worklist's seed set. CallC carries no
// target immediate; the closures it calls are seeded through their Closure
// instruction.
func entryPoints(img *bytecode.Image, instructions map[int]opcode.Decoded) []int {
	seen := map[int]bool{}
	var order []int
	add := func(off int) {
		if !seen[off] {
			seen[off] = true
			order = append(order, off)
		}
	}
	if main, ok := img.Main(); ok {
		add(int(main))
	}
	for _, d := range instructions {
		switch d.Family {
		case opcode.Control:
			switch d.Variant {
			case opcode.CtrlCall, opcode.CtrlClosure:
				add(int(d.Imm[0]))
			}
		case opcode.Primary:
			if d.Variant == opcode.PrimaryJmp {
				// not a call target, handled by normal successor walk
			}
		}
	}
	sort.Ints(order)
	return order
}

// stackHeightPass seeds an abstract height of 2 at every entry point
// (accounting for the capture-count sentinel and function slot a Call or
// CallC leaves for Begin/CBegin to consume) and propagates heights along
// every instruction's successors, per the shared opcode.StackDelta table.
func stackHeightPass(img *bytecode.Image, instructions map[int]opcode.Decoded, r *Result) {
	height := make(map[int]int)
	visited := make(map[int]bool)
	var worklist []int

	seed := func(off, h int) {
		if prior, ok := height[off]; ok {
			if prior != h {
				r.report(PhaseStackHeight, off, "stack height merge mismatch: %d vs %d", prior, h)
			}
			return
		}
		height[off] = h
		worklist = append(worklist, off)
	}

	for _, entry := range entryPoints(img, instructions) {
		seed(entry, 2)
	}

	for len(worklist) > 0 {
		off := worklist[0]
		worklist = worklist[1:]
		if visited[off] {
			continue
		}
		visited[off] = true

		d, ok := instructions[off]
		if !ok {
			r.report(PhaseStackHeight, off, "control flow reaches a non-instruction-start offset")
			continue
		}
		h := height[off]
		if d.Family == opcode.Control && (d.Variant == opcode.CtrlCall || d.Variant == opcode.CtrlClosure) {
			t, ok := instructions[int(d.Imm[0])]
			if !ok || t.Family != opcode.Control || (t.Variant != opcode.CtrlBegin && t.Variant != opcode.CtrlCBegin) {
				r.report(PhaseStackHeight, off, "call target %#x is not a BEGIN/CBEGIN", d.Imm[0])
			}
		}
		pops, pushes := opcode.StackDelta(d)
		if h < pops {
			r.report(PhaseStackHeight, off, "stack underflow: height %d, instruction needs %d", h, pops)
			continue
		}
		after := h - pops + pushes

		for _, succ := range successors(img, off, d) {
			seed(succ, after)
		}
	}

	for off := range instructions {
		if !visited[off] {
			r.report(PhaseStackHeight, off, "unreachable code")
		}
	}
}

// successors returns the set of code offsets control can transfer to after
// executing d at off: the fallthrough offset, plus any jump targets.
func successors(img *bytecode.Image, off int, d opcode.Decoded) []int {
	fallthroughOff := off + d.Length
	switch d.Family {
	case opcode.Halt:
		return nil
	case opcode.Primary:
		if d.Variant == opcode.PrimaryJmp {
			return []int{int(d.Imm[0])}
		}
		if d.Variant == opcode.PrimaryEnd {
			return nil // return transfers to a caller-specific IP, not visible here
		}
	case opcode.Control:
		switch d.Variant {
		case opcode.CtrlCJmpZero, opcode.CtrlCJmpNonZero:
			if fallthroughOff < len(img.Code) {
				return []int{fallthroughOff, int(d.Imm[0])}
			}
			return []int{int(d.Imm[0])}
		case opcode.CtrlCall, opcode.CtrlCallC:
			// The call itself transfers control to the callee, but from
			// the caller's own stack-height perspective the call is
			// opaque: it consumes n_args and produces one result, so the
			// abstract walk treats it as a straight-line instruction and
			// continues at the fallthrough with StackDelta already
			// applied.
		}
	}
	if fallthroughOff >= len(img.Code) {
		return nil
	}
	return []int{fallthroughOff}
}
