// Package idiom implements the instruction-idiom frequency analyzer: it
// walks a program's instructions in code order and reports which length-1
// and length-2 fingerprints (opcode shapes with immediates erased) recur
// most often, the way a peephole-optimizer survey would.
package idiom

import (
	"sort"

	"github.com/arlovski/lamavm/pkg/bytecode"
	"github.com/arlovski/lamavm/pkg/opcode"
	"github.com/arlovski/lamavm/pkg/verifier"
)

// Fingerprint is one opcode shape with its immediates erased: just the
// family and variant, so `CONST 0` and `CONST 42` count as the same
// idiom.
type Fingerprint struct {
	Family  opcode.Family
	Variant byte
}

func (f Fingerprint) String() string {
	return opcode.Decoded{Family: f.Family, Variant: f.Variant}.Mnemonic()
}

// Entry is one row of the reported histogram: a length-1 or length-2
// instruction sequence and how many times it occurs in reachable code.
type Entry struct {
	Sequence []Fingerprint
	Count    int
}

// Analyze walks img's code linearly from offset 0, decoding each
// instruction with the shared opcode.Decode and stopping at the first
// offset the verifier's encoding pass did not mark as an instruction start.
// Every instruction on that walk is counted, whether or not control flow
// can reach it, and pairs are formed from neighbours in code order, also
// across jumps and END. It returns the length-1 and length-2 idiom
// histogram sorted by count desc, then sequence length asc, then
// lexicographically by mnemonic.
func Analyze(img *bytecode.Image) []Entry {
	res := verifier.Verify(img)

	var ordered []opcode.Decoded
	offset := 0
	for offset < len(img.Code) {
		if !res.IsInstructionStart[offset] {
			break
		}
		d, err := opcode.Decode(img.Code, offset)
		if err != nil {
			break
		}
		ordered = append(ordered, d)
		offset += d.Length
	}

	counts1 := map[Fingerprint]int{}
	counts2 := map[[2]Fingerprint]int{}
	for i, d := range ordered {
		fp := Fingerprint{Family: d.Family, Variant: d.Variant}
		counts1[fp]++
		if i+1 < len(ordered) {
			next := ordered[i+1]
			counts2[[2]Fingerprint{fp, {Family: next.Family, Variant: next.Variant}}]++
		}
	}

	var entries []Entry
	for fp, n := range counts1 {
		entries = append(entries, Entry{Sequence: []Fingerprint{fp}, Count: n})
	}
	for pair, n := range counts2 {
		entries = append(entries, Entry{Sequence: []Fingerprint{pair[0], pair[1]}, Count: n})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		if len(entries[i].Sequence) != len(entries[j].Sequence) {
			return len(entries[i].Sequence) < len(entries[j].Sequence)
		}
		return lexLess(entries[i].Sequence, entries[j].Sequence)
	})
	return entries
}

func lexLess(a, b []Fingerprint) bool {
	for i := range a {
		as, bs := a[i].String(), b[i].String()
		if as != bs {
			return as < bs
		}
	}
	return false
}
