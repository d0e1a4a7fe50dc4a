package idiom

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arlovski/lamavm/pkg/bytecode"
	"github.com/arlovski/lamavm/pkg/opcode"
)

func TestAnalyzeRanksLoadThenAddPair(t *testing.T) {
	b := bytecode.NewBuilder(1)
	mainOff := b.Offset()
	b.Emit(byte(opcode.Control)<<4 | opcode.CtrlBegin)
	b.Imm32(0)
	b.Imm32(0)

	for i := 0; i < 3; i++ {
		b.Emit(byte(opcode.Load)<<4 | byte(opcode.LocGlobal))
		b.Imm32(0)
		b.Emit(byte(opcode.Binop)<<4 | opcode.BinAdd)
	}
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryConst)
	b.Imm32(0)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryEnd)
	b.Public("main", uint32(mainOff))

	img, err := b.Image()
	require.NoError(t, err)

	entries := Analyze(img)
	require.NotEmpty(t, entries)

	var topPair Entry
	for _, e := range entries {
		if len(e.Sequence) == 2 {
			topPair = e
			break
		}
	}
	require.Equal(t, 3, topPair.Count)
	require.Equal(t, opcode.Load, topPair.Sequence[0].Family)
	require.Equal(t, opcode.Binop, topPair.Sequence[1].Family)
}
