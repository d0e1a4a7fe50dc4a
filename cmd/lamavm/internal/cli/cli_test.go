package cli

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arlovski/lamavm/pkg/bytecode"
	"github.com/arlovski/lamavm/pkg/opcode"
)

func writeFixture(t *testing.T) string {
	t.Helper()
	b := bytecode.NewBuilder(0)
	mainOff := b.Offset()
	b.Emit(byte(opcode.Control)<<4 | opcode.CtrlBegin)
	b.Imm32(0)
	b.Imm32(0)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryConst)
	b.Imm32(7)
	b.Emit(byte(opcode.Builtin)<<4 | opcode.BuiltinWrite)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryDrop)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryConst)
	b.Imm32(0)
	b.Emit(byte(opcode.Primary)<<4 | opcode.PrimaryEnd)
	b.Public("main", uint32(mainOff))

	path := t.TempDir() + "/prog.bc"
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o644))
	return path
}

func TestRunExecutesAndPrints(t *testing.T) {
	path := writeFixture(t)
	var out, errOut bytes.Buffer
	code := Execute([]string{"run", path}, strings.NewReader(""), &out, &errOut)
	require.Equal(t, ExitOK, code)
	require.Equal(t, "7\n", out.String())
}

func TestVerifyReportsSuccessExitCode(t *testing.T) {
	path := writeFixture(t)
	var out, errOut bytes.Buffer
	code := Execute([]string{"verify", path}, strings.NewReader(""), &out, &errOut)
	require.Equal(t, ExitOK, code)
}

func TestVerifyReportsFailureExitCode(t *testing.T) {
	b := bytecode.NewBuilder(0)
	mainOff := b.Offset()
	b.Emit(byte(opcode.Control)<<4 | opcode.CtrlBegin)
	b.Imm32(0)
	b.Imm32(0)
	b.Emit(byte(opcode.Primary) << 4 | opcode.PrimaryDrop)
	b.Public("main", uint32(mainOff))
	path := t.TempDir() + "/bad.bc"
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o644))

	var out, errOut bytes.Buffer
	code := Execute([]string{"verify", path}, strings.NewReader(""), &out, &errOut)
	require.Equal(t, ExitVerifyFailed, code)
	require.NotEmpty(t, errOut.String())
}

func TestIdiomsPrintsHistogram(t *testing.T) {
	path := writeFixture(t)
	var out, errOut bytes.Buffer
	code := Execute([]string{"idioms", path}, strings.NewReader(""), &out, &errOut)
	require.Equal(t, ExitOK, code)
	require.NotEmpty(t, out.String())
}
