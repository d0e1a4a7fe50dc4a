package heap

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMakeArrayAndElem(t *testing.T) {
	h := New(strings.NewReader(""), &bytes.Buffer{})
	a := h.MakeArray(3)
	require.NoError(t, h.Sta(a, 0, h.MakeString("x")))
	require.NoError(t, h.Sta(a, 1, h.MakeString("y")))
	v, err := h.Elem(a, 1)
	require.NoError(t, err)
	s, err := h.RawString(v)
	require.NoError(t, err)
	require.Equal(t, "y", s)
}

func TestElemOutOfBounds(t *testing.T) {
	h := New(strings.NewReader(""), &bytes.Buffer{})
	a := h.MakeArray(2)
	_, err := h.Elem(a, 5)
	require.Error(t, err)
}

func TestSexpTagAndArity(t *testing.T) {
	h := New(strings.NewReader(""), &bytes.Buffer{})
	tag := TagHash("Cons")
	s := h.MakeSexp(2, tag)
	require.True(t, h.Tag(s, tag, 2))
	require.False(t, h.Tag(s, tag, 1))
	require.False(t, h.Tag(s, TagHash("Nil"), 2))
}

func TestClosureCapturesRoundTrip(t *testing.T) {
	h := New(strings.NewReader(""), &bytes.Buffer{})
	c := h.MakeClosure(1, 100)
	ip, err := h.EntryIP(c)
	require.NoError(t, err)
	require.Equal(t, 100, ip)

	require.NoError(t, h.SetCapture(c, 0, h.MakeString("v")))
	caps, err := h.Captures(c)
	require.NoError(t, err)
	require.Len(t, caps, 1)
}

func TestWriteAppendsNewlineAndRead(t *testing.T) {
	var out bytes.Buffer
	h := New(strings.NewReader("42\n"), &out)
	require.NoError(t, h.Write(7))
	require.NoError(t, h.Flush())
	require.Equal(t, "7\n", out.String())

	n, err := h.Read()
	require.NoError(t, err)
	require.Equal(t, int32(42), n)
}

func TestMatchFailureFormatsFileLineCol(t *testing.T) {
	h := New(strings.NewReader(""), &bytes.Buffer{})
	err := h.MatchFailure(h.MakeSexp(0, TagHash("Nil")), "prog.lama", 3, 8)
	require.ErrorContains(t, err, "prog.lama:3:8")
}

func TestStringPatternComparesContents(t *testing.T) {
	h := New(strings.NewReader(""), &bytes.Buffer{})
	require.True(t, h.StringPattern(h.MakeString("a"), h.MakeString("a")))
	require.False(t, h.StringPattern(h.MakeString("a"), h.MakeString("b")))
}
