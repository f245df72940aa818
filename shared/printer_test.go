package shared

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufHook struct {
	strings.Builder
	closed bool
}

func (b *bufHook) Close() error {
	b.closed = true
	return nil
}

func TestNewPrinterRequiresHooks(t *testing.T) {
	_, err := NewPrinter("  ")
	assert.Error(t, err)

	_, err = NewPrinter("  ", nil)
	assert.Error(t, err)
}

func TestPrinterIndentsEveryLine(t *testing.T) {
	hook := &bufHook{}
	p, err := NewPrinter("  ", hook)
	require.NoError(t, err)

	require.NoError(t, p.Writeln("a\nb", 1))
	require.NoError(t, p.Write("c", 2))
	assert.Equal(t, "  a\n  b\n    c", hook.String())

	require.NoError(t, p.Close())
	assert.True(t, hook.closed)
}

func TestPrinterRewrite(t *testing.T) {
	hook := &bufHook{}
	p, err := NewPrinter("  ", hook)
	require.NoError(t, err)

	require.NoError(t, p.Rewrite("Wi", 0))
	require.NoError(t, p.Rewrite("Witaj", 0))
	require.NoError(t, p.Writeln("done", 0))

	assert.Equal(t, clearLine+"Wi"+clearLine+"Witaj\ndone\n", hook.String())
}

func TestPrinterFansOut(t *testing.T) {
	a, b := &bufHook{}, &bufHook{}
	p, err := NewPrinter("", a, b)
	require.NoError(t, err)

	require.NoError(t, p.Writeln("x", 0))
	assert.Equal(t, "x\n", a.String())
	assert.Equal(t, "x\n", b.String())
}
