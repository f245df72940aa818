package tools

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioBufferDropsOldest(t *testing.T) {
	ab := NewAudioBuffer(4)

	assert.Equal(t, 0, ab.Write([]byte{1, 2, 3}))
	assert.Equal(t, 2, ab.Write([]byte{4, 5, 6}))
	assert.Equal(t, 4, ab.Len())

	p := make([]byte, 8)
	n, err := ab.Read(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 4, 5, 6}, p[:n])
}

func TestAudioBufferOversizedWrite(t *testing.T) {
	ab := NewAudioBuffer(2)

	assert.Equal(t, 3, ab.Write([]byte{1, 2, 3, 4, 5}))

	p := make([]byte, 8)
	n, err := ab.Read(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5}, p[:n])
}

func TestAudioBufferReadBlocksUntilWrite(t *testing.T) {
	ab := NewAudioBuffer(16)
	got := make(chan []byte, 1)
	go func() {
		p := make([]byte, 4)
		n, _ := ab.Read(p)
		got <- p[:n]
	}()

	select {
	case <-got:
		t.Fatal("read returned before any write")
	case <-time.After(20 * time.Millisecond):
	}

	ab.Write([]byte{9, 8})
	select {
	case b := <-got:
		assert.Equal(t, []byte{9, 8}, b)
	case <-time.After(time.Second):
		t.Fatal("read did not wake up")
	}
}

func TestAudioBufferCloseDrainsThenEOF(t *testing.T) {
	ab := NewAudioBuffer(16)
	ab.Write([]byte{1, 2})
	require.NoError(t, ab.Close())

	p := make([]byte, 4)
	n, err := ab.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = ab.Read(p)
	assert.ErrorIs(t, err, io.EOF)

	assert.Equal(t, 3, ab.Write([]byte{1, 2, 3}), "writes after close are dropped")

	ab.Reset()
	ab.Write([]byte{7})
	n, err = ab.Read(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, p[:n])
}

func TestAudioBufferCloseWakesReader(t *testing.T) {
	ab := NewAudioBuffer(16)
	done := make(chan error, 1)
	go func() {
		_, err := ab.Read(make([]byte, 4))
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, ab.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(time.Second):
		t.Fatal("reader still blocked after close")
	}
}
