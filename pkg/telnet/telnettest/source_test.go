package telnettest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSource_ReplaysChunksInOrder(t *testing.T) {
	src := NewSource(
		Chunk{Data: []byte("ab")},
		Chunk{Data: []byte("c")},
	)

	var got []byte
	for {
		b, ok, err := src.TryReadByte()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, b)
	}
	assert.Equal(t, []byte("abc"), got)
	assert.True(t, src.Exhausted())
}

func TestSource_DelayGatesChunk(t *testing.T) {
	src := NewSource(Chunk{Data: []byte("x"), Delay: 30 * time.Millisecond})

	_, ok, err := src.TryReadByte()
	require.NoError(t, err)
	assert.False(t, ok, "chunk must be gated while its delay runs")

	deadline := time.Now().Add(2 * time.Second)
	for {
		b, ok, err := src.TryReadByte()
		require.NoError(t, err)
		if ok {
			assert.Equal(t, byte('x'), b)
			break
		}
		require.True(t, time.Now().Before(deadline))
		time.Sleep(time.Millisecond)
	}
}

func TestSource_RecordsWrites(t *testing.T) {
	src := NewSource()
	require.NoError(t, src.Write([]byte("one")))
	require.NoError(t, src.Write([]byte("two")))

	assert.Equal(t, [][]byte{[]byte("one"), []byte("two")}, src.Writes())
	assert.Equal(t, []byte("onetwo"), src.Written())
}

func TestSource_WriteErr(t *testing.T) {
	src := NewSource()
	src.WriteErr = assert.AnError
	assert.ErrorIs(t, src.Write([]byte("x")), assert.AnError)
	assert.Empty(t, src.Writes())
}

func TestSource_ReadErrAfterExhaustion(t *testing.T) {
	src := NewSource(Chunk{Data: []byte("z")})
	src.ReadErr = assert.AnError

	b, ok, err := src.TryReadByte()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, byte('z'), b)

	_, _, err = src.TryReadByte()
	assert.ErrorIs(t, err, assert.AnError)
}
