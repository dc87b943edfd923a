package endian

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEngines(t *testing.T) {
	require.Equal(t, binary.LittleEndian, GetLittleEndianEngine())
	require.Equal(t, binary.BigEndian, GetBigEndianEngine())

	buf := GetLittleEndianEngine().AppendUint32(nil, 0x01020304)
	require.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, buf)
}

func TestCursor(t *testing.T) {
	engine := GetLittleEndianEngine()

	var buf []byte
	buf = append(buf, 0x7)
	buf = engine.AppendUint16(buf, 0xBEEF)
	buf = engine.AppendUint32(buf, 0xCAFEBABE)
	buf = engine.AppendUint64(buf, 1<<40)
	buf = append(buf, "tail"...)

	t.Run("SequentialReads", func(t *testing.T) {
		c := NewCursor(engine, buf)
		require.Equal(t, uint8(7), c.Uint8())
		require.Equal(t, uint16(0xBEEF), c.Uint16())
		require.Equal(t, uint32(0xCAFEBABE), c.Uint32())
		require.Equal(t, uint64(1<<40), c.Uint64())
		require.Equal(t, 4, c.Remaining())
		require.Equal(t, []byte("tail"), c.Bytes(4))
		require.NoError(t, c.Err())
		require.Equal(t, len(buf), c.Pos())
	})

	t.Run("ShortBufferIsSticky", func(t *testing.T) {
		c := NewCursor(engine, buf[:5])
		c.Skip(1)
		require.Equal(t, uint16(0xBEEF), c.Uint16())
		require.Zero(t, c.Uint32())
		require.ErrorIs(t, c.Err(), ErrShortBuffer)
		require.Zero(t, c.Uint8())
		require.Nil(t, c.Bytes(1))
	})

	t.Run("NegativeLength", func(t *testing.T) {
		c := NewCursor(engine, buf)
		require.Nil(t, c.Bytes(-1))
		require.ErrorIs(t, c.Err(), ErrShortBuffer)
	})

	t.Run("SubsliceSharesMemory", func(t *testing.T) {
		c := NewCursor(engine, buf)
		c.Skip(15)
		tail := c.Bytes(4)
		require.Same(t, &buf[15], &tail[0])
	})
}
