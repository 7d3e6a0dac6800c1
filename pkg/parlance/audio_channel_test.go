package parlance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioChannelPreservesOrder(t *testing.T) {
	c := newAudioChannel(8, 8, nil)
	for i := byte(0); i < 5; i++ {
		assert.False(t, c.Write([]byte{i}))
	}

	ctx := context.Background()
	for i := byte(0); i < 5; i++ {
		chunk, ok := c.Read(ctx)
		require.True(t, ok)
		assert.Equal(t, []byte{i}, chunk)
	}
}

func TestAudioChannelDropsOldestWhenFull(t *testing.T) {
	c := newAudioChannel(3, 3, nil)
	for i := byte(0); i < 3; i++ {
		assert.False(t, c.Write([]byte{i}))
	}
	// Full: the next write evicts chunk 0.
	assert.True(t, c.Write([]byte{3}))

	ctx := context.Background()
	var got []byte
	for i := 0; i < 3; i++ {
		chunk, ok := c.Read(ctx)
		require.True(t, ok)
		got = append(got, chunk[0])
	}
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestAudioChannelBackpressureWarning(t *testing.T) {
	var warnedDepth, warnedCap int
	warnings := 0
	c := newAudioChannel(4, 2, func(depth, capacity int) {
		warnings++
		warnedDepth, warnedCap = depth, capacity
	})

	c.Write([]byte{0})
	c.Write([]byte{1})
	assert.Zero(t, warnings)

	c.Write([]byte{2})
	assert.Equal(t, 1, warnings)
	assert.Equal(t, 2, warnedDepth)
	assert.Equal(t, 4, warnedCap)
}

func TestAudioChannelReadHonorsContext(t *testing.T) {
	c := newAudioChannel(4, 4, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	chunk, ok := c.Read(ctx)
	assert.Nil(t, chunk)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAudioChannelClose(t *testing.T) {
	c := newAudioChannel(4, 4, nil)
	c.Write([]byte{1})
	c.Close()
	c.Close() // idempotent

	ctx := context.Background()
	chunk, ok := c.Read(ctx)
	assert.True(t, ok)
	assert.Equal(t, []byte{1}, chunk)

	_, ok = c.Read(ctx)
	assert.False(t, ok)

	// Writes after close are discarded without panicking.
	assert.False(t, c.Write([]byte{2}))
}
