package bufpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamhub/livecore/internal/config"
)

func testConfig() config.BufferPoolConfig {
	return config.BufferPoolConfig{
		Classes:         []int{4096, 65536},
		MaxIdlePerClass: 2,
		MaxTotalBytes:   config.ByteSize(1 << 20),
	}
}

func TestPool_GetRoundsUpToClass(t *testing.T) {
	p := New(testConfig())
	buf := p.Get(100)
	require.Len(t, buf.B, 100)
	assert.Equal(t, 4096, cap(buf.B))
}

func TestPool_GetAboveAllClassesAllocatesDirect(t *testing.T) {
	p := New(testConfig())
	buf := p.Get(1 << 21)
	assert.Len(t, buf.B, 1<<21)
	p.Put(buf) // no-op, not pooled
}

func TestPool_PutThenGetReusesBuffer(t *testing.T) {
	p := New(testConfig())
	buf := p.Get(10)
	before := p.TotalBytes()
	p.Put(buf)
	assert.Less(t, p.TotalBytes(), before)

	buf2 := p.Get(10)
	assert.Equal(t, 4096, cap(buf2.B))
}

func TestPool_MaxIdleDropsExcessBuffers(t *testing.T) {
	p := New(testConfig())
	bufs := make([]*Buffer, 5)
	for i := range bufs {
		bufs[i] = p.Get(10)
	}
	for _, b := range bufs {
		p.Put(b)
	}
	// MaxIdlePerClass=2: at most 2 of the 5 released buffers stay pooled, the
	// rest are dropped for GC rather than handed back to the class.
	require.Equal(t, int64(2), p.classes[0].idle.Load())

	got := p.Get(10)
	assert.Equal(t, 4096, cap(got.B))
}

func TestPool_GetOnFreshClassDoesNotGoNegative(t *testing.T) {
	p := New(testConfig())
	p.Get(10)
	p.Get(10)
	assert.Equal(t, int64(0), p.classes[0].idle.Load(), "Get against a class with nothing checked in must leave idle at 0, not negative")
}
