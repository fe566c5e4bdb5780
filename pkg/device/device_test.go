package device

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T, opts Options) *Device {
	t.Helper()
	d := New(opts)
	t.Cleanup(d.Close)
	return d
}

func TestDevice_MemoryLimit(t *testing.T) {
	d := newTestDevice(t, Options{MemoryLimit: 1024})

	a, err := d.NewBuffer("a", 800)
	require.NoError(t, err)
	assert.Equal(t, int64(800), d.Allocated())

	_, err = d.NewBuffer("b", 300)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	d.Release(a)
	d.Release(a)
	assert.Equal(t, int64(0), d.Allocated())

	b, err := d.NewBuffer("b", 300)
	require.NoError(t, err)
	assert.Equal(t, 300, b.Size())
}

func TestDevice_ZeroSizeBuffer(t *testing.T) {
	d := newTestDevice(t, Options{})
	b, err := d.NewBuffer("empty", 0)
	require.NoError(t, err)
	assert.False(t, b.Released())
	assert.NoError(t, d.WriteBuffer(b, 0, nil))
}

func TestDevice_ReadWrite(t *testing.T) {
	d := newTestDevice(t, Options{})
	b, err := d.NewBuffer("data", 8)
	require.NoError(t, err)

	require.NoError(t, d.WriteBuffer(b, 2, []byte{1, 2, 3}))
	out := make([]byte, 8)
	require.NoError(t, d.ReadBuffer(b, 0, out))
	assert.Equal(t, []byte{0, 0, 1, 2, 3, 0, 0, 0}, out)

	assert.ErrorIs(t, d.WriteBuffer(b, 6, []byte{1, 2, 3}), ErrOutOfRange)

	c, err := d.NewBuffer("copy", 8)
	require.NoError(t, err)
	require.NoError(t, d.CopyBuffer(c, b))
	assert.Equal(t, out, c.Bytes())

	d.Release(b)
	assert.ErrorIs(t, d.ReadBuffer(b, 0, out), ErrBufferReleased)
}

func TestDevice_DispatchCoversEveryIndex(t *testing.T) {
	d := newTestDevice(t, Options{Workers: 4, WorkgroupSize: 7})

	const n = 1000
	hits := make([]int32, n)
	err := d.Dispatch("count", n, func(i int) {
		atomic.AddInt32(&hits[i], 1)
	})
	require.NoError(t, err)

	for i, h := range hits {
		if h != 1 {
			t.Fatalf("index %d ran %d times", i, h)
		}
	}
}

func TestDevice_DispatchRecoversPanics(t *testing.T) {
	d := newTestDevice(t, Options{Workers: 2, WorkgroupSize: 16})

	err := d.Dispatch("boom", 64, func(i int) {
		if i == 33 {
			panic("bad invocation")
		}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad invocation")

	// The queue stays usable after a failed dispatch
	assert.NoError(t, d.Dispatch("ok", 64, func(int) {}))
}

func TestDevice_Closed(t *testing.T) {
	d := New(Options{})
	d.Close()
	d.Close()

	_, err := d.NewBuffer("late", 4)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, d.Dispatch("late", 4, func(int) {}), ErrClosed)
}

func TestDevice_CloseDuringDispatch(t *testing.T) {
	for range 20 {
		d := New(Options{Workers: 2, WorkgroupSize: 4})

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- d.Dispatch("racing", 64, func(int) {})
			}()
		}
		d.Close()
		wg.Wait()
		close(errs)

		for err := range errs {
			if err != nil {
				assert.ErrorIs(t, err, ErrClosed)
			}
		}
	}
}

func TestDevice_Surface(t *testing.T) {
	shared := newTestDevice(t, Options{Capabilities: Capabilities{SharedSurfaces: true}})
	s, err := shared.NewSurface(4, 2, FormatRGBA16F)
	require.NoError(t, err)
	assert.Equal(t, 4*2*8, s.Buffer().Size())

	s.Acquire()
	s.Release(true)
	assert.Equal(t, uint64(1), s.Generation())

	plain := newTestDevice(t, Options{})
	_, err = plain.NewSurface(4, 2, FormatRGBA8)
	assert.Error(t, err)
}
