package wearlevel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/flashwear/pkg/device/memory"
)

const testBlockSize = 64

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.MaxEraseCount = 1_000
	p.RelocateErasesThreshold = 10
	p.StaticIdleThreshold = time.Hour
	p.WriteFrequencyThreshold = 3
	p.MaxBadBlockRatio = 0.5
	return p
}

type fixture struct {
	engine *Engine
	dev    *memory.Device
	clock  *fakeClock
}

func newFixture(t *testing.T, blocks int, opts ...Option) *fixture {
	t.Helper()
	dev := memory.New(blocks, testBlockSize)
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now), WithBlockSize(testBlockSize)}, opts...)
	e, err := New(testPolicy(), blocks, dev, opts...)
	require.NoError(t, err)
	return &fixture{engine: e, dev: dev, clock: clock}
}

// set overwrites a block record directly. Only for arranging test state.
func (f *fixture) set(b FlashBlock) {
	f.engine.table.load([]FlashBlock{b})
}

// program writes content to the device and records it as committed data.
func (f *fixture) program(t *testing.T, id uint32, content string, b FlashBlock) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.dev.Erase(ctx, id))
	require.NoError(t, f.dev.Program(ctx, id, []byte(content)))
	b.ID = id
	b.HoldsData = true
	f.set(b)
}

// checkConservation asserts that every block is counted exactly once.
func checkConservation(t *testing.T, e *Engine) {
	t.Helper()
	s := e.Stats()
	require.Equal(t, s.Total, s.Free+s.Allocated+s.Static+s.Moved+s.Bad, "stats: %+v", s)
}

// hookDevice wraps a device and runs a hook before every erase.
type hookDevice struct {
	Device
	erases  atomic.Int32
	onErase func(n int32)
}

func (d *hookDevice) Erase(ctx context.Context, id uint32) error {
	if d.onErase != nil {
		d.onErase(d.erases.Add(1))
	}
	return d.Device.Erase(ctx, id)
}
