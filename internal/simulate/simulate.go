// Package simulate drives a wear-leveling engine with a synthetic hot/cold
// write workload on an in-memory NAND device.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/marmos91/flashwear/internal/logger"
	"github.com/marmos91/flashwear/pkg/device/memory"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

// Config describes one simulation.
type Config struct {
	Policy    wearlevel.Policy
	Blocks    int
	BlockSize int

	// Writes is the number of page writes issued.
	Writes int

	// HotPages are rewritten HotRatio of the time. The remaining writes go
	// to ColdPages, which are all written once before the workload starts.
	HotPages  int
	ColdPages int
	HotRatio  float64

	// MaintainEvery runs a maintenance cycle after this many writes.
	// Zero never runs maintenance during the workload.
	MaintainEvery int

	// Tick is the simulated time that passes per write.
	Tick time.Duration

	// Endurance makes device erases fail past this count. Zero is unlimited.
	Endurance uint64

	Seed uint64

	// Buckets is the number of ranges in Result.Wear.
	Buckets int
}

// DefaultConfig is a 90/10 workload on 256 blocks.
func DefaultConfig() Config {
	p := wearlevel.DefaultPolicy()
	p.StaticIdleThreshold = 10 * time.Minute
	p.RelocateErasesThreshold = 50
	return Config{
		Policy:        p,
		Blocks:        256,
		BlockSize:     4096,
		Writes:        20_000,
		HotPages:      16,
		ColdPages:     64,
		HotRatio:      0.9,
		MaintainEvery: 500,
		Tick:          time.Second,
		Seed:          1,
		Buckets:       10,
	}
}

// Validate checks the workload fits the device.
func (c Config) Validate() error {
	switch {
	case c.Blocks <= 0:
		return errors.New("blocks must be positive")
	case c.BlockSize <= 0:
		return errors.New("block size must be positive")
	case c.Writes < 0:
		return errors.New("writes must not be negative")
	case c.HotPages <= 0:
		return errors.New("at least one hot page is required")
	case c.ColdPages < 0:
		return errors.New("cold pages must not be negative")
	case c.HotRatio < 0 || c.HotRatio > 1:
		return fmt.Errorf("hot ratio must be within [0,1], got %v", c.HotRatio)
	case c.HotPages+c.ColdPages >= c.Blocks:
		return fmt.Errorf("%d pages leave no spare blocks on a %d block device", c.HotPages+c.ColdPages, c.Blocks)
	case c.MaintainEvery < 0:
		return errors.New("maintain interval must not be negative")
	}
	return c.Policy.Validate()
}

// Result summarizes a finished simulation.
type Result struct {
	Writes          int   `json:"writes"`
	DeviceFailures  int   `json:"device_failures"`
	MaintenanceRuns int   `json:"maintenance_runs"`
	Rebalanced      int   `json:"rebalanced"`
	Relocated       int   `json:"relocated"`
	Classified      int   `json:"classified"`
	Exhausted       bool  `json:"exhausted"`
	SimulatedTime   int64 `json:"simulated_seconds"`

	Stats     wearlevel.Stats            `json:"stats"`
	Device    memory.Counters            `json:"device"`
	BadBlocks []wearlevel.BadBlockRecord `json:"bad_blocks"`
	Wear      []wearlevel.WearBucket     `json:"wear"`
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// page is the block currently holding a logical page.
type page struct {
	id      uint32
	gen     uint64
	written bool
}

type simulator struct {
	cfg    Config
	dev    *memory.Device
	engine *wearlevel.Engine
	clock  *clock
	rng    *rand.Rand
	pages  []page
	res    *Result
}

// Run executes the workload. Cancellation stops it between writes and
// returns the partial result together with the context error.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []memory.Option
	if cfg.Endurance > 0 {
		opts = append(opts, memory.WithEndurance(cfg.Endurance))
	}
	dev := memory.New(cfg.Blocks, cfg.BlockSize, opts...)
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	start := clk.Now()

	engine, err := wearlevel.New(cfg.Policy, cfg.Blocks, dev,
		wearlevel.WithClock(clk.Now),
		wearlevel.WithBlockSize(cfg.BlockSize))
	if err != nil {
		return nil, err
	}

	s := &simulator{
		cfg:    cfg,
		dev:    dev,
		engine: engine,
		clock:  clk,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		pages:  make([]page, cfg.HotPages+cfg.ColdPages),
		res:    &Result{},
	}

	runErr := s.run(ctx)

	s.res.SimulatedTime = int64(clk.Now().Sub(start) / time.Second)
	s.res.Stats = engine.Stats()
	s.res.Device = dev.Counters()
	s.res.BadBlocks = engine.ExportBadBlocks()
	s.res.Wear = wearlevel.EraseHistogram(engine.Blocks(), cfg.Buckets)

	logger.Debug("Simulation finished",
		"writes", s.res.Writes,
		"maintenance_runs", s.res.MaintenanceRuns,
		logger.BadCount(s.res.Stats.Bad),
		"exhausted", s.res.Exhausted)
	return s.res, runErr
}

func (s *simulator) run(ctx context.Context) error {
	cold := s.pages[s.cfg.HotPages:]
	for i := range cold {
		if err := s.write(ctx, s.cfg.HotPages+i); err != nil {
			return s.stop(err)
		}
	}

	// Let the cold data age past the idle threshold so that it is pinned
	// as Static before the hot workload starts.
	if len(cold) > 0 {
		s.clock.advance(s.cfg.Policy.StaticIdleThreshold + s.cfg.Tick)
		if err := s.maintain(ctx); err != nil {
			return err
		}
	}

	for n := 0; n < s.cfg.Writes; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		idx := s.rng.IntN(s.cfg.HotPages)
		if s.cfg.ColdPages > 0 && s.rng.Float64() >= s.cfg.HotRatio {
			idx = s.cfg.HotPages + s.rng.IntN(s.cfg.ColdPages)
		}
		if err := s.write(ctx, idx); err != nil {
			return s.stop(err)
		}
		s.clock.advance(s.cfg.Tick)

		if s.cfg.MaintainEvery > 0 && (n+1)%s.cfg.MaintainEvery == 0 {
			if err := s.maintain(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// stop ends the workload cleanly when the device runs out of blocks.
func (s *simulator) stop(err error) error {
	if errors.Is(err, wearlevel.ErrAllocationExhausted) {
		s.res.Exhausted = true
		return nil
	}
	return err
}

// write stores page idx on a freshly allocated block and discards the
// block that held its previous version. Device failures retire the block
// and retry on another one.
func (s *simulator) write(ctx context.Context, idx int) error {
	data := fmt.Appendf(nil, "page-%d@%d", idx, s.res.Writes)

	for {
		h, err := s.engine.Allocate(ctx, len(data))
		if err != nil {
			return err
		}

		if reason, failed := s.program(ctx, h.ID, data); failed {
			s.res.DeviceFailures++
			if _, err := s.engine.MarkBad(h.ID, reason); err != nil {
				return err
			}
			continue
		}

		if err := s.engine.Complete(h); err != nil {
			return err
		}
		s.discard(s.pages[idx])

		b, err := s.engine.Block(h.ID)
		if err != nil {
			return err
		}
		s.pages[idx] = page{id: h.ID, gen: b.Generation, written: true}
		s.res.Writes++
		return nil
	}
}

func (s *simulator) program(ctx context.Context, id uint32, data []byte) (string, bool) {
	if err := s.dev.Erase(ctx, id); err != nil {
		return wearlevel.ReasonEraseFailed, true
	}
	if err := s.dev.Program(ctx, id, data); err != nil {
		return wearlevel.ReasonProgramFailed, true
	}
	return "", false
}

// discard drops the previous version of a page unless its block was
// reused, relocated or retired since.
func (s *simulator) discard(p page) {
	if !p.written {
		return
	}
	b, err := s.engine.Block(p.id)
	if err != nil || b.Generation != p.gen || !b.HoldsData {
		return
	}
	if b.State != wearlevel.StateFree && b.State != wearlevel.StateStatic {
		return
	}
	if err := s.engine.Discard(p.id); err != nil {
		logger.Debug("Discard skipped", logger.BlockID(p.id), logger.Err(err))
	}
}

func (s *simulator) maintain(ctx context.Context) error {
	rep, err := s.engine.Maintain(ctx, s.clock.Now())
	if err != nil {
		return err
	}
	s.res.MaintenanceRuns++
	s.res.Rebalanced += rep.Rebalanced
	s.res.Relocated += rep.Relocated
	s.res.Classified += rep.Classified
	return nil
}
