package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

const erased = 0xFF

var (
	// ErrOutOfRange is returned for block ids beyond the device.
	ErrOutOfRange = errors.New("block out of range")

	// ErrNotErased is returned when programming a block that was not
	// erased since its last program.
	ErrNotErased = errors.New("block not erased")

	// ErrTooLarge is returned when the data exceeds the block size.
	ErrTooLarge = errors.New("data exceeds block size")

	// ErrInjected is returned by operations failed through Inject.
	ErrInjected = errors.New("injected fault")

	// ErrWornOut is returned by Erase once a block exceeded its endurance.
	ErrWornOut = errors.New("block worn out")
)

// Fault selects which operations fail on a block.
type Fault uint8

const (
	FailErase Fault = 1 << iota
	FailProgram
	FailRead
	// CorruptRead flips bits in the returned data instead of failing.
	CorruptRead
)

// Counters are cumulative operation counts.
type Counters struct {
	Erases   uint64 `json:"erases"`
	Programs uint64 `json:"programs"`
	Reads    uint64 `json:"reads"`
	Failures uint64 `json:"failures"`
}

// Option configures a Device.
type Option func(*Device)

// WithEndurance makes Erase fail permanently once a block has been erased
// more than n times. Zero means unlimited.
func WithEndurance(n uint64) Option {
	return func(d *Device) { d.endurance = n }
}

type block struct {
	data       []byte // nil while erased
	programmed bool
	erases     uint64
	faults     Fault
}

// Device emulates a NAND chip in memory: erase sets every byte to 0xFF and
// a block can be programmed once per erase.
type Device struct {
	blockSize int
	endurance uint64

	mu     sync.Mutex
	blocks []block

	erases, programs, reads, failures atomic.Uint64
}

// New creates a device of n erased blocks.
func New(n, blockSize int, opts ...Option) *Device {
	d := &Device{blockSize: blockSize, blocks: make([]block, n)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Device) BlockCount() int { return len(d.blocks) }
func (d *Device) BlockSize() int  { return d.blockSize }

func (d *Device) get(id uint32) (*block, error) {
	if int64(id) >= int64(len(d.blocks)) {
		return nil, fmt.Errorf("%w: %d", ErrOutOfRange, id)
	}
	return &d.blocks[id], nil
}

func (d *Device) fail(err error) error {
	d.failures.Add(1)
	return err
}

// Erase resets the block to all 0xFF.
func (d *Device) Erase(ctx context.Context, id uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := d.get(id)
	if err != nil {
		return err
	}
	if b.faults&FailErase != 0 {
		return d.fail(fmt.Errorf("erase block %d: %w", id, ErrInjected))
	}
	if d.endurance > 0 && b.erases >= d.endurance {
		return d.fail(fmt.Errorf("erase block %d: %w", id, ErrWornOut))
	}

	b.erases++
	b.data = nil
	b.programmed = false
	d.erases.Add(1)
	return nil
}

// Program writes data to an erased block. Shorter data leaves the tail
// erased.
func (d *Device) Program(ctx context.Context, id uint32, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(data) > d.blockSize {
		return fmt.Errorf("%w: %d > %d", ErrTooLarge, len(data), d.blockSize)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := d.get(id)
	if err != nil {
		return err
	}
	if b.faults&FailProgram != 0 {
		return d.fail(fmt.Errorf("program block %d: %w", id, ErrInjected))
	}
	if b.programmed {
		return d.fail(fmt.Errorf("program block %d: %w", id, ErrNotErased))
	}

	buf := bytes.Repeat([]byte{erased}, d.blockSize)
	copy(buf, data)
	b.data = buf
	b.programmed = true
	d.programs.Add(1)
	return nil
}

// Read returns a copy of the whole block.
func (d *Device) Read(ctx context.Context, id uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := d.get(id)
	if err != nil {
		return nil, err
	}
	if b.faults&FailRead != 0 {
		return nil, d.fail(fmt.Errorf("read block %d: %w", id, ErrInjected))
	}
	d.reads.Add(1)

	var out []byte
	if b.data == nil {
		out = bytes.Repeat([]byte{erased}, d.blockSize)
	} else {
		out = append([]byte(nil), b.data...)
	}
	if b.faults&CorruptRead != 0 && len(out) > 0 {
		out[0] ^= 0x5A
	}
	return out, nil
}

// Inject adds faults to a block. They persist until Heal.
func (d *Device) Inject(id uint32, f Fault) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.get(id)
	if err != nil {
		return err
	}
	b.faults |= f
	return nil
}

// Heal clears every injected fault on a block.
func (d *Device) Heal(id uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.get(id)
	if err != nil {
		return err
	}
	b.faults = 0
	return nil
}

// EraseCount returns how many times the device erased a block.
func (d *Device) EraseCount(id uint32) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, err := d.get(id); err == nil {
		return b.erases
	}
	return 0
}

// Counters returns cumulative operation counts.
func (d *Device) Counters() Counters {
	return Counters{
		Erases:   d.erases.Load(),
		Programs: d.programs.Load(),
		Reads:    d.reads.Load(),
		Failures: d.failures.Load(),
	}
}
