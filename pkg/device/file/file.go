package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrGeometry is returned when an existing image does not match the
// requested block count and size.
var ErrGeometry = errors.New("image geometry mismatch")

// Device stores every block at id*blockSize in a single image file.
// Erase writes 0xFF over the block; Program writes the data padded with
// 0xFF. Unlike a real NAND part it does not refuse to reprogram.
type Device struct {
	f         *os.File
	path      string
	blocks    int
	blockSize int
	erased    []byte
}

// Open opens or creates the image at path. A new image is sized to hold
// blocks*blockSize bytes; an existing one must have exactly that size.
func Open(path string, blocks, blockSize int) (*Device, error) {
	if blocks <= 0 || blockSize <= 0 {
		return nil, fmt.Errorf("invalid geometry: %d blocks of %d bytes", blocks, blockSize)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create image directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}

	want := int64(blocks) * int64(blockSize)
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat image: %w", err)
	}
	switch info.Size() {
	case want:
	case 0:
		if err := f.Truncate(want); err != nil {
			f.Close()
			return nil, fmt.Errorf("size image: %w", err)
		}
	default:
		f.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrGeometry, path, info.Size(), want)
	}

	return &Device{
		f:         f,
		path:      path,
		blocks:    blocks,
		blockSize: blockSize,
		erased:    bytes.Repeat([]byte{0xFF}, blockSize),
	}, nil
}

func (d *Device) Path() string    { return d.path }
func (d *Device) BlockCount() int { return d.blocks }
func (d *Device) BlockSize() int  { return d.blockSize }

func (d *Device) offset(id uint32) (int64, error) {
	if int64(id) >= int64(d.blocks) {
		return 0, fmt.Errorf("block %d out of range (%d blocks)", id, d.blocks)
	}
	return int64(id) * int64(d.blockSize), nil
}

func (d *Device) Erase(ctx context.Context, id uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	off, err := d.offset(id)
	if err != nil {
		return err
	}
	_, err = d.f.WriteAt(d.erased, off)
	return err
}

func (d *Device) Program(ctx context.Context, id uint32, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(data) > d.blockSize {
		return fmt.Errorf("data of %d bytes exceeds block size %d", len(data), d.blockSize)
	}
	off, err := d.offset(id)
	if err != nil {
		return err
	}
	buf := make([]byte, d.blockSize)
	copy(buf, data)
	copy(buf[len(data):], d.erased)
	_, err = d.f.WriteAt(buf, off)
	return err
}

func (d *Device) Read(ctx context.Context, id uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	off, err := d.offset(id)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, d.blockSize)
	if _, err := d.f.ReadAt(buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

// Sync flushes the image to stable storage.
func (d *Device) Sync() error { return d.f.Sync() }

// Close syncs and closes the image.
func (d *Device) Close() error {
	if err := d.f.Sync(); err != nil {
		d.f.Close()
		return err
	}
	return d.f.Close()
}
