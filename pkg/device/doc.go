// Package device holds the block device implementations the engine can run
// against: an in-memory NAND emulator with fault injection (memory) and a
// flat image file (file). Both satisfy wearlevel.Device.
package device
