package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/flashwear/pkg/device/file"
	"github.com/marmos91/flashwear/pkg/device/memory"
	"github.com/marmos91/flashwear/pkg/journal"
	"github.com/marmos91/flashwear/pkg/snapshot"
	snapbadger "github.com/marmos91/flashwear/pkg/snapshot/badger"
	snapfile "github.com/marmos91/flashwear/pkg/snapshot/file"
	snapmemory "github.com/marmos91/flashwear/pkg/snapshot/memory"
	snaps3 "github.com/marmos91/flashwear/pkg/snapshot/s3"
	snapsql "github.com/marmos91/flashwear/pkg/snapshot/sql"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

// CreateDevice opens the configured flash device. File devices must be
// closed by the caller (they implement io.Closer).
func CreateDevice(cfg DeviceConfig) (wearlevel.Device, error) {
	switch cfg.Type {
	case "memory", "":
		dev, err := createMemoryDevice(cfg)
		if err != nil {
			return nil, err
		}
		return dev, nil
	case "file":
		dev, err := file.Open(cfg.Path, cfg.BlockCount, cfg.BlockSize.Int())
		if err != nil {
			return nil, fmt.Errorf("failed to open device image: %w", err)
		}
		return dev, nil
	default:
		return nil, fmt.Errorf("unknown device type: %q", cfg.Type)
	}
}

func createMemoryDevice(cfg DeviceConfig) (*memory.Device, error) {
	var opts []memory.Option
	if cfg.Endurance > 0 {
		opts = append(opts, memory.WithEndurance(cfg.Endurance))
	}
	dev := memory.New(cfg.BlockCount, cfg.BlockSize.Int(), opts...)

	for _, f := range cfg.Faults {
		fault, err := parseFault(f.Ops)
		if err != nil {
			return nil, err
		}
		if err := dev.Inject(f.Block, fault); err != nil {
			return nil, fmt.Errorf("inject fault on block %d: %w", f.Block, err)
		}
	}
	return dev, nil
}

func parseFault(ops []string) (memory.Fault, error) {
	var fault memory.Fault
	for _, op := range ops {
		switch op {
		case "erase":
			fault |= memory.FailErase
		case "program":
			fault |= memory.FailProgram
		case "read":
			fault |= memory.FailRead
		case "corrupt":
			fault |= memory.CorruptRead
		default:
			return 0, fmt.Errorf("unknown fault operation: %q", op)
		}
	}
	return fault, nil
}

// CreateJournal opens the bad-block journal, or returns a NullJournal when
// it is disabled.
func CreateJournal(cfg JournalConfig) (journal.Journal, error) {
	if !cfg.Enabled {
		return journal.NullJournal{}, nil
	}
	j, err := journal.Open(cfg.Dir,
		journal.WithInitialSize(cfg.InitialSize.Uint64()),
		journal.WithSyncOnAppend(cfg.SyncOnAppend),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return j, nil
}

// CreateSnapshotStore creates the configured snapshot store. The section
// for the selected type is decoded with mapstructure.
func CreateSnapshotStore(ctx context.Context, cfg SnapshotConfig) (snapshot.Store, error) {
	switch cfg.Type {
	case snapshot.TypeMemory:
		return snapmemory.New(), nil
	case snapshot.TypeFile, "":
		return createFileSnapshotStore(cfg)
	case snapshot.TypeBadger:
		return createBadgerSnapshotStore(cfg)
	case snapshot.TypeSQL:
		return createSQLSnapshotStore(cfg)
	case snapshot.TypeS3:
		return createS3SnapshotStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown snapshot store type: %q", cfg.Type)
	}
}

func decodeSection(section map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       configDecodeHooks(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(section)
}

func createFileSnapshotStore(cfg SnapshotConfig) (snapshot.Store, error) {
	var fileCfg snapfile.Config
	if err := decodeSection(cfg.File, &fileCfg); err != nil {
		return nil, fmt.Errorf("invalid file snapshot config: %w", err)
	}
	return snapfile.New(fileCfg)
}

func createBadgerSnapshotStore(cfg SnapshotConfig) (snapshot.Store, error) {
	var badgerCfg snapbadger.Config
	if err := decodeSection(cfg.Badger, &badgerCfg); err != nil {
		return nil, fmt.Errorf("invalid badger snapshot config: %w", err)
	}
	store, err := snapbadger.Open(badgerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return store, nil
}

func createSQLSnapshotStore(cfg SnapshotConfig) (snapshot.Store, error) {
	var sqlCfg snapsql.Config
	if err := decodeSection(cfg.SQL, &sqlCfg); err != nil {
		return nil, fmt.Errorf("invalid sql snapshot config: %w", err)
	}
	store, err := snapsql.Open(sqlCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}
	return store, nil
}

func createS3SnapshotStore(ctx context.Context, cfg SnapshotConfig) (snapshot.Store, error) {
	var s3Cfg snaps3.Config
	if err := decodeSection(cfg.S3, &s3Cfg); err != nil {
		return nil, fmt.Errorf("invalid s3 snapshot config: %w", err)
	}
	store, err := snaps3.NewFromConfig(ctx, s3Cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 snapshot store: %w", err)
	}
	return store, nil
}
