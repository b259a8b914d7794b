// Package sql stores snapshots in SQLite or PostgreSQL through GORM. One
// row per device holds the encoded snapshot; its bad-block records are
// also written to their own table so they can be queried directly.
package sql

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marmos91/flashwear/pkg/snapshot"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

// Driver selects the database.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Database     string `mapstructure:"database"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// DSN returns the libpq-style connection string.
func (c PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Host, c.Port, c.User, c.Password, c.Database)
	if c.SSLMode != "" {
		dsn += " sslmode=" + c.SSLMode
	}
	return dsn
}

// Config configures a SQL store.
type Config struct {
	Driver   Driver         `mapstructure:"driver" validate:"omitempty,oneof=sqlite postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`

	// Device keys the row, so several engines can share one database.
	Device string `mapstructure:"device"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.Device == "" {
		c.Device = "default"
	}
	if c.Driver == DriverPostgres {
		if c.Postgres.Port == 0 {
			c.Postgres.Port = 5432
		}
		if c.Postgres.SSLMode == "" {
			c.Postgres.SSLMode = "disable"
		}
		if c.Postgres.MaxOpenConns == 0 {
			c.Postgres.MaxOpenConns = 10
		}
		if c.Postgres.MaxIdleConns == 0 {
			c.Postgres.MaxIdleConns = 2
		}
	}
}

// Validate checks the fields required by the selected driver.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSQLite:
		if c.SQLite.Path == "" {
			return errors.New("sqlite path is required")
		}
	case DriverPostgres:
		if c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "" {
			return errors.New("postgres host, database and user are required")
		}
	default:
		return fmt.Errorf("unsupported sql driver: %q", c.Driver)
	}
	return nil
}

type snapshotRow struct {
	Device     string `gorm:"primaryKey;size:128"`
	Version    uint32
	TakenAt    time.Time
	BlockCount int
	BadCount   int
	Payload    []byte `gorm:"not null"`
	UpdatedAt  time.Time
}

func (snapshotRow) TableName() string { return "flashwear_snapshots" }

type badBlockRow struct {
	Device     string `gorm:"primaryKey;size:128"`
	BlockID    uint32 `gorm:"primaryKey;autoIncrement:false"`
	Reason     string `gorm:"size:255"`
	DetectedAt time.Time
}

func (badBlockRow) TableName() string { return "flashwear_bad_blocks" }

type Store struct {
	db     *gorm.DB
	device string

	mu     sync.RWMutex
	closed bool
}

// Open connects and migrates the schema.
func Open(cfg Config) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sql snapshot configuration: %w", err)
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dialector = sqlite.Open(cfg.SQLite.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	case DriverPostgres:
		dialector = postgres.Open(cfg.Postgres.DSN())
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if cfg.Driver == DriverPostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	}

	if err := db.AutoMigrate(&snapshotRow{}, &badBlockRow{}); err != nil {
		return nil, fmt.Errorf("migrate snapshot schema: %w", err)
	}
	return &Store{db: db, device: cfg.Device}, nil
}

func (s *Store) Save(ctx context.Context, snap *wearlevel.Snapshot) error {
	data, err := snapshot.Encode(snap)
	if err != nil {
		return err
	}

	// One writer at a time keeps SQLite from returning SQLITE_BUSY.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return snapshot.ErrStoreClosed
	}

	row := snapshotRow{
		Device:     s.device,
		Version:    snap.Version,
		TakenAt:    snap.TakenAt,
		BlockCount: len(snap.Blocks),
		BadCount:   len(snap.BadBlocks),
		Payload:    data,
	}
	bad := make([]badBlockRow, len(snap.BadBlocks))
	for i, r := range snap.BadBlocks {
		bad[i] = badBlockRow{Device: s.device, BlockID: r.BlockID, Reason: r.Reason, DetectedAt: r.DetectedAt}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("upsert snapshot: %w", err)
		}
		if err := tx.Where("device = ?", s.device).Delete(&badBlockRow{}).Error; err != nil {
			return fmt.Errorf("clear bad blocks: %w", err)
		}
		if len(bad) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(bad, 500).Error; err != nil {
			return fmt.Errorf("insert bad blocks: %w", err)
		}
		return nil
	})
}

func (s *Store) Load(ctx context.Context) (*wearlevel.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, snapshot.ErrStoreClosed
	}

	var row snapshotRow
	err := s.db.WithContext(ctx).Where("device = ?", s.device).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, snapshot.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snapshot.Decode(row.Payload)
}

// BadBlocks returns the bad-block records of the stored snapshot, ordered
// by block id.
func (s *Store) BadBlocks(ctx context.Context) ([]wearlevel.BadBlockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, snapshot.ErrStoreClosed
	}

	var rows []badBlockRow
	if err := s.db.WithContext(ctx).Where("device = ?", s.device).Order("block_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list bad blocks: %w", err)
	}
	out := make([]wearlevel.BadBlockRecord, len(rows))
	for i, r := range rows {
		out[i] = wearlevel.BadBlockRecord{BlockID: r.BlockID, Reason: r.Reason, DetectedAt: r.DetectedAt.UTC()}
	}
	return out, nil
}

func (s *Store) Healthcheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return snapshot.ErrStoreClosed
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get underlying database: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get underlying database: %w", err)
	}
	return sqlDB.Close()
}

var _ snapshot.Store = (*Store)(nil)
