package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// sqliteItem is one row of the key/value table.
type sqliteItem struct {
	Key       string `gorm:"column:key;primaryKey"`
	Value     []byte `gorm:"column:value;not null"`
	UpdatedAt int64  `gorm:"column:updated_at;not null"`
}

func (sqliteItem) TableName() string { return "doccache_entries" }

// SQLite implements Store on a SQLite database through gorm.
type SQLite struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex // serialises quota check and commit across writers
	quota quota
}

// SQLiteOption configures a SQLite store.
type SQLiteOption func(*SQLite)

// WithSQLiteLogger sets the logger for the store.
func WithSQLiteLogger(l *slog.Logger) SQLiteOption {
	return func(s *SQLite) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSQLiteQuota limits total stored bytes. Zero means unlimited.
func WithSQLiteQuota(n int64) SQLiteOption {
	return func(s *SQLite) {
		s.quota.limit = n
	}
}

// OpenSQLite opens the database at dsn, creating its directory and schema.
func OpenSQLite(ctx context.Context, dsn string, opts ...SQLiteOption) (*SQLite, error) {
	if err := ensureSQLiteDirectory(dsn); err != nil {
		return nil, err
	}

	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql handle: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY between
	// pooled connections.
	sqlDB.SetMaxOpenConns(1)

	s, err := NewSQLite(ctx, db, opts...)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	s.logger.Debug("opened sqlite store", "dsn", dsn)
	return s, nil
}

// NewSQLite uses an existing gorm handle, migrating the schema.
func NewSQLite(ctx context.Context, db *gorm.DB, opts ...SQLiteOption) (*SQLite, error) {
	s := &SQLite{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := db.WithContext(ctx).AutoMigrate(&sqliteItem{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	var totals struct {
		Used  int64
		Items int
	}
	err := db.WithContext(ctx).Model(&sqliteItem{}).
		Select("COALESCE(SUM(LENGTH(CAST(key AS BLOB)) + LENGTH(value)), 0) AS used, COUNT(*) AS items").
		Scan(&totals).Error
	if err != nil {
		return nil, fmt.Errorf("computing usage: %w", err)
	}
	s.quota.reset(totals.Used, totals.Items)
	return s, nil
}

func ensureSQLiteDirectory(dsn string) error {
	candidate := strings.TrimSpace(dsn)
	if candidate == "" || candidate == ":memory:" {
		return nil
	}
	candidate = strings.TrimPrefix(candidate, "file:")
	if idx := strings.Index(candidate, "?"); idx >= 0 {
		candidate = candidate[:idx]
	}
	dir := filepath.Dir(candidate)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating sqlite directory %q: %w", dir, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Get retrieves the value at key.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var row sqliteItem
	if err := s.db.WithContext(ctx).Where("key = ?", key).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying %s: %w", key, err)
	}
	return row.Value, nil
}

// Put upserts value at key, enforcing the quota.
func (s *SQLite) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newSize := itemSize(key, value)
	var (
		oldSize int64
		existed bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var old struct{ Size int64 }
		res := tx.Model(&sqliteItem{}).
			Select("LENGTH(CAST(key AS BLOB)) + LENGTH(value) AS size").
			Where("key = ?", key).
			Limit(1).
			Scan(&old)
		if res.Error != nil {
			return fmt.Errorf("querying %s: %w", key, res.Error)
		}
		if res.RowsAffected > 0 {
			oldSize, existed = old.Size, true
		}
		if !s.quota.fits(oldSize, newSize) {
			return ErrQuotaExceeded
		}

		row := sqliteItem{Key: key, Value: value, UpdatedAt: s.now().UnixNano()}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "key"}},
			DoUpdates: clause.Assignments(map[string]any{
				"value":      row.Value,
				"updated_at": row.UpdatedAt,
			}),
		}).Create(&row).Error
	})
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			return err
		}
		return fmt.Errorf("upserting %s: %w", key, err)
	}

	s.quota.commit(oldSize, newSize, existed)
	return nil
}

// Delete removes key.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64 = -1
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var old struct{ Size int64 }
		res := tx.Model(&sqliteItem{}).
			Select("LENGTH(CAST(key AS BLOB)) + LENGTH(value) AS size").
			Where("key = ?", key).
			Limit(1).
			Scan(&old)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		removed = old.Size
		return tx.Where("key = ?", key).Delete(&sqliteItem{}).Error
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	if removed >= 0 {
		s.quota.release(removed)
	}
	return nil
}

// List returns all keys with the given prefix in lexical order.
func (s *SQLite) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&sqliteItem{}).
		Where("substr(CAST(key AS BLOB), 1, ?) = CAST(? AS BLOB)", len(prefix), prefix).
		Order("key").
		Pluck("key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("listing %q: %w", prefix, err)
	}
	return keys, nil
}

// Usage returns the current quota usage.
func (s *SQLite) Usage(_ context.Context) (Usage, error) {
	return s.quota.usage(), nil
}

// Compile-time interface checks
var (
	_ Store         = (*SQLite)(nil)
	_ UsageReporter = (*SQLite)(nil)
)
