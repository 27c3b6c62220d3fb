package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/verdant-edge/internal/platform/logger"
)

// Entry is the row backing one key. Values are always JSON so the column can
// be jsonb on postgres.
type Entry struct {
	Key       string         `gorm:"column:key;primaryKey;size:255"`
	Value     datatypes.JSON `gorm:"column:value;not null"`
	UpdatedAt time.Time      `gorm:"column:updated_at;not null;index"`
}

func (Entry) TableName() string { return "kv_entries" }

type gormStore struct {
	db  *gorm.DB
	log *logger.Logger
}

// OpenDB opens a sqlite or postgres database for the gorm store.
func OpenDB(driver, dsn string) (*gorm.DB, error) {
	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("kvstore: unsupported sql driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s: %w", driver, err)
	}
	return db, nil
}

func NewGorm(db *gorm.DB, baseLog *logger.Logger) (Store, error) {
	if db == nil {
		return nil, errors.New("kvstore: db required")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("kvstore: migrate: %w", err)
	}
	return &gormStore{db: db, log: baseLog.With("store", "GormKVStore")}, nil
}

func (s *gormStore) Get(ctx context.Context, key string) ([]byte, error) {
	var row Entry
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(row.Value), nil
}

func (s *gormStore) Set(ctx context.Context, key string, value []byte) error {
	row := Entry{Key: key, Value: datatypes.JSON(value), UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&row).Error
}

func (s *gormStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&Entry{}).Error
}
