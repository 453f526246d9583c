package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"questweaver/server/internal/config"
	"questweaver/server/internal/state"
)

// AdventureRecord is the MySQL row shape: one row per adventure with
// the serialized state alongside indexable metadata.
type AdventureRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	Token     string `gorm:"size:128"`
	State     string `gorm:"type:longtext"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MySQLStore is the database-backed Store. Saves run in a transaction,
// which gives the same atomicity guarantee as the file store's rename.
type MySQLStore struct {
	db        *gorm.DB
	compactor Compactor
}

func NewMySQLStore(cfg config.MySQLConfig, compactor Compactor) (*MySQLStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(&AdventureRecord{}); err != nil {
		return nil, err
	}

	return &MySQLStore{db: db, compactor: compactor}, nil
}

func (s *MySQLStore) Load(ctx context.Context, adventureID string) (*state.AdventureState, error) {
	var record AdventureRecord
	err := s.db.WithContext(ctx).First(&record, "id = ?", adventureID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, adventureID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load adventure %s: %w", adventureID, err)
	}

	return decodeState([]byte(record.State), adventureID)
}

func (s *MySQLStore) Save(ctx context.Context, st *state.AdventureState) error {
	data, err := s.compactor.prepare(ctx, st)
	if err != nil {
		return err
	}

	record := AdventureRecord{
		ID:        st.ID,
		Token:     st.Token,
		State:     string(data),
		CreatedAt: st.CreatedAt,
		UpdatedAt: time.Now().UTC(),
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&record).Error; err != nil {
			return fmt.Errorf("failed to save adventure %s: %w", st.ID, err)
		}
		return nil
	})
}

func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
