package stockdb

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Stock is one row of the code lookup table used by the search box.
type Stock struct {
	Code string `gorm:"primaryKey" json:"code"`
	Name string `json:"name"`
}

// Store is the local stock lookup database.
type Store struct {
	db *gorm.DB
}

// NewStore opens (and migrates) the sqlite database at file.
func NewStore(file string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(file+"?cache=shared"), &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Silent),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open stock database %s: %w", file, err)
	}

	sql, err := db.DB()
	if err != nil {
		return nil, err
	}
	conns := runtime.NumCPU()
	sql.SetMaxOpenConns(conns)

	if err := db.AutoMigrate(&Stock{}); err != nil {
		return nil, fmt.Errorf("failed to migrate stock database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sql, err := s.db.DB()
	if err != nil {
		return err
	}
	return sql.Close()
}

// Seed upserts the given stocks, refreshing names of codes already present.
func (s *Store) Seed(stocks []Stock) error {
	if len(stocks) == 0 {
		return nil
	}
	return s.db.
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(stocks, 500).Error
}

// SeedFromJSON loads a `[{"code": ..., "name": ...}]` file into the table.
func (s *Store) SeedFromJSON(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read stock list %s: %w", path, err)
	}

	var stocks []Stock
	if err := json.Unmarshal(data, &stocks); err != nil {
		return 0, fmt.Errorf("invalid stock list %s: %w", path, err)
	}

	if err := s.Seed(stocks); err != nil {
		return 0, err
	}
	return len(stocks), nil
}

// Lookup returns the stock with the exact code.
func (s *Store) Lookup(code string) (*Stock, error) {
	var stock Stock
	result := s.db.First(&stock, "code = ?", code)
	if result.Error != nil {
		return nil, result.Error
	}
	return &stock, nil
}

// Search matches the query as a substring of either the code or the name.
func (s *Store) Search(query string, limit int) ([]Stock, error) {
	if limit <= 0 {
		limit = 20
	}
	var stocks []Stock
	pattern := "%" + query + "%"
	result := s.db.
		Where("code LIKE ? OR name LIKE ?", pattern, pattern).
		Order("code").
		Limit(limit).
		Find(&stocks)
	if result.Error != nil {
		return nil, result.Error
	}
	return stocks, nil
}
