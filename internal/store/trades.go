// Package store is the write-only trade history sink. The trading path
// never reads it back for decisions; it feeds the status surface and the
// daily summary.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"armada/internal/position"
)

// TradeModel is one realized close, full or partial.
type TradeModel struct {
	ID         uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	PositionID string         `gorm:"column:position_id;index" json:"position_id"`
	AccountID  string         `gorm:"column:account_id;index" json:"account_id"`
	Strategy   string         `gorm:"column:strategy" json:"strategy"`
	Symbol     string         `gorm:"column:symbol" json:"symbol"`
	Side       string         `gorm:"column:side" json:"side"`
	Size       float64        `gorm:"column:size" json:"size"`
	EntryPrice float64        `gorm:"column:entry_price" json:"entry_price"`
	ExitPrice  float64        `gorm:"column:exit_price" json:"exit_price"`
	PnL        float64        `gorm:"column:pnl" json:"pnl"`
	Reason     string         `gorm:"column:reason" json:"reason"`
	Partial    bool           `gorm:"column:partial" json:"partial"`
	OpenedAt   time.Time      `gorm:"column:opened_at" json:"opened_at"`
	ClosedAt   time.Time      `gorm:"column:closed_at;index" json:"closed_at"`
	Details    datatypes.JSON `gorm:"column:details;type:TEXT" json:"details,omitempty"`
	CreatedAt  time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (TradeModel) TableName() string { return "trades" }

// TradeStore persists trade closes to SQLite via gorm.
type TradeStore struct {
	db *gorm.DB
}

func NewTradeStore(path string) (*TradeStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("trade store: path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&TradeModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little parallelism for HTTP reads, low lock contention
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &TradeStore{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// RecordClose implements position.Recorder.
func (s *TradeStore) RecordClose(rec position.TradeClose) error {
	details, err := json.Marshal(map[string]any{
		"client_position_id": rec.PositionID,
		"partial":            rec.Partial,
	})
	if err != nil {
		details = nil
	}
	row := TradeModel{
		PositionID: rec.PositionID,
		AccountID:  rec.AccountID,
		Strategy:   rec.Strategy,
		Symbol:     rec.Symbol,
		Side:       rec.Side,
		Size:       rec.Size,
		EntryPrice: rec.EntryPrice,
		ExitPrice:  rec.ExitPrice,
		PnL:        rec.PnL,
		Reason:     rec.Reason,
		Partial:    rec.Partial,
		OpenedAt:   rec.OpenedAt,
		ClosedAt:   rec.ClosedAt,
		Details:    datatypes.JSON(details),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("trade store: insert failed: %w", err)
	}
	return nil
}

// RecentTrades returns the latest closes, newest first.
func (s *TradeStore) RecentTrades(limit int) ([]TradeModel, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []TradeModel
	if err := s.db.Order("closed_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("trade store: query failed: %w", err)
	}
	return rows, nil
}

// AccountSummary is one account's realized results for a day window.
type AccountSummary struct {
	AccountID string  `json:"account_id"`
	Trades    int     `json:"trades"`
	PnL       float64 `json:"pnl"`
}

// DailySummary aggregates realized P&L per account for the trading day
// starting at dayStart in the broker's timezone.
func (s *TradeStore) DailySummary(dayStart time.Time) ([]AccountSummary, error) {
	dayEnd := dayStart.Add(24 * time.Hour)
	var out []AccountSummary
	err := s.db.Model(&TradeModel{}).
		Select("account_id, COUNT(*) AS trades, SUM(pnl) AS pnl").
		Where("closed_at >= ? AND closed_at < ?", dayStart, dayEnd).
		Group("account_id").
		Order("account_id").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("trade store: daily summary failed: %w", err)
	}
	return out, nil
}

// RealizedToday returns one account's realized P&L since dayStart.
func (s *TradeStore) RealizedToday(accountID string, dayStart time.Time) (float64, error) {
	var total *float64
	err := s.db.Model(&TradeModel{}).
		Select("SUM(pnl)").
		Where("account_id = ? AND closed_at >= ? AND closed_at < ?", accountID, dayStart, dayStart.Add(24*time.Hour)).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("trade store: realized query failed: %w", err)
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

func (s *TradeStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
