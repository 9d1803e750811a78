package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"marlin/internal/store"
	storemodel "marlin/internal/store/model"
)

type tradeModel = storemodel.TradeModel
type positionModel = storemodel.PositionModel
type riskStateModel = storemodel.RiskStateModel

// riskStateRowID pins the risk state to a single row.
const riskStateRowID = 1

// GormStore implements store.Store on top of Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

var _ store.Store = (*GormStore)(nil)

// NewGormStore opens (or creates) the SQLite database at path and runs
// migrations.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path is required")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&tradeModel{},
		&positionModel{},
		&riskStateModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of read parallelism while
	// keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB exposes the underlying *sql.DB for shared connections.
func (s *GormStore) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	return s.db.DB()
}

// --------------------------- Trades ------------------------------------

// AppendTrade inserts a trade. A record with the same trade_id already
// present leaves the table untouched; trades are never updated.
func (s *GormStore) AppendTrade(ctx context.Context, rec store.TradeRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if strings.TrimSpace(rec.TradeID) == "" {
		return fmt.Errorf("trade_id is required")
	}
	model := newTradeModel(rec)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "trade_id"}},
			DoNothing: true,
		}).
		Create(&model).Error
}

func (s *GormStore) HasTrade(ctx context.Context, tradeID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("gorm store not initialized")
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&tradeModel{}).
		Where("trade_id = ?", strings.TrimSpace(tradeID)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListTrades returns trades newest first.
func (s *GormStore) ListTrades(ctx context.Context, limit, offset int) ([]store.TradeRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	var models []tradeModel
	if err := s.db.WithContext(ctx).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.TradeRecord, 0, len(models))
	for _, m := range models {
		out = append(out, tradeModelToRecord(m))
	}
	return out, nil
}

func (s *GormStore) CountTrades(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("gorm store not initialized")
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&tradeModel{}).Count(&total).Error; err != nil {
		return 0, err
	}
	return int(total), nil
}

// --------------------------- Positions ---------------------------------

func (s *GormStore) UpsertPosition(ctx context.Context, rec store.PositionRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	symbol := strings.ToUpper(strings.TrimSpace(rec.Symbol))
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	model := positionModel{
		Symbol:        symbol,
		Quantity:      rec.Quantity,
		AverageCost:   rec.AverageCost,
		UpdatedAtUnix: rec.UpdatedAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns([]string{"quantity", "average_cost", "updated_at"}),
		}).
		Create(&model).Error
}

func (s *GormStore) DeletePosition(ctx context.Context, symbol string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	return s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Delete(&positionModel{}).Error
}

func (s *GormStore) GetPosition(ctx context.Context, symbol string) (store.PositionRecord, bool, error) {
	if s == nil || s.db == nil {
		return store.PositionRecord{}, false, fmt.Errorf("gorm store not initialized")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	var model positionModel
	if err := s.db.WithContext(ctx).Where("symbol = ?", symbol).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.PositionRecord{}, false, nil
		}
		return store.PositionRecord{}, false, err
	}
	return positionModelToRecord(model), true, nil
}

func (s *GormStore) ListPositions(ctx context.Context) ([]store.PositionRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	var models []positionModel
	if err := s.db.WithContext(ctx).Order("symbol ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.PositionRecord, 0, len(models))
	for _, m := range models {
		out = append(out, positionModelToRecord(m))
	}
	return out, nil
}

// --------------------------- Risk State --------------------------------

func (s *GormStore) LoadRiskState(ctx context.Context) (store.RiskStateRecord, bool, error) {
	if s == nil || s.db == nil {
		return store.RiskStateRecord{}, false, fmt.Errorf("gorm store not initialized")
	}
	var model riskStateModel
	if err := s.db.WithContext(ctx).Where("id = ?", riskStateRowID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.RiskStateRecord{}, false, nil
		}
		return store.RiskStateRecord{}, false, err
	}
	rec := store.RiskStateRecord{
		EmergencyStop:     model.EmergencyStop != 0,
		EmergencyReason:   model.EmergencyReason,
		DailyPnL:          model.DailyPnL,
		DailyOpenEquity:   model.DailyOpenEquity,
		ConsecutiveLosses: model.ConsecutiveLosses,
		PeakEquity:        model.PeakEquity,
		UpdatedAt:         millisToTime(model.UpdatedAtUnix),
	}
	if model.DailyStartUnix > 0 {
		rec.DailyWindowStart = millisToTime(model.DailyStartUnix)
	}
	return rec, true, nil
}

func (s *GormStore) SaveRiskState(ctx context.Context, rec store.RiskStateRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	model := riskStateModel{
		ID:                riskStateRowID,
		EmergencyStop:     boolToInt(rec.EmergencyStop),
		EmergencyReason:   strings.TrimSpace(rec.EmergencyReason),
		DailyPnL:          rec.DailyPnL,
		DailyOpenEquity:   rec.DailyOpenEquity,
		DailyStartUnix:    timeToMillis(rec.DailyWindowStart),
		ConsecutiveLosses: rec.ConsecutiveLosses,
		PeakEquity:        rec.PeakEquity,
		UpdatedAtUnix:     rec.UpdatedAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"emergency_stop", "emergency_reason", "daily_pnl", "daily_open_equity",
				"daily_window_start", "consecutive_losses", "peak_equity", "updated_at",
			}),
		}).
		Create(&model).Error
}

// --------------------------- Model Helpers ------------------------------

func newTradeModel(rec store.TradeRecord) tradeModel {
	now := time.Now()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}
	var snapshot datatypes.JSON
	if len(rec.Snapshot) > 0 {
		data, _ := json.Marshal(rec.Snapshot)
		snapshot = datatypes.JSON(data)
	}
	return tradeModel{
		TradeID:       strings.TrimSpace(rec.TradeID),
		CorrelationID: strings.TrimSpace(rec.CorrelationID),
		Symbol:        strings.ToUpper(strings.TrimSpace(rec.Symbol)),
		Side:          strings.ToUpper(strings.TrimSpace(rec.Side)),
		Quantity:      rec.Quantity,
		Price:         rec.Price,
		Fee:           rec.Fee,
		RealizedPnL:   rec.RealizedPnL,
		Snapshot:      snapshot,
		Timestamp:     rec.Timestamp.UnixMilli(),
		CreatedAtUnix: now.UnixMilli(),
	}
}

func tradeModelToRecord(m tradeModel) store.TradeRecord {
	rec := store.TradeRecord{
		TradeID:       m.TradeID,
		CorrelationID: m.CorrelationID,
		Symbol:        m.Symbol,
		Side:          m.Side,
		Quantity:      m.Quantity,
		Price:         m.Price,
		Fee:           m.Fee,
		RealizedPnL:   m.RealizedPnL,
		Timestamp:     millisToTime(m.Timestamp),
	}
	if len(m.Snapshot) > 0 {
		_ = json.Unmarshal(m.Snapshot, &rec.Snapshot)
	}
	return rec
}

func positionModelToRecord(m positionModel) store.PositionRecord {
	return store.PositionRecord{
		Symbol:      m.Symbol,
		Quantity:    m.Quantity,
		AverageCost: m.AverageCost,
		UpdatedAt:   millisToTime(m.UpdatedAtUnix),
	}
}

// --------------------------- Helper Functions ---------------------------

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func timeToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func millisToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}

func ensureDir(path string) error {
	dir := filepathDir(path)
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func filepathDir(path string) string {
	last := strings.LastIndex(path, "/")
	if last == -1 {
		last = strings.LastIndex(path, "\\")
	}
	if last == -1 {
		return ""
	}
	return path[:last]
}
