package database

import (
	"time"

	"github.com/nicedev/wekan-github-sync/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func Init(dbPath string) *gorm.DB {
	dbFile := sqlite.Open(dbPath)
	db, err := gorm.Open(dbFile, &gorm.Config{})
	if err != nil {
		zap.L().Fatal("Failed to connect to database", zap.Error(err))
	}

	if err := db.AutoMigrate(&models.Delivery{}); err != nil {
		zap.L().Fatal("Failed to migrate database", zap.Error(err))
	}

	zap.L().Info("Database initialised and migrated successfully")

	return db
}

// DeliveryStore records webhook delivery outcomes for the /stats endpoint.
type DeliveryStore struct {
	db *gorm.DB
}

func NewDeliveryStore(db *gorm.DB) *DeliveryStore {
	return &DeliveryStore{db: db}
}

func (s *DeliveryStore) Record(d models.Delivery) error {
	return s.db.Create(&d).Error
}

// Stats is the aggregate shape served by GET /stats.
type Stats struct {
	Total       int64            `json:"total"`
	ByEvent     map[string]int64 `json:"by_event"`
	ByOutcome   map[string]int64 `json:"by_outcome"`
	LastEventAt *time.Time       `json:"last_event_at"`
}

func (s *DeliveryStore) Stats() (Stats, error) {
	out := Stats{
		ByEvent:   map[string]int64{},
		ByOutcome: map[string]int64{},
	}

	if err := s.db.Model(&models.Delivery{}).Count(&out.Total).Error; err != nil {
		return Stats{}, err
	}

	type bucket struct {
		Key   string
		Count int64
	}

	var byEvent []bucket
	if err := s.db.Model(&models.Delivery{}).
		Select("event as key, count(*) as count").
		Group("event").Scan(&byEvent).Error; err != nil {
		return Stats{}, err
	}
	for _, b := range byEvent {
		out.ByEvent[b.Key] = b.Count
	}

	var byOutcome []bucket
	if err := s.db.Model(&models.Delivery{}).
		Select("outcome as key, count(*) as count").
		Group("outcome").Scan(&byOutcome).Error; err != nil {
		return Stats{}, err
	}
	for _, b := range byOutcome {
		out.ByOutcome[b.Key] = b.Count
	}

	var last models.Delivery
	err := s.db.Order("created_at desc").First(&last).Error
	switch {
	case err == nil:
		out.LastEventAt = &last.CreatedAt
	case err == gorm.ErrRecordNotFound:
		// no deliveries yet
	default:
		return Stats{}, err
	}

	return out, nil
}
