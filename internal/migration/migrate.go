package migration

import (
	"fmt"

	"github.com/damoang/angple-contrib/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Models lists every table owned by this service
func Models() []interface{} {
	return []interface{}{
		&domain.Entity{},
		&domain.Genre{},
		&domain.Studio{},
		&domain.Contribution{},
		&domain.AuditLog{},
	}
}

// Run executes AutoMigrate and seeds reference data if empty.
func Run(db *gorm.DB) error {
	// 1. AutoMigrate - 테이블 없으면 생성, 있으면 컬럼 추가
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	// 2. Seed - 없는 참조 데이터만 삽입
	return SeedReferences(db)
}

// SeedReferences inserts the default genres and studios. Existing rows are
// left untouched, so it is safe on every start.
func SeedReferences(db *gorm.DB) error {
	ignore := clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}
	if err := db.Clauses(ignore).Create(defaultGenres()).Error; err != nil {
		return fmt.Errorf("seed genres: %w", err)
	}
	if err := db.Clauses(ignore).Create(defaultStudios()).Error; err != nil {
		return fmt.Errorf("seed studios: %w", err)
	}
	return nil
}

// SeedSample inserts one example series for local development
func SeedSample(db *gorm.DB) error {
	var count int64
	if err := db.Model(&domain.Entity{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return db.Create(&domain.Entity{
		ID:   "00000000-0000-0000-0000-000000000001",
		Type: "series",
		Data: datatypes.JSONMap{
			"title":      "Cowboy Bebop",
			"synonyms":   []interface{}{"カウボーイビバップ"},
			"format":     "TV",
			"status":     "FINISHED",
			"genreIds":   []interface{}{"action", "sci-fi"},
			"studioIds":  []interface{}{"sunrise"},
			"startDate":  "1998-04-03",
			"endDate":    "1999-04-24",
			"episodes":   26,
			"duration":   24,
			"isLocked":   false,
			"popularity": 0,
		},
		Version: 1,
	}).Error
}

func defaultGenres() []domain.Genre {
	return []domain.Genre{
		{ID: "action", Name: "Action"},
		{ID: "adventure", Name: "Adventure"},
		{ID: "comedy", Name: "Comedy"},
		{ID: "drama", Name: "Drama"},
		{ID: "fantasy", Name: "Fantasy"},
		{ID: "mystery", Name: "Mystery"},
		{ID: "romance", Name: "Romance"},
		{ID: "sci-fi", Name: "Sci-Fi"},
		{ID: "slice-of-life", Name: "Slice of Life"},
		{ID: "sports", Name: "Sports"},
	}
}

func defaultStudios() []domain.Studio {
	return []domain.Studio{
		{ID: "bones", Name: "Bones"},
		{ID: "madhouse", Name: "Madhouse"},
		{ID: "production-ig", Name: "Production I.G"},
		{ID: "sunrise", Name: "Sunrise"},
		{ID: "wit", Name: "Wit Studio"},
	}
}
