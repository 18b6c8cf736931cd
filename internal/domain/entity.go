package domain

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Entity is a canonical record (e.g. a series) stored as a field map.
// Version is bumped on every write and guards merge-patches.
type Entity struct {
	ID        string            `gorm:"column:id;primaryKey;type:varchar(36)" json:"id"`
	Type      string            `gorm:"column:type;type:varchar(50);index" json:"type"`
	Data      datatypes.JSONMap `gorm:"column:data" json:"data"`
	Version   uint              `gorm:"column:version;default:1" json:"version"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
	DeletedAt gorm.DeletedAt    `gorm:"column:deleted_at;index" json:"-"`
}

func (Entity) TableName() string { return "entities" }

// Genre is a reference record for series genreIds
type Genre struct {
	ID   string `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	Name string `gorm:"column:name;type:varchar(100)" json:"name"`
}

func (Genre) TableName() string { return "genres" }

// Studio is a reference record for series studioIds
type Studio struct {
	ID   string `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	Name string `gorm:"column:name;type:varchar(200)" json:"name"`
}

func (Studio) TableName() string { return "studios" }
