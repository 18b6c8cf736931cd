package domain

import "time"

// AuditLog records one contribution lifecycle event
type AuditLog struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ActorID    string    `gorm:"column:actor_id;type:varchar(64);index" json:"actorId"`
	Action     string    `gorm:"column:action;type:varchar(50);index" json:"action"` // contribution.submitted, contribution.approved, ...
	Resource   string    `gorm:"column:resource;type:varchar(50)" json:"resource"`
	ResourceID string    `gorm:"column:resource_id;type:varchar(64)" json:"resourceId"`
	Details    string    `gorm:"column:details;type:text" json:"details"`
	RequestID  string    `gorm:"column:request_id;type:varchar(64)" json:"requestId"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (AuditLog) TableName() string { return "audit_logs" }
