package domain

import (
	"time"

	"gorm.io/datatypes"
)

// ContributionStatus is the moderation state of a contribution
type ContributionStatus string

const (
	StatusPending   ContributionStatus = "pending"
	StatusApproved  ContributionStatus = "approved"
	StatusRejected  ContributionStatus = "rejected"
	StatusWithdrawn ContributionStatus = "withdrawn"
)

// Valid reports whether s is a known status
func (s ContributionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusWithdrawn:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed
func (s ContributionStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusWithdrawn
}

// transitions lists the allowed targets per source state
var transitions = map[ContributionStatus][]ContributionStatus{
	StatusPending: {StatusApproved, StatusRejected, StatusWithdrawn},
}

// CanTransition reports whether a record in from may move to to
func CanTransition(from, to ContributionStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ContributionAction is what a contribution does to its entity
type ContributionAction string

const (
	ActionCreate ContributionAction = "create"
	ActionUpdate ContributionAction = "update"
)

// Valid reports whether a is a known action
func (a ContributionAction) Valid() bool {
	return a == ActionCreate || a == ActionUpdate
}

// Contribution is a proposed change to an entity awaiting moderation.
// ProposedPatch holds only changed fields, never a full snapshot.
type Contribution struct {
	ID              string             `gorm:"column:id;primaryKey;type:varchar(36)" json:"id"`
	EntityType      string             `gorm:"column:entity_type;type:varchar(50);index:idx_contrib_entity" json:"entityType"`
	EntityID        string             `gorm:"column:entity_id;type:varchar(36);index:idx_contrib_entity" json:"entityId"`
	Action          ContributionAction `gorm:"column:action;type:varchar(20)" json:"action"`
	ProposedPatch   datatypes.JSONMap  `gorm:"column:proposed_patch" json:"proposedPatch"`
	ContributorID   string             `gorm:"column:contributor_id;type:varchar(64);index" json:"contributorId"`
	ContributorNote string             `gorm:"column:contributor_note;type:text" json:"contributorNote"`
	Status          ContributionStatus `gorm:"column:status;type:varchar(20);index" json:"status"`
	ReviewerID      *string            `gorm:"column:reviewer_id;type:varchar(64)" json:"reviewerId,omitempty"`
	ReviewedAt      *time.Time         `gorm:"column:reviewed_at" json:"reviewedAt,omitempty"`
	RejectionReason *string            `gorm:"column:rejection_reason;type:text" json:"rejectionReason,omitempty"`
	Version         uint               `gorm:"column:version;default:1" json:"version"`
	CreatedAt       time.Time          `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time          `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Contribution) TableName() string { return "contributions" }

// ContributionFilter narrows contribution listings
type ContributionFilter struct {
	Status        ContributionStatus
	EntityType    string
	EntityID      string
	ContributorID string
	Page          int
	Limit         int
}

// ContributionStats counts contributions per status
type ContributionStats struct {
	Pending   int64 `json:"pending"`
	Approved  int64 `json:"approved"`
	Rejected  int64 `json:"rejected"`
	Withdrawn int64 `json:"withdrawn"`
}

// Transition describes a compare-and-swap on a contribution's status
type Transition struct {
	ID              string
	From            ContributionStatus
	To              ContributionStatus
	Version         uint
	ReviewerID      string
	ReviewedAt      time.Time
	RejectionReason string
}

// Actor is the authenticated user performing an operation
type Actor struct {
	UserID string
	Level  int
}

// CreateContributionRequest is the POST /contributions body
type CreateContributionRequest struct {
	EntityType      string             `json:"entityType" binding:"required"`
	EntityID        string             `json:"entityId"`
	Action          ContributionAction `json:"action" binding:"required,oneof=create update"`
	ProposedPatch   map[string]any     `json:"proposedPatch"`
	ContributorNote string             `json:"contributorNote" binding:"max=1000"`
}

// PreviewContributionRequest runs a draft without storing anything
type PreviewContributionRequest struct {
	EntityType      string         `json:"entityType" binding:"required"`
	EntityID        string         `json:"entityId"`
	Categories      []string       `json:"categories"`
	ProposedPatch   map[string]any `json:"proposedPatch"`
	ContributorNote string         `json:"contributorNote"`
}

// RejectContributionRequest is the PATCH /contributions/:id/reject body
type RejectContributionRequest struct {
	RejectionReason string `json:"rejectionReason"`
}
