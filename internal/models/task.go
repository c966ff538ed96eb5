package models

import (
	"time"

	"gorm.io/gorm"
)

// Task is a unit of work owned by a team.
type Task struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Title       string         `gorm:"size:300;not null" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	TeamID      uint           `gorm:"index;not null" json:"team_id"`
	Closed      bool           `json:"closed"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Task) TableName() string { return "tasks" }

// Progress is a status entry written by a user on a task. Reports summarize these.
type Progress struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	TaskID    uint           `gorm:"index;not null" json:"task_id"`
	OwnerID   uint           `gorm:"index;not null" json:"owner_id"`
	Title     string         `gorm:"size:300;not null" json:"title"`
	Text      string         `gorm:"type:text" json:"text"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Progress) TableName() string { return "progress" }
