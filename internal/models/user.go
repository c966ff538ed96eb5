package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a report recipient. Only the fields the report core needs are kept.
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Login     string         `gorm:"uniqueIndex;size:100;not null" json:"login"`
	FullName  string         `gorm:"size:200" json:"full_name"`
	Email     string         `gorm:"size:255" json:"email"`
	IsActive  bool           `json:"is_active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string { return "users" }

// DisplayName returns the full name, falling back to the login.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Login
}
