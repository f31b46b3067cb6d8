package models

import "time"

// Contest groups problems under a timed window used for ranking.
type Contest struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"size:255;not null" json:"name"`
	StartAt         time.Time `gorm:"not null" json:"start_at"`
	DurationMinutes int       `gorm:"not null;default:120" json:"duration_minutes"`
	IsActive        bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// EndsAt returns the moment the contest window closes.
func (c Contest) EndsAt() time.Time {
	return c.StartAt.Add(time.Duration(c.DurationMinutes) * time.Minute)
}

// Problem is a judged exercise, optionally attached to a contest.
type Problem struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ContestID *uint     `gorm:"index" json:"contest_id"`
	Code      string    `gorm:"size:64;not null" json:"code"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Contest   *Contest  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL" json:"contest,omitempty"`
}
