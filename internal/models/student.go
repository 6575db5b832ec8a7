package models

import "time"

// Student is the registration collaborator's record of an exam candidate.
// The consistency core reads students but never writes them.
type Student struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"size:255;not null" json:"name"`
	RollNumber string    `gorm:"size:64;uniqueIndex;not null" json:"roll_number"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
