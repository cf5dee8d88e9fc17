package chat

import "time"

// Conversation lives in a single user's actor database, so ownership is
// implied by the file the row sits in. UpdatedAt always mirrors the created
// timestamp of the most recently appended message.
type Conversation struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Title     *string   `gorm:"column:title" json:"title"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;index" json:"updated_at"`
}

func (Conversation) TableName() string { return "conversation" }
