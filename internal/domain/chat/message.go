package chat

import "time"

// Message ids are caller-supplied; appends are insert-or-ignore on the id so
// a retried batch is a no-op rather than an error. Rows are immutable once
// written.
type Message struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	ConversationID string    `gorm:"not null;index:idx_message_conv_created,priority:1" json:"conversation_id"`
	Role           string    `gorm:"not null" json:"role"`
	Content        string    `gorm:"type:text;not null;default:''" json:"content"`
	CreatedAt      time.Time `gorm:"not null;index:idx_message_conv_created,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "message" }

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}
