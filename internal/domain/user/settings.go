package user

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Settings holds the per-user knobs the completion pipeline resolves before
// every request. APIKeys values are sealed (see platform/keyseal); they are
// decrypted only inside the settings service.
type Settings struct {
	UserID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"user_id"`
	DefaultModelID   string         `gorm:"not null;default:''" json:"default_model_id"`
	ReasoningEffort  string         `gorm:"not null;default:''" json:"reasoning_effort"`
	WebSearchEnabled bool           `gorm:"not null;default:false" json:"web_search_enabled"`
	EnabledServerIDs datatypes.JSON `gorm:"type:text;not null;default:'[]'" json:"enabled_server_ids"`
	APIKeys          datatypes.JSON `gorm:"type:text;not null;default:'{}'" json:"-"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
}

func (Settings) TableName() string { return "user_settings" }

func (s *Settings) EnabledServers() []string {
	var out []string
	if len(s.EnabledServerIDs) == 0 {
		return out
	}
	if err := json.Unmarshal(s.EnabledServerIDs, &out); err != nil {
		return nil
	}
	return out
}

func (s *Settings) SealedKeyMap() map[string]string {
	out := map[string]string{}
	if len(s.APIKeys) == 0 {
		return out
	}
	if err := json.Unmarshal(s.APIKeys, &out); err != nil {
		return map[string]string{}
	}
	return out
}
