package tools

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	TransportHTTP = "http"
	TransportSSE  = "sse"
)

func ValidTransport(t string) bool {
	return t == TransportHTTP || t == TransportSSE
}

// ServerConfig is the resolved view the completion pipeline works with:
// built-in entries merged with the user's enabled custom rows.
type ServerConfig struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	URL         string            `json:"url" yaml:"url"`
	Transport   string            `json:"type" yaml:"type"`
	Description string            `json:"description" yaml:"description"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers"`
	IsBuiltIn   bool              `json:"is_built_in" yaml:"-"`
}

// ToolServer is a user-owned custom tool server row in the central database.
type ToolServer struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Name        string         `gorm:"not null" json:"name"`
	URL         string         `gorm:"not null" json:"url"`
	Transport   string         `gorm:"not null;default:'http'" json:"type"`
	Description string         `gorm:"type:text;not null;default:''" json:"description"`
	Headers     datatypes.JSON `gorm:"type:text;not null;default:'{}'" json:"headers"`
	Enabled     bool           `gorm:"not null;default:true" json:"enabled"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (ToolServer) TableName() string { return "tool_server" }

func (s *ToolServer) HeaderMap() map[string]string {
	out := map[string]string{}
	if len(s.Headers) == 0 {
		return out
	}
	if err := json.Unmarshal(s.Headers, &out); err != nil {
		return map[string]string{}
	}
	return out
}

func (s *ToolServer) Config() ServerConfig {
	return ServerConfig{
		ID:          s.ID.String(),
		Name:        s.Name,
		URL:         s.URL,
		Transport:   s.Transport,
		Description: s.Description,
		Headers:     s.HeaderMap(),
		IsBuiltIn:   false,
	}
}
