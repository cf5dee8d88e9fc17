package usage

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// TokenUsage mirrors what providers report for one completion.
type TokenUsage struct {
	InputTokens     int64 `json:"input_tokens"`
	OutputTokens    int64 `json:"output_tokens"`
	ReasoningTokens int64 `json:"reasoning_tokens"`
}

// ModelUsage is one model's slice of a day bucket.
type ModelUsage struct {
	Messages        int64 `json:"messages"`
	InputTokens     int64 `json:"input_tokens"`
	OutputTokens    int64 `json:"output_tokens"`
	ReasoningTokens int64 `json:"reasoning_tokens"`
}

// Day is the per-user, per-UTC-day usage bucket. Exactly one row per day,
// created lazily on first use. It lives in the user's actor database, so
// read-modify-write updates are serialized by the actor mailbox rather than
// a SQL transaction.
type Day struct {
	Day           int64          `gorm:"primaryKey" json:"day"` // UTC days since epoch
	MessagesCount int64          `gorm:"not null;default:0" json:"messages_count"`
	Models        datatypes.JSON `gorm:"type:text;not null;default:'{}'" json:"models"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
}

func (Day) TableName() string { return "usage_day" }

// ModelMap decodes the per-model counters; a corrupt column yields an empty
// map rather than an error so recording can always proceed.
func (d *Day) ModelMap() map[string]ModelUsage {
	out := map[string]ModelUsage{}
	if len(d.Models) == 0 {
		return out
	}
	if err := json.Unmarshal(d.Models, &out); err != nil {
		return map[string]ModelUsage{}
	}
	return out
}

func (d *Day) SetModelMap(m map[string]ModelUsage) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	d.Models = datatypes.JSON(raw)
	return nil
}

// DayIndex converts a point in time to its UTC days-since-epoch key.
func DayIndex(t time.Time) int64 {
	return t.UTC().Unix() / 86400
}
