package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/threadloom/threadloom-backend/internal/domain"
	"github.com/threadloom/threadloom-backend/internal/platform/keyseal"
	"github.com/threadloom/threadloom-backend/internal/platform/logger"
	"github.com/threadloom/threadloom-backend/internal/repos"
)

// SettingsUpdate carries the mutable settings fields; nil pointers are left
// untouched.
type SettingsUpdate struct {
	DefaultModelID   *string  `json:"default_model_id"`
	ReasoningEffort  *string  `json:"reasoning_effort"`
	WebSearchEnabled *bool    `json:"web_search_enabled"`
	EnabledServerIDs []string `json:"enabled_server_ids"`
}

type SettingsService interface {
	Get(ctx context.Context, userID uuid.UUID) (*types.UserSettings, error)
	Update(ctx context.Context, userID uuid.UUID, update SettingsUpdate) (*types.UserSettings, error)
	SetAPIKey(ctx context.Context, userID uuid.UUID, provider, key string) error
	PlainKeys(ctx context.Context, userID uuid.UUID) (map[string]string, error)
}

type settingsService struct {
	db           *gorm.DB
	log          *logger.Logger
	settingsRepo repos.SettingsRepo
	sealer       *keyseal.Sealer
}

func NewSettingsService(db *gorm.DB, log *logger.Logger, settingsRepo repos.SettingsRepo, sealer *keyseal.Sealer) SettingsService {
	return &settingsService{
		db:           db,
		log:          log.With("service", "SettingsService"),
		settingsRepo: settingsRepo,
		sealer:       sealer,
	}
}

func defaultSettings(userID uuid.UUID) *types.UserSettings {
	now := time.Now().UTC()
	return &types.UserSettings{
		UserID:           userID,
		EnabledServerIDs: []byte(`[]`),
		APIKeys:          []byte(`{}`),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (ss *settingsService) Get(ctx context.Context, userID uuid.UUID) (*types.UserSettings, error) {
	s, err := ss.settingsRepo.Get(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if s == nil {
		return defaultSettings(userID), nil
	}
	return s, nil
}

func (ss *settingsService) Update(ctx context.Context, userID uuid.UUID, update SettingsUpdate) (*types.UserSettings, error) {
	s, err := ss.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if update.DefaultModelID != nil {
		s.DefaultModelID = *update.DefaultModelID
	}
	if update.ReasoningEffort != nil {
		s.ReasoningEffort = *update.ReasoningEffort
	}
	if update.WebSearchEnabled != nil {
		s.WebSearchEnabled = *update.WebSearchEnabled
	}
	if update.EnabledServerIDs != nil {
		raw, mErr := json.Marshal(update.EnabledServerIDs)
		if mErr != nil {
			return nil, mErr
		}
		s.EnabledServerIDs = raw
	}
	s.UpdatedAt = time.Now().UTC()

	if _, err := ss.settingsRepo.Upsert(ctx, nil, s); err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}
	return s, nil
}

// SetAPIKey seals and stores one provider key; an empty key removes the
// stored one. Keys are trimmed first, a whitespace-only submission counts
// as removal so blank keys never reach the quota bypass.
func (ss *settingsService) SetAPIKey(ctx context.Context, userID uuid.UUID, provider, key string) error {
	key = strings.TrimSpace(key)
	s, err := ss.Get(ctx, userID)
	if err != nil {
		return err
	}
	keys := s.SealedKeyMap()
	if key == "" {
		delete(keys, provider)
	} else {
		sealed, sErr := ss.sealer.Seal(userID.String(), key)
		if sErr != nil {
			return fmt.Errorf("seal api key: %w", sErr)
		}
		keys[provider] = sealed
	}
	raw, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	s.APIKeys = raw
	s.UpdatedAt = time.Now().UTC()

	if _, err := ss.settingsRepo.Upsert(ctx, nil, s); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	ss.log.Info("api key updated", "user_id", userID, "provider", provider, "removed", key == "")
	return nil
}

// PlainKeys unseals every stored provider key. A key that fails to unseal
// is skipped, a stale row must not block completions.
func (ss *settingsService) PlainKeys(ctx context.Context, userID uuid.UUID) (map[string]string, error) {
	s, err := ss.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for provider, sealed := range s.SealedKeyMap() {
		plain, oErr := ss.sealer.Open(userID.String(), sealed)
		if oErr != nil {
			ss.log.Warn("failed to unseal api key, skipping", "user_id", userID, "provider", provider, "error", oErr)
			continue
		}
		out[provider] = plain
	}
	return out, nil
}
