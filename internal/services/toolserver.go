package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/threadloom/threadloom-backend/internal/domain"
	"github.com/threadloom/threadloom-backend/internal/platform/apierr"
	"github.com/threadloom/threadloom-backend/internal/platform/logger"
	"github.com/threadloom/threadloom-backend/internal/repos"
)

// ToolServerInput is the create/update payload for a custom tool server.
type ToolServerInput struct {
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	Transport   string            `json:"type"`
	Description string            `json:"description"`
	Headers     map[string]string `json:"headers"`
	Enabled     *bool             `json:"enabled"`
}

type ToolServerService interface {
	List(ctx context.Context, userID uuid.UUID) ([]types.ToolServerConfig, error)
	Create(ctx context.Context, userID uuid.UUID, input ToolServerInput) (*types.ToolServer, error)
	Update(ctx context.Context, userID uuid.UUID, id uuid.UUID, input ToolServerInput) (*types.ToolServer, error)
	Delete(ctx context.Context, userID uuid.UUID, id uuid.UUID) error

	// EnabledConfigs resolves the tool servers one completion request uses:
	// the user's enabled custom servers plus any built-ins the user turned
	// on in settings.
	EnabledConfigs(ctx context.Context, userID uuid.UUID, settings *types.UserSettings) ([]types.ToolServerConfig, error)
}

type toolServerService struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.ToolServerRepo
	builtins []types.ToolServerConfig
}

func NewToolServerService(db *gorm.DB, log *logger.Logger, repo repos.ToolServerRepo, builtins []types.ToolServerConfig) ToolServerService {
	return &toolServerService{
		db:       db,
		log:      log.With("service", "ToolServerService"),
		repo:     repo,
		builtins: builtins,
	}
}

func (ts *toolServerService) List(ctx context.Context, userID uuid.UUID) ([]types.ToolServerConfig, error) {
	out := make([]types.ToolServerConfig, 0, len(ts.builtins))
	out = append(out, ts.builtins...)

	rows, err := ts.repo.ListByUser(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("list tool servers: %w", err)
	}
	for _, row := range rows {
		out = append(out, row.Config())
	}
	return out, nil
}

func validateToolServerInput(input ToolServerInput) error {
	if input.Name == "" {
		return apierr.Validation(fmt.Errorf("tool server name is required"))
	}
	if input.URL == "" {
		return apierr.Validation(fmt.Errorf("tool server url is required"))
	}
	if input.Transport != "" && !types.ValidTransport(input.Transport) {
		return apierr.Validation(fmt.Errorf("unknown transport %q", input.Transport))
	}
	return nil
}

func (ts *toolServerService) Create(ctx context.Context, userID uuid.UUID, input ToolServerInput) (*types.ToolServer, error) {
	if err := validateToolServerInput(input); err != nil {
		return nil, err
	}
	headers, err := json.Marshal(input.Headers)
	if err != nil {
		return nil, err
	}
	transport := input.Transport
	if transport == "" {
		transport = types.TransportHTTP
	}
	enabled := true
	if input.Enabled != nil {
		enabled = *input.Enabled
	}
	now := time.Now().UTC()
	row := &types.ToolServer{
		ID:          uuid.New(),
		UserID:      userID,
		Name:        input.Name,
		URL:         input.URL,
		Transport:   transport,
		Description: input.Description,
		Headers:     headers,
		Enabled:     enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := ts.repo.Create(ctx, nil, row); err != nil {
		return nil, fmt.Errorf("create tool server: %w", err)
	}
	return row, nil
}

func (ts *toolServerService) Update(ctx context.Context, userID uuid.UUID, id uuid.UUID, input ToolServerInput) (*types.ToolServer, error) {
	row, err := ts.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if input.Name != "" {
		row.Name = input.Name
	}
	if input.URL != "" {
		row.URL = input.URL
	}
	if input.Transport != "" {
		if !types.ValidTransport(input.Transport) {
			return nil, apierr.Validation(fmt.Errorf("unknown transport %q", input.Transport))
		}
		row.Transport = input.Transport
	}
	if input.Description != "" {
		row.Description = input.Description
	}
	if input.Headers != nil {
		headers, mErr := json.Marshal(input.Headers)
		if mErr != nil {
			return nil, mErr
		}
		row.Headers = headers
	}
	if input.Enabled != nil {
		row.Enabled = *input.Enabled
	}
	row.UpdatedAt = time.Now().UTC()

	if _, err := ts.repo.Update(ctx, nil, row); err != nil {
		return nil, fmt.Errorf("update tool server: %w", err)
	}
	return row, nil
}

func (ts *toolServerService) Delete(ctx context.Context, userID uuid.UUID, id uuid.UUID) error {
	if _, err := ts.owned(ctx, userID, id); err != nil {
		return err
	}
	if err := ts.repo.Delete(ctx, nil, id); err != nil {
		return fmt.Errorf("delete tool server: %w", err)
	}
	return nil
}

func (ts *toolServerService) owned(ctx context.Context, userID, id uuid.UUID) (*types.ToolServer, error) {
	row, err := ts.repo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, fmt.Errorf("load tool server: %w", err)
	}
	if row == nil || row.UserID != userID {
		return nil, apierr.NotFound("tool server")
	}
	return row, nil
}

func (ts *toolServerService) EnabledConfigs(ctx context.Context, userID uuid.UUID, settings *types.UserSettings) ([]types.ToolServerConfig, error) {
	enabledBuiltins := map[string]bool{}
	for _, id := range settings.EnabledServers() {
		enabledBuiltins[id] = true
	}

	var out []types.ToolServerConfig
	for _, b := range ts.builtins {
		if enabledBuiltins[b.ID] {
			out = append(out, b)
		}
	}

	rows, err := ts.repo.ListByUser(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("list tool servers: %w", err)
	}
	for _, row := range rows {
		if row.Enabled {
			out = append(out, row.Config())
		}
	}
	return out, nil
}
