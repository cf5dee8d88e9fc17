package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/threadloom/threadloom-backend/internal/domain"
	"github.com/threadloom/threadloom-backend/internal/platform/logger"
)

type ToolServerRepo interface {
	Create(ctx context.Context, tx *gorm.DB, server *types.ToolServer) (*types.ToolServer, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ToolServer, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.ToolServer, error)
	Update(ctx context.Context, tx *gorm.DB, server *types.ToolServer) (*types.ToolServer, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type toolServerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewToolServerRepo(db *gorm.DB, baseLog *logger.Logger) ToolServerRepo {
	return &toolServerRepo{db: db, log: baseLog.With("repo", "ToolServerRepo")}
}

func (tr *toolServerRepo) Create(ctx context.Context, tx *gorm.DB, server *types.ToolServer) (*types.ToolServer, error) {
	transaction := tx
	if transaction == nil {
		transaction = tr.db
	}
	if err := transaction.WithContext(ctx).Create(server).Error; err != nil {
		return nil, err
	}
	return server, nil
}

func (tr *toolServerRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ToolServer, error) {
	transaction := tx
	if transaction == nil {
		transaction = tr.db
	}
	var s types.ToolServer
	if err := transaction.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (tr *toolServerRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.ToolServer, error) {
	transaction := tx
	if transaction == nil {
		transaction = tr.db
	}
	var out []*types.ToolServer
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (tr *toolServerRepo) Update(ctx context.Context, tx *gorm.DB, server *types.ToolServer) (*types.ToolServer, error) {
	transaction := tx
	if transaction == nil {
		transaction = tr.db
	}
	if err := transaction.WithContext(ctx).Save(server).Error; err != nil {
		return nil, err
	}
	return server, nil
}

func (tr *toolServerRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = tr.db
	}
	return transaction.WithContext(ctx).Delete(&types.ToolServer{}, "id = ?", id).Error
}
