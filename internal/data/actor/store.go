package actor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	types "github.com/threadloom/threadloom-backend/internal/domain"
	"github.com/threadloom/threadloom-backend/internal/platform/apierr"
	"github.com/threadloom/threadloom-backend/internal/platform/logger"
)

const (
	// MaxBatch bounds one appendMessages call.
	MaxBatch = 100
	// MaxPageSize and DefaultPageSize bound listMessages.
	MaxPageSize     = 200
	DefaultPageSize = 100
)

// store wraps the single sqlite handle an actor owns. Every method assumes
// it is called from the actor loop only; there is no locking here because
// the mailbox already serializes access.
type store struct {
	db  *gorm.DB
	log *logger.Logger
}

func openStore(path string, log *logger.Logger) (*store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create actor dir: %w", err)
	}
	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open actor db: %w", err)
	}
	return &store{db: db, log: log}, nil
}

// migrate runs before the actor serves its first operation. Requests that
// arrive while this is in flight wait in the mailbox.
func (s *store) migrate() error {
	return s.db.AutoMigrate(
		&types.Conversation{},
		&types.Message{},
		&types.UsageDay{},
	)
}

func (s *store) close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *store) listConversations() ([]types.Conversation, error) {
	var out []types.Conversation
	if err := s.db.Order("updated_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *store) getConversation(id string) (*types.Conversation, error) {
	var c types.Conversation
	if err := s.db.First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (s *store) upsertConversation(id string, title *string) (*types.Conversation, error) {
	now := time.Now().UTC()
	var c types.Conversation
	err := s.db.First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c = types.Conversation{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}
		if err := s.db.Create(&c).Error; err != nil {
			return nil, err
		}
		return &c, nil
	}
	if err != nil {
		return nil, err
	}
	if title != nil {
		c.Title = title
	}
	c.UpdatedAt = now
	if err := s.db.Save(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ensureConversation creates the row if absent without touching an existing
// one. Used by append so a bare message batch can start a conversation.
func (s *store) ensureConversation(id string) error {
	now := time.Now().UTC()
	c := types.Conversation{ID: id, CreatedAt: now, UpdatedAt: now}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&c).Error
}

// listMessages pages backward from cursor (exclusive), newest page first,
// and returns each page in ascending creation order. nextCursor is the
// oldest returned row's timestamp when a full page came back, else nil.
func (s *store) listMessages(conversationID string, limit int, cursor *int64) ([]types.Message, *int64, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	q := s.db.Model(&types.Message{}).Where("conversation_id = ?", conversationID)
	if cursor != nil {
		q = q.Where("created_at < ?", time.UnixMilli(*cursor).UTC())
	}

	var rows []types.Message
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	var next *int64
	if len(rows) == limit {
		v := rows[len(rows)-1].CreatedAt.UnixMilli()
		next = &v
	}

	// Normalize to ASC for clients.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, next, nil
}

// appendMessages is insert-or-ignore on the message id: duplicates are
// silently dropped and the returned count reflects rows actually inserted.
// conversation.updated_at is then set to the max created timestamp of the
// submitted batch. That max is batch-local: an out-of-order batch older
// than stored history still wins the write. Clients sort by updated_at,
// changing this needs a migration story.
func (s *store) appendMessages(conversationID string, msgs []types.Message) (int64, error) {
	if len(msgs) > MaxBatch {
		return 0, apierr.BatchTooLarge(len(msgs), MaxBatch)
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	if err := s.ensureConversation(conversationID); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	batchMax := time.Time{}
	for i := range msgs {
		msgs[i].ConversationID = conversationID
		if msgs[i].CreatedAt.IsZero() {
			msgs[i].CreatedAt = now
		}
		if msgs[i].CreatedAt.After(batchMax) {
			batchMax = msgs[i].CreatedAt
		}
	}

	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&msgs)
	if res.Error != nil {
		return 0, res.Error
	}

	if err := s.db.Model(&types.Conversation{}).
		Where("id = ?", conversationID).
		Update("updated_at", batchMax).Error; err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

// deleteConversation removes messages before the conversation row, so a
// crash between the two leaves an empty conversation rather than orphaned
// messages.
func (s *store) deleteConversation(id string) error {
	existing, err := s.getConversation(id)
	if err != nil {
		return err
	}
	if existing == nil {
		return apierr.ConversationNotFound(id)
	}
	if err := s.db.Where("conversation_id = ?", id).Delete(&types.Message{}).Error; err != nil {
		return err
	}
	return s.db.Delete(&types.Conversation{}, "id = ?", id).Error
}

func (s *store) usageDay(day int64) (*types.UsageDay, error) {
	var d types.UsageDay
	err := s.db.First(&d, "day = ?", day).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &types.UsageDay{Day: day, Models: []byte(`{}`)}, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *store) addUsage(day int64, modelID string, tu types.TokenUsage) error {
	var d types.UsageDay
	found := true
	err := s.db.First(&d, "day = ?", day).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		found = false
		d = types.UsageDay{Day: day, Models: []byte(`{}`)}
	} else if err != nil {
		return err
	}

	d.MessagesCount++
	models := d.ModelMap()
	entry := models[modelID]
	entry.Messages++
	entry.InputTokens += tu.InputTokens
	entry.OutputTokens += tu.OutputTokens
	entry.ReasoningTokens += tu.ReasoningTokens
	models[modelID] = entry
	if err := d.SetModelMap(models); err != nil {
		return err
	}
	d.UpdatedAt = time.Now().UTC()

	if found {
		return s.db.Model(&types.UsageDay{}).Where("day = ?", day).
			Updates(map[string]interface{}{
				"messages_count": d.MessagesCount,
				"models":         d.Models,
				"updated_at":     d.UpdatedAt,
			}).Error
	}
	return s.db.Create(&d).Error
}

func (s *store) usageRange(from, to int64) ([]types.UsageDay, error) {
	var out []types.UsageDay
	if err := s.db.Where("day >= ? AND day <= ?", from, to).
		Order("day ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
