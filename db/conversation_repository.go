package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/techagentng/citizenchat/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ConversationRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	FindOrCreateDirect(ctx context.Context, directKey string, participants []uint) (*models.Conversation, bool, error)
	ListForUser(ctx context.Context, userID uint) ([]models.Conversation, error)
	UpdateAggregate(ctx context.Context, msg *models.Message) error
	RecomputeUnread(ctx context.Context, conversationID uuid.UUID, userID uint) (int, error)
	UnreadTotal(ctx context.Context, userID uint) (int64, error)
}

type conversationRepo struct {
	DB *gorm.DB
}

func NewConversationRepo(db *GormDB) ConversationRepository {
	return &conversationRepo{db.DB}
}

func (r *conversationRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.DB.WithContext(ctx).Preload("Participants").Where("id = ?", id).First(&conv).Error
	if err != nil {
		return nil, notFound(err, "conversation")
	}
	return &conv, nil
}

// FindOrCreateDirect returns the conversation identified by directKey, creating
// it with its participants when missing. Concurrent callers converge on the
// same row through the unique direct_key.
func (r *conversationRepo) FindOrCreateDirect(ctx context.Context, directKey string, participants []uint) (*models.Conversation, bool, error) {
	var conv models.Conversation
	created := false

	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		key := directKey
		candidate := models.Conversation{Type: models.ConversationDirect, DirectKey: &key, IsActive: true}
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "direct_key"}},
			DoNothing: true,
		}).Omit("Participants").Create(&candidate)
		if result.Error != nil {
			return result.Error
		}

		if result.RowsAffected == 1 {
			created = true
			rows := make([]models.ConversationParticipant, 0, len(participants))
			for _, id := range participants {
				rows = append(rows, models.ConversationParticipant{ConversationID: candidate.ID, UserID: id})
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
				return err
			}
		}

		return tx.Preload("Participants").Where("direct_key = ?", directKey).First(&conv).Error
	})
	if err != nil {
		return nil, false, errors.Wrap(err, "find or create conversation")
	}
	return &conv, created, nil
}

// ListForUser returns the conversations userID takes part in, most recently
// active first.
func (r *conversationRepo) ListForUser(ctx context.Context, userID uint) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := r.DB.WithContext(ctx).
		Preload("Participants").
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id AND cp.user_id = ?", userID).
		Where("conversations.is_active = ?", true).
		Order("conversations.last_message_at DESC NULLS LAST").
		Order("conversations.created_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, errors.Wrap(err, "list conversations")
	}
	return convs, nil
}

// UpdateAggregate applies msg to the conversation summary and the unread
// counters in one transaction. The summary only moves forward in time.
func (r *conversationRepo) UpdateAggregate(ctx context.Context, msg *models.Message) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Conversation{}).
			Where("id = ? AND (last_message_at IS NULL OR last_message_at <= ?)", msg.ConversationID, msg.CreatedAt).
			Updates(map[string]interface{}{
				"last_message":    msg.Preview(),
				"last_message_id": msg.ID,
				"last_sender_id":  msg.SenderID,
				"last_message_at": msg.CreatedAt,
				"updated_at":      time.Now(),
			}).Error
		if err != nil {
			return err
		}

		err = tx.Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id <> ?", msg.ConversationID, msg.SenderID).
			Update("unread_count", gorm.Expr("unread_count + 1")).Error
		if err != nil {
			return err
		}

		return tx.Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ?", msg.ConversationID, msg.SenderID).
			Updates(map[string]interface{}{"unread_count": 0, "last_read_at": msg.CreatedAt}).Error
	})
	return errors.Wrap(err, "update conversation aggregate")
}

// RecomputeUnread resets the counter of userID to the number of messages still
// unseen by them.
func (r *conversationRepo) RecomputeUnread(ctx context.Context, conversationID uuid.UUID, userID uint) (int, error) {
	var count int64
	db := r.DB.WithContext(ctx)
	err := db.Model(&models.Message{}).
		Where("conversation_id = ? AND recipient_id = ? AND is_seen = ?", conversationID, userID, false).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "count unseen messages")
	}
	err = db.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Update("unread_count", count).Error
	if err != nil {
		return 0, errors.Wrap(err, "recompute unread count")
	}
	return int(count), nil
}

func (r *conversationRepo) UnreadTotal(ctx context.Context, userID uint) (int64, error) {
	var total int64
	err := r.DB.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Select("COALESCE(SUM(unread_count), 0)").
		Where("user_id = ?", userID).
		Scan(&total).Error
	if err != nil {
		return 0, errors.Wrap(err, "sum unread counts")
	}
	return total, nil
}
