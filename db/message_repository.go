package db

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/techagentng/citizenchat/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MessageRepository interface {
	CreateWithReceipt(ctx context.Context, msg *models.Message) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Message, error)
	History(ctx context.Context, conversationID uuid.UUID, cursor models.MessageCursor) ([]models.Message, bool, error)
	UpdateContent(ctx context.Context, msg *models.Message) error
	SoftDelete(ctx context.Context, msg *models.Message) error
	MarkConversationRead(ctx context.Context, conversationID uuid.UUID, readerID uint, upTo *time.Time, at time.Time) ([]uuid.UUID, int, error)
	CreateReport(ctx context.Context, report *models.MessageReport) (bool, error)
}

type messageRepo struct {
	DB *gorm.DB
}

func NewMessageRepo(db *GormDB) MessageRepository {
	return &messageRepo{db.DB}
}

// CreateWithReceipt stores msg and the sender's own read receipt atomically.
func (m *messageRepo) CreateWithReceipt(ctx context.Context, msg *models.Message) error {
	tx := m.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "begin message transaction")
	}

	if err := tx.Omit("Receipts").Create(msg).Error; err != nil {
		tx.Rollback()
		return errors.Wrap(err, "create message")
	}

	receipt := models.MessageReceipt{MessageID: msg.ID, UserID: msg.SenderID, ReadAt: msg.CreatedAt}
	if err := tx.Create(&receipt).Error; err != nil {
		log.Println("Failed to create sender receipt, rolling back")
		tx.Rollback()
		return errors.Wrap(err, "create sender receipt")
	}

	if err := tx.Commit().Error; err != nil {
		return errors.Wrap(err, "commit message")
	}
	msg.Receipts = []models.MessageReceipt{receipt}
	msg.FillReadBy()
	return nil
}

func (m *messageRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	var msg models.Message
	if err := m.DB.WithContext(ctx).Preload("Receipts").Where("id = ?", id).First(&msg).Error; err != nil {
		return nil, notFound(err, "message")
	}
	msg.FillReadBy()
	return &msg, nil
}

// History returns up to cursor.Limit messages in ascending (created_at, id)
// order and whether more exist in the direction of travel.
func (m *messageRepo) History(ctx context.Context, conversationID uuid.UUID, cursor models.MessageCursor) ([]models.Message, bool, error) {
	q := m.DB.WithContext(ctx).Preload("Receipts").Where("conversation_id = ?", conversationID)

	ascending := false
	switch {
	case cursor.After != nil:
		ascending = true
		q = q.Where("(created_at, id) > (?, ?)", cursor.After.CreatedAt, cursor.After.ID)
	case cursor.Before != nil:
		q = q.Where("(created_at, id) < (?, ?)", cursor.Before.CreatedAt, cursor.Before.ID)
	}
	if ascending {
		q = q.Order("created_at ASC").Order("id ASC")
	} else {
		q = q.Order("created_at DESC").Order("id DESC")
	}

	var msgs []models.Message
	if err := q.Limit(cursor.Limit + 1).Find(&msgs).Error; err != nil {
		return nil, false, errors.Wrap(err, "load history")
	}

	hasMore := len(msgs) > cursor.Limit
	if hasMore {
		msgs = msgs[:cursor.Limit]
	}
	if !ascending {
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}
	for i := range msgs {
		msgs[i].FillReadBy()
	}
	return msgs, hasMore, nil
}

// UpdateContent stores the edited content of msg and refreshes the
// conversation preview when msg is the latest message.
func (m *messageRepo) UpdateContent(ctx context.Context, msg *models.Message) error {
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Message{}).Where("id = ?", msg.ID).Updates(map[string]interface{}{
			"content":   msg.Content,
			"is_edited": true,
			"edited_at": msg.EditedAt,
		}).Error
		if err != nil {
			return err
		}
		return refreshPreview(tx, msg)
	})
	return errors.Wrap(err, "edit message")
}

// SoftDelete flags msg as deleted and redacts the conversation preview when
// msg is the latest message.
func (m *messageRepo) SoftDelete(ctx context.Context, msg *models.Message) error {
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Message{}).Where("id = ? AND is_deleted = ?", msg.ID, false).Updates(map[string]interface{}{
			"is_deleted": true,
			"deleted_at": msg.DeletedAt,
		}).Error
		if err != nil {
			return err
		}
		return refreshPreview(tx, msg)
	})
	return errors.Wrap(err, "delete message")
}

func refreshPreview(tx *gorm.DB, msg *models.Message) error {
	return tx.Model(&models.Conversation{}).
		Where("id = ? AND last_message_id = ?", msg.ConversationID, msg.ID).
		Update("last_message", msg.Preview()).Error
}

// MarkConversationRead marks every message addressed to readerID that is
// still unseen, optionally only up to upTo, writes their receipts and resets
// the reader's counter to what is left unseen. It returns the ids that changed
// and the remaining unread count. Running it twice changes nothing.
//
// The counter is written as an absolute value, so a concurrent send whose
// increment commits after this write leaves it one ahead of the unseen
// messages. The next MarkConversationRead or RecomputeUnread corrects it.
func (m *messageRepo) MarkConversationRead(ctx context.Context, conversationID uuid.UUID, readerID uint, upTo *time.Time, at time.Time) ([]uuid.UUID, int, error) {
	var changed []models.Message
	var remaining int64

	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&changed).
			Clauses(clause.Returning{Columns: []clause.Column{{Name: "id"}}}).
			Where("conversation_id = ? AND recipient_id = ? AND is_seen = ?", conversationID, readerID, false)
		if upTo != nil {
			q = q.Where("created_at <= ?", *upTo)
		}
		if err := q.Updates(map[string]interface{}{"is_seen": true, "seen_at": at}).Error; err != nil {
			return err
		}

		if len(changed) > 0 {
			receipts := make([]models.MessageReceipt, 0, len(changed))
			for _, msg := range changed {
				receipts = append(receipts, models.MessageReceipt{MessageID: msg.ID, UserID: readerID, ReadAt: at})
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&receipts).Error; err != nil {
				return err
			}
		}

		err := tx.Model(&models.Message{}).
			Where("conversation_id = ? AND recipient_id = ? AND is_seen = ?", conversationID, readerID, false).
			Count(&remaining).Error
		if err != nil {
			return err
		}

		return tx.Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, readerID).
			Updates(map[string]interface{}{"unread_count": remaining, "last_read_at": at}).Error
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "mark conversation read")
	}

	ids := make([]uuid.UUID, 0, len(changed))
	for _, msg := range changed {
		ids = append(ids, msg.ID)
	}
	return ids, int(remaining), nil
}

// CreateReport stores a report once per reporter and message. It reports
// whether a new row was written.
func (m *messageRepo) CreateReport(ctx context.Context, report *models.MessageReport) (bool, error) {
	result := m.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(report)
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "report message")
	}
	return result.RowsAffected == 1, nil
}
