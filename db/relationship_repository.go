package db

import (
	"context"

	"github.com/pkg/errors"
	"github.com/techagentng/citizenchat/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RelationshipRepository stores the directed block and archive edges between
// users. Creating an existing edge or deleting a missing one is not an error.
type RelationshipRepository interface {
	IsBlocked(ctx context.Context, blockerID, blockedID uint) (bool, error)
	CreateBlock(ctx context.Context, blockerID, blockedID uint) error
	DeleteBlock(ctx context.Context, blockerID, blockedID uint) error
	BlockedIDs(ctx context.Context, blockerID uint) ([]uint, error)
	BlockerIDs(ctx context.Context, blockedID uint) ([]uint, error)
	IsArchived(ctx context.Context, userID, archivedUserID uint) (bool, error)
	CreateArchive(ctx context.Context, userID, archivedUserID uint) error
	DeleteArchive(ctx context.Context, userID, archivedUserID uint) error
	ArchivedIDs(ctx context.Context, userID uint) ([]uint, error)
}

type relationshipRepo struct {
	DB *gorm.DB
}

func NewRelationshipRepo(db *GormDB) RelationshipRepository {
	return &relationshipRepo{db.DB}
}

func (r *relationshipRepo) IsBlocked(ctx context.Context, blockerID, blockedID uint) (bool, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&models.Block{}).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "check block")
	}
	return count > 0, nil
}

func (r *relationshipRepo) CreateBlock(ctx context.Context, blockerID, blockedID uint) error {
	err := r.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Block{BlockerID: blockerID, BlockedID: blockedID}).Error
	return errors.Wrap(err, "block user")
}

func (r *relationshipRepo) DeleteBlock(ctx context.Context, blockerID, blockedID uint) error {
	err := r.DB.WithContext(ctx).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Delete(&models.Block{}).Error
	return errors.Wrap(err, "unblock user")
}

func (r *relationshipRepo) BlockedIDs(ctx context.Context, blockerID uint) ([]uint, error) {
	var ids []uint
	err := r.DB.WithContext(ctx).Model(&models.Block{}).Where("blocker_id = ?", blockerID).Pluck("blocked_id", &ids).Error
	return ids, errors.Wrap(err, "list blocked users")
}

func (r *relationshipRepo) BlockerIDs(ctx context.Context, blockedID uint) ([]uint, error) {
	var ids []uint
	err := r.DB.WithContext(ctx).Model(&models.Block{}).Where("blocked_id = ?", blockedID).Pluck("blocker_id", &ids).Error
	return ids, errors.Wrap(err, "list blocking users")
}

func (r *relationshipRepo) IsArchived(ctx context.Context, userID, archivedUserID uint) (bool, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&models.Archive{}).
		Where("user_id = ? AND archived_user_id = ?", userID, archivedUserID).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "check archive")
	}
	return count > 0, nil
}

func (r *relationshipRepo) CreateArchive(ctx context.Context, userID, archivedUserID uint) error {
	err := r.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Archive{UserID: userID, ArchivedUserID: archivedUserID}).Error
	return errors.Wrap(err, "archive user")
}

func (r *relationshipRepo) DeleteArchive(ctx context.Context, userID, archivedUserID uint) error {
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND archived_user_id = ?", userID, archivedUserID).
		Delete(&models.Archive{}).Error
	return errors.Wrap(err, "unarchive user")
}

func (r *relationshipRepo) ArchivedIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := r.DB.WithContext(ctx).Model(&models.Archive{}).Where("user_id = ?", userID).Pluck("archived_user_id", &ids).Error
	return ids, errors.Wrap(err, "list archived users")
}
