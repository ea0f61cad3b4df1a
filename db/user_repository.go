package db

import (
	"context"
	"log"
	"time"

	"github.com/pkg/errors"
	"github.com/techagentng/citizenchat/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserRepository interface {
	FindUserByID(ctx context.Context, id uint) (*models.User, error)
	FindUsersByIDs(ctx context.Context, ids []uint) ([]models.User, error)
	UpdatePresence(ctx context.Context, userID uint, online bool, at time.Time) error
	SaveDeviceToken(ctx context.Context, token *models.DeviceToken) error
	DeviceTokens(ctx context.Context, userID uint) ([]string, error)
	DeleteDeviceTokens(ctx context.Context, tokens []string) error
}

type userRepo struct {
	DB *gorm.DB
}

func NewUserRepo(db *GormDB) UserRepository {
	return &userRepo{db.DB}
}

func (u *userRepo) FindUserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := u.DB.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &user, nil
}

func (u *userRepo) FindUsersByIDs(ctx context.Context, ids []uint) ([]models.User, error) {
	var users []models.User
	if len(ids) == 0 {
		return users, nil
	}
	if err := u.DB.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, errors.Wrap(err, "find users")
	}
	return users, nil
}

// UpdatePresence mirrors the online flag. Going offline also stamps
// last_seen_at.
func (u *userRepo) UpdatePresence(ctx context.Context, userID uint, online bool, at time.Time) error {
	fields := map[string]interface{}{"online": online}
	if !online {
		fields["last_seen_at"] = at
	}
	result := u.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(fields)
	if result.Error != nil {
		return errors.Wrap(result.Error, "update presence")
	}
	if result.RowsAffected == 0 {
		log.Printf("No rows affected when updating presence for user ID: %d", userID)
	}
	return nil
}

// SaveDeviceToken registers token for its user. A token that moves to another
// account is reassigned.
func (u *userRepo) SaveDeviceToken(ctx context.Context, token *models.DeviceToken) error {
	err := u.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "platform", "updated_at"}),
	}).Create(token).Error
	return errors.Wrap(err, "save device token")
}

func (u *userRepo) DeviceTokens(ctx context.Context, userID uint) ([]string, error) {
	var tokens []string
	err := u.DB.WithContext(ctx).Model(&models.DeviceToken{}).Where("user_id = ?", userID).Pluck("token", &tokens).Error
	if err != nil {
		return nil, errors.Wrap(err, "list device tokens")
	}
	return tokens, nil
}

func (u *userRepo) DeleteDeviceTokens(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	err := u.DB.WithContext(ctx).Unscoped().Where("token IN ?", tokens).Delete(&models.DeviceToken{}).Error
	return errors.Wrap(err, "delete device tokens")
}
