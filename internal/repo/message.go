package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"AvailWallet/internal/model"
)

// MessageRepository — почтовые ящики входящих переводов.
type MessageRepository interface {
	Put(ctx context.Context, msg *model.Message) error
	Inbox(ctx context.Context, to string) ([]model.Message, error)
	// Delete удаляет сообщения из ящика to; чужие id игнорируются.
	Delete(ctx context.Context, to string, ids []string) (int64, error)
}

type messageRepo struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepo{db: db}
}

func (r *messageRepo) Put(ctx context.Context, msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *messageRepo) Inbox(ctx context.Context, to string) ([]model.Message, error) {
	msgs := []model.Message{}
	err := r.db.WithContext(ctx).Where("recipient = ?", to).Order("created_at, id").Find(&msgs).Error
	return msgs, err
}

func (r *messageRepo) Delete(ctx context.Context, to string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx := r.db.WithContext(ctx).Where("recipient = ? AND id IN ?", to, ids).Delete(&model.Message{})
	return tx.RowsAffected, tx.Error
}
