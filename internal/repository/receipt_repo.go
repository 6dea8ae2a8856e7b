package repository

import (
	"context"

	"github.com/beyproweb/beypro-pos-sub005/internal/model"

	"gorm.io/gorm"
)

type CloseReceiptRepository interface {
	Create(ctx context.Context, r *model.CloseReceipt) error
	Latest(ctx context.Context) (*model.CloseReceipt, error)
}

type TerminalReceiptRepository interface {
	Create(ctx context.Context, r *model.TerminalReceipt) error
	ListBySession(ctx context.Context, openAt string) ([]model.TerminalReceipt, error)
}

type closeReceiptRepo struct{ db *gorm.DB }

func NewCloseReceiptRepository(db *gorm.DB) CloseReceiptRepository { return &closeReceiptRepo{db: db} }

func (r *closeReceiptRepo) Create(ctx context.Context, receipt *model.CloseReceipt) error {
	return r.db.WithContext(ctx).Create(receipt).Error
}

func (r *closeReceiptRepo) Latest(ctx context.Context) (*model.CloseReceipt, error) {
	var receipt model.CloseReceipt
	err := r.db.WithContext(ctx).Order("closed_at DESC").First(&receipt).Error
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

type terminalReceiptRepo struct{ db *gorm.DB }

func NewTerminalReceiptRepository(db *gorm.DB) TerminalReceiptRepository {
	return &terminalReceiptRepo{db: db}
}

func (r *terminalReceiptRepo) Create(ctx context.Context, receipt *model.TerminalReceipt) error {
	return r.db.WithContext(ctx).Create(receipt).Error
}

func (r *terminalReceiptRepo) ListBySession(ctx context.Context, openAt string) ([]model.TerminalReceipt, error) {
	var rows []model.TerminalReceipt
	err := r.db.WithContext(ctx).Where("session_open_at = ?", openAt).Order("created_at ASC").Find(&rows).Error
	return rows, err
}
