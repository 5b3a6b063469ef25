package repository

import (
	"context"
	"errors"

	"paymentsledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrTransactionTypeNotFound = errors.New("交易类型不存在")
	ErrExchangeRateNotFound    = errors.New("汇率不存在")
)

// ReferenceRepository 参考数据仓库：交易类型与汇率
// 由运营侧维护，结算链路只读
type ReferenceRepository struct {
	db *gorm.DB
}

func NewReferenceRepository(db *gorm.DB) *ReferenceRepository {
	return &ReferenceRepository{db: db}
}

// GetTransactionType 按代码精确匹配交易类型
func (r *ReferenceRepository) GetTransactionType(ctx context.Context, code string) (*model.TransactionType, error) {
	var tt model.TransactionType
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&tt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionTypeNotFound
		}
		return nil, err
	}
	return &tt, nil
}

func (r *ReferenceRepository) ListTransactionTypes(ctx context.Context) ([]*model.TransactionType, error) {
	var types []*model.TransactionType
	err := r.db.WithContext(ctx).Order("code ASC").Find(&types).Error
	return types, err
}

// UpsertTransactionType 新增或更新交易类型（按代码）
func (r *ReferenceRepository) UpsertTransactionType(ctx context.Context, tt *model.TransactionType) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"commission_rate"}),
		}).
		Create(tt).Error
}

// GetExchangeRate 按币种对精确匹配汇率
func (r *ReferenceRepository) GetExchangeRate(ctx context.Context, from, to string) (*model.ExchangeRate, error) {
	var rate model.ExchangeRate
	err := r.db.WithContext(ctx).
		Where("from_currency = ? AND to_currency = ?", from, to).
		First(&rate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrExchangeRateNotFound
		}
		return nil, err
	}
	return &rate, nil
}

func (r *ReferenceRepository) ListExchangeRates(ctx context.Context) ([]*model.ExchangeRate, error) {
	var rates []*model.ExchangeRate
	err := r.db.WithContext(ctx).Order("from_currency ASC, to_currency ASC").Find(&rates).Error
	return rates, err
}

// UpsertExchangeRate 新增或更新汇率（按币种对）
func (r *ReferenceRepository) UpsertExchangeRate(ctx context.Context, rate *model.ExchangeRate) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "from_currency"}, {Name: "to_currency"}},
			DoUpdates: clause.AssignmentColumns([]string{"rate"}),
		}).
		Create(rate).Error
}
