package repository

import (
	"context"
	"errors"

	"paymentsledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound     = errors.New("账户不存在")
	ErrInsufficientBalance = errors.New("余额不足：结算后余额将低于最低限额")
	ErrOptimisticLock      = errors.New("账户并发冲突，请重试")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) ListByUserID(ctx context.Context, userID int64) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&accounts).Error
	return accounts, err
}

// GetByIDForUpdate 行锁读取账户
// 余额检查必须与扣款处于同一临界区，否则存在 check-then-act 竞态
func (r *AccountRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Account, error) {
	var account model.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// Debit 扣款
// 最低余额约束直接写进 WHERE 条件，和版本号一起构成守卫更新：
// 条件不满足时零行生效、零副作用
func (r *AccountRepository) Debit(ctx context.Context, tx *gorm.DB, accountID int64, amount, minBalance decimal.Decimal, version int) error {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND balance - ? >= ? AND version = ?", accountID, amount, minBalance, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance - ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		// 区分余额不足与版本冲突
		account, err := r.GetByID(ctx, accountID)
		if err != nil {
			return err
		}
		if account.Balance.Sub(amount).LessThan(minBalance) {
			return ErrInsufficientBalance
		}
		return ErrOptimisticLock
	}

	return nil
}

// Credit 入账
func (r *AccountRepository) Credit(ctx context.Context, tx *gorm.DB, accountID int64, amount decimal.Decimal) error {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}
