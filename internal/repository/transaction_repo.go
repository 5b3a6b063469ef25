package repository

import (
	"context"
	"errors"

	"paymentsledger/internal/model"

	"gorm.io/gorm"
)

var ErrStoreFailed = errors.New("流水持久化失败")

// TransactionRepository 交易流水仓库
// 只追加：没有任何 Update/Delete 方法
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create 追加一条流水，必须在结算事务内调用
func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error {
	if tx == nil {
		tx = r.db
	}
	if err := tx.WithContext(ctx).Create(trans).Error; err != nil {
		return errors.Join(ErrStoreFailed, err)
	}
	return nil
}

func (r *TransactionRepository) GetByTransactionNo(ctx context.Context, transactionNo string) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// GetByRequestID 幂等查询：同一请求ID的结算只会生效一次
func (r *TransactionRepository) GetByRequestID(ctx context.Context, requestID string) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// ListByAccountID 查询某账户收发的全部流水，按结算时间升序，可分页续读
func (r *TransactionRepository) ListByAccountID(ctx context.Context, accountID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	var transactions []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("sender_account_id = ? OR receiver_account_id = ?", accountID, accountID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("transaction_date ASC, id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// ListByUserID 查询某用户名下所有账户的流水
func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	var transactions []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("sender_user_id = ? OR receiver_user_id = ?", userID, userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("transaction_date ASC, id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// ListRecent 审计任务用：按ID倒序取最近的流水
func (r *TransactionRepository) ListRecent(ctx context.Context, limit int) ([]*model.Transaction, error) {
	var transactions []*model.Transaction
	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}
