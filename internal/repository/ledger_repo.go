package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"paymentsledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ============================================================================
// 账本仓库：原子转账
// ============================================================================

// LedgerRepository 账本仓库
// 一笔结算的全部持久化副作用 —— 双账户余额变更、流水追加、事件入箱 ——
// 收敛在一个数据库事务里：要么全部生效，要么全部回滚
type LedgerRepository struct {
	db              *gorm.DB
	accountRepo     *AccountRepository
	transactionRepo *TransactionRepository
	outboxRepo      *OutboxRepository
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{
		db:              db,
		accountRepo:     NewAccountRepository(db),
		transactionRepo: NewTransactionRepository(db),
		outboxRepo:      NewOutboxRepository(db),
	}
}

// ApplyTransfer 原子执行一笔转账
//
// 【关键点】
// 1. 两行账户记录按 ID 升序加行锁，和 Redis 账户锁的顺序一致，避免死锁
// 2. 余额检查在行锁临界区内完成（Debit 的 WHERE 守卫），
//    不存在"检查时够、扣款时不够"的竞态
// 3. 流水追加与事件入箱同事务：余额变了但流水缺失的状态不可能落库
func (r *LedgerRepository) ApplyTransfer(ctx context.Context, record *model.Transaction, minBalance decimal.Decimal, settledTopic string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		firstID, secondID := record.SenderAccountID, record.ReceiverAccountID
		if firstID > secondID {
			firstID, secondID = secondID, firstID
		}

		first, err := r.accountRepo.GetByIDForUpdate(ctx, tx, firstID)
		if err != nil {
			return err
		}
		second, err := r.accountRepo.GetByIDForUpdate(ctx, tx, secondID)
		if err != nil {
			return err
		}

		sender := first
		if second.ID == record.SenderAccountID {
			sender = second
		}

		if err := r.accountRepo.Debit(ctx, tx, record.SenderAccountID, record.SentAmount, minBalance, sender.Version); err != nil {
			return err
		}

		if err := r.accountRepo.Credit(ctx, tx, record.ReceiverAccountID, record.ReceivedAmount); err != nil {
			return err
		}

		if err := r.transactionRepo.Create(ctx, tx, record); err != nil {
			return err
		}

		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("序列化结算事件失败: %w", err)
		}
		outboxMsg := &model.OutboxMessage{
			MessageKey: record.TransactionNo,
			Topic:      settledTopic,
			Payload:    string(payload),
			Status:     model.OutboxStatusPending,
		}
		if err := r.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
			return fmt.Errorf("写入结算事件失败: %w", err)
		}

		return nil
	})
}
