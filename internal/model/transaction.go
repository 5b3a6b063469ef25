package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 交易流水实体
// ============================================================================

// Transaction 交易流水表
// 每笔成功结算生成一条记录，是对账与审计的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 币种、用户名、费率均为结算时刻的快照 —— 源数据变更不影响历史流水
// 3. 记录满足恒等式：
//    commission      = round(sent_amount * commission_rate, 2)
//    received_amount = round((sent_amount - commission) * conversion_rate, 2)
type Transaction struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo     string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"` // 流水号（全局唯一）
	RequestID         string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"`     // 幂等ID，客户端生成
	Type              string          `gorm:"type:varchar(5);not null" json:"type"`                        // 交易类型代码快照
	SenderAccountID   int64           `gorm:"index;not null" json:"sender_account_id"`
	SenderUserID      int64           `gorm:"index;not null" json:"sender_user_id"`
	SenderUsername    string          `gorm:"type:varchar(64);not null" json:"sender_username"` // 发送方用户名快照
	SentAmount        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"sent_amount"`
	SenderCurrency    string          `gorm:"type:char(3);not null" json:"sender_currency"`
	ReceiverAccountID int64           `gorm:"index;not null" json:"receiver_account_id"`
	ReceiverUserID    int64           `gorm:"index;not null" json:"receiver_user_id"`
	ReceiverUsername  string          `gorm:"type:varchar(64);not null" json:"receiver_username"` // 接收方用户名快照
	CommissionRate    decimal.Decimal `gorm:"type:decimal(8,6);not null" json:"commission_rate"`
	Commission        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"commission"`
	ReceiverCurrency  string          `gorm:"type:char(3);not null" json:"receiver_currency"`
	ConversionRate    decimal.Decimal `gorm:"type:decimal(16,6);not null" json:"conversion_rate"`
	ReceivedAmount    decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"received_amount"`
	TransactionDate   time.Time       `gorm:"index;not null" json:"transaction_date"` // 结算时刻，秒级精度
}

func (Transaction) TableName() string {
	return "transaction"
}
