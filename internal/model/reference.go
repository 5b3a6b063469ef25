package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 参考数据：交易类型与汇率
// ============================================================================
//
// 两张表都由配置/运营侧维护，结算引擎只读。
// 汇率不对接行情源，作为参考数据录入（由 Resolver 查询）。

// TransactionType 交易类型表
// 短代码唯一，决定该类交易收取的手续费率
type TransactionType struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Code           string          `gorm:"type:varchar(5);uniqueIndex;not null" json:"code"`        // 交易类型代码，如 IN、OUT
	CommissionRate decimal.Decimal `gorm:"type:decimal(8,6);not null" json:"commission_rate"`       // 手续费率，[0, 1)
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TransactionType) TableName() string {
	return "transaction_type"
}

// ExchangeRate 汇率表
// 按币种对 (from, to) 精确匹配；同币种转账不查表，恒为 1
type ExchangeRate struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	FromCurrency string          `gorm:"type:char(3);not null;uniqueIndex:idx_currency_pair" json:"from_currency"`
	ToCurrency   string          `gorm:"type:char(3);not null;uniqueIndex:idx_currency_pair" json:"to_currency"`
	Rate         decimal.Decimal `gorm:"type:decimal(16,6);not null" json:"rate"` // 汇率，必须为正
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ExchangeRate) TableName() string {
	return "exchange_rate"
}
