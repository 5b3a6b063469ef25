package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account 用户账户表
// 每个账户归属唯一用户，持有单一币种余额，是整个结算系统的核心数据
type Account struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64           `gorm:"index;not null" json:"user_id"`                        // 归属用户ID（一个用户可持有多个账户）
	Currency  string          `gorm:"type:char(3);not null" json:"currency"`                // 币种（ISO 4217，如 USD）
	Balance   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"` // 余额，结算后不得低于最低余额
	Version   int             `gorm:"not null;default:0" json:"version"`                    // 乐观锁版本号
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}

// User 用户表
// 用户的注册与认证由外部身份系统负责，这里只保存结算需要的最小信息：
// 账户归属校验用 ID，交易快照用 Username
type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Username  string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string {
	return "user"
}
