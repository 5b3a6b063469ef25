package service

import (
	"context"
	"errors"
	"time"

	"paymentsledger/internal/config"
	"paymentsledger/internal/infrastructure/lock"
	"paymentsledger/internal/model"
	"paymentsledger/internal/repository"
	"paymentsledger/pkg/idgen"
	"paymentsledger/pkg/money"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrNotAuthorized = errors.New("无权从该账户转出")
	ErrSelfTransfer  = errors.New("不能向转出账户自身转账")
)

// ============================================================================
// 结算引擎
// ============================================================================

// 结算引擎对外部存储的依赖收敛为窄接口，
// 仓库层的具体实现与测试替身都满足这些接口
type accountStore interface {
	GetByID(ctx context.Context, id int64) (*model.Account, error)
}

type userStore interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

type transactionStore interface {
	GetByRequestID(ctx context.Context, requestID string) (*model.Transaction, error)
	GetByTransactionNo(ctx context.Context, transactionNo string) (*model.Transaction, error)
	ListByAccountID(ctx context.Context, accountID int64, page, pageSize int) ([]*model.Transaction, int64, error)
	ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error)
}

type rateResolver interface {
	Resolve(ctx context.Context, typeCode, senderCurrency, receiverCurrency string) (*Resolution, error)
}

type transferLedger interface {
	ApplyTransfer(ctx context.Context, record *model.Transaction, minBalance decimal.Decimal, settledTopic string) error
}

type pairLocker interface {
	Acquire(ctx context.Context, accountA, accountB int64) (func(), error)
}

// SettlementService 交易结算引擎
// 校验一笔转账、计算手续费与到账金额、原子变更双账户余额并生成不可变流水
type SettlementService struct {
	accounts     accountStore
	users        userStore
	transactions transactionStore
	resolver     rateResolver
	ledger       transferLedger
	locker       pairLocker
	minBalance   decimal.Decimal
	settledTopic string
}

func NewSettlementService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *SettlementService {
	return &SettlementService{
		accounts:     repository.NewAccountRepository(db),
		users:        repository.NewUserRepository(db),
		transactions: repository.NewTransactionRepository(db),
		resolver:     NewRateService(db, redisClient, cfg),
		ledger:       repository.NewLedgerRepository(db),
		locker:       lock.NewRedisPairLocker(redisClient, cfg.Business.LockRetryInterval(), cfg.Business.LockWait()),
		minBalance:   cfg.Business.MinBalanceDecimal(),
		settledTopic: cfg.Kafka.Topic.TransactionSettled,
	}
}

// SettleRequest 结算请求
type SettleRequest struct {
	RequestID         string          // 幂等ID，客户端生成
	SenderAccountID   int64           // 转出账户
	ReceiverAccountID int64           // 转入账户
	Amount            decimal.Decimal // 转出金额（转出账户币种）
	TransactionType   string          // 交易类型代码
	PrincipalUserID   int64           // 发起人（已认证的用户ID）
}

// Settle 执行一笔结算
//
// 【关键点】结算是整个系统最核心的操作，需要保证：
// 1. 幂等性：相同的 request_id 只会结算一次，重放返回已提交的流水
// 2. 原子性：双账户余额变更、流水追加、事件入箱同时成功或同时失败
// 3. 并发安全：账户对锁 + 行锁串行化同账户的并发结算
// 4. 不重试：任何失败直接返回类型化错误，是否重新提交由调用方决定
func (s *SettlementService) Settle(ctx context.Context, req *SettleRequest) (*model.Transaction, error) {
	if !req.Amount.IsPositive() || req.Amount.Exponent() < -2 {
		return nil, money.ErrInvalidAmount
	}
	if req.SenderAccountID == req.ReceiverAccountID {
		return nil, ErrSelfTransfer
	}

	// 幂等校验
	existing, err := s.transactions.GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	// 账户对锁
	release, err := s.locker.Acquire(ctx, req.SenderAccountID, req.ReceiverAccountID)
	if err != nil {
		return nil, err
	}
	defer release()

	// 获取锁后再次检查幂等
	existing, err = s.transactions.GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	sender, err := s.accounts.GetByID(ctx, req.SenderAccountID)
	if err != nil {
		return nil, err
	}
	receiver, err := s.accounts.GetByID(ctx, req.ReceiverAccountID)
	if err != nil {
		return nil, err
	}

	// 归属校验：发起人必须持有转出账户
	if sender.UserID != req.PrincipalUserID {
		return nil, ErrNotAuthorized
	}

	resolution, err := s.resolver.Resolve(ctx, req.TransactionType, sender.Currency, receiver.Currency)
	if err != nil {
		return nil, err
	}

	commission := money.Commission(req.Amount, resolution.CommissionRate)
	received := money.ReceivedAmount(req.Amount, commission, resolution.ConversionRate)

	// 用户名为结算时刻的快照，取自用户表而非请求
	senderUser, err := s.users.GetByID(ctx, sender.UserID)
	if err != nil {
		return nil, err
	}
	receiverUser, err := s.users.GetByID(ctx, receiver.UserID)
	if err != nil {
		return nil, err
	}

	record := &model.Transaction{
		TransactionNo:     idgen.GenerateTransactionNo(),
		RequestID:         req.RequestID,
		Type:              req.TransactionType,
		SenderAccountID:   sender.ID,
		SenderUserID:      sender.UserID,
		SenderUsername:    senderUser.Username,
		SentAmount:        req.Amount,
		SenderCurrency:    sender.Currency,
		ReceiverAccountID: receiver.ID,
		ReceiverUserID:    receiver.UserID,
		ReceiverUsername:  receiverUser.Username,
		CommissionRate:    resolution.CommissionRate,
		Commission:        commission,
		ReceiverCurrency:  receiver.Currency,
		ConversionRate:    resolution.ConversionRate,
		ReceivedAmount:    received,
		TransactionDate:   time.Now().Truncate(time.Second),
	}

	if err := s.ledger.ApplyTransfer(ctx, record, s.minBalance, s.settledTopic); err != nil {
		logrus.WithFields(logrus.Fields{
			"request_id":       req.RequestID,
			"sender_account":   req.SenderAccountID,
			"receiver_account": req.ReceiverAccountID,
			"amount":           req.Amount.String(),
			"error":            err.Error(),
		}).Error("结算失败")
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"transaction_no":   record.TransactionNo,
		"sender_account":   record.SenderAccountID,
		"receiver_account": record.ReceiverAccountID,
		"sent_amount":      record.SentAmount.String(),
		"commission":       record.Commission.String(),
		"received_amount":  record.ReceivedAmount.String(),
		"conversion_rate":  record.ConversionRate.String(),
	}).Info("结算成功")

	return record, nil
}

// ============================================================
// 流水查询（只读）
// ============================================================

var ErrTransactionNotFound = errors.New("流水不存在")

func (s *SettlementService) GetTransaction(ctx context.Context, transactionNo string) (*model.Transaction, error) {
	record, err := s.transactions.GetByTransactionNo(ctx, transactionNo)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrTransactionNotFound
	}
	return record, nil
}

// ListAccountTransactions 某账户收发的流水，按结算时间升序
func (s *SettlementService) ListAccountTransactions(ctx context.Context, accountID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	return s.transactions.ListByAccountID(ctx, accountID, page, pageSize)
}

// ListUserTransactions 某用户名下所有账户的流水
func (s *SettlementService) ListUserTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	return s.transactions.ListByUserID(ctx, userID, page, pageSize)
}
