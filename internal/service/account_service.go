package service

import (
	"context"
	"errors"
	"regexp"

	"paymentsledger/internal/model"
	"paymentsledger/internal/repository"
	"paymentsledger/pkg/money"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrInvalidCurrency = errors.New("币种必须为3位大写字母代码")

	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

// AccountService 账户目录
// 账户的开立与充值属于外围管理能力，余额的结算性变更只走结算引擎
type AccountService struct {
	accountRepo *repository.AccountRepository
	userRepo    *repository.UserRepository
	db          *gorm.DB
}

func NewAccountService(db *gorm.DB) *AccountService {
	return &AccountService{
		accountRepo: repository.NewAccountRepository(db),
		userRepo:    repository.NewUserRepository(db),
		db:          db,
	}
}

func (s *AccountService) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	return s.accountRepo.GetByID(ctx, id)
}

func (s *AccountService) ListUserAccounts(ctx context.Context, userID int64) ([]*model.Account, error) {
	return s.accountRepo.ListByUserID(ctx, userID)
}

// CreateAccount 为用户开立指定币种的账户
func (s *AccountService) CreateAccount(ctx context.Context, userID int64, currency string) (*model.Account, error) {
	if !currencyPattern.MatchString(currency) {
		return nil, ErrInvalidCurrency
	}
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	account := &model.Account{
		UserID:   userID,
		Currency: currency,
		Balance:  decimal.Zero,
	}
	if err := s.accountRepo.Create(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// Deposit 充值（简化版，实际应该走支付渠道）
// 只允许给本人账户充值
func (s *AccountService) Deposit(ctx context.Context, principalUserID, accountID int64, amount decimal.Decimal) (*model.Account, error) {
	if !amount.IsPositive() || amount.Exponent() < -2 {
		return nil, money.ErrInvalidAmount
	}

	account, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.UserID != principalUserID {
		return nil, ErrNotAuthorized
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		return s.accountRepo.Credit(ctx, tx, accountID, amount)
	})
	if err != nil {
		return nil, err
	}

	return s.accountRepo.GetByID(ctx, accountID)
}
