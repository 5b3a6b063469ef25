package service

import (
	"context"
	"fmt"
	"time"

	"paymentsledger/internal/config"
	"paymentsledger/internal/model"
	"paymentsledger/internal/repository"
	"paymentsledger/pkg/money"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Resolution 结算费率解析结果
type Resolution struct {
	CommissionRate decimal.Decimal `json:"commission_rate"`
	ConversionRate decimal.Decimal `json:"conversion_rate"`
}

// RateService 费率解析器
// 输入交易类型代码和收发双方币种，输出手续费率与汇率。
// 纯读路径：除缓存外无任何副作用
type RateService struct {
	referenceRepo *repository.ReferenceRepository
	redisClient   *redis.Client
	cacheTTL      time.Duration
}

func NewRateService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *RateService {
	return &RateService{
		referenceRepo: repository.NewReferenceRepository(db),
		redisClient:   redisClient,
		cacheTTL:      cfg.Business.RateCacheTTL(),
	}
}

// Resolve 解析一笔结算适用的费率
// 手续费率按交易类型代码精确匹配；
// 汇率在同币种时恒为 1，跨币种时查汇率表（带 Redis 读穿缓存）
func (s *RateService) Resolve(ctx context.Context, typeCode, senderCurrency, receiverCurrency string) (*Resolution, error) {
	tt, err := s.referenceRepo.GetTransactionType(ctx, typeCode)
	if err != nil {
		return nil, err
	}

	conversionRate := decimal.NewFromInt(1)
	if senderCurrency != receiverCurrency {
		conversionRate, err = s.conversionRate(ctx, senderCurrency, receiverCurrency)
		if err != nil {
			return nil, err
		}
	}

	return &Resolution{
		CommissionRate: tt.CommissionRate,
		ConversionRate: conversionRate,
	}, nil
}

func rateCacheKey(from, to string) string {
	return fmt.Sprintf("ledger:rate:%s:%s", from, to)
}

// conversionRate 查币种对汇率，Redis 缓存减少参考表压力
// 缓存故障不致命：降级为直查数据库
func (s *RateService) conversionRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	key := rateCacheKey(from, to)

	if cached, err := s.redisClient.Get(ctx, key).Result(); err == nil {
		if rate, parseErr := decimal.NewFromString(cached); parseErr == nil {
			return rate, nil
		}
	}

	rate, err := s.referenceRepo.GetExchangeRate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}

	_ = s.redisClient.Set(ctx, key, rate.Rate.String(), s.cacheTTL).Err()
	return rate.Rate, nil
}

// ============================================================
// 参考数据维护
// ============================================================

func (s *RateService) ListTransactionTypes(ctx context.Context) ([]*model.TransactionType, error) {
	return s.referenceRepo.ListTransactionTypes(ctx)
}

func (s *RateService) UpsertTransactionType(ctx context.Context, code string, commissionRate decimal.Decimal) (*model.TransactionType, error) {
	if err := money.ValidateCommissionRate(commissionRate); err != nil {
		return nil, err
	}
	tt := &model.TransactionType{
		Code:           code,
		CommissionRate: commissionRate,
	}
	if err := s.referenceRepo.UpsertTransactionType(ctx, tt); err != nil {
		return nil, err
	}
	return s.referenceRepo.GetTransactionType(ctx, code)
}

func (s *RateService) ListExchangeRates(ctx context.Context) ([]*model.ExchangeRate, error) {
	return s.referenceRepo.ListExchangeRates(ctx)
}

func (s *RateService) UpsertExchangeRate(ctx context.Context, from, to string, rate decimal.Decimal) (*model.ExchangeRate, error) {
	if err := money.ValidateConversionRate(rate); err != nil {
		return nil, err
	}
	er := &model.ExchangeRate{
		FromCurrency: from,
		ToCurrency:   to,
		Rate:         rate,
	}
	if err := s.referenceRepo.UpsertExchangeRate(ctx, er); err != nil {
		return nil, err
	}
	// 旧缓存立即失效，避免结算拿到过期汇率
	_ = s.redisClient.Del(ctx, rateCacheKey(from, to)).Err()
	return s.referenceRepo.GetExchangeRate(ctx, from, to)
}
