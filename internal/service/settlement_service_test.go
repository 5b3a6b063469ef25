package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"paymentsledger/internal/model"
	"paymentsledger/internal/repository"
	"paymentsledger/pkg/money"

	"github.com/shopspring/decimal"
)

// ============================================================
// 测试替身：内存版账户存储 / 流水存储 / 账本 / 费率解析
// ============================================================

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[int64]*model.Account
}

func (f *fakeAccounts) GetByID(_ context.Context, id int64) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccounts) balance(t *testing.T, id int64) decimal.Decimal {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		t.Fatalf("account %d missing", id)
	}
	return a.Balance
}

type fakeUsers struct {
	users map[int64]*model.User
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return u, nil
}

type fakeTransactions struct {
	mu          sync.Mutex
	byRequestID map[string]*model.Transaction
	appended    []*model.Transaction
}

func (f *fakeTransactions) GetByRequestID(_ context.Context, requestID string) (*model.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byRequestID[requestID], nil
}

func (f *fakeTransactions) GetByTransactionNo(_ context.Context, transactionNo string) (*model.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.appended {
		if tx.TransactionNo == transactionNo {
			return tx, nil
		}
	}
	return nil, nil
}

func (f *fakeTransactions) ListByAccountID(_ context.Context, accountID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Transaction
	for _, tx := range f.appended {
		if tx.SenderAccountID == accountID || tx.ReceiverAccountID == accountID {
			out = append(out, tx)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeTransactions) ListByUserID(_ context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Transaction
	for _, tx := range f.appended {
		if tx.SenderUserID == userID || tx.ReceiverUserID == userID {
			out = append(out, tx)
		}
	}
	return out, int64(len(out)), nil
}

type fakeResolver struct {
	commissionRates map[string]decimal.Decimal // 交易类型代码 -> 费率
	conversionRates map[string]decimal.Decimal // "FROM/TO" -> 汇率
}

func (f *fakeResolver) Resolve(_ context.Context, typeCode, senderCurrency, receiverCurrency string) (*Resolution, error) {
	commission, ok := f.commissionRates[typeCode]
	if !ok {
		return nil, repository.ErrTransactionTypeNotFound
	}
	conversion := decimal.NewFromInt(1)
	if senderCurrency != receiverCurrency {
		conversion, ok = f.conversionRates[senderCurrency+"/"+receiverCurrency]
		if !ok {
			return nil, repository.ErrExchangeRateNotFound
		}
	}
	return &Resolution{CommissionRate: commission, ConversionRate: conversion}, nil
}

// fakeLedger 在一把互斥锁内完成余额检查、双账户变更与流水追加，
// 模拟真实账本的事务语义（全部生效或全无副作用）
type fakeLedger struct {
	accounts   *fakeAccounts
	txs        *fakeTransactions
	failAppend bool
}

func (f *fakeLedger) ApplyTransfer(_ context.Context, record *model.Transaction, minBalance decimal.Decimal, _ string) error {
	f.accounts.mu.Lock()
	defer f.accounts.mu.Unlock()

	sender, ok := f.accounts.accounts[record.SenderAccountID]
	if !ok {
		return repository.ErrAccountNotFound
	}
	receiver, ok := f.accounts.accounts[record.ReceiverAccountID]
	if !ok {
		return repository.ErrAccountNotFound
	}
	if sender.Balance.Sub(record.SentAmount).LessThan(minBalance) {
		return repository.ErrInsufficientBalance
	}
	if f.failAppend {
		return repository.ErrStoreFailed
	}

	sender.Balance = sender.Balance.Sub(record.SentAmount)
	receiver.Balance = receiver.Balance.Add(record.ReceivedAmount)

	f.txs.mu.Lock()
	f.txs.byRequestID[record.RequestID] = record
	f.txs.appended = append(f.txs.appended, record)
	f.txs.mu.Unlock()
	return nil
}

type fakeLocker struct{}

func (fakeLocker) Acquire(context.Context, int64, int64) (func(), error) {
	return func() {}, nil
}

// ============================================================
// 固定测试场景
// ============================================================
//
// 用户1(alice)持有账户1（USD），用户2(bob)持有账户2（USD）、账户3（EUR）

func newFixture(t *testing.T, senderBalance string) (*SettlementService, *fakeAccounts, *fakeTransactions) {
	t.Helper()
	accounts := &fakeAccounts{accounts: map[int64]*model.Account{
		1: {ID: 1, UserID: 1, Currency: "USD", Balance: dec(t, senderBalance)},
		2: {ID: 2, UserID: 2, Currency: "USD", Balance: dec(t, "0")},
		3: {ID: 3, UserID: 2, Currency: "EUR", Balance: dec(t, "0")},
	}}
	txs := &fakeTransactions{byRequestID: map[string]*model.Transaction{}}
	svc := &SettlementService{
		accounts: accounts,
		users: &fakeUsers{users: map[int64]*model.User{
			1: {ID: 1, Username: "alice"},
			2: {ID: 2, Username: "bob"},
		}},
		transactions: txs,
		resolver: &fakeResolver{
			commissionRates: map[string]decimal.Decimal{
				"OUT":  dec(t, "0.02"),
				"FREE": dec(t, "0"),
			},
			conversionRates: map[string]decimal.Decimal{
				"USD/EUR": dec(t, "0.9131"),
			},
		},
		ledger:       &fakeLedger{accounts: accounts, txs: txs},
		locker:       fakeLocker{},
		minBalance:   decimal.Zero,
		settledTopic: "ledger.transaction.settled",
	}
	return svc, accounts, txs
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("decimal %q: %v", s, err)
	}
	return v
}

func req(requestID string) *SettleRequest {
	return &SettleRequest{
		RequestID:         requestID,
		SenderAccountID:   1,
		ReceiverAccountID: 2,
		Amount:            decimal.RequireFromString("40.00"),
		TransactionType:   "OUT",
		PrincipalUserID:   1,
	}
}

// 规格示例：余额100.00，转出40.00，费率0.02，汇率1.00
// -> 手续费0.80，到账39.20，转出方余额60.00
func TestSettleSuccess(t *testing.T) {
	svc, accounts, _ := newFixture(t, "100.00")

	record, err := svc.Settle(context.Background(), req("r1"))
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}

	if !record.Commission.Equal(dec(t, "0.80")) {
		t.Errorf("commission = %s, want 0.80", record.Commission)
	}
	if !record.ReceivedAmount.Equal(dec(t, "39.20")) {
		t.Errorf("received = %s, want 39.20", record.ReceivedAmount)
	}
	if !accounts.balance(t, 1).Equal(dec(t, "60.00")) {
		t.Errorf("sender balance = %s, want 60.00", accounts.balance(t, 1))
	}
	if !accounts.balance(t, 2).Equal(dec(t, "39.20")) {
		t.Errorf("receiver balance = %s, want 39.20", accounts.balance(t, 2))
	}

	// 快照字段
	if record.SenderUsername != "alice" || record.ReceiverUsername != "bob" {
		t.Errorf("username snapshots = %q/%q", record.SenderUsername, record.ReceiverUsername)
	}
	if record.SenderCurrency != "USD" || record.ReceiverCurrency != "USD" {
		t.Errorf("currency snapshots = %q/%q", record.SenderCurrency, record.ReceiverCurrency)
	}
	if !record.ConversionRate.Equal(dec(t, "1")) {
		t.Errorf("same-currency conversion rate = %s, want 1", record.ConversionRate)
	}
	if record.TransactionNo == "" {
		t.Error("transaction_no empty")
	}
	// 结算时间为秒级精度
	if record.TransactionDate.Nanosecond() != 0 {
		t.Errorf("transaction_date not truncated to second: %v", record.TransactionDate)
	}
	if time.Since(record.TransactionDate) > time.Minute {
		t.Errorf("transaction_date too old: %v", record.TransactionDate)
	}
}

func TestSettleCrossCurrency(t *testing.T) {
	svc, accounts, _ := newFixture(t, "100.00")

	r := req("r1")
	r.ReceiverAccountID = 3
	r.Amount = dec(t, "100.00")

	record, err := svc.Settle(context.Background(), r)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	// commission = 100 * 0.02 = 2.00; received = 98 * 0.9131 = 89.4838 -> 89.48
	if !record.Commission.Equal(dec(t, "2.00")) {
		t.Errorf("commission = %s, want 2.00", record.Commission)
	}
	if !record.ReceivedAmount.Equal(dec(t, "89.48")) {
		t.Errorf("received = %s, want 89.48", record.ReceivedAmount)
	}
	if !accounts.balance(t, 3).Equal(dec(t, "89.48")) {
		t.Errorf("receiver balance = %s", accounts.balance(t, 3))
	}
	if record.SenderCurrency != "USD" || record.ReceiverCurrency != "EUR" {
		t.Errorf("currencies = %q/%q", record.SenderCurrency, record.ReceiverCurrency)
	}
}

// 失败的结算必须零副作用
func assertUnchanged(t *testing.T, accounts *fakeAccounts, senderBalance string) {
	t.Helper()
	if !accounts.balance(t, 1).Equal(dec(t, senderBalance)) {
		t.Errorf("sender balance changed: %s", accounts.balance(t, 1))
	}
	if !accounts.balance(t, 2).Equal(dec(t, "0")) {
		t.Errorf("receiver balance changed: %s", accounts.balance(t, 2))
	}
}

func TestSettleInsufficientBalance(t *testing.T) {
	svc, accounts, _ := newFixture(t, "30.00")

	_, err := svc.Settle(context.Background(), req("r1"))
	if !errors.Is(err, repository.ErrInsufficientBalance) {
		t.Fatalf("want ErrInsufficientBalance, got %v", err)
	}
	assertUnchanged(t, accounts, "30.00")
}

// 最低余额是硬下限：恰好落在下限允许，低于下限拒绝
func TestSettleMinBalanceFloor(t *testing.T) {
	svc, accounts, _ := newFixture(t, "50.00")
	svc.minBalance = dec(t, "10.00")

	r := req("r1")
	r.Amount = dec(t, "41.00")
	if _, err := svc.Settle(context.Background(), r); !errors.Is(err, repository.ErrInsufficientBalance) {
		t.Fatalf("want ErrInsufficientBalance, got %v", err)
	}
	assertUnchanged(t, accounts, "50.00")

	r2 := req("r2")
	r2.Amount = dec(t, "40.00")
	if _, err := svc.Settle(context.Background(), r2); err != nil {
		t.Fatalf("settle at floor should succeed: %v", err)
	}
	if !accounts.balance(t, 1).Equal(dec(t, "10.00")) {
		t.Errorf("sender balance = %s, want 10.00", accounts.balance(t, 1))
	}
}

func TestSettleUnknownTransactionType(t *testing.T) {
	svc, accounts, _ := newFixture(t, "100.00")

	r := req("r1")
	r.TransactionType = "NOPE"
	if _, err := svc.Settle(context.Background(), r); !errors.Is(err, repository.ErrTransactionTypeNotFound) {
		t.Fatalf("want ErrTransactionTypeNotFound, got %v", err)
	}
	assertUnchanged(t, accounts, "100.00")
}

func TestSettleMissingExchangeRate(t *testing.T) {
	svc, accounts, _ := newFixture(t, "100.00")
	accounts.accounts[3].Currency = "JPY"

	r := req("r1")
	r.ReceiverAccountID = 3
	if _, err := svc.Settle(context.Background(), r); !errors.Is(err, repository.ErrExchangeRateNotFound) {
		t.Fatalf("want ErrExchangeRateNotFound, got %v", err)
	}
	assertUnchanged(t, accounts, "100.00")
}

func TestSettleNotAuthorized(t *testing.T) {
	svc, accounts, _ := newFixture(t, "100.00")

	r := req("r1")
	r.PrincipalUserID = 2 // bob 无权动 alice 的账户
	if _, err := svc.Settle(context.Background(), r); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("want ErrNotAuthorized, got %v", err)
	}
	assertUnchanged(t, accounts, "100.00")
}

func TestSettleAccountNotFound(t *testing.T) {
	svc, _, _ := newFixture(t, "100.00")

	r := req("r1")
	r.ReceiverAccountID = 99
	if _, err := svc.Settle(context.Background(), r); !errors.Is(err, repository.ErrAccountNotFound) {
		t.Fatalf("want ErrAccountNotFound, got %v", err)
	}
}

func TestSettleSelfTransfer(t *testing.T) {
	svc, _, _ := newFixture(t, "100.00")

	r := req("r1")
	r.ReceiverAccountID = r.SenderAccountID
	if _, err := svc.Settle(context.Background(), r); !errors.Is(err, ErrSelfTransfer) {
		t.Fatalf("want ErrSelfTransfer, got %v", err)
	}
}

func TestSettleInvalidAmount(t *testing.T) {
	svc, _, _ := newFixture(t, "100.00")

	for _, amount := range []string{"0", "-1", "1.001"} {
		r := req("r-" + amount)
		r.Amount = dec(t, amount)
		if _, err := svc.Settle(context.Background(), r); !errors.Is(err, money.ErrInvalidAmount) {
			t.Errorf("amount %s: want ErrInvalidAmount, got %v", amount, err)
		}
	}
}

// 相同 request_id 的重放返回首次提交的流水，不重复扣款
func TestSettleIdempotentReplay(t *testing.T) {
	svc, accounts, txs := newFixture(t, "100.00")

	first, err := svc.Settle(context.Background(), req("r1"))
	if err != nil {
		t.Fatalf("first settle: %v", err)
	}
	second, err := svc.Settle(context.Background(), req("r1"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if first.TransactionNo != second.TransactionNo {
		t.Errorf("replay returned different record: %s vs %s", first.TransactionNo, second.TransactionNo)
	}
	if !accounts.balance(t, 1).Equal(dec(t, "60.00")) {
		t.Errorf("sender debited twice: %s", accounts.balance(t, 1))
	}
	if len(txs.appended) != 1 {
		t.Errorf("appended %d records, want 1", len(txs.appended))
	}
}

// 流水落库失败时余额不得变更（同事务回滚）
func TestSettleStoreFailure(t *testing.T) {
	svc, accounts, _ := newFixture(t, "100.00")
	svc.ledger.(*fakeLedger).failAppend = true

	if _, err := svc.Settle(context.Background(), req("r1")); !errors.Is(err, repository.ErrStoreFailed) {
		t.Fatalf("want ErrStoreFailed, got %v", err)
	}
	assertUnchanged(t, accounts, "100.00")
}

func TestTransactionQueries(t *testing.T) {
	svc, _, _ := newFixture(t, "100.00")

	first, err := svc.Settle(context.Background(), req("r1"))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if _, err := svc.Settle(context.Background(), req("r2")); err != nil {
		t.Fatalf("settle: %v", err)
	}

	got, err := svc.GetTransaction(context.Background(), first.TransactionNo)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if got.TransactionNo != first.TransactionNo {
		t.Errorf("got %s, want %s", got.TransactionNo, first.TransactionNo)
	}

	if _, err := svc.GetTransaction(context.Background(), "TXN-missing"); !errors.Is(err, ErrTransactionNotFound) {
		t.Errorf("want ErrTransactionNotFound, got %v", err)
	}

	records, total, err := svc.ListAccountTransactions(context.Background(), 1, 1, 20)
	if err != nil {
		t.Fatalf("ListAccountTransactions: %v", err)
	}
	if total != 2 || len(records) != 2 {
		t.Errorf("account list total=%d len=%d, want 2/2", total, len(records))
	}

	records, total, err = svc.ListUserTransactions(context.Background(), 2, 1, 20)
	if err != nil {
		t.Fatalf("ListUserTransactions: %v", err)
	}
	if total != 2 || len(records) != 2 {
		t.Errorf("user list total=%d len=%d, want 2/2", total, len(records))
	}
}

// 无丢失更新：N 笔并发转出，终态余额等于串行执行的结果
func TestSettleConcurrentNoLostUpdates(t *testing.T) {
	svc, accounts, txs := newFixture(t, "150.00")

	const n = 20
	amount := dec(t, "5.00") // 150 >= 20*5，全部应成功

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := req(fmt.Sprintf("r%d", i))
			r.Amount = amount
			r.TransactionType = "FREE" // 零手续费，到账=转出
			if _, err := svc.Settle(context.Background(), r); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent settle: %v", err)
	}

	if !accounts.balance(t, 1).Equal(dec(t, "50.00")) {
		t.Errorf("sender balance = %s, want 50.00", accounts.balance(t, 1))
	}
	if !accounts.balance(t, 2).Equal(dec(t, "100.00")) {
		t.Errorf("receiver balance = %s, want 100.00", accounts.balance(t, 2))
	}
	if len(txs.appended) != n {
		t.Errorf("appended %d records, want %d", len(txs.appended), n)
	}
}
