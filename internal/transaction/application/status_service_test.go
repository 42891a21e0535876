package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	merchantdomain "github.com/wyfcoding/paymentplatform/internal/merchant/domain"
	traderapp "github.com/wyfcoding/paymentplatform/internal/trader/application"
	traderdomain "github.com/wyfcoding/paymentplatform/internal/trader/domain"
	trafficdomain "github.com/wyfcoding/paymentplatform/internal/traffic/domain"
	"github.com/wyfcoding/paymentplatform/internal/transaction/domain"
)

type fakeTraderRepo struct {
	traders map[string]*traderdomain.Trader
}

func (r *fakeTraderRepo) Save(_ context.Context, trader *traderdomain.Trader) error {
	r.traders[trader.TraderID] = trader
	return nil
}

func (r *fakeTraderRepo) Get(_ context.Context, traderID string) (*traderdomain.Trader, error) {
	trader, ok := r.traders[traderID]
	if !ok {
		return nil, traderdomain.ErrTraderNotFound
	}
	return trader, nil
}

func (r *fakeTraderRepo) GetForUpdate(ctx context.Context, traderID string) (*traderdomain.Trader, error) {
	return r.Get(ctx, traderID)
}

func (r *fakeTraderRepo) ApplyDelta(_ context.Context, traderID string, delta traderdomain.BalanceDelta) error {
	trader, ok := r.traders[traderID]
	if !ok {
		return traderdomain.ErrTraderNotFound
	}
	trust := trader.TrustBalance.Add(delta.TrustBalance)
	frozen := trader.FrozenUsdt.Add(delta.FrozenUsdt)
	deposit := trader.Deposit.Add(delta.Deposit)
	deals := trader.ProfitFromDeals.Add(delta.ProfitFromDeals)
	payouts := trader.ProfitFromPayouts.Add(delta.ProfitFromPayouts)
	if trust.IsNegative() || frozen.IsNegative() || deposit.IsNegative() || deals.IsNegative() || payouts.IsNegative() {
		return traderdomain.ErrInsufficientBalance
	}
	trader.TrustBalance = trust
	trader.FrozenUsdt = frozen
	trader.Deposit = deposit
	trader.ProfitFromDeals = deals
	trader.ProfitFromPayouts = payouts
	return nil
}

type fakeTxnRepo struct {
	txns map[string]*domain.Transaction
}

func newFakeTxnRepo() *fakeTxnRepo {
	return &fakeTxnRepo{txns: map[string]*domain.Transaction{}}
}

func (r *fakeTxnRepo) Create(_ context.Context, txn *domain.Transaction) error {
	for _, existing := range r.txns {
		if existing.MerchantID == txn.MerchantID && existing.OrderID == txn.OrderID {
			return domain.ErrDuplicateOrder
		}
	}
	stored := *txn
	r.txns[txn.TransactionID] = &stored
	return nil
}

func (r *fakeTxnRepo) Get(_ context.Context, transactionID string) (*domain.Transaction, error) {
	stored, ok := r.txns[transactionID]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	copied := *stored
	copied.InitFSM()
	return &copied, nil
}

func (r *fakeTxnRepo) GetForUpdate(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	return r.Get(ctx, transactionID)
}

func (r *fakeTxnRepo) FindActiveByClient(_ context.Context, merchantID, clientID string, amount decimal.Decimal) (*domain.Transaction, error) {
	for _, txn := range r.txns {
		if txn.MerchantID == merchantID && txn.ClientID == clientID && txn.Amount.Equal(amount) &&
			(txn.Status == domain.StatusCreated || txn.Status == domain.StatusInProgress) {
			copied := *txn
			copied.InitFSM()
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeTxnRepo) SaveTransition(_ context.Context, txn *domain.Transaction, prior domain.Status) error {
	stored, ok := r.txns[txn.TransactionID]
	if !ok {
		return domain.ErrTransactionNotFound
	}
	if stored.Status != prior {
		return domain.ErrStatusConflict
	}
	stored.Status = txn.Status
	stored.SettlementSource = txn.SettlementSource
	stored.FeeInPercent = txn.FeeInPercent
	stored.TraderProfit = txn.TraderProfit
	stored.AcceptedAt = txn.AcceptedAt
	return nil
}

func (r *fakeTxnRepo) ListExpired(_ context.Context, now time.Time, limit int) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	for _, txn := range r.txns {
		if txn.Status == domain.StatusInProgress && txn.ExpiredAt.Before(now) {
			copied := *txn
			copied.InitFSM()
			out = append(out, &copied)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeTxnRepo) WithTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

type fakeMerchantRepo struct {
	merchants map[string]*merchantdomain.Merchant
}

func (r *fakeMerchantRepo) Save(_ context.Context, merchant *merchantdomain.Merchant) error {
	r.merchants[merchant.MerchantID] = merchant
	return nil
}

func (r *fakeMerchantRepo) Get(_ context.Context, merchantID string) (*merchantdomain.Merchant, error) {
	merchant, ok := r.merchants[merchantID]
	if !ok {
		return nil, merchantdomain.ErrMerchantNotFound
	}
	return merchant, nil
}

func (r *fakeMerchantRepo) CreditBalance(_ context.Context, merchantID string, amount decimal.Decimal) error {
	merchant, ok := r.merchants[merchantID]
	if !ok {
		return merchantdomain.ErrMerchantNotFound
	}
	merchant.BalanceUsdt = merchant.BalanceUsdt.Add(amount)
	return nil
}

type fakeMethodRepo struct {
	methods map[string]*merchantdomain.PaymentMethod
}

func (r *fakeMethodRepo) Save(_ context.Context, method *merchantdomain.PaymentMethod) error {
	r.methods[method.MethodID] = method
	return nil
}

func (r *fakeMethodRepo) Get(_ context.Context, methodID string) (*merchantdomain.PaymentMethod, error) {
	method, ok := r.methods[methodID]
	if !ok {
		return nil, merchantdomain.ErrMethodNotFound
	}
	return method, nil
}

type fakeTrafficRepo struct {
	records map[string]*trafficdomain.TrafficRecord
}

func (r *fakeTrafficRepo) Save(_ context.Context, record *trafficdomain.TrafficRecord) error {
	r.records[record.TraderID+"/"+record.MerchantID] = record
	return nil
}

func (r *fakeTrafficRepo) Get(_ context.Context, traderID, merchantID string) (*trafficdomain.TrafficRecord, error) {
	record, ok := r.records[traderID+"/"+merchantID]
	if !ok {
		return nil, trafficdomain.ErrTrafficNotFound
	}
	return record, nil
}

type fakeDisputeGuard struct {
	open map[string]bool
}

func (g *fakeDisputeGuard) HasOpenDispute(_ context.Context, transactionID string) (bool, error) {
	return g.open[transactionID], nil
}

// fixture 状态流转测试的完整装配
type fixture struct {
	txnRepo      *fakeTxnRepo
	traderRepo   *fakeTraderRepo
	merchantRepo *fakeMerchantRepo
	methodRepo   *fakeMethodRepo
	trafficRepo  *fakeTrafficRepo
	guard        *fakeDisputeGuard
	status       *StatusService
}

func newFixture() *fixture {
	traderRepo := &fakeTraderRepo{traders: map[string]*traderdomain.Trader{
		"T1": {
			TraderID:     "T1",
			TrustBalance: decimal.NewFromInt(1000),
			Deposit:      decimal.NewFromInt(5000),
		},
	}}
	merchantRepo := &fakeMerchantRepo{merchants: map[string]*merchantdomain.Merchant{
		"M1": {MerchantID: "M1"},
	}}
	methodRepo := &fakeMethodRepo{methods: map[string]*merchantdomain.PaymentMethod{
		"PM1": {MethodID: "PM1", MethodType: "c2c", FeePercent: decimal.NewFromInt(1)},
	}}
	trafficRepo := &fakeTrafficRepo{records: map[string]*trafficdomain.TrafficRecord{
		"T1/M1": {TraderID: "T1", MerchantID: "M1", Enabled: true, TraderRewardPercent: decimal.NewFromInt(2)},
	}}
	guard := &fakeDisputeGuard{open: map[string]bool{}}
	txnRepo := newFakeTxnRepo()

	freezing := traderapp.NewFreezingService(traderRepo)
	status := NewStatusService(txnRepo, freezing, merchantRepo, methodRepo, trafficRepo, guard, nil, nil, nil)

	return &fixture{
		txnRepo:      txnRepo,
		traderRepo:   traderRepo,
		merchantRepo: merchantRepo,
		methodRepo:   methodRepo,
		trafficRepo:  trafficRepo,
		guard:        guard,
		status:       status,
	}
}

// frozenTransaction 构造一笔已冻结的进行中收款交易：5000 RUB @ 90 -> 冻结 55.56
func (f *fixture) frozenTransaction(t *testing.T) *domain.Transaction {
	t.Helper()
	ctx := context.Background()

	txn := domain.NewTransaction("M1", "ORD-1", "", "PM1", domain.TypeIn,
		decimal.NewFromInt(5000), decimal.NewFromInt(90), time.Now().Add(30*time.Minute))
	txn.TraderID = "T1"
	txn.BankDetailID = "BD1"
	txn.FrozenUsdtAmount = decimal.RequireFromString("55.56")
	if err := txn.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.txnRepo.Create(ctx, txn); err != nil {
		t.Fatalf("create: %v", err)
	}

	freezing := traderapp.NewFreezingService(f.traderRepo)
	if err := freezing.Freeze(ctx, "T1", txn.FrozenUsdtAmount); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	return txn
}

func (f *fixture) trader() *traderdomain.Trader {
	return f.traderRepo.traders["T1"]
}

func TestSettleHappyPath(t *testing.T) {
	f := newFixture()
	txn := f.frozenTransaction(t)

	got, err := f.status.UpdateStatus(context.Background(), txn.TransactionID, domain.StatusReady)
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	// 收益 = truncate2(55.56 * 2%) = 1.11
	if !got.TraderProfit.Equal(decimal.RequireFromString("1.11")) {
		t.Fatalf("expected profit 1.11, got %s", got.TraderProfit)
	}
	trader := f.trader()
	if !trader.FrozenUsdt.IsZero() {
		t.Fatalf("expected frozen released, got %s", trader.FrozenUsdt)
	}
	// 冻结释放不返还：trust 维持冻结后的数额
	if !trader.TrustBalance.Equal(decimal.RequireFromString("944.44")) {
		t.Fatalf("expected trust 944.44, got %s", trader.TrustBalance)
	}
	if !trader.ProfitFromDeals.Equal(decimal.RequireFromString("1.11")) {
		t.Fatalf("expected deal profit 1.11, got %s", trader.ProfitFromDeals)
	}
	// 商户入账 = truncate2(5000 / (90 * 1.0)) = 55.55（佣金为 0）
	merchant := f.merchantRepo.merchants["M1"]
	if !merchant.BalanceUsdt.Equal(decimal.RequireFromString("55.55")) {
		t.Fatalf("expected merchant credit 55.55, got %s", merchant.BalanceUsdt)
	}
}

func TestSettleIdempotentRetry(t *testing.T) {
	f := newFixture()
	txn := f.frozenTransaction(t)
	ctx := context.Background()

	if _, err := f.status.UpdateStatus(ctx, txn.TransactionID, domain.StatusReady); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if _, err := f.status.UpdateStatus(ctx, txn.TransactionID, domain.StatusReady); err != nil {
		t.Fatalf("idempotent retry must not fail: %v", err)
	}

	trader := f.trader()
	if !trader.ProfitFromDeals.Equal(decimal.RequireFromString("1.11")) {
		t.Fatalf("profit double-counted: %s", trader.ProfitFromDeals)
	}
	if !trader.FrozenUsdt.IsZero() {
		t.Fatalf("frozen balance double-released: %s", trader.FrozenUsdt)
	}
	merchant := f.merchantRepo.merchants["M1"]
	if !merchant.BalanceUsdt.Equal(decimal.RequireFromString("55.55")) {
		t.Fatalf("merchant credit double-counted: %s", merchant.BalanceUsdt)
	}
}

func TestInvalidTransitionsRejectedWithoutMutation(t *testing.T) {
	f := newFixture()
	txn := f.frozenTransaction(t)
	ctx := context.Background()

	if _, err := f.status.UpdateStatus(ctx, txn.TransactionID, domain.StatusReady); err != nil {
		t.Fatalf("ready: %v", err)
	}
	trustBefore := f.trader().TrustBalance

	for _, target := range []domain.Status{domain.StatusExpired, domain.StatusDispute, domain.StatusMilk, domain.StatusInProgress} {
		_, err := f.status.UpdateStatus(ctx, txn.TransactionID, target)
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("READY -> %s: expected ErrInvalidTransition, got %v", target, err)
		}
	}
	if !f.trader().TrustBalance.Equal(trustBefore) {
		t.Fatalf("rejected transitions must not mutate balances")
	}
}

func TestExpiryThenConfirm(t *testing.T) {
	f := newFixture()
	txn := f.frozenTransaction(t)
	ctx := context.Background()

	if _, err := f.status.UpdateStatus(ctx, txn.TransactionID, domain.StatusExpired); err != nil {
		t.Fatalf("expire: %v", err)
	}
	trader := f.trader()
	// 过期：冻结额临时返还
	if !trader.TrustBalance.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected trust restored to 1000 on expiry, got %s", trader.TrustBalance)
	}
	if !trader.FrozenUsdt.IsZero() {
		t.Fatalf("expected frozen zero on expiry, got %s", trader.FrozenUsdt)
	}

	if _, err := f.status.UpdateStatus(ctx, txn.TransactionID, domain.StatusReady); err != nil {
		t.Fatalf("confirm after expiry: %v", err)
	}
	// 最终结算改从 trust_balance 扣，frozen_usdt 不再被触碰
	if !trader.TrustBalance.Equal(decimal.RequireFromString("944.44")) {
		t.Fatalf("expected trust 944.44 after deduction, got %s", trader.TrustBalance)
	}
	if !trader.FrozenUsdt.IsZero() {
		t.Fatalf("frozen must stay untouched after expiry settlement, got %s", trader.FrozenUsdt)
	}
	if !trader.ProfitFromDeals.Equal(decimal.RequireFromString("1.11")) {
		t.Fatalf("expected profit 1.11 after expiry settlement, got %s", trader.ProfitFromDeals)
	}
}

func TestCancelAfterReady(t *testing.T) {
	f := newFixture()
	txn := f.frozenTransaction(t)
	ctx := context.Background()

	if _, err := f.status.UpdateStatus(ctx, txn.TransactionID, domain.StatusReady); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if _, err := f.status.UpdateStatus(ctx, txn.TransactionID, domain.StatusCanceled); err != nil {
		t.Fatalf("cancel after ready: %v", err)
	}

	trader := f.trader()
	// trust 944.44 - truncate2(5000/90)=55.55 -> 888.89
	if !trader.TrustBalance.Equal(decimal.RequireFromString("888.89")) {
		t.Fatalf("expected trust 888.89 after cancel, got %s", trader.TrustBalance)
	}
	if !trader.ProfitFromDeals.IsZero() {
		t.Fatalf("expected profit reversed, got %s", trader.ProfitFromDeals)
	}
}

func TestCancelWhileFrozenReturnsToTrust(t *testing.T) {
	f := newFixture()
	txn := f.frozenTransaction(t)

	if _, err := f.status.UpdateStatus(context.Background(), txn.TransactionID, domain.StatusCanceled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	trader := f.trader()
	if !trader.TrustBalance.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected trust restored to 1000, got %s", trader.TrustBalance)
	}
	if !trader.FrozenUsdt.IsZero() {
		t.Fatalf("expected frozen zero, got %s", trader.FrozenUsdt)
	}
}

func TestOpenDisputeBlocksOrdinaryUpdates(t *testing.T) {
	f := newFixture()
	txn := f.frozenTransaction(t)
	f.guard.open[txn.TransactionID] = true

	_, err := f.status.UpdateStatus(context.Background(), txn.TransactionID, domain.StatusReady)
	if !errors.Is(err, domain.ErrDisputeOpen) {
		t.Fatalf("expected ErrDisputeOpen, got %v", err)
	}

	// 争议裁决路径不受阻断
	if _, err := f.status.ApplyResolution(context.Background(), txn.TransactionID, domain.StatusReady); err != nil {
		t.Fatalf("resolution path: %v", err)
	}
}

func TestPayoutSettlementDeductsTrust(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	txn := domain.NewTransaction("M1", "ORD-OUT", "", "PM1", domain.TypeOut,
		decimal.NewFromInt(9000), decimal.NewFromInt(90), time.Now().Add(30*time.Minute))
	txn.TraderID = "T1"
	if err := txn.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.txnRepo.Create(ctx, txn); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.status.UpdateStatus(ctx, txn.TransactionID, domain.StatusReady); err != nil {
		t.Fatalf("ready: %v", err)
	}

	trader := f.trader()
	// 9000/90 = 100 从 trust 扣减，收益 truncate2(100*2%) = 2.00
	if !trader.TrustBalance.Equal(decimal.NewFromInt(900)) {
		t.Fatalf("expected trust 900, got %s", trader.TrustBalance)
	}
	if !trader.ProfitFromPayouts.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected payout profit 2, got %s", trader.ProfitFromPayouts)
	}
}

func TestExpireOverdueSweep(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	txn := domain.NewTransaction("M1", "ORD-OVERDUE", "", "PM1", domain.TypeIn,
		decimal.NewFromInt(5000), decimal.NewFromInt(90), time.Now().Add(-time.Minute))
	txn.TraderID = "T1"
	txn.FrozenUsdtAmount = decimal.RequireFromString("55.56")
	if err := txn.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.txnRepo.Create(ctx, txn); err != nil {
		t.Fatalf("create: %v", err)
	}
	freezing := traderapp.NewFreezingService(f.traderRepo)
	if err := freezing.Freeze(ctx, "T1", txn.FrozenUsdtAmount); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	expired, err := f.status.ExpireOverdue(ctx, 100)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired, got %d", expired)
	}
	stored, err := f.txnRepo.Get(ctx, txn.TransactionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.StatusExpired {
		t.Fatalf("expected EXPIRED, got %s", stored.Status)
	}
	if !f.trader().TrustBalance.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected trust restored by sweep, got %s", f.trader().TrustBalance)
	}
}
