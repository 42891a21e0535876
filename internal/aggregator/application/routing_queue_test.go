package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/paymentplatform/internal/aggregator/domain"
	ratedomain "github.com/wyfcoding/paymentplatform/internal/rate/domain"
)

type fakeAggRepo struct {
	aggs []*domain.Aggregator
}

func (r *fakeAggRepo) find(id string) *domain.Aggregator {
	for _, agg := range r.aggs {
		if agg.AggregatorID == id {
			return agg
		}
	}
	return nil
}

func (r *fakeAggRepo) Save(context.Context, *domain.Aggregator) error { return nil }

func (r *fakeAggRepo) Get(_ context.Context, id string) (*domain.Aggregator, error) {
	if agg := r.find(id); agg != nil {
		return agg, nil
	}
	return nil, domain.ErrAggregatorNotFound
}

func (r *fakeAggRepo) ListRoutable(_ context.Context, excludeIDs []string) ([]*domain.Aggregator, error) {
	excluded := map[string]bool{}
	for _, id := range excludeIDs {
		excluded[id] = true
	}
	var out []*domain.Aggregator
	for _, agg := range r.aggs {
		if agg.IsActive && agg.BaseURL != "" && !excluded[agg.AggregatorID] {
			out = append(out, agg)
		}
	}
	return out, nil
}

func (r *fakeAggRepo) Hold(_ context.Context, id string, cost decimal.Decimal) error {
	agg := r.find(id)
	if agg == nil {
		return domain.ErrAggregatorNotFound
	}
	if agg.BalanceUsdt.Sub(agg.FrozenBalance).LessThan(cost) {
		return domain.ErrInsufficientBalance
	}
	agg.FrozenBalance = agg.FrozenBalance.Add(cost)
	return nil
}

func (r *fakeAggRepo) ReleaseHold(_ context.Context, id string, cost decimal.Decimal) error {
	agg := r.find(id)
	if agg == nil {
		return domain.ErrAggregatorNotFound
	}
	agg.FrozenBalance = agg.FrozenBalance.Sub(cost)
	return nil
}

func (r *fakeAggRepo) CommitHold(_ context.Context, id string, cost, profitShare, dealVolume decimal.Decimal) error {
	agg := r.find(id)
	if agg == nil {
		return domain.ErrAggregatorNotFound
	}
	agg.FrozenBalance = agg.FrozenBalance.Sub(cost)
	agg.BalanceUsdt = agg.BalanceUsdt.Sub(cost)
	agg.ProfitShareUsdt = agg.ProfitShareUsdt.Add(profitShare)
	agg.CurrentDailyVolume = agg.CurrentDailyVolume.Add(dealVolume)
	return nil
}

func (r *fakeAggRepo) MarkDispatched(_ context.Context, id string, at time.Time) error {
	if agg := r.find(id); agg != nil {
		agg.LastDispatchAt = &at
	}
	return nil
}

func (r *fakeAggRepo) ResetDailyVolumes(context.Context) error { return nil }

type fakeRateOracle struct {
	rate decimal.Decimal
}

func (o *fakeRateOracle) BaseRate(context.Context, ratedomain.Source) (decimal.Decimal, error) {
	return o.rate, nil
}

// scriptedAdapter 按聚合器 ID 脚本化接单或拒单
type scriptedAdapter struct {
	errs       map[string]error
	dispatched []string
}

func (a *scriptedAdapter) CreateDeal(_ context.Context, agg *domain.Aggregator, _ domain.DealRequest) (*domain.DealResult, error) {
	a.dispatched = append(a.dispatched, agg.AggregatorID)
	if err, ok := a.errs[agg.AggregatorID]; ok && err != nil {
		return nil, err
	}
	return &domain.DealResult{PartnerOrderID: "P-" + agg.AggregatorID, RawResponse: "{}"}, nil
}

func activeAggregator(id string, balance int64) *domain.Aggregator {
	return &domain.Aggregator{
		AggregatorID: id,
		Name:         id,
		BalanceUsdt:  decimal.NewFromInt(balance),
		BaseURL:      "https://" + id + ".example",
		Variant:      domain.VariantStandard,
		RateSource:   "rapira",
		IsActive:     true,
	}
}

func dealRequest(amount int64) domain.DealRequest {
	return domain.DealRequest{
		TransactionID: "TX-1",
		OrderID:       "ORD-1",
		Amount:        decimal.NewFromInt(amount),
		Rate:          decimal.NewFromInt(100),
		MethodType:    "c2c",
		ExpiredAt:     time.Now().Add(30 * time.Minute),
	}
}

func newQueue(repo *fakeAggRepo, adapter domain.AggregatorAdapter) *RoutingQueue {
	return NewRoutingQueue(repo,
		map[domain.Variant]domain.AggregatorAdapter{domain.VariantStandard: adapter},
		&fakeRateOracle{rate: decimal.NewFromInt(100)}, nil, 10)
}

func TestRouteDealExhaustionWithNoAggregators(t *testing.T) {
	queue := newQueue(&fakeAggRepo{}, &scriptedAdapter{})

	result, err := queue.RouteDeal(context.Background(), dealRequest(5000))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if result.Success {
		t.Fatal("expected routing failure with empty aggregator list")
	}
	if len(result.TriedAggregators) != 0 {
		t.Fatalf("expected no tried aggregators, got %v", result.TriedAggregators)
	}
}

func TestRouteDealAcceptanceCommitsDebit(t *testing.T) {
	repo := &fakeAggRepo{aggs: []*domain.Aggregator{activeAggregator("AG1", 1000)}}
	queue := newQueue(repo, &scriptedAdapter{})

	result, err := queue.RouteDeal(context.Background(), dealRequest(5000))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !result.Success || result.Aggregator.AggregatorID != "AG1" {
		t.Fatalf("expected AG1 to accept, got %+v", result)
	}
	if result.PartnerOrderID != "P-AG1" {
		t.Fatalf("expected partner order id recorded, got %q", result.PartnerOrderID)
	}

	// 5000 RUB at rate 100, no fee -> cost 50.00: hold converted to a real debit
	agg := repo.find("AG1")
	if !agg.FrozenBalance.IsZero() {
		t.Fatalf("expected hold fully committed, frozen = %s", agg.FrozenBalance)
	}
	if !agg.BalanceUsdt.Equal(decimal.NewFromInt(950)) {
		t.Fatalf("expected balance 950 after debit, got %s", agg.BalanceUsdt)
	}
	if !agg.CurrentDailyVolume.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("expected daily volume 5000, got %s", agg.CurrentDailyVolume)
	}
}

func TestRouteDealSkipsInsufficientWithoutTrying(t *testing.T) {
	poor := activeAggregator("AG1", 10)
	poor.Priority = 10
	rich := activeAggregator("AG2", 1000)
	rich.Priority = 5
	repo := &fakeAggRepo{aggs: []*domain.Aggregator{poor, rich}}
	adapter := &scriptedAdapter{}
	queue := newQueue(repo, adapter)

	result, err := queue.RouteDeal(context.Background(), dealRequest(5000))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !result.Success || result.Aggregator.AggregatorID != "AG2" {
		t.Fatalf("expected AG2 to accept, got %+v", result)
	}
	for _, id := range result.TriedAggregators {
		if id == "AG1" || id == "AG2" {
			t.Fatalf("neither the skipped nor the accepting aggregator belongs in tried, got %v", result.TriedAggregators)
		}
	}
	for _, id := range adapter.dispatched {
		if id == "AG1" {
			t.Fatal("no request should have been sent to the underfunded aggregator")
		}
	}
}

func TestRouteDealNoRequisiteTriesNext(t *testing.T) {
	first := activeAggregator("AG1", 1000)
	first.Priority = 10
	second := activeAggregator("AG2", 1000)
	second.Priority = 5
	repo := &fakeAggRepo{aggs: []*domain.Aggregator{first, second}}
	adapter := &scriptedAdapter{errs: map[string]error{
		"AG1": domain.ErrPartnerNoRequisite,
	}}
	queue := newQueue(repo, adapter)

	result, err := queue.RouteDeal(context.Background(), dealRequest(5000))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !result.Success || result.Aggregator.AggregatorID != "AG2" {
		t.Fatalf("expected fallback to AG2, got %+v", result)
	}
	if len(result.TriedAggregators) != 1 || result.TriedAggregators[0] != "AG1" {
		t.Fatalf("expected AG1 in tried, got %v", result.TriedAggregators)
	}
	if !repo.find("AG1").FrozenBalance.IsZero() {
		t.Fatalf("expected AG1 hold released, frozen = %s", repo.find("AG1").FrozenBalance)
	}
}

func TestRouteDealRejectionReleasesHold(t *testing.T) {
	only := activeAggregator("AG1", 1000)
	repo := &fakeAggRepo{aggs: []*domain.Aggregator{only}}
	adapter := &scriptedAdapter{errs: map[string]error{
		"AG1": errors.New("partner rejected deal: limit exceeded"),
	}}
	queue := newQueue(repo, adapter)

	result, err := queue.RouteDeal(context.Background(), dealRequest(5000))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if result.Success {
		t.Fatal("expected routing failure after the only aggregator rejected")
	}
	if len(result.TriedAggregators) != 1 || result.TriedAggregators[0] != "AG1" {
		t.Fatalf("expected AG1 in tried, got %v", result.TriedAggregators)
	}
	if !only.FrozenBalance.IsZero() {
		t.Fatalf("expected hold released after rejection, frozen = %s", only.FrozenBalance)
	}
	if !only.BalanceUsdt.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected balance untouched after rejection, got %s", only.BalanceUsdt)
	}
}

func TestRouteDealInsuranceAndVolumeFilters(t *testing.T) {
	uninsured := activeAggregator("AG1", 1000)
	uninsured.Priority = 10
	uninsured.RequiresInsuranceDeposit = true
	uninsured.DepositUsdt = decimal.NewFromInt(500)

	saturated := activeAggregator("AG2", 1000)
	saturated.Priority = 9
	saturated.MaxDailyVolume = decimal.NewFromInt(10000)
	saturated.CurrentDailyVolume = decimal.NewFromInt(10000)

	open := activeAggregator("AG3", 1000)
	open.Priority = 1

	repo := &fakeAggRepo{aggs: []*domain.Aggregator{uninsured, saturated, open}}
	adapter := &scriptedAdapter{}
	queue := newQueue(repo, adapter)

	result, err := queue.RouteDeal(context.Background(), dealRequest(5000))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !result.Success || result.Aggregator.AggregatorID != "AG3" {
		t.Fatalf("expected AG3 after filters, got %+v", result)
	}
	if len(adapter.dispatched) != 1 {
		t.Fatalf("filtered aggregators must not be contacted, dispatched %v", adapter.dispatched)
	}
}
