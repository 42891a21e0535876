package application

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/paymentplatform/internal/requisite/domain"
	trafficdomain "github.com/wyfcoding/paymentplatform/internal/traffic/domain"
)

type fakeDetailRepo struct {
	candidates []*domain.Candidate
	touched    []string
}

func (r *fakeDetailRepo) Create(context.Context, *domain.BankDetail) error { return nil }
func (r *fakeDetailRepo) Save(context.Context, *domain.BankDetail) error   { return nil }
func (r *fakeDetailRepo) Get(context.Context, string) (*domain.BankDetail, error) {
	return nil, domain.ErrBankDetailNotFound
}
func (r *fakeDetailRepo) ListByTrader(context.Context, string, int, int) ([]*domain.BankDetail, int64, error) {
	return nil, 0, nil
}
func (r *fakeDetailRepo) Archive(context.Context, string) error { return nil }

func (r *fakeDetailRepo) FindEligible(context.Context, string) ([]*domain.Candidate, error) {
	return r.candidates, nil
}

func (r *fakeDetailRepo) TouchForSelection(_ context.Context, detailID string, _ decimal.Decimal) error {
	r.touched = append(r.touched, detailID)
	return nil
}

type fakeTrafficRepo struct {
	records map[string]*trafficdomain.TrafficRecord
}

func (r *fakeTrafficRepo) Save(context.Context, *trafficdomain.TrafficRecord) error { return nil }
func (r *fakeTrafficRepo) Get(_ context.Context, traderID, merchantID string) (*trafficdomain.TrafficRecord, error) {
	rec, ok := r.records[traderID+"/"+merchantID]
	if !ok {
		return nil, trafficdomain.ErrTrafficNotFound
	}
	return rec, nil
}

type fakeStats struct {
	duplicateAmounts map[string]decimal.Decimal
	todayCounts      map[string]int64
	inFlightCounts   map[string]int64
	inFlightSums     map[string]decimal.Decimal
	recentlyUsed     map[string]bool
}

func newFakeStats() *fakeStats {
	return &fakeStats{
		duplicateAmounts: map[string]decimal.Decimal{},
		todayCounts:      map[string]int64{},
		inFlightCounts:   map[string]int64{},
		inFlightSums:     map[string]decimal.Decimal{},
		recentlyUsed:     map[string]bool{},
	}
}

func (s *fakeStats) HasActiveWithAmount(_ context.Context, detailID string, amount decimal.Decimal) (bool, error) {
	dup, ok := s.duplicateAmounts[detailID]
	return ok && dup.Equal(amount), nil
}

func (s *fakeStats) CountToday(_ context.Context, detailID string, _ time.Time) (int64, error) {
	return s.todayCounts[detailID], nil
}

func (s *fakeStats) CountInFlight(_ context.Context, detailID string) (int64, error) {
	return s.inFlightCounts[detailID], nil
}

func (s *fakeStats) SumInFlight(_ context.Context, detailID string) (decimal.Decimal, error) {
	sum, ok := s.inFlightSums[detailID]
	if !ok {
		return decimal.Zero, nil
	}
	return sum, nil
}

func (s *fakeStats) CreatedWithin(_ context.Context, detailID string, _ time.Duration) (bool, error) {
	return s.recentlyUsed[detailID], nil
}

func candidate(detailID, traderID string, minAmount, maxAmount int64) *domain.Candidate {
	return &domain.Candidate{
		BankDetail: domain.BankDetail{
			DetailID:   detailID,
			TraderID:   traderID,
			MethodType: "c2c",
			MinAmount:  decimal.NewFromInt(minAmount),
			MaxAmount:  decimal.NewFromInt(maxAmount),
			IsActive:   true,
		},
	}
}

func enabledTraffic(traderID, merchantID string) map[string]*trafficdomain.TrafficRecord {
	return map[string]*trafficdomain.TrafficRecord{
		traderID + "/" + merchantID: {TraderID: traderID, MerchantID: merchantID, Enabled: true},
	}
}

func TestSelectFirstEligibleWins(t *testing.T) {
	repo := &fakeDetailRepo{candidates: []*domain.Candidate{
		candidate("BD1", "T1", 1000, 10000),
		candidate("BD2", "T1", 1000, 10000),
	}}
	selector := NewSelector(repo, &fakeTrafficRepo{records: enabledTraffic("T1", "M1")}, newFakeStats())

	got, err := selector.Select(context.Background(), decimal.NewFromInt(5000), "c2c", "M1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got == nil || got.DetailID != "BD1" {
		t.Fatalf("expected BD1, got %+v", got)
	}
	if len(repo.touched) != 1 || repo.touched[0] != "BD1" {
		t.Fatalf("expected BD1 touched for rotation, got %v", repo.touched)
	}
}

func TestSelectAmountOutOfBounds(t *testing.T) {
	repo := &fakeDetailRepo{candidates: []*domain.Candidate{
		candidate("BD1", "T1", 6000, 10000),
	}}
	selector := NewSelector(repo, &fakeTrafficRepo{records: enabledTraffic("T1", "M1")}, newFakeStats())

	got, err := selector.Select(context.Background(), decimal.NewFromInt(5000), "c2c", "M1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no match, got %s", got.DetailID)
	}
}

func TestSelectTraderGlobalLimits(t *testing.T) {
	c := candidate("BD1", "T1", 1000, 10000)
	c.TraderMaxAmount = decimal.NewFromInt(3000)
	repo := &fakeDetailRepo{candidates: []*domain.Candidate{c}}
	selector := NewSelector(repo, &fakeTrafficRepo{records: enabledTraffic("T1", "M1")}, newFakeStats())

	got, err := selector.Select(context.Background(), decimal.NewFromInt(5000), "c2c", "M1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got != nil {
		t.Fatalf("expected trader max to reject, got %s", got.DetailID)
	}
}

func TestSelectExactAmountCollisionSkipped(t *testing.T) {
	repo := &fakeDetailRepo{candidates: []*domain.Candidate{
		candidate("BD1", "T1", 1000, 10000),
		candidate("BD2", "T1", 1000, 10000),
	}}
	stats := newFakeStats()
	stats.duplicateAmounts["BD1"] = decimal.NewFromInt(5000)
	selector := NewSelector(repo, &fakeTrafficRepo{records: enabledTraffic("T1", "M1")}, stats)

	got, err := selector.Select(context.Background(), decimal.NewFromInt(5000), "c2c", "M1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got == nil || got.DetailID != "BD2" {
		t.Fatalf("expected BD2 after collision skip, got %+v", got)
	}
}

func TestSelectOperationAndSumLimits(t *testing.T) {
	limited := candidate("BD1", "T1", 1000, 10000)
	limited.OperationLimit = 2
	capped := candidate("BD2", "T1", 1000, 10000)
	capped.SumLimit = decimal.NewFromInt(7000)
	open := candidate("BD3", "T1", 1000, 10000)

	repo := &fakeDetailRepo{candidates: []*domain.Candidate{limited, capped, open}}
	stats := newFakeStats()
	stats.inFlightCounts["BD1"] = 2
	stats.inFlightSums["BD2"] = decimal.NewFromInt(3000)
	selector := NewSelector(repo, &fakeTrafficRepo{records: enabledTraffic("T1", "M1")}, stats)

	got, err := selector.Select(context.Background(), decimal.NewFromInt(5000), "c2c", "M1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got == nil || got.DetailID != "BD3" {
		t.Fatalf("expected BD3 (BD1 at op limit, BD2 over sum limit), got %+v", got)
	}
}

func TestSelectCooldownSkipped(t *testing.T) {
	cooling := candidate("BD1", "T1", 1000, 10000)
	cooling.IntervalMinutes = 5
	repo := &fakeDetailRepo{candidates: []*domain.Candidate{cooling}}
	stats := newFakeStats()
	stats.recentlyUsed["BD1"] = true
	selector := NewSelector(repo, &fakeTrafficRepo{records: enabledTraffic("T1", "M1")}, stats)

	got, err := selector.Select(context.Background(), decimal.NewFromInt(5000), "c2c", "M1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got != nil {
		t.Fatalf("expected cooldown to reject, got %s", got.DetailID)
	}
}

func TestSelectTrafficDisabledSkipped(t *testing.T) {
	repo := &fakeDetailRepo{candidates: []*domain.Candidate{
		candidate("BD1", "T1", 1000, 10000),
	}}
	traffic := &fakeTrafficRepo{records: map[string]*trafficdomain.TrafficRecord{
		"T1/M1": {TraderID: "T1", MerchantID: "M1", Enabled: false},
	}}
	selector := NewSelector(repo, traffic, newFakeStats())

	got, err := selector.Select(context.Background(), decimal.NewFromInt(5000), "c2c", "M1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got != nil {
		t.Fatalf("expected disabled traffic to reject, got %s", got.DetailID)
	}
}

func TestSelectDailyCountLimit(t *testing.T) {
	daily := candidate("BD1", "T1", 1000, 10000)
	daily.MaxCountTransactions = 3
	repo := &fakeDetailRepo{candidates: []*domain.Candidate{daily}}
	stats := newFakeStats()
	stats.todayCounts["BD1"] = 3
	selector := NewSelector(repo, &fakeTrafficRepo{records: enabledTraffic("T1", "M1")}, stats)

	got, err := selector.Select(context.Background(), decimal.NewFromInt(5000), "c2c", "M1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got != nil {
		t.Fatalf("expected daily count limit to reject, got %s", got.DetailID)
	}
}
