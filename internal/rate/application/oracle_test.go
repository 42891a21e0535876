package application

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/paymentplatform/internal/rate/domain"
	"github.com/wyfcoding/paymentplatform/pkg/cache"
)

type fakeProvider struct {
	rate  decimal.Decimal
	err   error
	calls int
}

func (p *fakeProvider) Rate(context.Context) (decimal.Decimal, error) {
	p.calls++
	if p.err != nil {
		return decimal.Zero, p.err
	}
	return p.rate, nil
}

type fakeCache struct {
	entries map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string][]byte{}}
}

func (c *fakeCache) GetJSON(_ context.Context, key string, dest any) error {
	raw, ok := c.entries[key]
	if !ok {
		return cache.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *fakeCache) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	return nil
}

func TestBaseRateCachesSource(t *testing.T) {
	provider := &fakeProvider{rate: decimal.RequireFromString("90.5")}
	oracle := NewOracle(map[domain.Source]domain.Provider{
		domain.SourceRapira: provider,
	}, newFakeCache(), time.Minute)

	for i := 0; i < 3; i++ {
		rate, err := oracle.BaseRate(context.Background(), domain.SourceRapira)
		if err != nil {
			t.Fatalf("base rate: %v", err)
		}
		if !rate.Equal(decimal.RequireFromString("90.5")) {
			t.Fatalf("expected 90.5, got %s", rate)
		}
	}
	if provider.calls != 1 {
		t.Fatalf("expected a single source call behind the cache, got %d", provider.calls)
	}
}

func TestBaseRateUnknownSource(t *testing.T) {
	oracle := NewOracle(map[domain.Source]domain.Provider{}, newFakeCache(), time.Minute)

	_, err := oracle.BaseRate(context.Background(), domain.Source("kraken"))
	if !errors.Is(err, domain.ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestBaseRateSourceFailure(t *testing.T) {
	provider := &fakeProvider{err: domain.ErrRateUnavailable}
	oracle := NewOracle(map[domain.Source]domain.Provider{
		domain.SourceBybit: provider,
	}, newFakeCache(), time.Minute)

	_, err := oracle.BaseRate(context.Background(), domain.SourceBybit)
	if !errors.Is(err, domain.ErrRateUnavailable) {
		t.Fatalf("expected ErrRateUnavailable, got %v", err)
	}
}

func TestRateWithMarkup(t *testing.T) {
	provider := &fakeProvider{rate: decimal.NewFromInt(100)}
	oracle := NewOracle(map[domain.Source]domain.Provider{
		domain.SourceRapira: provider,
	}, newFakeCache(), time.Minute)

	up, err := oracle.RateWithMarkup(context.Background(), domain.SourceRapira,
		decimal.NewFromInt(2), domain.MarkupUp)
	if err != nil {
		t.Fatalf("markup: %v", err)
	}
	if !up.Equal(decimal.NewFromInt(102)) {
		t.Fatalf("expected 102, got %s", up)
	}

	down, err := oracle.RateWithMarkup(context.Background(), domain.SourceRapira,
		decimal.NewFromInt(2), domain.MarkupDown)
	if err != nil {
		t.Fatalf("markdown: %v", err)
	}
	if !down.Equal(decimal.NewFromInt(98)) {
		t.Fatalf("expected 98, got %s", down)
	}

	same, err := oracle.RateWithMarkup(context.Background(), domain.SourceRapira,
		decimal.Zero, domain.MarkupDown)
	if err != nil {
		t.Fatalf("zero kkk: %v", err)
	}
	if !same.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected base rate with zero kkk, got %s", same)
	}
}
