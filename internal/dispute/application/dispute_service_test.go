package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/paymentplatform/internal/dispute/domain"
	txndomain "github.com/wyfcoding/paymentplatform/internal/transaction/domain"
)

type fakeDisputeRepo struct {
	disputes map[string]*domain.DealDispute
	deleted  []string
}

func newFakeDisputeRepo() *fakeDisputeRepo {
	return &fakeDisputeRepo{disputes: map[string]*domain.DealDispute{}}
}

func (r *fakeDisputeRepo) Create(_ context.Context, dispute *domain.DealDispute) error {
	for _, existing := range r.disputes {
		if existing.TransactionID == dispute.TransactionID && !existing.Status.IsTerminal() {
			return domain.ErrDisputeExists
		}
	}
	stored := *dispute
	r.disputes[dispute.DisputeID] = &stored
	return nil
}

func (r *fakeDisputeRepo) Get(_ context.Context, disputeID string) (*domain.DealDispute, error) {
	dispute, ok := r.disputes[disputeID]
	if !ok {
		return nil, domain.ErrDisputeNotFound
	}
	copied := *dispute
	return &copied, nil
}

func (r *fakeDisputeRepo) GetByTransaction(_ context.Context, transactionID string) (*domain.DealDispute, error) {
	for _, dispute := range r.disputes {
		if dispute.TransactionID == transactionID {
			copied := *dispute
			return &copied, nil
		}
	}
	return nil, domain.ErrDisputeNotFound
}

func (r *fakeDisputeRepo) List(_ context.Context, status domain.Status, _, _ int) ([]*domain.DealDispute, int64, error) {
	var out []*domain.DealDispute
	for _, dispute := range r.disputes {
		if status == "" || dispute.Status == status {
			out = append(out, dispute)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeDisputeRepo) HasOpenDispute(_ context.Context, transactionID string) (bool, error) {
	for _, dispute := range r.disputes {
		if dispute.TransactionID == transactionID && !dispute.Status.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeDisputeRepo) MarkResolved(_ context.Context, disputeID string, status domain.Status, resolution string, resolvedAt time.Time) error {
	dispute, ok := r.disputes[disputeID]
	if !ok {
		return domain.ErrDisputeNotFound
	}
	if dispute.Status.IsTerminal() {
		return domain.ErrAlreadyResolved
	}
	dispute.Status = status
	dispute.Resolution = resolution
	dispute.ResolvedAt = &resolvedAt
	return nil
}

func (r *fakeDisputeRepo) Reopen(_ context.Context, disputeID string) error {
	dispute, ok := r.disputes[disputeID]
	if !ok {
		return domain.ErrDisputeNotFound
	}
	dispute.Status = domain.StatusOpen
	dispute.Resolution = ""
	dispute.ResolvedAt = nil
	return nil
}

func (r *fakeDisputeRepo) Delete(_ context.Context, disputeID string) error {
	delete(r.disputes, disputeID)
	r.deleted = append(r.deleted, disputeID)
	return nil
}

// fakeTxnReader 只实现争议服务用到的读取路径
type fakeTxnReader struct {
	txns map[string]*txndomain.Transaction
}

func (r *fakeTxnReader) Create(_ context.Context, _ *txndomain.Transaction) error { return nil }

func (r *fakeTxnReader) Get(_ context.Context, transactionID string) (*txndomain.Transaction, error) {
	txn, ok := r.txns[transactionID]
	if !ok {
		return nil, txndomain.ErrTransactionNotFound
	}
	return txn, nil
}

func (r *fakeTxnReader) GetForUpdate(ctx context.Context, transactionID string) (*txndomain.Transaction, error) {
	return r.Get(ctx, transactionID)
}

func (r *fakeTxnReader) FindActiveByClient(_ context.Context, _, _ string, _ decimal.Decimal) (*txndomain.Transaction, error) {
	return nil, nil
}

func (r *fakeTxnReader) SaveTransition(_ context.Context, _ *txndomain.Transaction, _ txndomain.Status) error {
	return nil
}

func (r *fakeTxnReader) ListExpired(_ context.Context, _ time.Time, _ int) ([]*txndomain.Transaction, error) {
	return nil, nil
}

func (r *fakeTxnReader) WithTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

type fakeApplier struct {
	applied []txndomain.Status
	err     error
}

func (a *fakeApplier) ApplyResolution(_ context.Context, _ string, target txndomain.Status) (*txndomain.Transaction, error) {
	if a.err != nil {
		return nil, a.err
	}
	a.applied = append(a.applied, target)
	return nil, nil
}

func newDisputeFixture(status txndomain.Status) (*DisputeService, *fakeDisputeRepo, *fakeApplier) {
	repo := newFakeDisputeRepo()
	applier := &fakeApplier{}
	txns := &fakeTxnReader{txns: map[string]*txndomain.Transaction{
		"TX-1": {TransactionID: "TX-1", MerchantID: "M1", Status: status},
	}}
	return NewDisputeService(repo, txns, applier), repo, applier
}

func TestOpenDispute(t *testing.T) {
	svc, repo, applier := newDisputeFixture(txndomain.StatusInProgress)

	dispute, err := svc.Open(context.Background(), OpenDisputeCommand{
		TransactionID: "TX-1",
		MerchantID:    "M1",
		Reason:        "payer claims transfer sent",
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if dispute.Status != domain.StatusOpen {
		t.Fatalf("expected OPEN, got %s", dispute.Status)
	}
	if len(applier.applied) != 1 || applier.applied[0] != txndomain.StatusDispute {
		t.Fatalf("expected DISPUTE transition, got %v", applier.applied)
	}
	if open, _ := repo.HasOpenDispute(context.Background(), "TX-1"); !open {
		t.Fatalf("expected open dispute persisted")
	}
}

func TestOpenDisputeRejectsNonInProgress(t *testing.T) {
	svc, _, _ := newDisputeFixture(txndomain.StatusReady)

	_, err := svc.Open(context.Background(), OpenDisputeCommand{TransactionID: "TX-1", MerchantID: "M1"})
	if !errors.Is(err, txndomain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestOpenDisputeRejectsSecondOpen(t *testing.T) {
	svc, _, _ := newDisputeFixture(txndomain.StatusInProgress)
	ctx := context.Background()

	if _, err := svc.Open(ctx, OpenDisputeCommand{TransactionID: "TX-1", MerchantID: "M1"}); err != nil {
		t.Fatalf("first open: %v", err)
	}
	_, err := svc.Open(ctx, OpenDisputeCommand{TransactionID: "TX-1", MerchantID: "M1"})
	if !errors.Is(err, domain.ErrDisputeExists) {
		t.Fatalf("expected ErrDisputeExists, got %v", err)
	}
}

func TestOpenDisputeRolledBackOnTransitionFailure(t *testing.T) {
	svc, repo, applier := newDisputeFixture(txndomain.StatusInProgress)
	applier.err = txndomain.ErrStatusConflict

	_, err := svc.Open(context.Background(), OpenDisputeCommand{TransactionID: "TX-1", MerchantID: "M1"})
	if !errors.Is(err, txndomain.ErrStatusConflict) {
		t.Fatalf("expected transition error, got %v", err)
	}
	if len(repo.deleted) != 1 {
		t.Fatalf("expected dispute rolled back, deleted=%v", repo.deleted)
	}
	if open, _ := repo.HasOpenDispute(context.Background(), "TX-1"); open {
		t.Fatalf("dispute must not survive a failed transition")
	}
}

func TestResolveDisputeAccept(t *testing.T) {
	svc, _, applier := newDisputeFixture(txndomain.StatusInProgress)
	ctx := context.Background()

	dispute, err := svc.Open(ctx, OpenDisputeCommand{TransactionID: "TX-1", MerchantID: "M1"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	resolved, err := svc.Resolve(ctx, ResolveDisputeCommand{
		DisputeID:  dispute.DisputeID,
		Accept:     true,
		Resolution: "receipt verified",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != domain.StatusResolvedSuccess {
		t.Fatalf("expected RESOLVED_SUCCESS, got %s", resolved.Status)
	}
	if resolved.ResolvedAt == nil {
		t.Fatalf("expected resolvedAt set")
	}
	last := applier.applied[len(applier.applied)-1]
	if last != txndomain.StatusReady {
		t.Fatalf("expected READY transition, got %s", last)
	}
}

func TestResolveDisputeReject(t *testing.T) {
	svc, _, applier := newDisputeFixture(txndomain.StatusInProgress)
	ctx := context.Background()

	dispute, err := svc.Open(ctx, OpenDisputeCommand{TransactionID: "TX-1", MerchantID: "M1"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	resolved, err := svc.Resolve(ctx, ResolveDisputeCommand{DisputeID: dispute.DisputeID})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != domain.StatusResolvedFail {
		t.Fatalf("expected RESOLVED_FAIL, got %s", resolved.Status)
	}
	last := applier.applied[len(applier.applied)-1]
	if last != txndomain.StatusCanceled {
		t.Fatalf("expected CANCELED transition, got %s", last)
	}
}

func TestResolveDisputeExactlyOnce(t *testing.T) {
	svc, _, applier := newDisputeFixture(txndomain.StatusInProgress)
	ctx := context.Background()

	dispute, err := svc.Open(ctx, OpenDisputeCommand{TransactionID: "TX-1", MerchantID: "M1"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.Resolve(ctx, ResolveDisputeCommand{DisputeID: dispute.DisputeID, Accept: true}); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	_, err = svc.Resolve(ctx, ResolveDisputeCommand{DisputeID: dispute.DisputeID})
	if !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	// 开启 + 唯一一次裁决，不存在第二次账目流转
	if len(applier.applied) != 2 {
		t.Fatalf("expected 2 transitions (DISPUTE, READY), got %v", applier.applied)
	}
}

func TestResolveReopensOnTransitionFailure(t *testing.T) {
	svc, repo, applier := newDisputeFixture(txndomain.StatusInProgress)
	ctx := context.Background()

	dispute, err := svc.Open(ctx, OpenDisputeCommand{TransactionID: "TX-1", MerchantID: "M1"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	applier.err = txndomain.ErrStatusConflict
	_, err = svc.Resolve(ctx, ResolveDisputeCommand{DisputeID: dispute.DisputeID, Accept: true})
	if !errors.Is(err, txndomain.ErrStatusConflict) {
		t.Fatalf("expected transition error, got %v", err)
	}

	stored, err := repo.Get(ctx, dispute.DisputeID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.StatusOpen {
		t.Fatalf("expected dispute reopened, got %s", stored.Status)
	}
}
