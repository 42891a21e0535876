package mysql

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/contextx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wyfcoding/paymentplatform/internal/transaction/domain"
)

// transactionRepository 交易仓储实现
type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository 创建并返回一个新的 transactionRepository 实例。
func NewTransactionRepository(db *gorm.DB) domain.TransactionRepository {
	return &transactionRepository{db: db}
}

// Create 创建交易；merchant_id+order_id 唯一键冲突映射为 ErrDuplicateOrder
func (r *transactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	err := r.getDB(ctx).WithContext(ctx).Create(txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicateOrder
		}
		return err
	}
	return nil
}

// Get 按交易 ID 获取
func (r *transactionRepository) Get(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	var txn domain.Transaction
	if err := r.getDB(ctx).WithContext(ctx).Where("transaction_id = ?", transactionID).First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}
	txn.InitFSM()
	return &txn, nil
}

// GetForUpdate 在当前事务内以行锁获取
func (r *transactionRepository) GetForUpdate(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := r.getDB(ctx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("transaction_id = ?", transactionID).
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}
	txn.InitFSM()
	return &txn, nil
}

// FindActiveByClient 查找同商户同付款人同金额的进行中交易
func (r *transactionRepository) FindActiveByClient(ctx context.Context, merchantID, clientID string, amount decimal.Decimal) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := r.getDB(ctx).WithContext(ctx).
		Where("merchant_id = ? AND client_id = ? AND amount = ?", merchantID, clientID, amount).
		Where("status IN ?", []domain.Status{domain.StatusCreated, domain.StatusInProgress}).
		Order("created_at DESC").
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	txn.InitFSM()
	return &txn, nil
}

// SaveTransition 条件更新：WHERE status = prior 保证同一流转的并发重放只有一个生效
func (r *transactionRepository) SaveTransition(ctx context.Context, txn *domain.Transaction, prior domain.Status) error {
	result := r.getDB(ctx).WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("transaction_id = ? AND status = ?", txn.TransactionID, prior).
		Updates(map[string]any{
			"status":            txn.Status,
			"settlement_source": txn.SettlementSource,
			"fee_in_percent":    txn.FeeInPercent,
			"trader_profit":     txn.TraderProfit,
			"accepted_at":       txn.AcceptedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.getDB(ctx).WithContext(ctx).Model(&domain.Transaction{}).
			Where("transaction_id = ?", txn.TransactionID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrTransactionNotFound
		}
		return domain.ErrStatusConflict
	}
	return nil
}

// ListExpired 列出已过 expired_at 的进行中交易
func (r *transactionRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Transaction, error) {
	var txns []*domain.Transaction
	err := r.getDB(ctx).WithContext(ctx).
		Where("status = ? AND expired_at < ?", domain.StatusInProgress, now).
		Order("expired_at ASC").
		Limit(limit).
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	for _, txn := range txns {
		txn.InitFSM()
	}
	return txns, nil
}

// WithTx 在单个数据库事务内执行 fn
func (r *transactionRepository) WithTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		txCtx := contextx.WithTx(ctx, tx)
		return fn(txCtx)
	})
}

func (r *transactionRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx
	}
	return r.db
}
