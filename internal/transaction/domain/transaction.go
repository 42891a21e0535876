// 包 domain 交易聚合根与状态机
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/fsm"
	"github.com/wyfcoding/pkg/idgen"
	"gorm.io/gorm"

	"github.com/wyfcoding/paymentplatform/pkg/money"
)

var (
	// ErrTransactionNotFound 交易不存在
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrDuplicateOrder 商户订单号重复
	ErrDuplicateOrder = errors.New("duplicate order")
	// ErrInvalidTransition 状态流转不在允许表内
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrStatusConflict 并发流转冲突：条件更新未命中期望的前置状态
	ErrStatusConflict = errors.New("transaction status conflict")
	// ErrDisputeOpen 存在未决争议，普通状态流转被阻断
	ErrDisputeOpen = errors.New("transaction has an open dispute")
	// ErrNoRequisite 无可用收款方式且聚合器路由耗尽
	ErrNoRequisite = errors.New("no requisite available")
)

// Status 交易状态
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusReady      Status = "READY"
	StatusDispute    Status = "DISPUTE"
	StatusExpired    Status = "EXPIRED"
	StatusCanceled   Status = "CANCELED"
	StatusMilk       Status = "MILK"
)

// IsTerminal READY 之后仍可取消，因此仅 CANCELED 是完全终态
func (s Status) IsTerminal() bool {
	return s == StatusCanceled
}

// Type 交易方向
type Type string

const (
	// TypeIn 收款：终端付款人向交易员收款方式转账
	TypeIn Type = "IN"
	// TypeOut 付款：向终端付款人出金
	TypeOut Type = "OUT"
)

// SettlementSource 最终结算的资金来源。
// 过期时冻结额已临时返还 trust_balance，之后的最终结算必须从
// trust_balance 扣减而不再动 frozen_usdt；该标记把这一决策固化为单点。
type SettlementSource string

const (
	SettlementFromFrozen SettlementSource = "FROZEN"
	SettlementFromTrust  SettlementSource = "TRUST_BALANCE"
)

// 状态机事件
const (
	eventStart   = "START"
	eventConfirm = "CONFIRM"
	eventDispute = "DISPUTE"
	eventExpire  = "EXPIRE"
	eventCancel  = "CANCEL"
	eventMilk    = "MILK"
)

// Transaction 交易聚合根
type Transaction struct {
	gorm.Model
	// 交易 ID (业务主键)
	TransactionID string `gorm:"column:transaction_id;type:varchar(32);uniqueIndex;not null" json:"transaction_id"`
	// 数字短 ID，供客服与对账引用
	NumericID int64 `gorm:"column:numeric_id;uniqueIndex;not null" json:"numeric_id"`
	// 商户订单号，与 merchant_id 联合唯一
	OrderID    string `gorm:"column:order_id;type:varchar(64);uniqueIndex:uk_merchant_order;not null" json:"order_id"`
	MerchantID string `gorm:"column:merchant_id;type:varchar(32);uniqueIndex:uk_merchant_order;index;not null" json:"merchant_id"`
	// 终端付款人标识，用于幂等去重，可为空
	ClientID string `gorm:"column:client_id;type:varchar(64);index" json:"client_id"`
	// 承接交易的交易员，聚合器路径下为空
	TraderID string `gorm:"column:trader_id;type:varchar(32);index" json:"trader_id"`
	MethodID string `gorm:"column:method_id;type:varchar(32);not null" json:"method_id"`
	// 金额（法币）
	Amount   decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	Currency string          `gorm:"column:currency;type:varchar(8);default:RUB;not null" json:"currency"`
	// 创建时锁定的 USDT/法币 汇率；之后所有收益与商户入账换算都用该存储值
	Rate decimal.Decimal `gorm:"column:rate;type:decimal(20,8);not null" json:"rate"`
	// 商户侧记账汇率，可与 rate 不同
	MerchantRate decimal.Decimal `gorm:"column:merchant_rate;type:decimal(20,8);default:0;not null" json:"merchant_rate"`
	// 历史字段：rate 的别名，仅为兼容旧对账导出保留
	AdjustedRate decimal.Decimal `gorm:"column:adjusted_rate;type:decimal(20,8);default:0;not null" json:"adjusted_rate"`
	KkkPercent   decimal.Decimal `gorm:"column:kkk_percent;type:decimal(10,4);default:0;not null" json:"kkk_percent"`
	KkkOperation string          `gorm:"column:kkk_operation;type:varchar(16)" json:"kkk_operation"`
	// 结算时解析出的费率百分比
	FeeInPercent decimal.Decimal `gorm:"column:fee_in_percent;type:decimal(10,4);default:0;not null" json:"fee_in_percent"`
	// 创建时一次性确定的冻结本金 (USDT)，解冻必须使用同一存储值
	FrozenUsdtAmount     decimal.Decimal `gorm:"column:frozen_usdt_amount;type:decimal(20,2);default:0;not null" json:"frozen_usdt_amount"`
	CalculatedCommission decimal.Decimal `gorm:"column:calculated_commission;type:decimal(20,2);default:0;not null" json:"calculated_commission"`
	// 结算时入账的交易员收益；一经写入即为唯一可入账/冲销的值
	TraderProfit decimal.Decimal `gorm:"column:trader_profit;type:decimal(20,2);default:0;not null" json:"trader_profit"`
	Status       Status          `gorm:"column:status;type:varchar(16);index;not null" json:"status"`
	Type         Type            `gorm:"column:type;type:varchar(8);not null" json:"type"`
	// 最终结算的资金来源，离开 EXPIRED 时切换为 TRUST_BALANCE
	SettlementSource SettlementSource `gorm:"column:settlement_source;type:varchar(16);default:FROZEN;not null" json:"settlement_source"`
	// 匹配到的收款方式，聚合器路径下为空
	BankDetailID string `gorm:"column:bank_detail_id;type:varchar(32);index" json:"bank_detail_id"`
	// 聚合器路径字段
	AggregatorID      string `gorm:"column:aggregator_id;type:varchar(32);index" json:"aggregator_id"`
	AggregatorOrderID string `gorm:"column:aggregator_order_id;type:varchar(64)" json:"aggregator_order_id"`
	// 合作方原始响应，仅供审计
	AggregatorResponse string     `gorm:"column:aggregator_response;type:text" json:"aggregator_response"`
	ExpiredAt          time.Time  `gorm:"column:expired_at;index;not null" json:"expired_at"`
	AcceptedAt         *time.Time `gorm:"column:accepted_at" json:"accepted_at"`

	fsm *fsm.Machine[string, string]
}

// TableName 表名
func (Transaction) TableName() string {
	return "transactions"
}

// NewTransaction 创建交易，初始状态 CREATED
func NewTransaction(merchantID, orderID, clientID, methodID string, txType Type, amount, rate decimal.Decimal, expiredAt time.Time) *Transaction {
	numericID := idgen.GenID()
	t := &Transaction{
		TransactionID:    fmt.Sprintf("TX-%d", numericID),
		NumericID:        int64(numericID),
		OrderID:          orderID,
		MerchantID:       merchantID,
		ClientID:         clientID,
		MethodID:         methodID,
		Amount:           amount,
		Currency:         "RUB",
		Rate:             rate,
		AdjustedRate:     rate,
		Status:           StatusCreated,
		Type:             txType,
		SettlementSource: SettlementFromFrozen,
		ExpiredAt:        expiredAt,
	}
	t.initFSM()
	return t
}

func (t *Transaction) initFSM() {
	m := fsm.NewMachine[string, string](string(t.Status))
	m.AddTransition(string(StatusCreated), eventStart, string(StatusInProgress))
	m.AddTransition(string(StatusInProgress), eventConfirm, string(StatusReady))
	m.AddTransition(string(StatusInProgress), eventDispute, string(StatusDispute))
	m.AddTransition(string(StatusInProgress), eventExpire, string(StatusExpired))
	m.AddTransition(string(StatusInProgress), eventCancel, string(StatusCanceled))
	m.AddTransition(string(StatusInProgress), eventMilk, string(StatusMilk))
	m.AddTransition(string(StatusDispute), eventConfirm, string(StatusReady))
	m.AddTransition(string(StatusDispute), eventCancel, string(StatusCanceled))
	m.AddTransition(string(StatusExpired), eventConfirm, string(StatusReady))
	m.AddTransition(string(StatusExpired), eventCancel, string(StatusCanceled))
	m.AddTransition(string(StatusMilk), eventConfirm, string(StatusReady))
	m.AddTransition(string(StatusMilk), eventCancel, string(StatusCanceled))
	m.AddTransition(string(StatusReady), eventCancel, string(StatusCanceled))
	t.fsm = m
}

// InitFSM 确保状态机已初始化（从仓储加载的实体需要）
func (t *Transaction) InitFSM() {
	if t.fsm == nil {
		t.initFSM()
	}
}

func (t *Transaction) trigger(ctx context.Context, event string, target Status) error {
	t.InitFSM()
	if err := t.fsm.Trigger(ctx, event); err != nil {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, target)
	}
	t.Status = target
	return nil
}

// Start 进入处理中，资金已冻结或聚合器已接单
func (t *Transaction) Start(ctx context.Context) error {
	return t.trigger(ctx, eventStart, StatusInProgress)
}

// Confirm 结算：付款人到账确认
func (t *Transaction) Confirm(ctx context.Context) error {
	if err := t.trigger(ctx, eventConfirm, StatusReady); err != nil {
		return err
	}
	now := time.Now()
	t.AcceptedAt = &now
	return nil
}

// OpenDispute 进入争议
func (t *Transaction) OpenDispute(ctx context.Context) error {
	return t.trigger(ctx, eventDispute, StatusDispute)
}

// Expire 过期：冻结额临时返还，后续结算改从 trust_balance 扣
func (t *Transaction) Expire(ctx context.Context) error {
	if err := t.trigger(ctx, eventExpire, StatusExpired); err != nil {
		return err
	}
	t.SettlementSource = SettlementFromTrust
	return nil
}

// Cancel 取消
func (t *Transaction) Cancel(ctx context.Context) error {
	return t.trigger(ctx, eventCancel, StatusCanceled)
}

// Milk 进入 MILK 预终态
func (t *Transaction) Milk(ctx context.Context) error {
	return t.trigger(ctx, eventMilk, StatusMilk)
}

// ApplyStatus 以目标状态驱动对应的状态机事件
func (t *Transaction) ApplyStatus(ctx context.Context, target Status) error {
	switch target {
	case StatusInProgress:
		return t.Start(ctx)
	case StatusReady:
		return t.Confirm(ctx)
	case StatusDispute:
		return t.OpenDispute(ctx)
	case StatusExpired:
		return t.Expire(ctx)
	case StatusCanceled:
		return t.Cancel(ctx)
	case StatusMilk:
		return t.Milk(ctx)
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, target)
	}
}

// SpentUsdt 本金的 USDT 口径：优先用创建时存储的冻结额，
// 缺失时按存储汇率重算，绝不使用实时市场汇率。
func (t *Transaction) SpentUsdt() decimal.Decimal {
	if t.FrozenUsdtAmount.IsPositive() {
		return t.FrozenUsdtAmount
	}
	if t.Rate.IsPositive() {
		return money.UsdtFromFiat(t.Amount, t.Rate)
	}
	return decimal.Zero
}

// TransactionRepository 交易仓储接口
type TransactionRepository interface {
	// Create 创建交易；merchant_id+order_id 冲突返回 ErrDuplicateOrder
	Create(ctx context.Context, txn *Transaction) error
	// Get 按交易 ID 获取
	Get(ctx context.Context, transactionID string) (*Transaction, error)
	// GetForUpdate 在当前事务内以行锁获取
	GetForUpdate(ctx context.Context, transactionID string) (*Transaction, error)
	// FindActiveByClient 查找同商户同付款人同金额的进行中交易；无则返回 (nil, nil)
	FindActiveByClient(ctx context.Context, merchantID, clientID string, amount decimal.Decimal) (*Transaction, error)
	// SaveTransition 条件更新：仅当数据库中状态仍为 prior 时落盘新状态与结算字段；
	// 未命中返回 ErrStatusConflict，同一流转的并发重放只有一个能成功
	SaveTransition(ctx context.Context, txn *Transaction, prior Status) error
	// ListExpired 列出已过 expired_at 的进行中交易
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Transaction, error)
	// WithTx 在单个数据库事务内执行 fn
	WithTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

// DisputeGuard 争议检查：未决争议会阻断普通状态流转
type DisputeGuard interface {
	HasOpenDispute(ctx context.Context, transactionID string) (bool, error)
}

// StatusChangedEvent 状态变更事件，发布到 Kafka
type StatusChangedEvent struct {
	TransactionID string          `json:"transaction_id"`
	OrderID       string          `json:"order_id"`
	MerchantID    string          `json:"merchant_id"`
	TraderID      string          `json:"trader_id,omitempty"`
	Type          Type            `json:"type"`
	PriorStatus   Status          `json:"prior_status"`
	Status        Status          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Rate          decimal.Decimal `json:"rate"`
	TraderProfit  decimal.Decimal `json:"trader_profit"`
	OccurredOn    time.Time       `json:"occurred_on"`
}

// EventPublisher 交易事件发布接口
type EventPublisher interface {
	PublishStatusChanged(ctx context.Context, event StatusChangedEvent) error
}
