// Package repository содержит GORM репозитории агрегатов.
// Все операции выполняются внутри транзакции с установленным
// app.tenant_id: row-level security БД — последняя линия изоляции
// арендаторов, явный фильтр tenant_id — первая.
package repository

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"example.com/fluxpay/internal/domain"
)

// =============================================================================
// Заказы
// =============================================================================

// OrderModel — GORM модель таблицы orders.
type OrderModel struct {
	ID            string          `gorm:"column:id;type:varchar(36);primaryKey"`
	TenantID      string          `gorm:"column:tenant_id;type:varchar(64);not null;index"`
	UserID        string          `gorm:"column:user_id;type:varchar(64);not null;index"`
	Currency      string          `gorm:"column:currency;type:varchar(3);not null"`
	TotalAmount   decimal.Decimal `gorm:"column:total_amount;type:numeric(20,4);not null"`
	Status        string          `gorm:"column:status;type:varchar(16);not null;index"`
	FailureReason *string         `gorm:"column:failure_reason;type:text"`
	Metadata      []byte          `gorm:"column:metadata;type:jsonb"`
	Version       int64           `gorm:"column:version;not null;default:1"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
	PaidAt        *time.Time      `gorm:"column:paid_at"`
	CompletedAt   *time.Time      `gorm:"column:completed_at"`

	Items []OrderItemModel `gorm:"foreignKey:OrderID;references:ID"`
}

// TableName возвращает имя таблицы в БД.
func (OrderModel) TableName() string {
	return "orders"
}

// OrderItemModel — GORM модель таблицы order_items.
type OrderItemModel struct {
	ID          string          `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID     string          `gorm:"column:order_id;type:varchar(36);not null;index"`
	TenantID    string          `gorm:"column:tenant_id;type:varchar(64);not null"`
	ProductID   string          `gorm:"column:product_id;type:varchar(64);not null"`
	ProductName string          `gorm:"column:product_name;type:varchar(255)"`
	Quantity    int32           `gorm:"column:quantity;not null"`
	UnitPrice   decimal.Decimal `gorm:"column:unit_price;type:numeric(20,4);not null"`
	TotalPrice  decimal.Decimal `gorm:"column:total_price;type:numeric(20,4);not null"`
}

// TableName возвращает имя таблицы в БД.
func (OrderItemModel) TableName() string {
	return "order_items"
}

// ToDomain конвертирует модель заказа в доменную сущность.
func (m *OrderModel) ToDomain() (*domain.Order, error) {
	var metadata map[string]string
	if len(m.Metadata) > 0 {
		if err := json.Unmarshal(m.Metadata, &metadata); err != nil {
			return nil, domain.ErrCorruptedState
		}
	}

	order := &domain.Order{
		ID:            m.ID,
		TenantID:      m.TenantID,
		UserID:        m.UserID,
		Currency:      m.Currency,
		TotalAmount:   domain.Money{Amount: m.TotalAmount, Currency: m.Currency},
		Status:        domain.OrderStatus(m.Status),
		FailureReason: m.FailureReason,
		Metadata:      metadata,
		Version:       m.Version,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		PaidAt:        m.PaidAt,
		CompletedAt:   m.CompletedAt,
	}

	for i := range m.Items {
		item := &m.Items[i]
		order.Items = append(order.Items, domain.OrderLineItem{
			ID:          item.ID,
			OrderID:     item.OrderID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   domain.Money{Amount: item.UnitPrice, Currency: m.Currency},
			TotalPrice:  domain.Money{Amount: item.TotalPrice, Currency: m.Currency},
		})
	}

	if err := order.ValidateRestored(); err != nil {
		return nil, err
	}
	return order, nil
}

// OrderModelFromDomain конвертирует доменную сущность в модель.
func OrderModelFromDomain(o *domain.Order) *OrderModel {
	var metadata []byte
	if len(o.Metadata) > 0 {
		metadata, _ = json.Marshal(o.Metadata)
	}

	model := &OrderModel{
		ID:            o.ID,
		TenantID:      o.TenantID,
		UserID:        o.UserID,
		Currency:      o.Currency,
		TotalAmount:   o.TotalAmount.Amount,
		Status:        string(o.Status),
		FailureReason: o.FailureReason,
		Metadata:      metadata,
		Version:       o.Version,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
		PaidAt:        o.PaidAt,
		CompletedAt:   o.CompletedAt,
	}

	for i := range o.Items {
		item := &o.Items[i]
		model.Items = append(model.Items, OrderItemModel{
			ID:          item.ID,
			OrderID:     item.OrderID,
			TenantID:    o.TenantID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.Amount,
			TotalPrice:  item.TotalPrice.Amount,
		})
	}
	return model
}

// =============================================================================
// Платежи
// =============================================================================

// PaymentModel — GORM модель таблицы payments. Платёж 1:1 с заказом.
type PaymentModel struct {
	ID              string          `gorm:"column:id;type:varchar(40);primaryKey"`
	TenantID        string          `gorm:"column:tenant_id;type:varchar(64);not null;index;uniqueIndex:uniq_payments_tenant_pg_key,priority:1"`
	OrderID         string          `gorm:"column:order_id;type:varchar(36);not null;uniqueIndex"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(20,4);not null"`
	Currency        string          `gorm:"column:currency;type:varchar(3);not null"`
	Status          string          `gorm:"column:status;type:varchar(16);not null;index"`
	Method          string          `gorm:"column:method;type:varchar(32);not null"`
	PGTransactionID *string         `gorm:"column:pg_transaction_id;type:varchar(64)"`
	PGPaymentKey    *string         `gorm:"column:pg_payment_key;type:varchar(64);uniqueIndex:uniq_payments_tenant_pg_key,priority:2,where:pg_payment_key IS NOT NULL"`
	FailureReason   *string         `gorm:"column:failure_reason;type:text"`
	Version         int64           `gorm:"column:version;not null;default:1"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
	ApprovedAt      *time.Time      `gorm:"column:approved_at"`
	ConfirmedAt     *time.Time      `gorm:"column:confirmed_at"`
}

// TableName возвращает имя таблицы в БД.
func (PaymentModel) TableName() string {
	return "payments"
}

// ToDomain конвертирует модель платежа в доменную сущность.
func (m *PaymentModel) ToDomain() (*domain.Payment, error) {
	payment := &domain.Payment{
		ID:              m.ID,
		TenantID:        m.TenantID,
		OrderID:         m.OrderID,
		Amount:          domain.Money{Amount: m.Amount, Currency: m.Currency},
		Status:          domain.PaymentStatus(m.Status),
		Method:          m.Method,
		PGTransactionID: m.PGTransactionID,
		PGPaymentKey:    m.PGPaymentKey,
		FailureReason:   m.FailureReason,
		Version:         m.Version,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
		ApprovedAt:      m.ApprovedAt,
		ConfirmedAt:     m.ConfirmedAt,
	}

	if err := payment.ValidateRestored(); err != nil {
		return nil, err
	}
	return payment, nil
}

// PaymentModelFromDomain конвертирует доменную сущность в модель.
func PaymentModelFromDomain(p *domain.Payment) *PaymentModel {
	return &PaymentModel{
		ID:              p.ID,
		TenantID:        p.TenantID,
		OrderID:         p.OrderID,
		Amount:          p.Amount.Amount,
		Currency:        p.Amount.Currency,
		Status:          string(p.Status),
		Method:          p.Method,
		PGTransactionID: p.PGTransactionID,
		PGPaymentKey:    p.PGPaymentKey,
		FailureReason:   p.FailureReason,
		Version:         p.Version,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
		ApprovedAt:      p.ApprovedAt,
		ConfirmedAt:     p.ConfirmedAt,
	}
}

// =============================================================================
// Возвраты
// =============================================================================

// RefundModel — GORM модель таблицы refunds.
type RefundModel struct {
	ID          string          `gorm:"column:id;type:varchar(20);primaryKey"`
	TenantID    string          `gorm:"column:tenant_id;type:varchar(64);not null;index"`
	PaymentID   string          `gorm:"column:payment_id;type:varchar(40);not null;index"`
	Amount      decimal.Decimal `gorm:"column:amount;type:numeric(20,4);not null"`
	Currency    string          `gorm:"column:currency;type:varchar(3);not null"`
	Reason      string          `gorm:"column:reason;type:text"`
	Status      string          `gorm:"column:status;type:varchar(16);not null;index"`
	PGRefundID  *string         `gorm:"column:pg_refund_id;type:varchar(64)"`
	Error       *string         `gorm:"column:error;type:text"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
	CompletedAt *time.Time      `gorm:"column:completed_at"`
}

// TableName возвращает имя таблицы в БД.
func (RefundModel) TableName() string {
	return "refunds"
}

// ToDomain конвертирует модель возврата в доменную сущность.
func (m *RefundModel) ToDomain() *domain.Refund {
	return &domain.Refund{
		ID:          m.ID,
		TenantID:    m.TenantID,
		PaymentID:   m.PaymentID,
		Amount:      domain.Money{Amount: m.Amount, Currency: m.Currency},
		Reason:      m.Reason,
		Status:      domain.RefundStatus(m.Status),
		PGRefundID:  m.PGRefundID,
		Error:       m.Error,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		CompletedAt: m.CompletedAt,
	}
}

// RefundModelFromDomain конвертирует доменную сущность в модель.
func RefundModelFromDomain(r *domain.Refund) *RefundModel {
	return &RefundModel{
		ID:          r.ID,
		TenantID:    r.TenantID,
		PaymentID:   r.PaymentID,
		Amount:      r.Amount.Amount,
		Currency:    r.Amount.Currency,
		Reason:      r.Reason,
		Status:      string(r.Status),
		PGRefundID:  r.PGRefundID,
		Error:       r.Error,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		CompletedAt: r.CompletedAt,
	}
}
