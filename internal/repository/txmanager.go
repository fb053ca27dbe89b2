package repository

import (
	"context"

	"gorm.io/gorm"

	pkgdb "example.com/fluxpay/pkg/db"
)

// TxManager открывает транзакцию с установленным тенантом сессии.
// Интерфейс для тестируемости сервисного слоя.
type TxManager interface {
	// Do выполняет fn в транзакции с app.tenant_id из контекста.
	Do(ctx context.Context, fn func(tx *gorm.DB) error) error

	// DoAs выполняет fn в транзакции от имени явно указанного тенанта.
	// Для фоновых компонентов, работающих вне HTTP запроса.
	DoAs(ctx context.Context, tenantID string, fn func(tx *gorm.DB) error) error
}

type tenantTxManager struct {
	db *gorm.DB
}

// NewTxManager создаёт менеджер транзакций с изоляцией арендаторов.
func NewTxManager(db *gorm.DB) TxManager {
	return &tenantTxManager{db: db}
}

func (m *tenantTxManager) Do(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return pkgdb.TenantTx(ctx, m.db, fn)
}

func (m *tenantTxManager) DoAs(ctx context.Context, tenantID string, fn func(tx *gorm.DB) error) error {
	return pkgdb.TenantTxAs(ctx, m.db, tenantID, fn)
}
