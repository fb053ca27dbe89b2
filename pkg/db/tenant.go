package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"example.com/fluxpay/pkg/tenant"
)

// TenantTx выполняет fn в транзакции, первой командой которой устанавливается
// сессионная переменная app.tenant_id. Политики row-level security фильтруют
// строки по этой переменной, поэтому без неё запросы не видят ни одной строки.
//
// set_config(..., true) действует как SET LOCAL: переменная сбрасывается
// при завершении транзакции, и соединение возвращается в пул чистым.
// Арендатор не может "протечь" в чужой запрос через переиспользованное соединение.
func TenantTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	tenantID, err := tenant.RequireID(ctx)
	if err != nil {
		return err
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT set_config('app.tenant_id', ?, true)", tenantID).Error; err != nil {
			return fmt.Errorf("ошибка установки app.tenant_id: %w", err)
		}
		return fn(tx)
	})
}

// TenantTxAs выполняет fn от имени явно указанного арендатора.
// Используется фоновыми воркерами, которые обрабатывают строки
// нескольких арендаторов и берут идентификатор из самой строки.
func TenantTxAs(ctx context.Context, db *gorm.DB, tenantID string, fn func(tx *gorm.DB) error) error {
	if tenantID == "" {
		return tenant.ErrMissing
	}
	return TenantTx(tenant.WithID(ctx, tenantID), db, fn)
}
