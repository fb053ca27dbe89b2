package domain

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func confirmedPayment(t *testing.T) *Payment {
	t.Helper()
	p := newTestPayment(t)
	require.NoError(t, p.StartProcessing())
	require.NoError(t, p.Approve("tx-1", "pk-1"))
	require.NoError(t, p.Confirm())
	return p
}

func TestNewRefundID_Format(t *testing.T) {
	id := NewRefundID()

	assert.Regexp(t, regexp.MustCompile(`^ref_[0-9a-f]{16}$`), id)
	assert.NotEqual(t, id, NewRefundID())
}

func TestNewRefund(t *testing.T) {
	p := confirmedPayment(t)

	r, err := NewRefund(p, MustMoney("10000", "KRW"), "запрос клиента")

	require.NoError(t, err)
	assert.Equal(t, RefundStatusRequested, r.Status)
	assert.Equal(t, p.ID, r.PaymentID)
	assert.Equal(t, p.TenantID, r.TenantID)
}

func TestNewRefund_Errors(t *testing.T) {
	t.Run("платёж не подтверждён", func(t *testing.T) {
		p := newTestPayment(t)

		_, err := NewRefund(p, MustMoney("10000", "KRW"), "причина")

		assert.ErrorIs(t, err, ErrRefundNotAllowed)
	})

	t.Run("нулевая сумма", func(t *testing.T) {
		_, err := NewRefund(confirmedPayment(t), MustMoney("0", "KRW"), "причина")

		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("сумма превышает платёж", func(t *testing.T) {
		_, err := NewRefund(confirmedPayment(t), MustMoney("20000", "KRW"), "причина")

		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("другая валюта", func(t *testing.T) {
		_, err := NewRefund(confirmedPayment(t), MustMoney("10", "USD"), "причина")

		assert.ErrorIs(t, err, ErrCurrencyMismatch)
	})
}

func TestRefund_Lifecycle(t *testing.T) {
	r, err := NewRefund(confirmedPayment(t), MustMoney("5000", "KRW"), "частичный возврат")
	require.NoError(t, err)

	require.NoError(t, r.StartProcessing())
	require.NoError(t, r.Complete("pg_refund_x"))

	assert.Equal(t, RefundStatusCompleted, r.Status)
	require.NotNil(t, r.PGRefundID)
	assert.Equal(t, "pg_refund_x", *r.PGRefundID)
	assert.NotNil(t, r.CompletedAt)
}

func TestRefund_FailFromProcessing(t *testing.T) {
	r, err := NewRefund(confirmedPayment(t), MustMoney("5000", "KRW"), "причина")
	require.NoError(t, err)
	require.NoError(t, r.StartProcessing())

	require.NoError(t, r.Fail("шлюз отклонил возврат"))

	assert.Equal(t, RefundStatusFailed, r.Status)
	require.NotNil(t, r.Error)
}

func TestRefund_CompleteWithoutProcessing(t *testing.T) {
	r, err := NewRefund(confirmedPayment(t), MustMoney("5000", "KRW"), "причина")
	require.NoError(t, err)

	err = r.Complete("pg_refund_x")

	assert.Error(t, err)
	assert.Equal(t, RefundStatusRequested, r.Status)
}
