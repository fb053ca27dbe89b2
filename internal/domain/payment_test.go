package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPayment(t *testing.T) *Payment {
	t.Helper()
	p, err := NewPayment("tenant-a", "order-1", "CARD", MustMoney("10000", "KRW"))
	require.NoError(t, err)
	return p
}

func TestNewPayment(t *testing.T) {
	p := newTestPayment(t)

	assert.True(t, strings.HasPrefix(p.ID, "pay_"))
	assert.Equal(t, PaymentStatusReady, p.Status)
	assert.Equal(t, int64(1), p.Version)
}

func TestNewPayment_ZeroAmount(t *testing.T) {
	_, err := NewPayment("tenant-a", "order-1", "CARD", MustMoney("0", "KRW"))

	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestPaymentStatus_Transitions(t *testing.T) {
	tests := []struct {
		from    PaymentStatus
		to      PaymentStatus
		allowed bool
	}{
		{PaymentStatusReady, PaymentStatusProcessing, true},
		{PaymentStatusReady, PaymentStatusFailed, true},
		{PaymentStatusReady, PaymentStatusApproved, false},
		{PaymentStatusProcessing, PaymentStatusApproved, true},
		{PaymentStatusProcessing, PaymentStatusFailed, true},
		{PaymentStatusProcessing, PaymentStatusConfirmed, false},
		{PaymentStatusApproved, PaymentStatusConfirmed, true},
		{PaymentStatusApproved, PaymentStatusFailed, true},
		{PaymentStatusConfirmed, PaymentStatusRefunded, true},
		{PaymentStatusConfirmed, PaymentStatusFailed, false},
		{PaymentStatusFailed, PaymentStatusReady, false},
		{PaymentStatusRefunded, PaymentStatusConfirmed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestPayment_FullLifecycle(t *testing.T) {
	p := newTestPayment(t)

	require.NoError(t, p.StartProcessing())
	require.NoError(t, p.Approve("tx-1", "pk-1"))
	require.NoError(t, p.Confirm())

	assert.Equal(t, PaymentStatusConfirmed, p.Status)
	require.NotNil(t, p.PGTransactionID)
	assert.Equal(t, "tx-1", *p.PGTransactionID)
	require.NotNil(t, p.PGPaymentKey)
	assert.Equal(t, "pk-1", *p.PGPaymentKey)
	assert.NotNil(t, p.ApprovedAt)
	assert.NotNil(t, p.ConfirmedAt)

	require.NoError(t, p.MarkRefunded())
	assert.Equal(t, PaymentStatusRefunded, p.Status)
}

func TestPayment_FailCarriesReason(t *testing.T) {
	p := newTestPayment(t)
	require.NoError(t, p.StartProcessing())

	require.NoError(t, p.Fail("шлюз отклонил платёж"))

	assert.Equal(t, PaymentStatusFailed, p.Status)
	require.NotNil(t, p.FailureReason)
	assert.Equal(t, "шлюз отклонил платёж", *p.FailureReason)
}

func TestPayment_ConfirmFromReady(t *testing.T) {
	p := newTestPayment(t)

	err := p.Confirm()

	var stateErr *InvalidStateError
	require.True(t, errors.As(err, &stateErr))
	assert.Equal(t, "PAYMENT", stateErr.Entity)
	assert.Equal(t, "READY", stateErr.From)
}

func TestPayment_ValidateRestored(t *testing.T) {
	t.Run("APPROVED без реквизитов шлюза", func(t *testing.T) {
		p := newTestPayment(t)
		p.Status = PaymentStatusApproved

		assert.ErrorIs(t, p.ValidateRestored(), ErrCorruptedState)
	})

	t.Run("корректный CONFIRMED", func(t *testing.T) {
		p := newTestPayment(t)
		require.NoError(t, p.StartProcessing())
		require.NoError(t, p.Approve("tx-1", "pk-1"))
		require.NoError(t, p.Confirm())

		assert.NoError(t, p.ValidateRestored())
	})
}
