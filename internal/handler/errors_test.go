package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/fluxpay/internal/api"
	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/saga"
	"example.com/fluxpay/internal/service"
	"example.com/fluxpay/pkg/tenant"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"нет арендатора", tenant.ErrMissing, http.StatusBadRequest, api.CodeTenantMissing},
		{"заказ не найден", domain.ErrOrderNotFound, http.StatusNotFound, api.CodeOrderNotFound},
		{"платёж не найден", domain.ErrPaymentNotFound, http.StatusNotFound, api.CodePaymentNotFound},
		{"возврат не найден", domain.ErrRefundNotFound, http.StatusNotFound, api.CodeRefundNotFound},
		{"недостаточно средств", service.ErrInsufficientBalance, http.StatusUnprocessableEntity, api.CodeInsufficientBalance},
		{"шлюз недоступен", service.ErrPGUnavailable, http.StatusBadGateway, api.CodePGClientError},
		{"возврат запрещён", domain.ErrRefundNotAllowed, http.StatusConflict, api.CodeInvalidPaymentState},
		{"дубликат correlation_id", saga.ErrDuplicateCorrelation, http.StatusConflict, api.CodeIdempotencyProcessing},
		{"конфликт версий", domain.ErrVersionConflict, http.StatusConflict, api.CodeInvalidRequest},
		{"недопустимый переход заказа", domain.NewInvalidStateError("ORDER", "CANCELLED", "PAID"), http.StatusConflict, api.CodeInvalidOrderState},
		{"недопустимый переход платежа", domain.NewInvalidStateError("PAYMENT", "FAILED", "CONFIRMED"), http.StatusConflict, api.CodeInvalidPaymentState},
		{"пустой заказ", domain.ErrEmptyOrderItems, http.StatusUnprocessableEntity, api.CodeInvalidRequest},
		{"неизвестная ошибка", errors.New("boom"), http.StatusInternalServerError, api.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := classifyError(tt.err)

			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.False(t, resp.IsSuccess)
		})
	}
}

func TestClassifyError_SagaFailureCarriesDetails(t *testing.T) {
	execErr := &saga.ExecutionError{
		SagaID:             "saga-1",
		SagaType:           "PAYMENT_SAGA",
		FailedStep:         "CONFIRM_PAYMENT",
		Cause:              errors.New("шлюз вернул отказ"),
		CompensationFailed: true,
	}

	status, resp := classifyError(execErr)

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, api.CodeSagaExecutionFailed, resp.Code)

	failure, ok := resp.Result.(sagaFailure)
	require.True(t, ok)
	assert.Equal(t, "saga-1", failure.SagaID)
	assert.Equal(t, "CONFIRM_PAYMENT", failure.FailedStep)
	assert.True(t, failure.CompensationFailed)
}

func TestClassifyError_BusinessCauseInsideSagaStaysClient(t *testing.T) {
	// Причина внутри обёртки саги важнее самой обёртки:
	// нехватка средств — ошибка клиента, а не сервера
	execErr := &saga.ExecutionError{
		SagaID:     "saga-1",
		SagaType:   "PAYMENT_SAGA",
		FailedStep: "PROCESS_PAYMENT",
		Cause:      fmt.Errorf("%w: отказ шлюза", service.ErrInsufficientBalance),
	}

	status, resp := classifyError(execErr)

	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, api.CodeInsufficientBalance, resp.Code)

	// Контекст саги сохраняется и при клиентском коде
	failure, ok := resp.Result.(sagaFailure)
	require.True(t, ok)
	assert.Equal(t, "saga-1", failure.SagaID)
	assert.Equal(t, "PROCESS_PAYMENT", failure.FailedStep)
}

func TestClassifyError_GatewayCauseInsideSagaCarriesDetails(t *testing.T) {
	execErr := &saga.ExecutionError{
		SagaID:     "saga-2",
		SagaType:   "PAYMENT_SAGA",
		FailedStep: "PROCESS_PAYMENT",
		Cause:      fmt.Errorf("%w: таймаут", service.ErrPGUnavailable),
	}

	status, resp := classifyError(execErr)

	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, api.CodePGClientError, resp.Code)

	failure, ok := resp.Result.(sagaFailure)
	require.True(t, ok)
	assert.Equal(t, "saga-2", failure.SagaID)
}
