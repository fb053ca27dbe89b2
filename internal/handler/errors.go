package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/fluxpay/internal/api"
	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/saga"
	"example.com/fluxpay/internal/service"
	"example.com/fluxpay/pkg/logger"
	"example.com/fluxpay/pkg/tenant"
)

// sagaFailure — тело result при ошибке выполнения саги.
type sagaFailure struct {
	SagaID             string `json:"sagaId"`
	FailedStep         string `json:"failedStep"`
	CompensationFailed bool   `json:"compensationFailed"`
}

// writeError переводит ошибку сервисного слоя в HTTP ответ
// со стабильным кодом.
func writeError(c *gin.Context, err error) {
	status, resp := classifyError(err)
	if status >= http.StatusInternalServerError {
		logger.Ctx(c.Request.Context()).Error().Err(err).
			Str("path", c.Request.URL.Path).
			Msg("Запрос завершился ошибкой")
	}
	c.AbortWithStatusJSON(status, resp)
}

// classifyError сопоставляет ошибку со статусом и кодом API.
// Бизнес-причины проверяются раньше обёртки саги: клиентская ошибка
// внутри саги остаётся клиентской (422), а не серверной. Контекст саги
// при этом не теряется: sagaId и упавший шаг прикладываются к result.
func classifyError(err error) (int, api.Response) {
	status, resp := mapError(err)

	var execErr *saga.ExecutionError
	if resp.Result == nil && errors.As(err, &execErr) {
		resp.Result = sagaFailure{
			SagaID:             execErr.SagaID,
			FailedStep:         execErr.FailedStep,
			CompensationFailed: execErr.CompensationFailed,
		}
	}
	return status, resp
}

// mapError выбирает статус и стабильный код по причине ошибки.
func mapError(err error) (int, api.Response) {
	switch {
	case errors.Is(err, tenant.ErrMissing):
		return http.StatusBadRequest, api.Error(api.CodeTenantMissing, err.Error())

	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, api.Error(api.CodeOrderNotFound, err.Error())
	case errors.Is(err, domain.ErrPaymentNotFound):
		return http.StatusNotFound, api.Error(api.CodePaymentNotFound, err.Error())
	case errors.Is(err, domain.ErrRefundNotFound):
		return http.StatusNotFound, api.Error(api.CodeRefundNotFound, err.Error())

	case errors.Is(err, service.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, api.Error(api.CodeInsufficientBalance, err.Error())
	case errors.Is(err, service.ErrPGUnavailable):
		return http.StatusBadGateway, api.Error(api.CodePGClientError, err.Error())

	case errors.Is(err, domain.ErrRefundNotAllowed):
		return http.StatusConflict, api.Error(api.CodeInvalidPaymentState, err.Error())

	case errors.Is(err, saga.ErrDuplicateCorrelation):
		return http.StatusConflict, api.Error(api.CodeIdempotencyProcessing, err.Error())

	case errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict, api.Error(api.CodeInvalidRequest, err.Error())
	}

	var stateErr *domain.InvalidStateError
	if errors.As(err, &stateErr) {
		return http.StatusConflict, api.Error(stateCode(stateErr.Entity), stateErr.Error())
	}

	var execErr *saga.ExecutionError
	if errors.As(err, &execErr) {
		resp := api.Error(api.CodeSagaExecutionFailed, execErr.Error())
		resp.Result = sagaFailure{
			SagaID:             execErr.SagaID,
			FailedStep:         execErr.FailedStep,
			CompensationFailed: execErr.CompensationFailed,
		}
		return http.StatusInternalServerError, resp
	}

	if isValidationError(err) {
		return http.StatusUnprocessableEntity, api.Error(api.CodeInvalidRequest, err.Error())
	}

	return http.StatusInternalServerError, api.Error(api.CodeInternal, "внутренняя ошибка сервера")
}

// stateCode возвращает код недопустимого перехода по типу агрегата.
func stateCode(entity string) string {
	switch entity {
	case "ORDER":
		return api.CodeInvalidOrderState
	case "PAYMENT":
		return api.CodeInvalidPaymentState
	case "REFUND":
		return api.CodeInvalidRefundState
	default:
		return api.CodeInternal
	}
}

// isValidationError отличает ошибки входных данных от внутренних.
func isValidationError(err error) bool {
	for _, target := range []error{
		domain.ErrEmptyOrderItems,
		domain.ErrInvalidUserID,
		domain.ErrInvalidProductID,
		domain.ErrInvalidQuantity,
		domain.ErrInvalidAmount,
		domain.ErrNegativeAmount,
		domain.ErrInvalidCurrency,
		domain.ErrCurrencyMismatch,
		service.ErrPaymentDeclined,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
