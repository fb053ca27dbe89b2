// Package api содержит единый конверт HTTP ответов и стабильные коды ошибок.
package api

// Стабильные коды ошибок API.
const (
	CodeOK = "OK"

	CodeTenantMissing         = "TENANT_MISSING"
	CodeIdempotencyKeyMissing = "IDEMPOTENCY_KEY_MISSING"
	CodeIdempotencyKeyInvalid = "IDEMPOTENCY_KEY_INVALID"
	CodeIdempotencyConflict   = "IDEMPOTENCY_CONFLICT"
	CodeIdempotencyProcessing = "IDEMPOTENCY_PROCESSING"

	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeInvalidOrderState   = "INVALID_ORDER_STATE"
	CodeInvalidPaymentState = "INVALID_PAYMENT_STATE"
	CodeInvalidRefundState  = "INVALID_REFUND_STATE"

	CodeOrderNotFound   = "ORDER_NOT_FOUND"
	CodePaymentNotFound = "PAYMENT_NOT_FOUND"
	CodeRefundNotFound  = "REFUND_NOT_FOUND"

	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodePGClientError       = "PG_CLIENT_ERROR"
	CodeSagaExecutionFailed = "SAGA_EXECUTION_FAILED"
	CodeInternal            = "INTERNAL"
)

// Response — единый конверт всех HTTP ответов API.
type Response struct {
	IsSuccess bool   `json:"isSuccess"`
	Code      string `json:"code"`
	Message   string `json:"message,omitempty"`
	Result    any    `json:"result,omitempty"`
}

// Success создаёт успешный ответ с результатом.
func Success(result any) Response {
	return Response{
		IsSuccess: true,
		Code:      CodeOK,
		Result:    result,
	}
}

// Error создаёт ответ с ошибкой.
func Error(code, message string) Response {
	return Response{
		IsSuccess: false,
		Code:      code,
		Message:   message,
	}
}
