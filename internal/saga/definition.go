package saga

import (
	"context"
	"errors"
	"fmt"
)

// Ошибки объявления саги.
var (
	// ErrNoSteps — сага без шагов.
	ErrNoSteps = errors.New("сага должна содержать хотя бы один шаг")

	// ErrDuplicateStep — два шага с одинаковым именем.
	ErrDuplicateStep = errors.New("имена шагов саги должны быть уникальны")

	// ErrUnknownSagaType — тип саги не зарегистрирован в оркестраторе.
	ErrUnknownSagaType = errors.New("неизвестный тип саги")

	// ErrDuplicateCorrelation — сага с таким correlation_id уже запущена.
	ErrDuplicateCorrelation = errors.New("сага с таким correlation_id уже существует")
)

// Step — один шаг саги. Execute выполняет прямое действие,
// Compensate откатывает его. Compensate вызывается только для шагов,
// Execute которых завершился успешно.
type Step interface {
	Name() string
	Execute(ctx context.Context, sc *Context) error
	Compensate(ctx context.Context, sc *Context) error
}

// Definition — объявление саги: имя и упорядоченный список шагов.
type Definition struct {
	name  string
	steps []Step
}

// NewDefinition создаёт объявление саги. Шаги выполняются в порядке
// объявления; имена шагов должны быть уникальны.
func NewDefinition(name string, steps ...Step) (*Definition, error) {
	if len(steps) == 0 {
		return nil, ErrNoSteps
	}

	seen := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		if _, ok := seen[step.Name()]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStep, step.Name())
		}
		seen[step.Name()] = struct{}{}
	}

	return &Definition{name: name, steps: steps}, nil
}

// Name возвращает имя саги.
func (d *Definition) Name() string {
	return d.name
}

// Steps возвращает шаги саги в порядке выполнения.
func (d *Definition) Steps() []Step {
	return d.steps
}

// Context переносит значения между шагами одной саги: шаг create-order
// кладёт orderId, шаг process-payment его читает. Шаги выполняются
// строго последовательно, синхронизация не нужна.
type Context struct {
	TenantID      string
	CorrelationID string

	values map[string]any
}

// NewContext создаёт контекст саги.
func NewContext(tenantID, correlationID string) *Context {
	return &Context{
		TenantID:      tenantID,
		CorrelationID: correlationID,
		values:        make(map[string]any),
	}
}

// Set сохраняет значение для последующих шагов.
func (c *Context) Set(key string, value any) {
	c.values[key] = value
}

// Get возвращает значение, сохранённое предыдущим шагом.
func (c *Context) Get(key string) (any, bool) {
	value, ok := c.values[key]
	return value, ok
}

// GetString возвращает строковое значение или пустую строку.
func (c *Context) GetString(key string) string {
	if value, ok := c.values[key]; ok {
		if s, ok := value.(string); ok {
			return s
		}
	}
	return ""
}

// Marshal сериализует значения контекста в blob для персистентности.
func (c *Context) Marshal() ([]byte, error) {
	return MarshalContext(c.values)
}

// RestoreContext восстанавливает контекст саги из персистентного blob.
func RestoreContext(tenantID, correlationID string, blob []byte) (*Context, error) {
	values, err := UnmarshalContext(blob)
	if err != nil {
		return nil, fmt.Errorf("повреждённый контекст саги: %w", err)
	}
	return &Context{
		TenantID:      tenantID,
		CorrelationID: correlationID,
		values:        values,
	}, nil
}

// ExecutionError — структурированная ошибка выполнения саги.
// Несёт исходную причину и флаг провала компенсации.
type ExecutionError struct {
	SagaID             string
	SagaType           string
	FailedStep         string
	Cause              error
	CompensationFailed bool
}

// Error реализует интерфейс error.
func (e *ExecutionError) Error() string {
	if e.CompensationFailed {
		return fmt.Sprintf("сага %s (%s): шаг %s упал, компенсация не выполнена: %v",
			e.SagaType, e.SagaID, e.FailedStep, e.Cause)
	}
	return fmt.Sprintf("сага %s (%s): шаг %s упал, выполненные шаги компенсированы: %v",
		e.SagaType, e.SagaID, e.FailedStep, e.Cause)
}

// Unwrap возвращает исходную причину.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}
