// Package saga реализует оркестрацию распределённых транзакций.
// Оркестратор выполняет шаги строго последовательно; при ошибке шага
// компенсирует выполненные шаги в обратном порядке. Состояние саги
// персистентно: после рестарта незавершённые саги восстанавливаются
// из таблиц saga_instances и saga_steps.
package saga

import (
	"encoding/json"
	"time"

	"example.com/fluxpay/internal/domain"
)

// Status — статус экземпляра саги.
type Status string

const (
	// StatusStarted — сага создана, выполнение ещё не началось.
	StatusStarted Status = "STARTED"

	// StatusProcessing — шаги выполняются.
	StatusProcessing Status = "PROCESSING"

	// StatusCompleted — все шаги выполнены успешно (терминальный).
	StatusCompleted Status = "COMPLETED"

	// StatusCompensating — шаг упал, идёт компенсация выполненных шагов.
	StatusCompensating Status = "COMPENSATING"

	// StatusCompensated — все компенсации выполнены (терминальный).
	StatusCompensated Status = "COMPENSATED"

	// StatusFailed — компенсация упала, требуется вмешательство
	// оператора (терминальный).
	StatusFailed Status = "FAILED"
)

// allowedTransitions определяет допустимые переходы статусов саги.
var allowedTransitions = map[Status][]Status{
	StatusStarted:      {StatusProcessing},
	StatusProcessing:   {StatusCompleted, StatusCompensating},
	StatusCompensating: {StatusCompensated, StatusFailed},
	StatusCompleted:    {},
	StatusCompensated:  {},
	StatusFailed:       {},
}

// CanTransitionTo проверяет допустимость перехода в указанный статус.
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true для терминальных статусов.
func (s Status) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}

// StepStatus — статус отдельного шага саги.
type StepStatus string

const (
	// StepPending — шаг ещё не выполнялся.
	StepPending StepStatus = "PENDING"

	// StepProcessing — шаг выполняется.
	StepProcessing StepStatus = "PROCESSING"

	// StepCompleted — шаг выполнен успешно.
	StepCompleted StepStatus = "COMPLETED"

	// StepFailed — шаг завершился ошибкой.
	StepFailed StepStatus = "FAILED"

	// StepCompensated — компенсация шага выполнена.
	StepCompensated StepStatus = "COMPENSATED"
)

// Instance — персистентное состояние одного запуска саги.
type Instance struct {
	ID            string
	Type          string
	TenantID      string
	CorrelationID string
	Status        Status
	CurrentStep   int
	FailedStep    string
	FailureReason string
	ContextBlob   []byte
	StartedAt     time.Time
	CompletedAt   *time.Time
	UpdatedAt     time.Time
}

// transitionTo выполняет переход статуса с проверкой допустимости.
func (i *Instance) transitionTo(target Status) error {
	if !i.Status.CanTransitionTo(target) {
		return domain.NewInvalidStateError("saga", string(i.Status), string(target))
	}
	i.Status = target
	i.UpdatedAt = time.Now()
	if target.IsTerminal() {
		now := time.Now()
		i.CompletedAt = &now
	}
	return nil
}

// StepRecord — персистентное состояние одного шага саги.
type StepRecord struct {
	ID        int64
	SagaID    string
	Name      string
	StepOrder int
	Status    StepStatus
	Error     string
	StartedAt *time.Time
	EndedAt   *time.Time
}

// =============================================================================
// GORM модели
// =============================================================================

// InstanceModel — GORM модель таблицы saga_instances.
// Уникальность (tenant_id, correlation_id) гарантирует, что два запроса
// с одним ключом идемпотентности не запустят две саги.
type InstanceModel struct {
	SagaID        string     `gorm:"column:saga_id;type:varchar(36);primaryKey"`
	SagaType      string     `gorm:"column:saga_type;type:varchar(64);not null;index"`
	TenantID      string     `gorm:"column:tenant_id;type:varchar(64);not null;uniqueIndex:uniq_saga_correlation,priority:1"`
	CorrelationID string     `gorm:"column:correlation_id;type:varchar(64);not null;uniqueIndex:uniq_saga_correlation,priority:2"`
	Status        string     `gorm:"column:status;type:varchar(16);not null;index"`
	CurrentStep   int        `gorm:"column:current_step;not null;default:0"`
	FailedStep    string     `gorm:"column:failed_step;type:varchar(64)"`
	FailureReason string     `gorm:"column:failure_reason;type:text"`
	ContextBlob   []byte     `gorm:"column:context_blob;type:jsonb"`
	StartedAt     time.Time  `gorm:"column:started_at;autoCreateTime"`
	CompletedAt   *time.Time `gorm:"column:completed_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (InstanceModel) TableName() string {
	return "saga_instances"
}

// ToDomain конвертирует модель в Instance.
func (m *InstanceModel) ToDomain() *Instance {
	return &Instance{
		ID:            m.SagaID,
		Type:          m.SagaType,
		TenantID:      m.TenantID,
		CorrelationID: m.CorrelationID,
		Status:        Status(m.Status),
		CurrentStep:   m.CurrentStep,
		FailedStep:    m.FailedStep,
		FailureReason: m.FailureReason,
		ContextBlob:   m.ContextBlob,
		StartedAt:     m.StartedAt,
		CompletedAt:   m.CompletedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// InstanceModelFromDomain конвертирует Instance в модель.
func InstanceModelFromDomain(i *Instance) *InstanceModel {
	return &InstanceModel{
		SagaID:        i.ID,
		SagaType:      i.Type,
		TenantID:      i.TenantID,
		CorrelationID: i.CorrelationID,
		Status:        string(i.Status),
		CurrentStep:   i.CurrentStep,
		FailedStep:    i.FailedStep,
		FailureReason: i.FailureReason,
		ContextBlob:   i.ContextBlob,
		StartedAt:     i.StartedAt,
		CompletedAt:   i.CompletedAt,
		UpdatedAt:     i.UpdatedAt,
	}
}

// StepModel — GORM модель таблицы saga_steps.
// Уникальность (saga_id, step_order) запрещает шаги с одинаковым порядком.
type StepModel struct {
	ID        int64      `gorm:"column:id;primaryKey;autoIncrement"`
	SagaID    string     `gorm:"column:saga_id;type:varchar(36);not null;uniqueIndex:uniq_saga_step,priority:1"`
	StepOrder int        `gorm:"column:step_order;not null;uniqueIndex:uniq_saga_step,priority:2"`
	Name      string     `gorm:"column:name;type:varchar(64);not null"`
	Status    string     `gorm:"column:status;type:varchar(16);not null"`
	Error     string     `gorm:"column:error;type:text"`
	StartedAt *time.Time `gorm:"column:started_at"`
	EndedAt   *time.Time `gorm:"column:ended_at"`
}

// TableName возвращает имя таблицы в БД.
func (StepModel) TableName() string {
	return "saga_steps"
}

// ToDomain конвертирует модель в StepRecord.
func (m *StepModel) ToDomain() *StepRecord {
	return &StepRecord{
		ID:        m.ID,
		SagaID:    m.SagaID,
		Name:      m.Name,
		StepOrder: m.StepOrder,
		Status:    StepStatus(m.Status),
		Error:     m.Error,
		StartedAt: m.StartedAt,
		EndedAt:   m.EndedAt,
	}
}

// MarshalContext сериализует значения контекста саги в blob.
func MarshalContext(values map[string]any) ([]byte, error) {
	return json.Marshal(values)
}

// UnmarshalContext восстанавливает значения контекста саги из blob.
func UnmarshalContext(blob []byte) (map[string]any, error) {
	values := make(map[string]any)
	if len(blob) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(blob, &values); err != nil {
		return nil, err
	}
	return values, nil
}
