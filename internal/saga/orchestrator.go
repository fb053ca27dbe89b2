package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/fluxpay/pkg/config"
	"example.com/fluxpay/pkg/logger"
	"example.com/fluxpay/pkg/metrics"
	"example.com/fluxpay/pkg/tenant"
)

// Orchestrator выполняет саги по зарегистрированным объявлениям.
// Состояние координируется только через таблицы саг: общего
// in-memory реестра запущенных саг нет, несколько экземпляров
// процесса не мешают друг другу.
type Orchestrator struct {
	repo Repository
	cfg  config.SagaConfig

	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewOrchestrator создаёт оркестратор саг.
func NewOrchestrator(repo Repository, cfg config.SagaConfig) *Orchestrator {
	return &Orchestrator{
		repo: repo,
		cfg:  cfg,
		defs: make(map[string]*Definition),
	}
}

// Register регистрирует объявление саги. Тип саги должен быть
// зарегистрирован до Execute и до восстановления при старте.
func (o *Orchestrator) Register(def *Definition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.defs[def.Name()] = def
}

// definition возвращает зарегистрированное объявление по типу.
func (o *Orchestrator) definition(sagaType string) (*Definition, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	def, ok := o.defs[sagaType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSagaType, sagaType)
	}
	return def, nil
}

// Execute запускает сагу указанного типа и блокируется до её завершения.
// При ошибке шага выполненные шаги компенсируются в обратном порядке,
// а вызывающему возвращается *ExecutionError с исходной причиной.
func (o *Orchestrator) Execute(ctx context.Context, sagaType string, sc *Context) error {
	def, err := o.definition(sagaType)
	if err != nil {
		return err
	}

	blob, err := sc.Marshal()
	if err != nil {
		return fmt.Errorf("ошибка сериализации контекста саги: %w", err)
	}

	now := time.Now()
	instance := &Instance{
		ID:            uuid.NewString(),
		Type:          sagaType,
		TenantID:      sc.TenantID,
		CorrelationID: sc.CorrelationID,
		Status:        StatusStarted,
		ContextBlob:   blob,
		StartedAt:     now,
		UpdatedAt:     now,
	}

	stepNames := make([]string, len(def.Steps()))
	for i, step := range def.Steps() {
		stepNames[i] = step.Name()
	}

	if err := o.repo.CreateInstance(ctx, instance, stepNames); err != nil {
		return err
	}

	if err := instance.transitionTo(StatusProcessing); err != nil {
		return err
	}
	o.saveInstance(ctx, instance, sc)

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	logger.Ctx(ctx).Info().
		Str("saga_id", instance.ID).
		Str("saga_type", sagaType).
		Str("correlation_id", sc.CorrelationID).
		Int("steps", len(stepNames)).
		Msg("Запуск саги")

	return o.runForward(ctx, def, instance, sc, 0, nil)
}

// Resume продолжает сагу, найденную в нетерминальном статусе при старте.
// Выполнение идемпотентно перезапускается с первого незавершённого шага;
// сага в статусе COMPENSATING продолжает компенсацию.
func (o *Orchestrator) Resume(ctx context.Context, instance *Instance) error {
	def, err := o.definition(instance.Type)
	if err != nil {
		return err
	}

	sc, err := RestoreContext(instance.TenantID, instance.CorrelationID, instance.ContextBlob)
	if err != nil {
		return err
	}

	ctx = tenant.WithID(ctx, instance.TenantID)
	ctx = logger.WithCorrelationID(ctx, instance.CorrelationID)
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	records, err := o.repo.LoadSteps(ctx, instance.ID)
	if err != nil {
		return err
	}
	completed := make(map[string]bool, len(records))
	for _, rec := range records {
		completed[rec.Name] = rec.Status == StepCompleted
	}

	var executed []Step
	resumeFrom := len(def.Steps())
	for i, step := range def.Steps() {
		if !completed[step.Name()] {
			resumeFrom = i
			break
		}
		executed = append(executed, step)
	}

	log := logger.FromContext(ctx).With().
		Str("saga_id", instance.ID).
		Str("saga_type", instance.Type).
		Str("status", string(instance.Status)).
		Logger()

	switch instance.Status {
	case StatusStarted:
		if err := instance.transitionTo(StatusProcessing); err != nil {
			return err
		}
		o.saveInstance(ctx, instance, sc)
		log.Info().Msg("Восстановление саги: запуск с первого шага")
		return o.runForward(ctx, def, instance, sc, 0, nil)

	case StatusProcessing:
		log.Info().Int("resume_from", resumeFrom).Msg("Восстановление саги: продолжение выполнения")
		return o.runForward(ctx, def, instance, sc, resumeFrom, executed)

	case StatusCompensating:
		log.Info().Int("executed", len(executed)).Msg("Восстановление саги: перезапуск компенсации")
		cause := errors.New(instance.FailureReason)
		return o.runCompensation(ctx, instance, sc, executed, cause)

	default:
		return nil
	}
}

// runForward выполняет шаги начиная с startIndex.
func (o *Orchestrator) runForward(ctx context.Context, def *Definition, instance *Instance, sc *Context, startIndex int, executed []Step) error {
	log := logger.FromContext(ctx)

	for i := startIndex; i < len(def.Steps()); i++ {
		step := def.Steps()[i]

		instance.CurrentStep = i
		o.saveInstance(ctx, instance, sc)
		o.updateStep(ctx, instance.ID, step.Name(), StepProcessing, "")

		stepCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
		execErr := step.Execute(stepCtx, sc)
		cancel()

		if execErr != nil {
			log.Warn().
				Err(execErr).
				Str("saga_id", instance.ID).
				Str("step", step.Name()).
				Msg("Шаг саги завершился ошибкой, запуск компенсации")

			o.updateStep(ctx, instance.ID, step.Name(), StepFailed, execErr.Error())

			instance.FailedStep = step.Name()
			instance.FailureReason = execErr.Error()
			if err := instance.transitionTo(StatusCompensating); err != nil {
				return err
			}
			o.saveInstance(ctx, instance, sc)

			return o.runCompensation(ctx, instance, sc, executed, execErr)
		}

		o.updateStep(ctx, instance.ID, step.Name(), StepCompleted, "")
		executed = append(executed, step)
	}

	if err := instance.transitionTo(StatusCompleted); err != nil {
		return err
	}
	o.saveInstance(ctx, instance, sc)

	log.Info().
		Str("saga_id", instance.ID).
		Str("saga_type", instance.Type).
		Msg("Сага завершена успешно")
	return nil
}

// runCompensation компенсирует выполненные шаги в обратном порядке
// объявления. Компенсация не зависит от дедлайна исходного запроса:
// истёкший контекст — частая причина самого провала шага.
func (o *Orchestrator) runCompensation(ctx context.Context, instance *Instance, sc *Context, executed []Step, cause error) error {
	base := context.WithoutCancel(ctx)
	log := logger.FromContext(ctx)

	for i := len(executed) - 1; i >= 0; i-- {
		step := executed[i]

		var compErr error
		for attempt := 1; attempt <= o.cfg.CompensationMaxRetries; attempt++ {
			if attempt > 1 {
				time.Sleep(o.cfg.CompensationRetryDelay)
			}

			stepCtx, cancel := context.WithTimeout(base, o.cfg.StepTimeout)
			compErr = step.Compensate(stepCtx, sc)
			cancel()

			if compErr == nil {
				break
			}
			log.Warn().
				Err(compErr).
				Str("saga_id", instance.ID).
				Str("step", step.Name()).
				Int("attempt", attempt).
				Msg("Ошибка компенсации шага")
		}

		if compErr != nil {
			o.updateStep(base, instance.ID, step.Name(), StepFailed, compErr.Error())

			if err := instance.transitionTo(StatusFailed); err != nil {
				return err
			}
			o.saveInstance(base, instance, sc)
			metrics.SagaCompensationFailuresTotal.WithLabelValues(instance.Type).Inc()

			log.Error().
				Err(compErr).
				Str("saga_id", instance.ID).
				Str("step", step.Name()).
				Msg("Компенсация не выполнена, сага требует вмешательства оператора")

			return &ExecutionError{
				SagaID:             instance.ID,
				SagaType:           instance.Type,
				FailedStep:         instance.FailedStep,
				Cause:              cause,
				CompensationFailed: true,
			}
		}

		o.updateStep(base, instance.ID, step.Name(), StepCompensated, "")
	}

	if err := instance.transitionTo(StatusCompensated); err != nil {
		return err
	}
	o.saveInstance(base, instance, sc)
	metrics.SagaCompensationsTotal.WithLabelValues(instance.Type).Inc()

	log.Info().
		Str("saga_id", instance.ID).
		Str("saga_type", instance.Type).
		Int("compensated", len(executed)).
		Msg("Все выполненные шаги саги компенсированы")

	return &ExecutionError{
		SagaID:     instance.ID,
		SagaType:   instance.Type,
		FailedStep: instance.FailedStep,
		Cause:      cause,
	}
}

// saveInstance сериализует контекст и сохраняет экземпляр.
// Ошибка персистентности не прерывает выполнение: сага восстановится
// при старте из последнего сохранённого состояния.
func (o *Orchestrator) saveInstance(ctx context.Context, instance *Instance, sc *Context) {
	blob, err := sc.Marshal()
	if err == nil {
		instance.ContextBlob = blob
	}
	if err := o.repo.SaveInstance(ctx, instance); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("saga_id", instance.ID).
			Msg("Ошибка сохранения состояния саги")
	}
}

// updateStep обновляет статус шага с логированием ошибки.
func (o *Orchestrator) updateStep(ctx context.Context, sagaID, name string, status StepStatus, stepErr string) {
	if err := o.repo.UpdateStep(ctx, sagaID, name, status, stepErr); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("saga_id", sagaID).
			Str("step", name).
			Msg("Ошибка обновления статуса шага саги")
	}
}
