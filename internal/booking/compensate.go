package booking

import (
	"context"
	"strings"
	"time"

	"github.com/imrishuroy/go-clinic-bookingflow/internal/alerts"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/failure"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/saga"
)

// compensateAndFinish undoes completed side effects and writes the terminal
// result. status is the result reported when every compensation succeeds.
// Compensation runs on a context detached from the caller: once started it
// goes to completion or retry exhaustion.
func (s *Saga) compensateAndFinish(ctx context.Context, inst *saga.Instance, status saga.ResultStatus, reason string, start time.Time) saga.Result {
	cctx := context.WithoutCancel(ctx)

	if inst.Status != saga.StatusCompensating {
		if err := s.log.SetStatus(cctx, inst.ID, saga.StatusCompensating, nil); err != nil {
			s.logger.WithContext(ctx).WithError(err).Error("failed to mark saga compensating")
		}
		inst.Status = saga.StatusCompensating
	}

	residual := s.compensate(cctx, inst)
	if len(residual) == 0 {
		return s.finish(ctx, inst, saga.Result{SagaID: inst.ID, Status: status, FailureReason: reason}, start)
	}

	res := saga.Result{SagaID: inst.ID, Status: saga.ResultCompensationFailed}
	names := make([]string, 0, len(residual))
	for _, r := range residual {
		names = append(names, r.StepName)
		switch r.StepName {
		case StepPersistAppointment:
			res.AppointmentID = r.Result
		case StepCreateBill:
			res.BillID = r.Result
		}
	}
	res.FailureReason = reason + "; compensation failed for " + strings.Join(names, ", ")
	return s.finish(ctx, inst, res, start)
}

// compensate runs the compensation of every side effect not yet
// compensated, in reverse completion order. It returns the forward
// records whose side effects could not be undone.
func (s *Saga) compensate(ctx context.Context, inst *saga.Instance) []saga.StepRecord {
	var residual []saga.StepRecord
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		if !step.Compensable() || inst.Compensated(step.Name) {
			continue
		}
		fwd, ok := inst.SideEffect(step.Name)
		if !ok {
			continue
		}
		if !s.runCompensation(ctx, inst, step, fwd.Result) {
			residual = append(residual, fwd)
		}
	}
	return residual
}

// runCompensation retries one compensation under the saga's policy and
// reports whether it succeeded.
func (s *Saga) runCompensation(ctx context.Context, inst *saga.Instance, step saga.Step, result string) bool {
	log := s.logger.WithContext(ctx).WithField("step", step.Name).WithField("result", result)

	for attempt := priorAttempts(inst, step.Name, saga.PhaseCompensation) + 1; ; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
		err := step.Compensate(stepCtx, inst, result)
		cancel()

		rec := saga.StepRecord{
			StepName:    step.Name,
			Phase:       saga.PhaseCompensation,
			Attempt:     attempt,
			Outcome:     saga.OutcomeSuccess,
			Result:      result,
			Compensated: err == nil,
		}
		class := failure.ClassNone
		if err != nil {
			class = step.ClassOf(err)
			rec.Outcome = outcomeFor(class)
			rec.Error = err.Error()
		}
		// a compensation whose record is lost is redone by recovery, which is safe
		_ = s.record(ctx, inst, rec)

		if err == nil {
			s.metrics.ObserveCompensation(step.Name, true)
			log.Info("compensated")
			return true
		}

		act := s.policy.NextAction(step.Name, attempt, class)
		if act.GiveUp {
			s.metrics.ObserveCompensation(step.Name, false)
			log.WithError(err).Errorf("compensation exhausted", map[string]interface{}{"attempt": attempt})
			return false
		}
		sleep(ctx, act.Delay)
	}
}

// raise surfaces a saga that left residual state behind.
func (s *Saga) raise(ctx context.Context, inst *saga.Instance, res saga.Result) {
	var residual []string
	for _, step := range s.steps {
		if !step.Compensable() || inst.Compensated(step.Name) {
			continue
		}
		if r, ok := inst.SideEffect(step.Name); ok {
			residual = append(residual, step.Name+"="+r.Result)
		}
	}

	s.logger.WithContext(ctx).Errorf("COMPENSATION FAILED: residual state requires operator attention", map[string]interface{}{
		"reason":   res.FailureReason,
		"residual": residual,
	})

	s.notify(ctx, alerts.Alert{
		Severity:   alerts.SeverityCritical,
		SagaID:     inst.ID,
		RequestKey: inst.RequestKey,
		Status:     string(res.Status),
		Reason:     res.FailureReason,
		Residual:   residual,
	})
}

// flagUnknown warns operators about a side-effecting step that gave up on
// a transient failure without ever returning an id. The effect may exist
// but there is nothing recorded to compensate it with.
func (s *Saga) flagUnknown(ctx context.Context, inst *saga.Instance, step saga.Step, res saga.Result) {
	residual := []string{step.Name + "=unknown"}
	s.logger.WithContext(ctx).Warnf("side effect outcome unknown, not compensated", map[string]interface{}{
		"step":     step.Name,
		"status":   res.Status,
		"residual": residual,
	})
	s.notify(ctx, alerts.Alert{
		Severity:   alerts.SeverityWarning,
		SagaID:     inst.ID,
		RequestKey: inst.RequestKey,
		Status:     string(res.Status),
		Reason:     step.Name + " outcome unknown after transient failures: " + res.FailureReason,
		Residual:   residual,
	})
}

func (s *Saga) notify(ctx context.Context, a alerts.Alert) {
	if s.alerts == nil {
		return
	}
	if err := s.alerts.Notify(ctx, a); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("failed to raise operator alert")
	}
}

// uncertain reports whether step may have left a side effect with no id:
// it is compensable, recorded no result and its last attempt failed
// transiently.
func uncertain(inst *saga.Instance, step saga.Step) bool {
	if !step.Compensable() {
		return false
	}
	if _, ok := inst.SideEffect(step.Name); ok {
		return false
	}
	for i := len(inst.Steps) - 1; i >= 0; i-- {
		r := inst.Steps[i]
		if r.StepName == step.Name && r.Phase == saga.PhaseForward {
			return r.Outcome == saga.OutcomeTransientFailure
		}
	}
	return false
}
