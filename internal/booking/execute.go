package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imrishuroy/go-clinic-bookingflow/internal/failure"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/logger"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/saga"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/validation"
)

// stepOutcome is where one step ended up after its retries.
type stepOutcome struct {
	result    string
	err       error
	timedOut  bool
	logFailed bool
}

// Execute books an appointment for req. It always returns one of the
// terminal result statuses; collaborator errors are folded into the
// failure reason or warning. Repeated calls with the same request key
// return the first terminal result.
func (s *Saga) Execute(ctx context.Context, req saga.Request) saga.Result {
	start := s.nowFunc()
	sagaID := saga.IDFor(req.RequestKey)
	ctx = logger.ContextWithSagaID(logger.ContextWithRequestKey(ctx, req.RequestKey), sagaID)
	log := s.logger.WithContext(ctx)

	if err := s.Validate(req); err != nil {
		res := saga.Result{
			SagaID:        sagaID,
			Status:        saga.ResultFailed,
			FailureReason: "invalid request: " + validation.Describe(err),
		}
		log.WithField("reason", res.FailureReason).Warn("booking rejected")
		s.observe(ctx, res, start)
		return res
	}

	rec, err := s.store.Get(ctx, req.RequestKey)
	if err != nil {
		return s.unavailable(ctx, sagaID, "idempotency store", err, start)
	}
	if res, ok := rec.Terminal(); ok {
		s.metrics.ObserveReplay()
		log.WithField("status", res.Status).Info("returning stored booking result")
		return res
	}

	claimed, err := s.store.Claim(ctx, req.RequestKey, sagaID)
	if err != nil {
		return s.unavailable(ctx, sagaID, "idempotency store", err, start)
	}
	if !claimed {
		log.Info("request key is being executed elsewhere, waiting for its result")
		return s.awaitResult(ctx, req, start)
	}

	wctx := context.WithoutCancel(ctx)
	inst := saga.NewInstance(req, start)
	if err := s.log.Create(wctx, inst); err != nil {
		if errors.Is(err, saga.ErrAlreadyExists) {
			// the claim lapsed or was released while an earlier run of this key was left behind
			res, rerr := s.rejoin(ctx, sagaID, start)
			if rerr == nil {
				return res
			}
			err = rerr
		}
		_ = s.store.Release(wctx, req.RequestKey)
		return s.unavailable(ctx, sagaID, "saga log", err, start)
	}
	res, err := s.begin(ctx, inst, start)
	if err != nil {
		_ = s.store.Release(wctx, req.RequestKey)
		return s.unavailable(ctx, sagaID, "saga log", err, start)
	}
	return res
}

// begin marks inst running and drives its forward steps. The error is only
// set when the status write failed and nothing was run.
func (s *Saga) begin(ctx context.Context, inst *saga.Instance, start time.Time) (saga.Result, error) {
	if inst.Status == saga.StatusPending {
		if err := s.log.SetStatus(context.WithoutCancel(ctx), inst.ID, saga.StatusRunning, nil); err != nil {
			return saga.Result{}, err
		}
		inst.Status = saga.StatusRunning
	}

	s.logger.WithContext(ctx).Infof("booking saga started", map[string]interface{}{
		"patientID": inst.Request.PatientID,
		"doctorID":  inst.Request.DoctorID,
		"date":      inst.Request.AppointmentDate,
		"resumed":   len(inst.Steps) > 0,
	})
	return s.run(ctx, inst, start), nil
}

// rejoin takes over a saga an earlier run of the same key left in the log.
// One that stopped before any side effect is resumed where it stopped;
// anything else goes through Recover.
func (s *Saga) rejoin(ctx context.Context, sagaID string, start time.Time) (saga.Result, error) {
	inst, err := s.log.Load(context.WithoutCancel(ctx), sagaID)
	if err != nil {
		return saga.Result{}, err
	}
	log := s.logger.WithContext(ctx).WithField("status", inst.Status)
	if !s.resumable(inst) {
		log.Warn("saga already exists for a fresh claim, recovering it")
		return s.Recover(ctx, sagaID)
	}
	log.Info("resuming saga that stopped before any side effect")
	return s.begin(ctx, inst, start)
}

// resumable reports whether inst is unfinished and has nothing to undo,
// so running its forward steps again is safe.
func (s *Saga) resumable(inst *saga.Instance) bool {
	if inst.Status != saga.StatusPending && inst.Status != saga.StatusRunning {
		return false
	}
	return !s.committed(inst) && !s.hasCompensable(inst)
}

// Validate checks the shape of req. Invalid requests never claim their key.
func (s *Saga) Validate(req saga.Request) error {
	return s.validate.Struct(req)
}

// awaitResult polls the store until the execution holding the claim
// stores its result or ctx ends.
func (s *Saga) awaitResult(ctx context.Context, req saga.Request, start time.Time) saga.Result {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			res := saga.Result{
				SagaID:        saga.IDFor(req.RequestKey),
				Status:        saga.ResultTimeout,
				FailureReason: "deadline exceeded waiting for the in-flight booking with the same request key",
			}
			s.observe(ctx, res, start)
			return res
		case <-ticker.C:
		}

		rec, err := s.store.Get(ctx, req.RequestKey)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("idempotency lookup failed while waiting")
			continue
		}
		if res, ok := rec.Terminal(); ok {
			s.metrics.ObserveReplay()
			return res
		}
		if rec == nil {
			// the holder released its claim without starting a saga
			return s.Execute(ctx, req)
		}
	}
}

// run drives the remaining forward steps of inst. Steps that already have
// a successful forward record are skipped, which is how recovery resumes.
func (s *Saga) run(ctx context.Context, inst *saga.Instance, start time.Time) saga.Result {
	for _, step := range s.steps {
		if _, done := inst.ForwardSuccess(step.Name); done {
			continue
		}
		out := s.forward(ctx, inst, step)
		if out.err == nil {
			continue
		}
		return s.handleFailure(ctx, inst, step, out, start)
	}
	return s.finish(ctx, inst, s.completedResult(inst, ""), start)
}

// forward runs step until it succeeds, fails permanently, exhausts the
// retry policy or ctx ends. Every attempt is appended to the log before
// the next action is taken.
func (s *Saga) forward(ctx context.Context, inst *saga.Instance, step saga.Step) stepOutcome {
	for attempt := priorAttempts(inst, step.Name, saga.PhaseForward) + 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return stepOutcome{err: err, timedOut: true}
		}

		stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
		result, err := step.Forward(stepCtx, inst)
		cancel()

		rec := saga.StepRecord{
			StepName: step.Name,
			Phase:    saga.PhaseForward,
			Attempt:  attempt,
			Outcome:  saga.OutcomeSuccess,
			Result:   result,
		}
		class := failure.ClassNone
		if err != nil {
			class = step.ClassOf(err)
			rec.Outcome = outcomeFor(class)
			rec.Error = err.Error()
		}
		if lerr := s.record(ctx, inst, rec); lerr != nil {
			return stepOutcome{result: result, err: fmt.Errorf("saga log unavailable: %w", lerr), logFailed: true}
		}

		if err == nil {
			return stepOutcome{result: result}
		}
		if ctx.Err() != nil {
			return stepOutcome{err: err, timedOut: true}
		}

		act := s.policy.NextAction(step.Name, attempt, class)
		if act.GiveUp {
			if class == failure.ClassTransient {
				err = fmt.Errorf("gave up after %d attempts: %w", attempt, err)
			}
			return stepOutcome{err: err}
		}
		s.logger.WithContext(ctx).WithError(err).Infof("retrying step", map[string]interface{}{
			"step":    step.Name,
			"attempt": attempt,
			"delay":   act.Delay.String(),
		})
		if !sleep(ctx, act.Delay) {
			return stepOutcome{err: err, timedOut: true}
		}
	}
}

// handleFailure applies the failure policy for a forward step that did
// not succeed: after commit only a warning is reported, before any side
// effect the saga simply fails, otherwise completed side effects are
// compensated.
func (s *Saga) handleFailure(ctx context.Context, inst *saga.Instance, step saga.Step, out stepOutcome, start time.Time) saga.Result {
	if out.logFailed {
		return s.stopUnrecorded(ctx, inst, step, out, start)
	}
	log := s.logger.WithContext(ctx).WithError(out.err).WithField("step", step.Name)

	if s.committed(inst) {
		log.Warn("booking committed but a later step failed")
		return s.finish(ctx, inst, s.completedResult(inst, "notification not sent: "+out.err.Error()), start)
	}

	status := saga.ResultFailed
	reason := failureReason(step.Name, out.err)
	if out.timedOut {
		status = saga.ResultTimeout
		reason = "deadline exceeded during " + step.Name + ": " + out.err.Error()
	}

	var res saga.Result
	if !s.hasCompensable(inst) {
		log.Warn("booking failed before any side effect")
		res = s.finish(ctx, inst, saga.Result{SagaID: inst.ID, Status: status, FailureReason: reason}, start)
	} else {
		log.Warn("booking failed, compensating")
		res = s.compensateAndFinish(ctx, inst, status, reason, start)
	}
	if uncertain(inst, step) {
		s.flagUnknown(context.WithoutCancel(ctx), inst, step, res)
	}
	return res
}

// stopUnrecorded ends a saga whose step record could not be written. No
// further forward step runs. A commit that was not recorded counts as not
// committed, since recovery would not see it either.
func (s *Saga) stopUnrecorded(ctx context.Context, inst *saga.Instance, step saga.Step, out stepOutcome, start time.Time) saga.Result {
	log := s.logger.WithContext(ctx).WithError(out.err).WithField("step", step.Name)

	if s.committed(inst) && !step.Commits {
		log.Warn("saga log unavailable after commit")
		return s.finish(ctx, inst, s.completedResult(inst, out.err.Error()), start)
	}
	if !s.hasCompensable(inst) {
		// nothing to undo, so the caller may retry and resume this saga
		_ = s.store.Release(context.WithoutCancel(ctx), inst.RequestKey)
		return s.unavailable(ctx, inst.ID, "saga log", out.err, start)
	}
	log.Warn("saga log unavailable, compensating")
	return s.compensateAndFinish(ctx, inst, saga.ResultFailed, out.err.Error(), start)
}

// finish writes the terminal status to the log and the result to the
// idempotency store. Both writes outlive the caller's context.
func (s *Saga) finish(ctx context.Context, inst *saga.Instance, res saga.Result, start time.Time) saga.Result {
	wctx := context.WithoutCancel(ctx)
	log := s.logger.WithContext(ctx)

	status := instanceStatus(res.Status)
	if err := s.log.SetStatus(wctx, inst.ID, status, &res); err != nil {
		log.WithError(err).Error("failed to write terminal saga status")
	} else {
		inst.Status = status
		r := res
		inst.Result = &r
	}

	stored, err := s.store.Put(wctx, inst.RequestKey, res)
	if err != nil {
		log.WithError(err).Error("failed to store booking result")
		stored = res
	}

	if res.Status == saga.ResultCompensationFailed {
		s.raise(wctx, inst, res)
	}

	fields := map[string]interface{}{
		"status":        stored.Status,
		"appointmentID": stored.AppointmentID,
		"billID":        stored.BillID,
	}
	switch stored.Status {
	case saga.ResultCompleted:
		log.Infof("booking saga finished", fields)
	default:
		fields["reason"] = stored.FailureReason
		fields["warning"] = stored.Warning
		log.Warnf("booking saga finished", fields)
	}
	s.observe(wctx, stored, start)
	return stored
}

// unavailable reports an infrastructure failure before any side effect.
// The result is not stored so the caller may retry with the same key.
func (s *Saga) unavailable(ctx context.Context, sagaID, what string, err error, start time.Time) saga.Result {
	s.logger.WithContext(ctx).WithError(err).Errorf("booking infrastructure unavailable", map[string]interface{}{"component": what})
	res := saga.Result{
		SagaID:        sagaID,
		Status:        saga.ResultFailed,
		FailureReason: what + " unavailable",
	}
	s.observe(ctx, res, start)
	return res
}

func (s *Saga) observe(ctx context.Context, res saga.Result, start time.Time) {
	d := s.nowFunc().Sub(start)
	s.metrics.ObserveSaga(string(res.Status), d.Seconds())
	if s.outcomes == nil {
		return
	}
	if err := s.outcomes.PublishOutcome(context.WithoutCancel(ctx), string(res.Status), d); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("failed to publish saga outcome")
	}
}

// record appends rec to the log and to the in-memory instance. The
// in-memory copy is kept even when the append fails so compensation still
// sees the side effect; the caller decides whether to go on.
func (s *Saga) record(ctx context.Context, inst *saga.Instance, rec saga.StepRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = s.nowFunc()
	}
	seq, err := s.log.Append(context.WithoutCancel(ctx), inst.ID, rec)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("step", rec.StepName).Error("failed to append step record")
		seq = len(inst.Steps) + 1
	}
	rec.Seq = seq
	inst.Steps = append(inst.Steps, rec)
	inst.UpdatedAt = rec.RecordedAt
	s.metrics.ObserveStep(rec.StepName, string(rec.Phase), string(rec.Outcome))
	return err
}

// committed reports whether a step that commits the booking has succeeded.
func (s *Saga) committed(inst *saga.Instance) bool {
	for _, step := range s.steps {
		if !step.Commits {
			continue
		}
		if _, ok := inst.ForwardSuccess(step.Name); ok {
			return true
		}
	}
	return false
}

// hasCompensable reports whether any compensable step left a side effect
// that is not yet compensated.
func (s *Saga) hasCompensable(inst *saga.Instance) bool {
	for _, step := range s.steps {
		if !step.Compensable() {
			continue
		}
		if _, ok := inst.SideEffect(step.Name); ok && !inst.Compensated(step.Name) {
			return true
		}
	}
	return false
}

func (s *Saga) completedResult(inst *saga.Instance, warning string) saga.Result {
	res := saga.Result{SagaID: inst.ID, Status: saga.ResultCompleted}
	if appt, ok := inst.ForwardSuccess(StepPersistAppointment); ok {
		res.AppointmentID = appt.Result
	}
	if bill, ok := inst.ForwardSuccess(StepCreateBill); ok {
		res.BillID = bill.Result
	}
	if warning != "" {
		res.Status = saga.ResultCompletedWithWarning
		res.Warning = warning
	}
	return res
}

func instanceStatus(rs saga.ResultStatus) saga.Status {
	switch rs {
	case saga.ResultCompleted, saga.ResultCompletedWithWarning:
		return saga.StatusCompleted
	case saga.ResultCompensationFailed:
		return saga.StatusCompensationFailed
	}
	return saga.StatusFailed
}

func outcomeFor(class failure.Class) saga.Outcome {
	if class == failure.ClassTransient {
		return saga.OutcomeTransientFailure
	}
	return saga.OutcomePermanentFailure
}

func priorAttempts(inst *saga.Instance, step string, phase saga.Phase) int {
	n := 0
	for _, r := range inst.Steps {
		if r.StepName == step && r.Phase == phase && r.Attempt > n {
			n = r.Attempt
		}
	}
	return n
}

// sleep waits for d or until ctx ends. It reports whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
