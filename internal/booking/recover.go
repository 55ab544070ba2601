package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/imrishuroy/go-clinic-bookingflow/internal/logger"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/saga"
)

// RecoveredReason is the failure reason of a saga compensated by recovery.
const RecoveredReason = "recovered: saga interrupted before commit"

// Recover finishes a saga left unfinished by a crashed executor, using only
// what the log recorded. If the booking was committed (the bill exists) the
// remaining steps are resumed; otherwise every recorded side effect is
// compensated and the saga fails.
//
// A side effect performed but never recorded is invisible here and is not
// undone.
func (s *Saga) Recover(ctx context.Context, sagaID string) (saga.Result, error) {
	inst, err := s.log.Load(ctx, sagaID)
	if err != nil {
		return saga.Result{}, fmt.Errorf("recover %s: %w", sagaID, err)
	}
	ctx = logger.ContextWithSagaID(logger.ContextWithRequestKey(ctx, inst.RequestKey), inst.ID)
	log := s.logger.WithContext(ctx)

	if inst.Status.Terminal() {
		if inst.Result == nil {
			return saga.Result{}, fmt.Errorf("recover %s: terminal saga has no result", sagaID)
		}
		// the result may not have reached the store before the crash
		stored, err := s.store.Put(context.WithoutCancel(ctx), inst.RequestKey, *inst.Result)
		if err != nil {
			return *inst.Result, fmt.Errorf("recover %s: store result: %w", sagaID, err)
		}
		return stored, nil
	}

	start := s.nowFunc()
	if s.committed(inst) {
		log.Info("resuming committed saga")
		s.metrics.ObserveRecovery("resumed")
		return s.run(ctx, inst, start), nil
	}

	s.metrics.ObserveRecovery("compensated")
	if inst.Status == saga.StatusPending || !s.hasCompensable(inst) {
		log.Warn("failing interrupted saga with no side effects")
		return s.finish(ctx, inst, saga.Result{SagaID: inst.ID, Status: saga.ResultFailed, FailureReason: RecoveredReason}, start), nil
	}
	log.Warn("compensating interrupted saga")
	return s.compensateAndFinish(ctx, inst, saga.ResultFailed, RecoveredReason, start), nil
}

// RecoverAll recovers every unfinished saga idle for longer than the
// recover-after window and returns how many were finished.
func (s *Saga) RecoverAll(ctx context.Context) (int, error) {
	insts, err := s.log.ListUnfinished(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unfinished sagas: %w", err)
	}
	cutoff := s.nowFunc().Add(-s.recoverAfter)

	var (
		n    int
		errs []error
	)
	for _, inst := range insts {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if inst.UpdatedAt.After(cutoff) {
			continue
		}
		if _, err := s.Recover(ctx, inst.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
