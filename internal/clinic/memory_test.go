package clinic

import (
	"context"
	"errors"
	"testing"

	"github.com/imrishuroy/go-clinic-bookingflow/internal/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCreateIsIdempotentPerRequestKey(t *testing.T) {
	m := NewSeededMemory()
	ctx := context.Background()

	// the first create succeeds but its response is lost
	m.FailAfter(OpCreateAppointment, FailTimes(1, failure.Transient(errors.New("connection reset"))))

	_, err := m.Create(ctx, "1", "1", "2026-11-02", "k1")
	require.Error(t, err)
	id, err := m.Create(ctx, "1", "1", "2026-11-02", "k1")
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	other, err := m.Create(ctx, "1", "1", "2026-11-02", "k2")
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
	assert.Equal(t, 3, m.Count(OpCreateAppointment))
}

func TestMemoryBillLifecycle(t *testing.T) {
	m := NewSeededMemory()
	ctx := context.Background()

	_, err := m.CreateBill(ctx, "404", "1", "k")
	assert.True(t, failure.IsNotFound(err))

	apptID, err := m.Create(ctx, "1", "1", "2026-11-02", "k")
	require.NoError(t, err)
	billID, err := m.CreateBill(ctx, apptID, "1", "k")
	require.NoError(t, err)

	b, ok := m.Bill(billID)
	require.True(t, ok)
	assert.Equal(t, DefaultBillAmount, b.Amount)
	assert.Equal(t, BillStatusUnpaid, b.Status)

	require.NoError(t, m.VoidBill(ctx, billID))
	require.NoError(t, m.VoidBill(ctx, billID))
	b, _ = m.Bill(billID)
	assert.Equal(t, BillStatusVoid, b.Status)

	require.NoError(t, m.Delete(ctx, apptID))
	require.NoError(t, m.Delete(ctx, apptID))
	_, ok = m.Appointment(apptID)
	assert.False(t, ok)
}

func TestMemoryLookupsAndFaults(t *testing.T) {
	m := NewSeededMemory()
	ctx := context.Background()

	_, err := m.GetDoctor(ctx, "999")
	assert.True(t, failure.IsNotFound(err))
	assert.Equal(t, failure.ClassPermanent, failure.Classify(err))

	boom := failure.Transient(errors.New("timeout"))
	m.FailBefore(OpGetPatient, Always(boom))
	_, err = m.GetPatient(ctx, "1")
	assert.Equal(t, failure.ClassTransient, failure.Classify(err))

	require.NoError(t, m.Send(ctx, "hi", "1"))
	sent := m.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, NotificationSubject, sent[0].Subject)

	calls := m.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, Call{Op: OpSendNotification, Arg: "1"}, calls[2])
}
