package booking

import (
	"context"
	"fmt"

	"github.com/imrishuroy/go-clinic-bookingflow/internal/clinic"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/failure"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/saga"
)

// Step names, in execution order.
const (
	StepVerifyPatient      = "VerifyPatient"
	StepVerifyDoctor       = "VerifyDoctor"
	StepPersistAppointment = "PersistAppointment"
	StepCreateBill         = "CreateBill"
	StepSendNotification   = "SendNotification"
)

// Steps returns the fixed booking step table bound to svc.
func Steps(svc clinic.Services) []saga.Step {
	return []saga.Step{
		{
			Name: StepVerifyPatient,
			Forward: func(ctx context.Context, inst *saga.Instance) (string, error) {
				p, err := svc.Patients.GetPatient(ctx, inst.Request.PatientID)
				if err != nil {
					return "", err
				}
				return p.ID, nil
			},
		},
		{
			Name: StepVerifyDoctor,
			Forward: func(ctx context.Context, inst *saga.Instance) (string, error) {
				d, err := svc.Doctors.GetDoctor(ctx, inst.Request.DoctorID)
				if err != nil {
					return "", err
				}
				if !d.Available {
					return "", failure.Permanent(fmt.Errorf("doctor %s is not available", inst.Request.DoctorID))
				}
				return d.ID, nil
			},
		},
		{
			Name:          StepPersistAppointment,
			SideEffecting: true,
			Forward: func(ctx context.Context, inst *saga.Instance) (string, error) {
				r := inst.Request
				return svc.Appointments.Create(ctx, r.DoctorID, r.PatientID, r.AppointmentDate, r.RequestKey)
			},
			Compensate: func(ctx context.Context, inst *saga.Instance, appointmentID string) error {
				return svc.Appointments.Delete(ctx, appointmentID)
			},
		},
		{
			Name:          StepCreateBill,
			SideEffecting: true,
			Commits:       true,
			Forward: func(ctx context.Context, inst *saga.Instance) (string, error) {
				appt, ok := inst.ForwardSuccess(StepPersistAppointment)
				if !ok {
					return "", failure.Permanent(fmt.Errorf("no appointment recorded for %s", inst.ID))
				}
				return svc.Billing.CreateBill(ctx, appt.Result, inst.Request.PatientID, inst.RequestKey)
			},
			Compensate: func(ctx context.Context, inst *saga.Instance, billID string) error {
				return svc.Billing.VoidBill(ctx, billID)
			},
		},
		{
			Name:          StepSendNotification,
			SideEffecting: true,
			Forward: func(ctx context.Context, inst *saga.Instance) (string, error) {
				if err := svc.Notifications.Send(ctx, notificationMessage(inst), inst.Request.PatientID); err != nil {
					return "", err
				}
				return inst.Request.PatientID, nil
			},
		},
	}
}

func notificationMessage(inst *saga.Instance) string {
	appt, _ := inst.ForwardSuccess(StepPersistAppointment)
	bill, _ := inst.ForwardSuccess(StepCreateBill)
	r := inst.Request
	return fmt.Sprintf("Appointment %s booked with doctor %s for patient %s on %s. Bill %s (%.2f, %s).",
		appt.Result, r.DoctorID, r.PatientID, r.AppointmentDate, bill.Result, clinic.DefaultBillAmount, clinic.BillStatusUnpaid)
}

// failureReason renders the caller-facing reason for a failed forward step.
func failureReason(step string, err error) string {
	switch step {
	case StepVerifyPatient:
		return "patient invalid: " + err.Error()
	case StepVerifyDoctor:
		return "doctor invalid: " + err.Error()
	}
	return step + " failed: " + err.Error()
}
