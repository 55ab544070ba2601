// Package clinic holds the contracts of the services a booking touches and
// the clients that reach them.
package clinic

import "context"

// Bill defaults applied by the billing service on creation.
const (
	DefaultBillAmount = 500.0
	BillStatusUnpaid  = "UNPAID"
	BillStatusVoid    = "VOID"
)

// NotificationSubject is the subject line every booking notification carries.
const NotificationSubject = "Clinic Appointment Notification"

type Patient struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Doctor struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Specialization string `json:"specialization"`
	Available      bool   `json:"available"`
}

type Appointment struct {
	ID              string `json:"id"`
	DoctorID        string `json:"doctorId"`
	PatientID       string `json:"patientId"`
	AppointmentDate string `json:"appointmentDate"`
}

type Bill struct {
	ID            string  `json:"id"`
	AppointmentID string  `json:"appointmentId"`
	PatientID     string  `json:"patientId"`
	Amount        float64 `json:"amount"`
	Status        string  `json:"status"`
}

// PatientService looks up patients. Unknown ids yield a failure.NotFound error.
type PatientService interface {
	GetPatient(ctx context.Context, id string) (Patient, error)
}

// DoctorService looks up doctors. Unknown ids yield a failure.NotFound error.
type DoctorService interface {
	GetDoctor(ctx context.Context, id string) (Doctor, error)
}

// AppointmentStore persists appointments. Create is idempotent per requestKey
// and Delete of an unknown id succeeds. Create may return an id together with
// an error when the appointment was written but the call still failed.
type AppointmentStore interface {
	Create(ctx context.Context, doctorID, patientID, date, requestKey string) (string, error)
	Delete(ctx context.Context, appointmentID string) error
}

// BillingService issues and voids bills. CreateBill is idempotent per
// requestKey and VoidBill of an already void or unknown bill succeeds.
// CreateBill may return an id together with an error when the bill was
// written but the call still failed.
type BillingService interface {
	CreateBill(ctx context.Context, appointmentID, patientID, requestKey string) (string, error)
	VoidBill(ctx context.Context, billID string) error
}

// NotificationService delivers a message to an audience on a best-effort basis.
type NotificationService interface {
	Send(ctx context.Context, message, audience string) error
}

// Services bundles the collaborators a booking saga needs.
type Services struct {
	Patients      PatientService
	Doctors       DoctorService
	Appointments  AppointmentStore
	Billing       BillingService
	Notifications NotificationService
}
