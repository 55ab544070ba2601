package validation

// CreateBookingRequest is the payload for POST /bookings. The request key
// normally arrives in the Idempotency-Key header; RequestKey is accepted as
// a fallback for clients that cannot set headers.
type CreateBookingRequest struct {
	RequestKey      string `json:"request_key,omitempty" validate:"omitempty,max=128,printascii"`
	PatientID       string `json:"patient_id" validate:"required,entity_id"`
	DoctorID        string `json:"doctor_id" validate:"required,entity_id"`
	AppointmentDate string `json:"appointment_date" validate:"required,datetime=2006-01-02"`
}
