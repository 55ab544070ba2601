package clinic

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/failure"
)

// Operation names used for fault injection and call accounting.
const (
	OpGetPatient        = "GetPatient"
	OpGetDoctor         = "GetDoctor"
	OpCreateAppointment = "CreateAppointment"
	OpDeleteAppointment = "DeleteAppointment"
	OpCreateBill        = "CreateBill"
	OpVoidBill          = "VoidBill"
	OpSendNotification  = "SendNotification"
)

// FaultFunc decides the error for the n-th call (1-based) of an operation.
type FaultFunc func(call int) error

// FailTimes fails the first n calls with err and lets the rest through.
func FailTimes(n int, err error) FaultFunc {
	return func(call int) error {
		if call <= n {
			return err
		}
		return nil
	}
}

// Always fails every call with err.
func Always(err error) FaultFunc {
	return func(int) error { return err }
}

// Call is one recorded invocation of an in-memory collaborator.
type Call struct {
	Op  string
	Arg string
}

// Memory is an in-process stand-in for all five collaborators. It backs
// local runs and tests, and honours the same idempotency contracts the
// real services do.
type Memory struct {
	mu sync.Mutex

	patients map[string]Patient
	doctors  map[string]Doctor

	nextAppointment int
	appointments    map[string]Appointment
	appointmentKeys map[string]string

	nextBill int
	bills    map[string]Bill
	billKeys map[string]string

	sent []Notification

	before map[string]FaultFunc
	after  map[string]FaultFunc
	counts map[string]int
	calls  []Call
}

func NewMemory() *Memory {
	return &Memory{
		patients:        map[string]Patient{},
		doctors:         map[string]Doctor{},
		appointments:    map[string]Appointment{},
		appointmentKeys: map[string]string{},
		bills:           map[string]Bill{},
		billKeys:        map[string]string{},
		before:          map[string]FaultFunc{},
		after:           map[string]FaultFunc{},
		counts:          map[string]int{},
	}
}

// NewSeededMemory returns a Memory with patient 1 and an available doctor 1.
func NewSeededMemory() *Memory {
	m := NewMemory()
	m.AddPatient(Patient{ID: "1", Name: "John Doe"})
	m.AddDoctor(Doctor{ID: "1", Name: "Dr. Smith", Specialization: "Cardiology", Available: true})
	return m
}

// Services exposes m through the collaborator interfaces.
func (m *Memory) Services() Services {
	return Services{
		Patients:      m,
		Doctors:       m,
		Appointments:  m,
		Billing:       m,
		Notifications: m,
	}
}

func (m *Memory) AddPatient(p Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = p
}

func (m *Memory) AddDoctor(d Doctor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[d.ID] = d
}

// FailBefore makes op fail without performing its effect.
func (m *Memory) FailBefore(op string, fn FaultFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.before[op] = fn
}

// FailAfter makes op perform its effect and then report an error. Creating
// operations still return the id, as a service does when it rejects a
// request after writing.
func (m *Memory) FailAfter(op string, fn FaultFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.after[op] = fn
}

// Count returns how many times op was invoked.
func (m *Memory) Count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[op]
}

// Calls returns the invocation history in order.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Sent returns the delivered notifications.
func (m *Memory) Sent() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.sent...)
}

func (m *Memory) Appointment(id string) (Appointment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	return a, ok
}

func (m *Memory) Bill(id string) (Bill, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bills[id]
	return b, ok
}

// enter records the call and evaluates the before-fault. Caller holds mu.
func (m *Memory) enter(op, arg string) error {
	m.counts[op]++
	m.calls = append(m.calls, Call{Op: op, Arg: arg})
	if fn := m.before[op]; fn != nil {
		return fn(m.counts[op])
	}
	return nil
}

// leave evaluates the after-fault. Caller holds mu.
func (m *Memory) leave(op string) error {
	if fn := m.after[op]; fn != nil {
		return fn(m.counts[op])
	}
	return nil
}

func (m *Memory) GetPatient(ctx context.Context, id string) (Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpGetPatient, id); err != nil {
		return Patient{}, err
	}
	p, ok := m.patients[id]
	if !ok {
		return Patient{}, failure.NotFound("patient", id)
	}
	return p, m.leave(OpGetPatient)
}

func (m *Memory) GetDoctor(ctx context.Context, id string) (Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpGetDoctor, id); err != nil {
		return Doctor{}, err
	}
	d, ok := m.doctors[id]
	if !ok {
		return Doctor{}, failure.NotFound("doctor", id)
	}
	return d, m.leave(OpGetDoctor)
}

func (m *Memory) Create(ctx context.Context, doctorID, patientID, date, requestKey string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpCreateAppointment, requestKey); err != nil {
		return "", err
	}
	id, ok := m.appointmentKeys[requestKey]
	if !ok {
		m.nextAppointment++
		id = strconv.Itoa(m.nextAppointment)
		m.appointments[id] = Appointment{ID: id, DoctorID: doctorID, PatientID: patientID, AppointmentDate: date}
		if requestKey != "" {
			m.appointmentKeys[requestKey] = id
		}
	}
	if err := m.leave(OpCreateAppointment); err != nil {
		return id, err
	}
	return id, nil
}

func (m *Memory) Delete(ctx context.Context, appointmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpDeleteAppointment, appointmentID); err != nil {
		return err
	}
	delete(m.appointments, appointmentID)
	for k, id := range m.appointmentKeys {
		if id == appointmentID {
			delete(m.appointmentKeys, k)
		}
	}
	return m.leave(OpDeleteAppointment)
}

func (m *Memory) CreateBill(ctx context.Context, appointmentID, patientID, requestKey string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpCreateBill, requestKey); err != nil {
		return "", err
	}
	if _, ok := m.appointments[appointmentID]; !ok {
		return "", failure.NotFound("appointment", appointmentID)
	}
	id, ok := m.billKeys[requestKey]
	if !ok {
		m.nextBill++
		id = strconv.Itoa(m.nextBill)
		m.bills[id] = Bill{
			ID:            id,
			AppointmentID: appointmentID,
			PatientID:     patientID,
			Amount:        DefaultBillAmount,
			Status:        BillStatusUnpaid,
		}
		if requestKey != "" {
			m.billKeys[requestKey] = id
		}
	}
	if err := m.leave(OpCreateBill); err != nil {
		return id, err
	}
	return id, nil
}

func (m *Memory) VoidBill(ctx context.Context, billID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpVoidBill, billID); err != nil {
		return err
	}
	if b, ok := m.bills[billID]; ok {
		b.Status = BillStatusVoid
		m.bills[billID] = b
	}
	return m.leave(OpVoidBill)
}

func (m *Memory) Send(ctx context.Context, message, audience string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpSendNotification, audience); err != nil {
		return err
	}
	if audience == "" {
		return failure.Permanent(fmt.Errorf("notification: empty audience"))
	}
	m.sent = append(m.sent, Notification{
		ID:       uuid.NewString(),
		Subject:  NotificationSubject,
		Message:  message,
		Audience: audience,
	})
	return m.leave(OpSendNotification)
}

var (
	_ PatientService      = (*Memory)(nil)
	_ DoctorService       = (*Memory)(nil)
	_ AppointmentStore    = (*Memory)(nil)
	_ BillingService      = (*Memory)(nil)
	_ NotificationService = (*Memory)(nil)
)
