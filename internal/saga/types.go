package saga

import "time"

// Status is the lifecycle state of a saga instance.
type Status string

const (
	StatusPending            Status = "PENDING"
	StatusRunning            Status = "RUNNING"
	StatusCompleted          Status = "COMPLETED"
	StatusCompensating       Status = "COMPENSATING"
	StatusFailed             Status = "FAILED"
	StatusCompensationFailed Status = "COMPENSATION_FAILED"
)

// Terminal reports whether no further mutation of the instance is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCompensationFailed:
		return true
	}
	return false
}

// transitions lists the allowed status changes. Anything else is rejected by
// the log implementations.
var transitions = map[Status][]Status{
	StatusPending:      {StatusRunning, StatusFailed},
	StatusRunning:      {StatusCompleted, StatusCompensating, StatusFailed},
	StatusCompensating: {StatusFailed, StatusCompensationFailed},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Outcome is the classified result of one step attempt.
type Outcome string

const (
	OutcomeSuccess          Outcome = "SUCCESS"
	OutcomeTransientFailure Outcome = "TRANSIENT_FAILURE"
	OutcomePermanentFailure Outcome = "PERMANENT_FAILURE"
)

// Phase distinguishes forward attempts from compensation attempts.
type Phase string

const (
	PhaseForward      Phase = "FORWARD"
	PhaseCompensation Phase = "COMPENSATION"
)

// ResultStatus is what the caller of a booking sees.
type ResultStatus string

const (
	ResultCompleted            ResultStatus = "COMPLETED"
	ResultCompletedWithWarning ResultStatus = "COMPLETED_WITH_WARNING"
	ResultFailed               ResultStatus = "FAILED"
	ResultCompensationFailed   ResultStatus = "COMPENSATION_FAILED"
	ResultTimeout              ResultStatus = "TIMEOUT"
)

// Request is the booking input carried by a saga instance. RequestKey is the
// idempotency key and never changes for the life of the instance.
type Request struct {
	RequestKey      string `json:"request_key" dynamodbav:"request_key" validate:"required,max=128,printascii"`
	PatientID       string `json:"patient_id" dynamodbav:"patient_id" validate:"required,entity_id"`
	DoctorID        string `json:"doctor_id" dynamodbav:"doctor_id" validate:"required,entity_id"`
	AppointmentDate string `json:"appointment_date" dynamodbav:"appointment_date" validate:"required,datetime=2006-01-02"`
}

// Result is the terminal outcome of a booking saga.
type Result struct {
	SagaID        string       `json:"saga_id" dynamodbav:"saga_id"`
	Status        ResultStatus `json:"status" dynamodbav:"status"`
	AppointmentID string       `json:"appointment_id,omitempty" dynamodbav:"appointment_id,omitempty"`
	BillID        string       `json:"bill_id,omitempty" dynamodbav:"bill_id,omitempty"`
	FailureReason string       `json:"failure_reason,omitempty" dynamodbav:"failure_reason,omitempty"`
	Warning       string       `json:"warning,omitempty" dynamodbav:"warning,omitempty"`
}

// StepRecord is one appended entry in a saga's history.
type StepRecord struct {
	Seq         int       `json:"seq" dynamodbav:"seq"`
	StepName    string    `json:"step_name" dynamodbav:"step_name"`
	Phase       Phase     `json:"phase" dynamodbav:"phase"`
	Attempt     int       `json:"attempt" dynamodbav:"attempt"`
	Outcome     Outcome   `json:"outcome" dynamodbav:"outcome"`
	Result      string    `json:"result,omitempty" dynamodbav:"result,omitempty"`
	Error       string    `json:"error,omitempty" dynamodbav:"error,omitempty"`
	Compensated bool      `json:"compensated" dynamodbav:"compensated"`
	RecordedAt  time.Time `json:"recorded_at" dynamodbav:"recorded_at"`
}

// Instance is the durable state of one booking saga.
type Instance struct {
	ID         string       `json:"id" dynamodbav:"saga_id"` // PK
	RequestKey string       `json:"request_key" dynamodbav:"request_key"`
	Status     Status       `json:"status" dynamodbav:"status"`
	Request    Request      `json:"request" dynamodbav:"request"`
	Steps      []StepRecord `json:"steps" dynamodbav:"steps"`
	Result     *Result      `json:"result,omitempty" dynamodbav:"result,omitempty"`
	CreatedAt  time.Time    `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at" dynamodbav:"updated_at"`
}

// IDFor derives the saga id from a request key.
func IDFor(requestKey string) string {
	return "booking:" + requestKey
}

// NewInstance returns a Pending instance for req.
func NewInstance(req Request, now time.Time) *Instance {
	return &Instance{
		ID:         IDFor(req.RequestKey),
		RequestKey: req.RequestKey,
		Status:     StatusPending,
		Request:    req,
		Steps:      []StepRecord{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ForwardSuccess returns the successful forward record of stepName, if any.
func (i *Instance) ForwardSuccess(stepName string) (StepRecord, bool) {
	for _, r := range i.Steps {
		if r.StepName == stepName && r.Phase == PhaseForward && r.Outcome == OutcomeSuccess {
			return r, true
		}
	}
	return StepRecord{}, false
}

// SideEffect returns the forward record that identifies a side effect of
// stepName: the successful record if there is one, otherwise the latest
// failed attempt that still reported a result.
func (i *Instance) SideEffect(stepName string) (StepRecord, bool) {
	if r, ok := i.ForwardSuccess(stepName); ok {
		return r, true
	}
	for j := len(i.Steps) - 1; j >= 0; j-- {
		r := i.Steps[j]
		if r.StepName == stepName && r.Phase == PhaseForward && r.Result != "" {
			return r, true
		}
	}
	return StepRecord{}, false
}

// Compensated reports whether a successful compensation was recorded for stepName.
func (i *Instance) Compensated(stepName string) bool {
	for _, r := range i.Steps {
		if r.StepName == stepName && r.Phase == PhaseCompensation && r.Compensated {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	out := *i
	out.Steps = append([]StepRecord(nil), i.Steps...)
	if i.Result != nil {
		r := *i.Result
		out.Result = &r
	}
	return &out
}
