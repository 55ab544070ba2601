package clinic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/imrishuroy/go-clinic-bookingflow/internal/failure"
)

const defaultTimeout = 5 * time.Second

// restClient performs JSON calls against one collaborator and classifies
// failures by status code.
type restClient struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

func newRestClient(name, baseURL string, httpClient *http.Client) restClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return restClient{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// do sends the request and decodes a 2xx body into out (when non-nil).
// 404 becomes a permanent not-found error, 429 and 5xx are transient, other
// 4xx are permanent. Transport errors are left to failure.Classify.
func (c restClient) do(ctx context.Context, method, path string, headers map[string]string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, failure.Permanent(fmt.Errorf("%s: marshal request: %w", c.name, err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, failure.Permanent(fmt.Errorf("%s: create request: %w", c.name, err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s: http request: %w", c.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, failure.Transient(fmt.Errorf("%s: read response: %w", c.name, err))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return resp.StatusCode, failure.Transient(statusError(c.name, resp.StatusCode, respBody))
	case resp.StatusCode >= 400:
		return resp.StatusCode, failure.Permanent(statusError(c.name, resp.StatusCode, respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, failure.Permanent(fmt.Errorf("%s: unmarshal response: %w", c.name, err))
		}
	}
	return resp.StatusCode, nil
}

func statusError(name string, code int, body []byte) error {
	msg := string(body)
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return fmt.Errorf("%s: status %d: %s", name, code, msg)
}

// PatientClient calls the patient service: GET /patients/{id}.
type PatientClient struct{ rest restClient }

func NewPatientClient(baseURL string, httpClient *http.Client) *PatientClient {
	return &PatientClient{rest: newRestClient("patient-service", baseURL, httpClient)}
}

func (c *PatientClient) GetPatient(ctx context.Context, id string) (Patient, error) {
	var p Patient
	code, err := c.rest.do(ctx, http.MethodGet, "/patients/"+url.PathEscape(id), nil, nil, &p)
	if err != nil {
		return Patient{}, err
	}
	if code == http.StatusNotFound {
		return Patient{}, failure.NotFound("patient", id)
	}
	return p, nil
}

// DoctorClient calls the doctor service: GET /doctors/{id}.
type DoctorClient struct{ rest restClient }

func NewDoctorClient(baseURL string, httpClient *http.Client) *DoctorClient {
	return &DoctorClient{rest: newRestClient("doctor-service", baseURL, httpClient)}
}

func (c *DoctorClient) GetDoctor(ctx context.Context, id string) (Doctor, error) {
	var d Doctor
	code, err := c.rest.do(ctx, http.MethodGet, "/doctors/"+url.PathEscape(id), nil, nil, &d)
	if err != nil {
		return Doctor{}, err
	}
	if code == http.StatusNotFound {
		return Doctor{}, failure.NotFound("doctor", id)
	}
	return d, nil
}

// AppointmentClient calls the appointment service. The request key travels
// in the Idempotency-Key header so a retried create returns the same id.
type AppointmentClient struct{ rest restClient }

func NewAppointmentClient(baseURL string, httpClient *http.Client) *AppointmentClient {
	return &AppointmentClient{rest: newRestClient("appointment-service", baseURL, httpClient)}
}

func (c *AppointmentClient) Create(ctx context.Context, doctorID, patientID, date, requestKey string) (string, error) {
	in := Appointment{DoctorID: doctorID, PatientID: patientID, AppointmentDate: date}
	var out Appointment
	code, err := c.rest.do(ctx, http.MethodPost, "/appointments", idempotencyHeader(requestKey), in, &out)
	if err != nil {
		return "", err
	}
	if code == http.StatusNotFound {
		return "", failure.Permanent(fmt.Errorf("appointment-service: create returned 404"))
	}
	if out.ID == "" {
		return "", failure.Permanent(fmt.Errorf("appointment-service: create returned empty id"))
	}
	return out.ID, nil
}

// Delete treats 404 as already deleted.
func (c *AppointmentClient) Delete(ctx context.Context, appointmentID string) error {
	_, err := c.rest.do(ctx, http.MethodDelete, "/appointments/"+url.PathEscape(appointmentID), nil, nil, nil)
	return err
}

// BillingClient calls the billing service: POST /bills?appointmentId=&patientId=
// and DELETE /bills/{id}.
type BillingClient struct{ rest restClient }

func NewBillingClient(baseURL string, httpClient *http.Client) *BillingClient {
	return &BillingClient{rest: newRestClient("billing-service", baseURL, httpClient)}
}

func (c *BillingClient) CreateBill(ctx context.Context, appointmentID, patientID, requestKey string) (string, error) {
	q := url.Values{}
	q.Set("appointmentId", appointmentID)
	q.Set("patientId", patientID)
	var out Bill
	code, err := c.rest.do(ctx, http.MethodPost, "/bills?"+q.Encode(), idempotencyHeader(requestKey), nil, &out)
	if err != nil {
		return "", err
	}
	if code == http.StatusNotFound {
		return "", failure.NotFound("appointment", appointmentID)
	}
	if out.ID == "" {
		return "", failure.Permanent(fmt.Errorf("billing-service: create returned empty id"))
	}
	if out.AppointmentID != "" && out.AppointmentID != appointmentID {
		return out.ID, failure.Permanent(fmt.Errorf("billing-service: bill %s references appointment %s, want %s", out.ID, out.AppointmentID, appointmentID))
	}
	return out.ID, nil
}

// VoidBill deletes the bill. The billing service has no separate void state
// over HTTP, so a 404 on the bill route means it is already gone.
func (c *BillingClient) VoidBill(ctx context.Context, billID string) error {
	_, err := c.rest.do(ctx, http.MethodDelete, "/bills/"+url.PathEscape(billID), nil, nil, nil)
	return err
}

// NotificationClient calls the notification service: POST /notifications.
type NotificationClient struct{ rest restClient }

func NewNotificationClient(baseURL string, httpClient *http.Client) *NotificationClient {
	return &NotificationClient{rest: newRestClient("notification-service", baseURL, httpClient)}
}

func (c *NotificationClient) Send(ctx context.Context, message, audience string) error {
	in := Notification{Subject: NotificationSubject, Message: message, Audience: audience}
	code, err := c.rest.do(ctx, http.MethodPost, "/notifications", nil, in, nil)
	if err != nil {
		return err
	}
	if code == http.StatusNotFound {
		return failure.Permanent(fmt.Errorf("notification-service: audience %s not found", audience))
	}
	return nil
}

func idempotencyHeader(requestKey string) map[string]string {
	if requestKey == "" {
		return nil
	}
	return map[string]string{"Idempotency-Key": requestKey}
}

var (
	_ PatientService      = (*PatientClient)(nil)
	_ DoctorService       = (*DoctorClient)(nil)
	_ AppointmentStore    = (*AppointmentClient)(nil)
	_ BillingService      = (*BillingClient)(nil)
	_ NotificationService = (*NotificationClient)(nil)
)
