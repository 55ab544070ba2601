package clinic

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// wireID decodes an identifier the services may send as a JSON number
// ({"id":1}) or a string ({"id":"1"}). Either form ends up as a string.
type wireID string

func (id *wireID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = wireID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: want number or string, got %s", b)
	}
	*id = wireID(n.String())
	return nil
}

func (p *Patient) UnmarshalJSON(b []byte) error {
	type Alias Patient
	aux := struct {
		ID wireID `json:"id"`
		*Alias
	}{Alias: (*Alias)(p)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	p.ID = string(aux.ID)
	return nil
}

func (d *Doctor) UnmarshalJSON(b []byte) error {
	type Alias Doctor
	aux := struct {
		ID wireID `json:"id"`
		*Alias
	}{Alias: (*Alias)(d)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	d.ID = string(aux.ID)
	return nil
}

func (a *Appointment) UnmarshalJSON(b []byte) error {
	type Alias Appointment
	aux := struct {
		ID        wireID `json:"id"`
		DoctorID  wireID `json:"doctorId"`
		PatientID wireID `json:"patientId"`
		*Alias
	}{Alias: (*Alias)(a)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	a.ID, a.DoctorID, a.PatientID = string(aux.ID), string(aux.DoctorID), string(aux.PatientID)
	return nil
}

func (bl *Bill) UnmarshalJSON(b []byte) error {
	type Alias Bill
	aux := struct {
		ID            wireID `json:"id"`
		AppointmentID wireID `json:"appointmentId"`
		PatientID     wireID `json:"patientId"`
		*Alias
	}{Alias: (*Alias)(bl)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	bl.ID, bl.AppointmentID, bl.PatientID = string(aux.ID), string(aux.AppointmentID), string(aux.PatientID)
	return nil
}
