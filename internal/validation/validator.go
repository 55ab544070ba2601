package validation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with the booking tags registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// entity_id: a positive integer rendered as a string, as the clinic
	// services key patients and doctors.
	_ = v.RegisterValidation("entity_id", entityID)

	return v
}

func entityID(fl validatorv10.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || strings.TrimSpace(s) != s {
		return false
	}
	n, err := strconv.ParseUint(s, 10, 64)
	return err == nil && n > 0
}

// Describe flattens validation errors into one stable, human readable line,
// e.g. "DoctorID failed entity_id; PatientID failed required".
func Describe(err error) string {
	ve, ok := err.(validatorv10.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}
