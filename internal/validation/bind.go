package validation

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
)

// BindAndValidate binds the JSON body into out and validates it. On failure
// it aborts with a 400 and returns the error so the handler can stop.
func BindAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	if err := c.ShouldBindJSON(out); err != nil {
		abort(c, "invalid_request_body", err.Error(), nil)
		return err
	}
	if err := v.Struct(out); err != nil {
		abort(c, "validation_failed", Describe(err), FieldErrors(err))
		return err
	}
	return nil
}

// FieldErrors maps each rejected field to the tag that rejected it.
func FieldErrors(err error) map[string]string {
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		return map[string]string{"error": err.Error()}
	}
	out := make(map[string]string, len(ve))
	for _, fe := range ve {
		out[fe.Field()] = fe.Tag()
	}
	return out
}

func abort(c *gin.Context, code, msg string, fields map[string]string) {
	body := gin.H{"error": code, "msg": msg}
	if fields != nil {
		body["fields"] = fields
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, body)
}
