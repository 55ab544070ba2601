package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/aws"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/booking"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/logger"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/saga"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/validation"
)

const idempotencyHeader = "Idempotency-Key"

// HandlerConfig groups dependencies for the bookings handler.
type HandlerConfig struct {
	Saga *booking.Saga
	// Queue, when set, enables POST /bookings/async.
	Queue  *aws.Publisher
	Logger *logger.Logger
}

// RegisterBookingRoutes registers routes for the booking API.
func RegisterBookingRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	r.POST("/bookings", func(c *gin.Context) {
		req, ok := bindBooking(c, v)
		if !ok {
			return
		}

		res := cfg.Saga.Execute(c.Request.Context(), req)

		code := statusCode(res.Status)
		if code == http.StatusCreated {
			c.Header("Location", fmt.Sprintf("/bookings/sagas/%s", res.SagaID))
		}
		c.JSON(code, res)
	})

	r.POST("/bookings/async", func(c *gin.Context) {
		if cfg.Queue == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "async_booking_disabled"})
			return
		}
		req, ok := bindBooking(c, v)
		if !ok {
			return
		}

		ctx := logger.ContextWithRequestKey(c.Request.Context(), req.RequestKey)
		msg := booking.QueuedRequest{Request: req, CorrelationID: c.GetHeader("X-Request-Id")}
		attrs := map[string]string{
			"idempotency_key": req.RequestKey,
			"correlation_id":  msg.CorrelationID,
		}
		// on a FIFO queue a re-submitted key is collapsed by SQS
		err := cfg.Queue.SendJSON(ctx, msg, attrs, aws.WithGroup(req.RequestKey), aws.WithDeduplication(req.RequestKey))
		if err != nil {
			log.WithContext(ctx).WithError(err).Error("failed to enqueue booking")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue_failed", "detail": err.Error()})
			return
		}

		sagaID := saga.IDFor(req.RequestKey)
		c.Header("Location", fmt.Sprintf("/bookings/sagas/%s", sagaID))
		c.JSON(http.StatusAccepted, gin.H{"saga_id": sagaID, "status": "QUEUED"})
	})

	r.GET("/bookings/sagas/:id", func(c *gin.Context) {
		inst, err := cfg.Saga.Log().Load(c.Request.Context(), c.Param("id"))
		if errors.Is(err, saga.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "saga_not_found"})
			return
		}
		if err != nil {
			log.WithError(err).WithField("sagaID", c.Param("id")).Error("saga lookup failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "saga_lookup_failed"})
			return
		}
		c.JSON(http.StatusOK, inst)
	})
}

// bindBooking reads the body and the request key. It writes a 400 and
// returns false when either is unusable.
func bindBooking(c *gin.Context, v *validatorv10.Validate) (saga.Request, bool) {
	var body validation.CreateBookingRequest
	if err := validation.BindAndValidate(c, &body, v); err != nil {
		// BindAndValidate already wrote a 400
		return saga.Request{}, false
	}

	key := c.GetHeader(idempotencyHeader)
	switch {
	case key == "" && body.RequestKey == "":
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
		return saga.Request{}, false
	case key == "":
		key = body.RequestKey
	case body.RequestKey != "" && body.RequestKey != key:
		c.JSON(http.StatusBadRequest, gin.H{"error": "idempotency_key_mismatch"})
		return saga.Request{}, false
	}

	return saga.Request{
		RequestKey:      key,
		PatientID:       body.PatientID,
		DoctorID:        body.DoctorID,
		AppointmentDate: body.AppointmentDate,
	}, true
}

// statusCode maps a booking result to the HTTP status returned for it.
func statusCode(s saga.ResultStatus) int {
	switch s {
	case saga.ResultCompleted, saga.ResultCompletedWithWarning:
		return http.StatusCreated
	case saga.ResultFailed:
		return http.StatusUnprocessableEntity
	case saga.ResultTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
