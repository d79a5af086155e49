package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	customerdomain "github.com/smallbiznis/substation/internal/customer/domain"
	eventdomain "github.com/smallbiznis/substation/internal/event/domain"
	plandomain "github.com/smallbiznis/substation/internal/plan/domain"
	stripegw "github.com/smallbiznis/substation/internal/providers/stripe"
	subscriptiondomain "github.com/smallbiznis/substation/internal/subscription/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) {
		return vErr
	}
	return nil
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case errors.Is(err, customerdomain.ErrInvalidAccountID),
		errors.Is(err, customerdomain.ErrInvalidPaymentMethod),
		errors.Is(err, plandomain.ErrInvalidName),
		errors.Is(err, plandomain.ErrInvalidPlanType),
		errors.Is(err, plandomain.ErrInvalidID),
		errors.Is(err, plandomain.ErrPriceIDRequired),
		errors.Is(err, plandomain.ErrPriceIDForbidden),
		errors.Is(err, eventdomain.ErrMissingEventID),
		errors.Is(err, stripegw.ErrSignatureInvalid):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, customerdomain.ErrCustomerNotFound),
		errors.Is(err, plandomain.ErrPlanNotFound),
		errors.Is(err, plandomain.ErrLimitNotFound),
		errors.Is(err, subscriptiondomain.ErrRecordNotFound),
		errors.Is(err, eventdomain.ErrEventNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, customerdomain.ErrAlreadySubscribed),
		errors.Is(err, customerdomain.ErrNoActiveSubscription),
		errors.Is(err, plandomain.ErrDuplicateName),
		errors.Is(err, plandomain.ErrDuplicatePriceID),
		errors.Is(err, plandomain.ErrDuplicateDefaultPlan),
		errors.Is(err, plandomain.ErrDuplicatePaidPlan),
		errors.Is(err, eventdomain.ErrNotReplayable):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, customerdomain.ErrNoPaidPlan):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "no paid plan configured",
		}
	case errors.Is(err, stripegw.ErrPaymentDeclined):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "payment_declined",
			Message: "the payment method was declined",
		}
	case errors.Is(err, stripegw.ErrExternalCall):
		return http.StatusBadGateway, errorPayload{
			Type:    "upstream_error",
			Message: "payment processor request failed",
		}
	default:
		// Internal detail never leaks to callers.
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}
