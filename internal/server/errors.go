package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entitlements/internal/entitlementsvc"
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

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTenantScope        = errors.New("tenant_scope_mismatch")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

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
		if status == http.StatusServiceUnavailable && c.Writer.Header().Get("Retry-After") == "" {
			c.Header("Retry-After", "1")
		}
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
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "unauthorized"}
	case errors.Is(err, ErrTenantScope):
		return http.StatusForbidden, errorPayload{Type: "forbidden", Message: "actor is not scoped to this tenant"}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{Type: "rate_limited", Message: "too many requests"}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{Type: "service_unavailable", Message: "service unavailable"}
	}

	switch kind := entitlementsvc.KindOf(err); kind {
	case entitlementsvc.KindTypeMismatch,
		entitlementsvc.KindUnknownFeature,
		entitlementsvc.KindUnknownPlan,
		entitlementsvc.KindImmutableField,
		entitlementsvc.KindInvalidArgument:
		code := entitlementsvc.Code(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(kind, code),
					Code:    code,
					Message: validationErrorMessage(kind),
				},
			},
		}
	case entitlementsvc.KindNotFound:
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: "not found"}
	case entitlementsvc.KindDuplicateCode:
		return http.StatusConflict, errorPayload{Type: "duplicate_code", Message: entitlementsvc.Code(err)}
	case entitlementsvc.KindForbidden:
		return http.StatusForbidden, errorPayload{Type: "forbidden", Message: "forbidden"}
	case entitlementsvc.KindBusy:
		return http.StatusServiceUnavailable, errorPayload{Type: "busy", Message: "resource busy, retry shortly"}
	case entitlementsvc.KindLimitExceeded:
		return http.StatusConflict, errorPayload{Type: "limit_exceeded", Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the payload type and code recorded by the request logger.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationErrorField(kind entitlementsvc.Kind, code string) string {
	switch kind {
	case entitlementsvc.KindTypeMismatch, entitlementsvc.KindUnknownFeature:
		return "feature_code"
	case entitlementsvc.KindUnknownPlan:
		return "plan_code"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(kind entitlementsvc.Kind) string {
	switch kind {
	case entitlementsvc.KindTypeMismatch:
		return "value does not match the feature type"
	case entitlementsvc.KindUnknownFeature:
		return "unknown feature"
	case entitlementsvc.KindUnknownPlan:
		return "unknown plan"
	case entitlementsvc.KindImmutableField:
		return "field cannot be changed"
	default:
		return "invalid value"
	}
}
