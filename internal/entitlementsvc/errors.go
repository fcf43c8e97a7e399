package entitlementsvc

import (
	"errors"

	auditdomain "github.com/smallbiznis/entitlements/internal/audit/domain"
	"github.com/smallbiznis/entitlements/internal/authorization"
	entitlementdomain "github.com/smallbiznis/entitlements/internal/entitlement/domain"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	plandomain "github.com/smallbiznis/entitlements/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/entitlements/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/entitlements/internal/usage/domain"
)

// Kind classifies an error for callers that map it onto a transport.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindDuplicateCode   Kind = "duplicate_code"
	KindTypeMismatch    Kind = "type_mismatch"
	KindUnknownFeature  Kind = "unknown_feature"
	KindUnknownPlan     Kind = "unknown_plan"
	KindImmutableField  Kind = "immutable_field"
	KindLimitExceeded   Kind = "limit_exceeded"
	KindForbidden       Kind = "forbidden"
	KindBusy            Kind = "busy"
	KindInvalidArgument Kind = "invalid_argument"
	KindInternal        Kind = "internal"
)

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the same call may succeed if repeated shortly.
func (e *Error) Retryable() bool {
	return e != nil && e.Kind == KindBusy
}

var kinds = []struct {
	kind Kind
	errs []error
}{
	{KindForbidden, []error{authorization.ErrForbidden, authorization.ErrInvalidActor}},
	{KindBusy, []error{entitlementdomain.ErrBusy, usagedomain.ErrBusy}},
	{KindNotFound, []error{
		featuredomain.ErrNotFound,
		plandomain.ErrNotFound,
		subscriptiondomain.ErrNotFound,
		entitlementdomain.ErrOverrideNotFound,
	}},
	{KindDuplicateCode, []error{
		featuredomain.ErrDuplicateCode,
		featuredomain.ErrDuplicateDimension,
		plandomain.ErrDuplicateCode,
		subscriptiondomain.ErrAlreadyProvisioned,
	}},
	{KindTypeMismatch, []error{featuredomain.ErrTypeMismatch}},
	{KindUnknownFeature, []error{featuredomain.ErrUnknownFeature, usagedomain.ErrUnknownDimension}},
	{KindUnknownPlan, []error{entitlementdomain.ErrUnknownPlan, plandomain.ErrUnknownPlan}},
	{KindImmutableField, []error{featuredomain.ErrImmutableField}},
	{KindLimitExceeded, []error{usagedomain.ErrLimitExceeded}},
	{KindInvalidArgument, []error{
		featuredomain.ErrInvalidCode,
		featuredomain.ErrInvalidName,
		featuredomain.ErrInvalidType,
		featuredomain.ErrInvalidCategory,
		featuredomain.ErrInvalidValue,
		featuredomain.ErrInvalidDimension,
		plandomain.ErrDuplicateFeature,
		plandomain.ErrInvalidCode,
		plandomain.ErrInvalidName,
		plandomain.ErrInvalidPrice,
		plandomain.ErrInvalidCurrency,
		plandomain.ErrInvalidFeatureKey,
		subscriptiondomain.ErrInvalidTenant,
		subscriptiondomain.ErrInvalidStatus,
		subscriptiondomain.ErrInvalidCycle,
		subscriptiondomain.ErrInvalidPageToken,
		entitlementdomain.ErrInvalidFeatureCode,
		entitlementdomain.ErrTenantCancelled,
		usagedomain.ErrInvalidAmount,
		auditdomain.ErrInvalidPageToken,
		auditdomain.ErrInvalidTimeRange,
		auditdomain.ErrInvalidAction,
	}},
}

// KindOf classifies err. Unrecognized errors are internal.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	for _, group := range kinds {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.kind
			}
		}
	}
	return KindInternal
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return &Error{Kind: KindOf(err), Err: err}
}

// Code returns the snake_case code of the domain error behind err, or its kind
// when no known domain error is wrapped.
func Code(err error) string {
	for _, group := range kinds {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return target.Error()
			}
		}
	}
	return string(KindOf(err))
}
