package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitlements/pkg/db/pagination"
)

// Service manages the subscription lifecycle. Feature state is owned by the entitlement resolver.
type Service interface {
	Get(ctx context.Context, tenantID snowflake.ID) (*TenantSubscription, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	UpdateStatus(ctx context.Context, tenantID snowflake.ID, status BillingStatus) (*TenantSubscription, error)
	Cancel(ctx context.Context, tenantID snowflake.ID) (*TenantSubscription, error)
}

type ListRequest struct {
	pagination.Pagination
	Status   string
	PlanCode string
}

type ListResponse struct {
	pagination.PageInfo
	Subscriptions []TenantSubscription `json:"subscriptions"`
}

var (
	ErrNotFound           = errors.New("tenant_not_found")
	ErrAlreadyProvisioned = errors.New("tenant_already_provisioned")
	ErrInvalidTenant      = errors.New("invalid_tenant")
	ErrInvalidStatus      = errors.New("invalid_billing_status")
	ErrInvalidCycle       = errors.New("invalid_billing_cycle")
	ErrInvalidPageToken   = errors.New("invalid_page_token")
)
