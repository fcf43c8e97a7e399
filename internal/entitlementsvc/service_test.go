package entitlementsvc_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/smallbiznis/entitlements/internal/actorcontext"
	auditdomain "github.com/smallbiznis/entitlements/internal/audit/domain"
	"github.com/smallbiznis/entitlements/internal/authorization"
	entitlementdomain "github.com/smallbiznis/entitlements/internal/entitlement/domain"
	"github.com/smallbiznis/entitlements/internal/entitlementsvc"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	"github.com/smallbiznis/entitlements/internal/keylock"
	"github.com/smallbiznis/entitlements/internal/seed"
	subscriptiondomain "github.com/smallbiznis/entitlements/internal/subscription/domain"
	"github.com/smallbiznis/entitlements/internal/testutil/fixture"
	usagedomain "github.com/smallbiznis/entitlements/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func as(role string) context.Context {
	return actorcontext.WithActor(context.Background(), actorcontext.Actor{
		Type: actorcontext.ActorTypeUser,
		ID:   "user-" + role,
		Role: role,
	})
}

func requireKind(t *testing.T, err error, kind entitlementsvc.Kind) *entitlementsvc.Error {
	t.Helper()
	var typed *entitlementsvc.Error
	require.ErrorAs(t, err, &typed)
	require.Equal(t, kind, typed.Kind, err.Error())
	return typed
}

func TestMissingActorIsForbidden(t *testing.T) {
	env := fixture.New(t)
	tenantID := env.Provision(t, seed.PlanFree)

	_, err := env.Service.Resolve(context.Background(), tenantID)
	requireKind(t, err, entitlementsvc.KindForbidden)
}

func TestRolePermissions(t *testing.T) {
	env := fixture.New(t)
	tenantID := env.Provision(t, seed.PlanFree)

	_, err := env.Service.ApplyPlan(as(authorization.RoleMember), tenantID, seed.PlanPro)
	requireKind(t, err, entitlementsvc.KindForbidden)

	_, err = env.Service.SetCustomFeature(as(authorization.RoleSupport), entitlementdomain.SetCustomFeatureRequest{
		TenantID:    tenantID,
		FeatureCode: seed.FeatureSSO,
		Value:       featuredomain.BoolValue(true),
	})
	require.NoError(t, err)

	ents, err := env.Service.ApplyPlan(as(authorization.RoleAdmin), tenantID, seed.PlanPro)
	require.NoError(t, err)
	assert.Equal(t, seed.PlanPro, ents.PlanCode)

	_, err = env.Service.CancelTenant(as(authorization.RoleAdmin), tenantID)
	requireKind(t, err, entitlementsvc.KindForbidden)

	_, err = env.Service.ResetAllDuePeriods(as(authorization.RoleOwner))
	requireKind(t, err, entitlementsvc.KindForbidden)

	_, err = env.Service.ResetAllDuePeriods(actorcontext.WithSystemActor(context.Background(), "test"))
	require.NoError(t, err)

	sub, err := env.Service.CancelTenant(as(authorization.RoleOwner), tenantID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.BillingStatusCancelled, sub.BillingStatus)
}

func TestDeniedAuthorizationIsAudited(t *testing.T) {
	env := fixture.New(t)
	tenantID := env.Provision(t, seed.PlanFree)

	_, err := env.Service.ApplyPlan(as(authorization.RoleMember), tenantID, seed.PlanPro)
	requireKind(t, err, entitlementsvc.KindForbidden)

	logs, err := env.Service.ListAuditLogs(as(authorization.RoleSupport), auditdomain.ListAuditLogRequest{Action: "authorization.denied"})
	require.NoError(t, err)
	require.Len(t, logs.AuditLogs, 1)
	assert.Equal(t, authorization.ObjectTenant, *logs.AuditLogs[0].TargetID)
}

func TestErrorsAreTranslated(t *testing.T) {
	env := fixture.New(t)
	admin := as(authorization.RoleAdmin)
	tenantID := env.Provision(t, seed.PlanFree)

	_, err := env.Service.ApplyPlan(admin, tenantID, "platinum")
	requireKind(t, err, entitlementsvc.KindUnknownPlan)
	assert.ErrorIs(t, err, entitlementdomain.ErrUnknownPlan)

	_, err = env.Service.SetCustomFeature(admin, entitlementdomain.SetCustomFeatureRequest{
		TenantID:    tenantID,
		FeatureCode: seed.FeatureAPIAccess,
		Value:       featuredomain.LimitValue(3),
	})
	requireKind(t, err, entitlementsvc.KindTypeMismatch)

	_, err = env.Service.SetCustomFeature(admin, entitlementdomain.SetCustomFeatureRequest{
		TenantID:    tenantID,
		FeatureCode: "warp_drive",
		Value:       featuredomain.BoolValue(true),
	})
	requireKind(t, err, entitlementsvc.KindUnknownFeature)

	_, err = env.Service.GetTenant(admin, env.Node.Generate())
	requireKind(t, err, entitlementsvc.KindNotFound)

	_, err = env.Service.CreateFeature(admin, featuredomain.CreateRequest{
		Code:     seed.FeatureSSO,
		Name:     "SSO again",
		Category: featuredomain.CategoryCore,
		Type:     featuredomain.FeatureTypeBoolean,
	})
	requireKind(t, err, entitlementsvc.KindDuplicateCode)

	newType := featuredomain.FeatureTypeBoolean
	_, err = env.Service.UpdateFeature(admin, seed.FeatureMaxUsers, featuredomain.UpdateRequest{Type: &newType})
	requireKind(t, err, entitlementsvc.KindImmutableField)

	_, err = env.Service.CheckAndConsume(admin, tenantID, seed.DimensionResponses, 0)
	requireKind(t, err, entitlementsvc.KindInvalidArgument)
}

func TestConsumeDenialIsNotAnError(t *testing.T) {
	env := fixture.New(t)
	member := as(authorization.RoleMember)
	tenantID := env.Provision(t, seed.PlanFree)

	decision, err := env.Service.CheckAndConsume(member, tenantID, seed.DimensionAPICalls, 1)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.ErrorIs(t, decision.Err(), usagedomain.ErrLimitExceeded)
	assert.Equal(t, entitlementsvc.KindLimitExceeded, entitlementsvc.KindOf(decision.Err()))
}

func TestBusyIsRetryable(t *testing.T) {
	cfg := fixture.DefaultConfig()
	cfg.LockTimeout = 10 * time.Millisecond
	locker := keylock.NewMemoryLocker()
	env := fixture.New(t, fixture.WithConfig(cfg), fixture.WithLocker(locker))
	tenantID := env.Provision(t, seed.PlanFree)

	release, err := locker.Acquire(context.Background(), "tenant:"+tenantID.String(), time.Second)
	require.NoError(t, err)
	defer release()

	_, err = env.Service.ApplyPlan(as(authorization.RoleAdmin), tenantID, seed.PlanPro)
	typed := requireKind(t, err, entitlementsvc.KindBusy)
	assert.True(t, typed.Retryable())
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want entitlementsvc.Kind
	}{
		{err: fmt.Errorf("wrapped: %w", featuredomain.ErrNotFound), want: entitlementsvc.KindNotFound},
		{err: usagedomain.ErrBusy, want: entitlementsvc.KindBusy},
		{err: &usagedomain.LimitExceededError{Dimension: "responses"}, want: entitlementsvc.KindLimitExceeded},
		{err: &entitlementsvc.Error{Kind: entitlementsvc.KindForbidden}, want: entitlementsvc.KindForbidden},
		{err: errors.New("boom"), want: entitlementsvc.KindInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, entitlementsvc.KindOf(tc.err), tc.err.Error())
	}
	assert.False(t, (&entitlementsvc.Error{Kind: entitlementsvc.KindInternal}).Retryable())
}

func TestCatalogAdminIsAudited(t *testing.T) {
	env := fixture.New(t)
	admin := as(authorization.RoleAdmin)

	def, err := env.Service.CreateFeature(admin, featuredomain.CreateRequest{
		Name:         "Export to PDF",
		Category:     featuredomain.CategoryAnalytics,
		Type:         featuredomain.FeatureTypeBoolean,
		DefaultValue: featuredomain.BoolValue(false),
	})
	require.NoError(t, err)
	assert.Equal(t, "export_to_pdf", def.Code)

	logs, err := env.Service.ListAuditLogs(admin, auditdomain.ListAuditLogRequest{
		Action:  auditdomain.ActionFeatureCreated,
		ActorID: "user-" + authorization.RoleAdmin,
	})
	require.NoError(t, err)
	require.Len(t, logs.AuditLogs, 1)
	assert.Equal(t, "export_to_pdf", *logs.AuditLogs[0].TargetID)
}
