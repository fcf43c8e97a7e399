package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entitlements/internal/config"
	"github.com/smallbiznis/entitlements/internal/keylock"
	"github.com/smallbiznis/entitlements/internal/observability"
	"github.com/smallbiznis/entitlements/internal/seed"
	"github.com/smallbiznis/entitlements/internal/testutil/fixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, opts ...fixture.Option) (*fixture.Env, *Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := fixture.New(t, opts...)
	srv := NewServer(ServerParams{
		Gin:        NewEngine(observability.Config{}, nil),
		Cfg:        config.Config{Environment: "test"},
		Service:    env.Service,
		LiveEvents: env.Hub,
	})
	return env, srv
}

func doRequest(t *testing.T, srv *Server, method, path, role string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set(HeaderActorRole, role)
		req.Header.Set(HeaderActorID, "user-1")
	}

	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func consumePath(tenantID snowflake.ID, dimension string) string {
	return "/api/tenants/" + tenantID.String() + "/usage/" + dimension + "/consume"
}

type decisionBody struct {
	Allowed bool  `json:"allowed"`
	Current int64 `json:"current"`
	Limit   int64 `json:"limit"`
}

func TestConsumeReturnsDecisionForBothOutcomes(t *testing.T) {
	env, srv := newTestServer(t)
	tenantID := env.Provision(t, seed.PlanFree)

	rec := doRequest(t, srv, http.MethodPut,
		"/admin/tenants/"+tenantID.String()+"/overrides/"+seed.FeatureResponses,
		"support", map[string]any{"value": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for i, wantAllowed := range []bool{true, true, false} {
		rec = doRequest(t, srv, http.MethodPost, consumePath(tenantID, seed.DimensionResponses), "member", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var decision decisionBody
		decodeData(t, rec, &decision)
		assert.Equal(t, wantAllowed, decision.Allowed, "call %d", i)
		assert.Equal(t, int64(2), decision.Limit)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/tenants/"+tenantID.String()+"/usage", "member", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report struct {
		Dimensions map[string]struct {
			Current int64  `json:"current"`
			Status  string `json:"status"`
		} `json:"dimensions"`
	}
	decodeData(t, rec, &report)
	assert.Equal(t, int64(2), report.Dimensions[seed.DimensionResponses].Current)
	assert.Equal(t, "danger", report.Dimensions[seed.DimensionResponses].Status)
}

func TestConsumeHonoursAmount(t *testing.T) {
	env, srv := newTestServer(t)
	tenantID := env.Provision(t, seed.PlanFree)

	rec := doRequest(t, srv, http.MethodPost, consumePath(tenantID, seed.DimensionResponses), "member", map[string]any{"amount": 40})
	require.Equal(t, http.StatusOK, rec.Code)
	var decision decisionBody
	decodeData(t, rec, &decision)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(40), decision.Current)

	rec = doRequest(t, srv, http.MethodPost, consumePath(tenantID, seed.DimensionResponses), "member", map[string]any{"amount": 0})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_amount", payload.Errors[0].Code)
	assert.Equal(t, "amount", payload.Errors[0].Field)
}

func TestConsumeUnknownDimension(t *testing.T) {
	env, srv := newTestServer(t)
	tenantID := env.Provision(t, seed.PlanFree)

	rec := doRequest(t, srv, http.MethodPost, consumePath(tenantID, "nope"), "member", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "unknown_dimension", payload.Errors[0].Code)
}

func TestConsumeBusyIsRetryable(t *testing.T) {
	cfg := fixture.DefaultConfig()
	cfg.LockTimeout = 20 * time.Millisecond
	locker := keylock.NewMemoryLocker()
	env, srv := newTestServer(t, fixture.WithConfig(cfg), fixture.WithLocker(locker))
	tenantID := env.Provision(t, seed.PlanFree)

	release, err := locker.Acquire(context.Background(), "usage:"+tenantID.String()+":"+seed.DimensionResponses, time.Second)
	require.NoError(t, err)
	defer release()

	rec := doRequest(t, srv, http.MethodPost, consumePath(tenantID, seed.DimensionResponses), "member", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "busy", decodeError(t, rec).Type)
}

func TestRequestsWithoutActorAreRejected(t *testing.T) {
	env, srv := newTestServer(t)
	tenantID := env.Provision(t, seed.PlanFree)

	rec := doRequest(t, srv, http.MethodPost, consumePath(tenantID, seed.DimensionResponses), "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestScopedActorCannotReachOtherTenant(t *testing.T) {
	env, srv := newTestServer(t)
	own := env.Provision(t, seed.PlanFree)
	other := env.Provision(t, seed.PlanFree)

	consume := func(tenantID snowflake.ID, scope string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, consumePath(tenantID, seed.DimensionResponses), nil)
		req.Header.Set(HeaderActorRole, "member")
		req.Header.Set(HeaderActorID, "user-1")
		req.Header.Set(HeaderActorTenant, scope)
		rec := httptest.NewRecorder()
		srv.Engine().ServeHTTP(rec, req)
		return rec
	}

	rec := consume(own, own.String())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = consume(other, own.String())
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decodeError(t, rec).Type)

	rec = consume(own, "not-a-tenant")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	counters, err := env.Store.Counters(context.Background(), other)
	require.NoError(t, err)
	assert.Zero(t, counters[seed.DimensionResponses])
}

func TestConsumeRejectsOversizedAmount(t *testing.T) {
	env, srv := newTestServer(t)
	tenantID := env.Provision(t, seed.PlanFree)

	rec := doRequest(t, srv, http.MethodPost, consumePath(tenantID, seed.DimensionResponses), "member", map[string]any{"amount": int64(9223372036854775807)})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_amount", payload.Errors[0].Code)
}

func TestMemberCannotApplyPlan(t *testing.T) {
	env, srv := newTestServer(t)
	tenantID := env.Provision(t, seed.PlanFree)
	path := "/admin/tenants/" + tenantID.String() + "/plan"

	rec := doRequest(t, srv, http.MethodPut, path, "member", map[string]any{"plan_code": seed.PlanPro})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, srv, http.MethodPut, path, "admin", map[string]any{"plan_code": seed.PlanPro})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ents struct {
		PlanCode string `json:"plan_code"`
	}
	decodeData(t, rec, &ents)
	assert.Equal(t, seed.PlanPro, ents.PlanCode)

	rec = doRequest(t, srv, http.MethodPut, path, "admin", map[string]any{"plan_code": "platinum"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown_plan", decodeError(t, rec).Errors[0].Code)
}

func TestOverrideTypeMismatch(t *testing.T) {
	env, srv := newTestServer(t)
	tenantID := env.Provision(t, seed.PlanFree)

	rec := doRequest(t, srv, http.MethodPut,
		"/admin/tenants/"+tenantID.String()+"/overrides/"+seed.FeatureSSO,
		"support", map[string]any{"value": 5})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "feature_code", payload.Errors[0].Field)

	rec = doRequest(t, srv, http.MethodPut,
		"/admin/tenants/"+tenantID.String()+"/overrides/"+seed.FeatureSSO,
		"support", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_value", decodeError(t, rec).Errors[0].Code)
}

func TestProvisionAndFetchTenant(t *testing.T) {
	_, srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/admin/tenants", "admin", map[string]any{"tenant_id": "42", "plan_code": seed.PlanStarter})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(t, srv, http.MethodPost, "/admin/tenants", "admin", map[string]any{"tenant_id": "42"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/admin/tenants/42", "member", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sub struct {
		PlanCode      string `json:"plan_code"`
		BillingStatus string `json:"billing_status"`
	}
	decodeData(t, rec, &sub)
	assert.Equal(t, seed.PlanStarter, sub.PlanCode)
	assert.Equal(t, "active", sub.BillingStatus)

	rec = doRequest(t, srv, http.MethodGet, "/admin/tenants/404", "member", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/admin/tenants/abc", "member", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_tenant_id", decodeError(t, rec).Errors[0].Code)
}

func TestFeatureCatalogRoutes(t *testing.T) {
	_, srv := newTestServer(t)

	body := map[string]any{
		"code":          "max_workflows",
		"name":          "Workflows",
		"category":      "automation",
		"type":          "limit",
		"default_value": 3,
		"unit":          "workflows",
	}
	rec := doRequest(t, srv, http.MethodPost, "/admin/features", "member", body)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/admin/features", "admin", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(t, srv, http.MethodPost, "/admin/features", "admin", body)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/admin/features?category=automation", "member", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var features []struct {
		Code string `json:"code"`
	}
	decodeData(t, rec, &features)
	codes := make([]string, 0, len(features))
	for _, f := range features {
		codes = append(codes, f.Code)
	}
	assert.Contains(t, codes, "max_workflows")

	rec = doRequest(t, srv, http.MethodGet, "/admin/features?category=weather", "member", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetDueRouteReportsSummary(t *testing.T) {
	env, srv := newTestServer(t)
	env.Provision(t, seed.PlanFree)
	env.Clock.Set(time.Date(2026, 4, 1, 0, 5, 0, 0, time.UTC))

	rec := doRequest(t, srv, http.MethodPost, "/admin/usage/reset-due", "admin", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/admin/usage/reset-due", "system", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary struct {
		Scanned int `json:"scanned"`
		Reset   int `json:"reset"`
	}
	decodeData(t, rec, &summary)
	assert.Equal(t, 1, summary.Reset)
}

func TestListFiltersReportEveryBadParameter(t *testing.T) {
	_, srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/admin/features?category=weather&active=maybe", "admin", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "validation_error", payload.Type)
	codes := []string{}
	for _, e := range payload.Errors {
		codes = append(codes, e.Code)
	}
	assert.ElementsMatch(t, []string{"invalid_category", "invalid_active"}, codes)

	rec = doRequest(t, srv, http.MethodGet, "/admin/audit-logs?tenant_id=abc&start_at=yesterday", "admin", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, decodeError(t, rec).Errors, 2)
}

func TestAuditLogsFilterByActionGroup(t *testing.T) {
	env, srv := newTestServer(t)
	tenantID := env.Provision(t, seed.PlanFree)

	rec := doRequest(t, srv, http.MethodPut, "/admin/tenants/"+tenantID.String()+"/plan", "admin", map[string]any{"plan_code": seed.PlanPro})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, srv, http.MethodGet, "/admin/audit-logs?action=tenant.&tenant_id="+tenantID.String(), "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var logs []struct {
		Action string `json:"action"`
	}
	decodeData(t, rec, &logs)
	require.NotEmpty(t, logs)
	for _, entry := range logs {
		assert.Contains(t, entry.Action, "tenant.")
	}
}
