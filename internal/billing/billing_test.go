package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/filevault/internal/billing"
	"github.com/dmitrymomot/filevault/internal/core"
	"github.com/dmitrymomot/filevault/internal/store"
	tu "github.com/dmitrymomot/filevault/internal/testutil"
	"github.com/dmitrymomot/filevault/pkg/cache"
	"github.com/dmitrymomot/filevault/pkg/id"
)

type env struct {
	svc    *billing.Service
	st     *store.Memory
	clock  *tu.StubClock
	notify *tu.Notifier
	plans  map[string]core.Plan
}

func newEnv(t *testing.T, opts ...billing.Option) *env {
	t.Helper()
	e := &env{st: store.NewMemory(), clock: tu.FixedClock(), notify: &tu.Notifier{}}
	opts = append([]billing.Option{billing.WithClock(e.clock), billing.WithNotifier(e.notify)}, opts...)
	e.svc = billing.New(e.st, opts...)

	seeded, err := e.svc.SeedPlans(context.Background())
	require.NoError(t, err)
	e.plans = make(map[string]core.Plan, len(seeded))
	for _, p := range seeded {
		e.plans[p.Code] = p
	}
	return e
}

func (e *env) provision(t *testing.T) string {
	t.Helper()
	tenantID := id.New()
	_, created, err := e.svc.Provision(context.Background(), tenantID, "owner@example.com")
	require.NoError(t, err)
	require.True(t, created)
	return tenantID
}

func (e *env) planCode(t *testing.T, tenantID string) string {
	t.Helper()
	p, err := e.svc.ResolvePlan(context.Background(), tenantID)
	require.NoError(t, err)
	return p.Code
}

func TestSeedPlans_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)

	again, err := e.svc.SeedPlans(ctx)
	require.NoError(t, err)
	for _, p := range again {
		assert.Equal(t, e.plans[p.Code].ID, p.ID, p.Code)
	}

	plans, err := e.svc.ListPlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 4)
	codes := make([]string, 0, len(plans))
	for _, p := range plans {
		codes = append(codes, p.Code)
	}
	assert.Equal(t, []string{"free", "basic", "pro", "enterprise"}, codes)
	assert.EqualValues(t, 500*tu.MB, plans[0].MaxBytes)
}

func TestProvision(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)

	tenantID := id.New()
	tenant, created, err := e.svc.Provision(ctx, tenantID, "owner@example.com")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "owner@example.com", tenant.Email)

	profile, err := e.st.GetQuotaProfile(ctx, tenantID)
	require.NoError(t, err)
	require.NotNil(t, profile.PlanID)
	assert.Equal(t, e.plans["free"].ID, *profile.PlanID)
	assert.Zero(t, profile.UsedBytes)

	_, created, err = e.svc.Provision(ctx, tenantID, "owner@example.com")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []string{billing.TemplateWelcome}, e.notify.Templates(), "welcome is sent once")
}

func TestProvision_InvalidID(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	_, _, err := e.svc.Provision(context.Background(), "not-a-uuid", "x@example.com")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestResolvePlan_NoPlan(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	svc := billing.New(st)
	tenantID := tu.SeedTenant(t, st, 0)

	_, err := svc.ResolvePlan(context.Background(), tenantID)
	assert.ErrorIs(t, err, core.ErrNoPlan)
}

func TestApplyPlanChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	tenantID := e.provision(t)

	plan, err := e.svc.ApplyPlanChange(ctx, billing.PlanChange{TenantID: tenantID, PlanCode: "basic"})
	require.NoError(t, err)
	assert.Equal(t, "basic", plan.Code)
	assert.Equal(t, "basic", e.planCode(t, tenantID))
	assert.Contains(t, e.notify.Templates(), billing.TemplatePlanChanged)

	_, err = e.svc.ApplyPlanChange(ctx, billing.PlanChange{TenantID: tenantID, PlanCode: "platinum"})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestApplySubscriptionEvent_Lifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	tenantID := e.provision(t)
	now := e.clock.Now()

	ev := billing.SubscriptionEvent{
		Ref:         "sub_1",
		TenantID:    tenantID,
		PlanCode:    "pro",
		Status:      core.SubscriptionActive,
		PeriodStart: now,
		PeriodEnd:   now.AddDate(0, 1, 0),
	}
	_, err := e.svc.ApplySubscriptionEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, "pro", e.planCode(t, tenantID))

	// Replaying the same event changes nothing.
	_, err = e.svc.ApplySubscriptionEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, "pro", e.planCode(t, tenantID))

	// Canceled with time left keeps the paid plan until period end.
	ev.Status = core.SubscriptionCanceled
	_, err = e.svc.ApplySubscriptionEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, "pro", e.planCode(t, tenantID))

	e.clock.Advance(32 * 24 * time.Hour)
	n, err := e.svc.DowngradeLapsed(ctx, e.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "free", e.planCode(t, tenantID))
	assert.Contains(t, e.notify.Templates(), billing.TemplatePlanDowngrade)

	n, err = e.svc.DowngradeLapsed(ctx, e.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n, "already downgraded")
}

func TestApplySubscriptionEvent_LapsedDowngradesImmediately(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	tenantID := e.provision(t)
	now := e.clock.Now()

	_, err := e.svc.ApplySubscriptionEvent(ctx, billing.SubscriptionEvent{
		Ref: "sub_1", TenantID: tenantID, PlanCode: "basic", Status: core.SubscriptionActive,
		PeriodStart: now.AddDate(0, -1, 0), PeriodEnd: now.Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "basic", e.planCode(t, tenantID))

	_, err = e.svc.ApplySubscriptionEvent(ctx, billing.SubscriptionEvent{
		Ref: "sub_1", TenantID: tenantID, PlanCode: "basic", Status: core.SubscriptionUnpaid,
		PeriodStart: now.AddDate(0, -1, 0), PeriodEnd: now.Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "free", e.planCode(t, tenantID))
}

func TestApplySubscriptionEvent_LateLapseKeepsNewerPlan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	tenantID := e.provision(t)
	now := e.clock.Now()

	_, err := e.svc.ApplyPlanChange(ctx, billing.PlanChange{TenantID: tenantID, PlanCode: "pro"})
	require.NoError(t, err)

	_, err = e.svc.ApplySubscriptionEvent(ctx, billing.SubscriptionEvent{
		Ref: "sub_old", TenantID: tenantID, PlanCode: "basic", Status: core.SubscriptionCanceled,
		PeriodStart: now.AddDate(0, -2, 0), PeriodEnd: now.AddDate(0, -1, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, "pro", e.planCode(t, tenantID))
	assert.NotContains(t, e.notify.Templates(), billing.TemplatePlanDowngrade)
}

func TestApplySubscriptionEvent_LateLapseKeepsActiveSubscription(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	tenantID := e.provision(t)
	now := e.clock.Now()

	_, err := e.svc.ApplySubscriptionEvent(ctx, billing.SubscriptionEvent{
		Ref: "sub_new", TenantID: tenantID, PlanCode: "basic", Status: core.SubscriptionActive,
		PeriodStart: now, PeriodEnd: now.AddDate(0, 1, 0),
	})
	require.NoError(t, err)

	_, err = e.svc.ApplySubscriptionEvent(ctx, billing.SubscriptionEvent{
		Ref: "sub_old", TenantID: tenantID, PlanCode: "basic", Status: core.SubscriptionUnpaid,
		PeriodStart: now.AddDate(0, -2, 0), PeriodEnd: now.AddDate(0, -1, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, "basic", e.planCode(t, tenantID))
	assert.NotContains(t, e.notify.Templates(), billing.TemplatePlanDowngrade)
}

func TestApplySubscriptionEvent_SecondActiveCancelsFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	tenantID := e.provision(t)
	now := e.clock.Now()

	for _, ev := range []billing.SubscriptionEvent{
		{Ref: "sub_1", TenantID: tenantID, PlanCode: "basic", Status: core.SubscriptionActive, PeriodStart: now, PeriodEnd: now.AddDate(0, 1, 0)},
		{Ref: "sub_2", TenantID: tenantID, PlanCode: "enterprise", Status: core.SubscriptionActive, PeriodStart: now, PeriodEnd: now.AddDate(0, 1, 0)},
	} {
		_, err := e.svc.ApplySubscriptionEvent(ctx, ev)
		require.NoError(t, err)
	}

	active, err := e.st.ActiveSubscription(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, "sub_2", active.ExternalRef)
	assert.Equal(t, "enterprise", e.planCode(t, tenantID))
}

func TestApplySubscriptionEvent_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	tenantID := e.provision(t)

	tests := []struct {
		name string
		ev   billing.SubscriptionEvent
		want error
	}{
		{"missing ref", billing.SubscriptionEvent{TenantID: tenantID, PlanCode: "basic", Status: core.SubscriptionActive}, core.ErrValidation},
		{"bad status", billing.SubscriptionEvent{Ref: "s", TenantID: tenantID, PlanCode: "basic", Status: "trialing"}, core.ErrValidation},
		{"unknown plan", billing.SubscriptionEvent{Ref: "s", TenantID: tenantID, PlanCode: "gold", Status: core.SubscriptionActive}, core.ErrValidation},
		{"unknown tenant", billing.SubscriptionEvent{Ref: "s", TenantID: id.New(), PlanCode: "basic", Status: core.SubscriptionActive}, core.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.ApplySubscriptionEvent(ctx, tt.ev)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDowngradeLapsed_SkipsTenantWithNewerPlan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	tenantID := e.provision(t)
	now := e.clock.Now()

	_, err := e.svc.ApplySubscriptionEvent(ctx, billing.SubscriptionEvent{
		Ref: "sub_1", TenantID: tenantID, PlanCode: "basic", Status: core.SubscriptionCanceled,
		PeriodStart: now, PeriodEnd: now.Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = e.svc.ApplyPlanChange(ctx, billing.PlanChange{TenantID: tenantID, PlanCode: "pro"})
	require.NoError(t, err)

	n, err := e.svc.DowngradeLapsed(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "pro", e.planCode(t, tenantID))
}

func TestResolvePlan_CacheInvalidatedOnChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := cache.NewMemory[core.Plan]()
	t.Cleanup(func() { _ = c.Close() })
	e := newEnv(t, billing.WithCache(c, time.Hour))
	tenantID := e.provision(t)

	assert.Equal(t, "free", e.planCode(t, tenantID))
	assert.Equal(t, 1, c.Len())

	_, err := e.svc.ApplyPlanChange(ctx, billing.PlanChange{TenantID: tenantID, PlanCode: "basic"})
	require.NoError(t, err)
	assert.Equal(t, "basic", e.planCode(t, tenantID))
}
