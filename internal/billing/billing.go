// Package billing resolves the effective plan of a tenant and applies plan
// and subscription events delivered by the billing provider.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dmitrymomot/filevault/internal/core"
	"github.com/dmitrymomot/filevault/internal/store"
	"github.com/dmitrymomot/filevault/pkg/cache"
	"github.com/dmitrymomot/filevault/pkg/id"
	"github.com/dmitrymomot/filevault/pkg/logger"
)

const (
	TemplateWelcome       = "welcome"
	TemplatePlanChanged   = "plan_changed"
	TemplatePlanDowngrade = "plan_downgraded"

	DefaultCacheTTL = 5 * time.Minute
)

type Notifier interface {
	Notify(ctx context.Context, tenantID, templateID string, data map[string]any)
}

type Service struct {
	store    store.Store
	cache    cache.Cache[core.Plan]
	notifier Notifier
	clock    core.Clock
	logger   *slog.Logger
	cacheTTL time.Duration
}

type Option func(*Service)

// WithCache memoizes ResolvePlan per tenant. Every billing event
// invalidates the tenant's entry.
func WithCache(c cache.Cache[core.Plan], ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithClock(c core.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:    st,
		clock:    core.SystemClock{},
		logger:   logger.Discard(),
		cacheTTL: DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func cacheKey(tenantID string) string { return "plan:" + tenantID }

// ResolvePlan returns the plan of the tenant's active subscription, else
// the plan on its quota profile, else the default plan. core.ErrNoPlan
// means none of them exists.
func (s *Service) ResolvePlan(ctx context.Context, tenantID string) (core.Plan, error) {
	if s.cache == nil {
		return s.resolvePlan(ctx, tenantID)
	}
	return cache.GetOrSet(ctx, s.cache, cacheKey(tenantID), func(ctx context.Context) (core.Plan, time.Duration, error) {
		p, err := s.resolvePlan(ctx, tenantID)
		return p, s.cacheTTL, err
	})
}

func (s *Service) resolvePlan(ctx context.Context, tenantID string) (core.Plan, error) {
	sub, err := s.store.ActiveSubscription(ctx, tenantID)
	switch {
	case err == nil:
		p, err := s.store.GetPlan(ctx, sub.PlanID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, core.ErrNotFound) {
			return core.Plan{}, err
		}
	case !errors.Is(err, core.ErrNotFound):
		return core.Plan{}, err
	}

	profile, err := s.store.GetQuotaProfile(ctx, tenantID)
	switch {
	case err == nil && profile.PlanID != nil:
		p, err := s.store.GetPlan(ctx, *profile.PlanID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, core.ErrNotFound) {
			return core.Plan{}, err
		}
	case err != nil && !errors.Is(err, core.ErrNotFound):
		return core.Plan{}, err
	}

	p, err := s.store.DefaultPlan(ctx)
	if errors.Is(err, core.ErrNotFound) {
		return core.Plan{}, core.ErrNoPlan
	}
	return p, err
}

func (s *Service) invalidate(ctx context.Context, tenantID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cacheKey(tenantID)); err != nil {
		s.logger.WarnContext(ctx, "plan cache invalidation failed",
			slog.String("tenant_id", tenantID),
			slog.Any("error", err),
		)
	}
}

// ListPlans returns the active catalogue by display order.
func (s *Service) ListPlans(ctx context.Context) ([]core.Plan, error) {
	plans, err := s.store.ListPlans(ctx, true)
	if err != nil {
		return nil, err
	}
	if plans == nil {
		plans = []core.Plan{}
	}
	return plans, nil
}

// SeedPlans upserts the catalogue by code. Running it again is harmless.
func (s *Service) SeedPlans(ctx context.Context) ([]core.Plan, error) {
	out := make([]core.Plan, 0, len(Catalogue))
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		for _, p := range Catalogue {
			saved, err := tx.UpsertPlan(ctx, p)
			if err != nil {
				return fmt.Errorf("seed plan %s: %w", p.Code, err)
			}
			out = append(out, saved)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Provision creates the tenant and its quota profile on the default plan.
// created is false when the tenant already existed. The welcome message
// is best effort.
func (s *Service) Provision(ctx context.Context, tenantID, email string) (t core.Tenant, created bool, err error) {
	if !id.Valid(tenantID) {
		return core.Tenant{}, false, core.Invalid("Invalid account id")
	}

	var planName string
	err = s.store.RunInTx(ctx, func(tx store.Store) error {
		var err error
		if created, err = tx.CreateTenant(ctx, core.Tenant{ID: tenantID, Email: email, CreatedAt: s.clock.Now()}); err != nil {
			return err
		}
		var planID *string
		switch def, err := tx.DefaultPlan(ctx); {
		case err == nil:
			planID, planName = &def.ID, def.Name
		case !errors.Is(err, core.ErrNotFound):
			return err
		}
		if err := tx.CreateQuotaProfile(ctx, core.QuotaProfile{TenantID: tenantID, PlanID: planID}); err != nil {
			return err
		}
		t, err = tx.GetTenant(ctx, tenantID)
		return err
	})
	if err != nil {
		return core.Tenant{}, false, err
	}

	if created {
		s.logger.InfoContext(ctx, "tenant provisioned", slog.String("tenant_id", tenantID))
		s.notify(ctx, tenantID, TemplateWelcome, map[string]any{"Email": email, "Plan": planName})
	}
	return t, created, nil
}

// PlanChange moves a tenant to a plan outside of any subscription.
type PlanChange struct {
	TenantID string `json:"tenant_id"`
	PlanCode string `json:"plan_code"`
}

func (s *Service) ApplyPlanChange(ctx context.Context, ev PlanChange) (core.Plan, error) {
	if ev.TenantID == "" || ev.PlanCode == "" {
		return core.Plan{}, core.Invalid("tenant_id and plan_code are required")
	}
	plan, err := s.planByCode(ctx, ev.PlanCode)
	if err != nil {
		return core.Plan{}, err
	}
	if err := s.store.SetProfilePlan(ctx, ev.TenantID, &plan.ID); err != nil {
		return core.Plan{}, err
	}
	s.invalidate(ctx, ev.TenantID)
	s.notify(ctx, ev.TenantID, TemplatePlanChanged, planData(plan))
	return plan, nil
}

// SubscriptionEvent mirrors the provider's view of one subscription.
type SubscriptionEvent struct {
	PeriodStart       time.Time               `json:"period_start"`
	PeriodEnd         time.Time               `json:"period_end"`
	Ref               string                  `json:"id"`
	TenantID          string                  `json:"tenant_id"`
	PlanCode          string                  `json:"plan_code"`
	Status            core.SubscriptionStatus `json:"status"`
	CancelAtPeriodEnd bool                    `json:"cancel_at_period_end"`
}

// ApplySubscriptionEvent upserts the subscription by its provider
// reference. Activation cancels any other active subscription of the
// tenant and switches the profile plan; a lapsed subscription downgrades
// the tenant to the default plan. Replaying an event is harmless.
func (s *Service) ApplySubscriptionEvent(ctx context.Context, ev SubscriptionEvent) (core.Subscription, error) {
	switch {
	case ev.Ref == "" || ev.TenantID == "" || ev.PlanCode == "":
		return core.Subscription{}, core.Invalid("id, tenant_id and plan_code are required")
	case !ev.Status.Valid():
		return core.Subscription{}, core.Invalid("Unknown subscription status %q", ev.Status)
	}
	plan, err := s.planByCode(ctx, ev.PlanCode)
	if err != nil {
		return core.Subscription{}, err
	}

	now := s.clock.Now()
	var (
		sub        core.Subscription
		template   string
		targetPlan core.Plan
	)
	err = s.store.RunInTx(ctx, func(tx store.Store) error {
		if _, err := tx.GetTenant(ctx, ev.TenantID); err != nil {
			return err
		}
		if ev.Status == core.SubscriptionActive {
			if _, err := tx.CancelOtherActive(ctx, ev.TenantID, ev.Ref, now); err != nil {
				return err
			}
		}
		var err error
		sub, err = tx.UpsertSubscription(ctx, core.Subscription{
			TenantID:          ev.TenantID,
			PlanID:            plan.ID,
			ExternalRef:       ev.Ref,
			Status:            ev.Status,
			PeriodStart:       ev.PeriodStart,
			PeriodEnd:         ev.PeriodEnd,
			CancelAtPeriodEnd: ev.CancelAtPeriodEnd,
		})
		if err != nil {
			return err
		}

		switch {
		case sub.Status == core.SubscriptionActive:
			template, targetPlan = TemplatePlanChanged, plan
			return tx.SetProfilePlan(ctx, ev.TenantID, &plan.ID)
		case sub.Lapsed(now):
			var done bool
			targetPlan, done, err = downgradeLapsed(ctx, tx, sub)
			if done {
				template = TemplatePlanDowngrade
			}
			return err
		}
		return nil
	})
	if err != nil {
		return core.Subscription{}, err
	}

	s.invalidate(ctx, ev.TenantID)
	if template != "" {
		s.notify(ctx, ev.TenantID, template, planData(targetPlan))
	}
	return sub, nil
}

// DowngradeLapsed moves tenants whose canceled or unpaid subscription ran
// past its period end back to the default plan. Tenants that already left
// the lapsed plan, or hold another active subscription, are skipped.
func (s *Service) DowngradeLapsed(ctx context.Context, now time.Time) (int, error) {
	lapsed, err := s.store.ListLapsed(ctx, now)
	if err != nil {
		return 0, err
	}

	var (
		n    int
		errs []error
	)
	for _, sub := range lapsed {
		var (
			done bool
			def  core.Plan
		)
		err := s.store.RunInTx(ctx, func(tx store.Store) error {
			var err error
			def, done, err = downgradeLapsed(ctx, tx, sub)
			return err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("downgrade tenant %s: %w", sub.TenantID, err))
			continue
		}
		if done {
			n++
			s.invalidate(ctx, sub.TenantID)
			s.notify(ctx, sub.TenantID, TemplatePlanDowngrade, planData(def))
		}
	}
	return n, errors.Join(errs...)
}

// downgradeLapsed downgrades the tenant of a lapsed subscription unless it
// holds another active subscription or already moved off the lapsed plan.
// done is false when the tenant was left alone.
func downgradeLapsed(ctx context.Context, tx store.Store, sub core.Subscription) (def core.Plan, done bool, err error) {
	if _, err := tx.ActiveSubscription(ctx, sub.TenantID); err == nil {
		return core.Plan{}, false, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		return core.Plan{}, false, err
	}
	profile, err := tx.GetQuotaProfile(ctx, sub.TenantID)
	if err != nil {
		return core.Plan{}, false, err
	}
	if profile.PlanID == nil || *profile.PlanID != sub.PlanID {
		return core.Plan{}, false, nil
	}
	def, err = downgrade(ctx, tx, sub.TenantID)
	return def, err == nil, err
}

// downgrade points the profile at the default plan, or at no plan when the
// catalogue has none.
func downgrade(ctx context.Context, tx store.Store, tenantID string) (core.Plan, error) {
	def, err := tx.DefaultPlan(ctx)
	switch {
	case err == nil:
		return def, tx.SetProfilePlan(ctx, tenantID, &def.ID)
	case errors.Is(err, core.ErrNotFound):
		return core.Plan{}, tx.SetProfilePlan(ctx, tenantID, nil)
	default:
		return core.Plan{}, err
	}
}

func (s *Service) planByCode(ctx context.Context, code string) (core.Plan, error) {
	plan, err := s.store.GetPlanByCode(ctx, code)
	if errors.Is(err, core.ErrNotFound) {
		return core.Plan{}, core.Invalid("Unknown plan %q", code)
	}
	return plan, err
}

func (s *Service) notify(ctx context.Context, tenantID, template string, data map[string]any) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, tenantID, template, data)
	}
}

func planData(p core.Plan) map[string]any {
	return map[string]any{
		"Plan":     p.Name,
		"PlanCode": p.Code,
		"Storage":  humanize.IBytes(uint64(max(p.MaxBytes, 0))),
	}
}
