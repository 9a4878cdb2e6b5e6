package api

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/filevault/internal/core"
	"github.com/dmitrymomot/filevault/internal/web"
	"github.com/dmitrymomot/filevault/middlewares"
)

func (a *API) provisionAccount(c web.Context) error {
	t, _ := middlewares.GetTenant(c)
	tenant, created, err := a.svc.Billing.Provision(c, t.ID, t.Email)
	if err != nil {
		return err
	}
	a.provisioned.Store(t.ID, struct{}{})

	usage, err := a.svc.Ledger.Usage(c, t.ID)
	if err != nil {
		return err
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return ok(c, status, map[string]any{
		"account": map[string]any{"id": tenant.ID, "email": tenant.Email, "created_at": tenant.CreatedAt},
		"created": created,
		"quota":   usage,
	})
}

func (a *API) usage(c web.Context) error {
	u, err := a.svc.Ledger.Usage(c, tenantID(c))
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{"quota": u})
}

func (a *API) checkQuota(c web.Context) error {
	size := web.QueryDefault[int64](c, "size", -1)
	if size < 0 {
		return core.Invalid("size must be a non-negative number of bytes")
	}
	admit, err := a.svc.Ledger.CanAdmit(c, tenantID(c), size)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{"allowed": admit, "size": size})
}

func (a *API) resyncQuota(c web.Context) error {
	u, err := a.svc.Ledger.Resync(c, tenantID(c))
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{"quota": u})
}

func (a *API) listPlans(c web.Context) error {
	plans, err := a.svc.Billing.ListPlans(c)
	if err != nil {
		return err
	}
	current, err := a.svc.Billing.ResolvePlan(c, tenantID(c))
	if err != nil && !errors.Is(err, core.ErrNoPlan) {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{"plans": plans, "current": current.Code})
}
