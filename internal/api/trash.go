package api

import (
	"net/http"

	"github.com/dmitrymomot/filevault/internal/web"
)

func (a *API) listTrash(c web.Context) error {
	items, err := a.svc.Trash.List(c, tenantID(c))
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{"items": items})
}

func (a *API) restore(c web.Context) error {
	f, err := a.svc.Trash.Restore(c, tenantID(c), c.Param("id"))
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{"file": f})
}

// purge is idempotent: a file already gone purges successfully.
func (a *API) purge(c web.Context) error {
	if err := a.svc.Trash.Purge(c, tenantID(c), c.Param("id")); err != nil {
		return err
	}
	return ok(c, http.StatusOK, nil)
}

// emptyTrash reports partial progress along with the first failure.
func (a *API) emptyTrash(c web.Context) error {
	report, err := a.svc.Trash.EmptyTrash(c, tenantID(c))
	if err != nil {
		c.LogWarn("empty trash incomplete", "purged", report.Files, "failed", report.Failed, "error", err)
		if report.Files == 0 {
			return err
		}
	}
	return ok(c, http.StatusOK, map[string]any{"report": report})
}
