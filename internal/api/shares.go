package api

import (
	"net/http"

	"github.com/dmitrymomot/filevault/internal/core"
	"github.com/dmitrymomot/filevault/internal/web"
)

type issueShareRequest struct {
	// TTLDays is absent or null for a link that never expires.
	TTLDays *int `json:"ttl_days"`
}

// shareLink is a link as shown to its owner.
type shareLink struct {
	core.ShareLink
	URL string `json:"url"`
}

func (a *API) shareURL(l core.ShareLink) shareLink {
	return shareLink{ShareLink: l, URL: a.baseURL + "/s/" + l.Token}
}

func (a *API) issueShare(c web.Context) error {
	var req issueShareRequest
	if c.Request().ContentLength != 0 {
		if err := c.BindJSON(&req); err != nil {
			return err
		}
	}
	l, err := a.svc.Shares.Issue(c, tenantID(c), c.Param("id"), req.TTLDays)
	if err != nil {
		return err
	}
	return ok(c, http.StatusCreated, map[string]any{"share": a.shareURL(l)})
}

func (a *API) listShares(c web.Context) error {
	links, err := a.svc.Shares.List(c, tenantID(c), c.Param("id"))
	if err != nil {
		return err
	}
	out := make([]shareLink, 0, len(links))
	for _, l := range links {
		out = append(out, a.shareURL(l))
	}
	return ok(c, http.StatusOK, map[string]any{"shares": out})
}

func (a *API) revokeShare(c web.Context) error {
	if err := a.svc.Shares.Revoke(c, tenantID(c), c.Param("id")); err != nil {
		return err
	}
	return ok(c, http.StatusOK, nil)
}

// accessLink redirects a share link visitor to a short-lived download URL.
func (a *API) accessLink(c web.Context) error {
	g, err := a.svc.Shares.AccessLink(c, c.Param("token"))
	if err != nil {
		return err
	}
	return grantResponse(c, g, !web.QueryFlag(c, "json"))
}

func (a *API) accessPublic(c web.Context) error {
	g, err := a.svc.Shares.AccessPublic(c, c.Param("id"))
	if err != nil {
		return err
	}
	return grantResponse(c, g, !web.QueryFlag(c, "json"))
}
