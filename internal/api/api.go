// Package api is the JSON surface of the service: tenant-scoped routes
// under /api, unauthenticated share and public downloads, and the billing
// webhook.
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dmitrymomot/filevault/internal/billing"
	"github.com/dmitrymomot/filevault/internal/fsgraph"
	"github.com/dmitrymomot/filevault/internal/quota"
	"github.com/dmitrymomot/filevault/internal/sharing"
	"github.com/dmitrymomot/filevault/internal/trash"
	"github.com/dmitrymomot/filevault/internal/upload"
	"github.com/dmitrymomot/filevault/internal/web"
	"github.com/dmitrymomot/filevault/middlewares"
	"github.com/dmitrymomot/filevault/pkg/logger"
)

// Services are the domain operations behind the routes.
type Services struct {
	Billing *billing.Service
	Ledger  *quota.Ledger
	Files   *fsgraph.Service
	Trash   *trash.Service
	Shares  *sharing.Service
	Uploads *upload.Service
}

// API declares every route of the service.
type API struct {
	svc            Services
	logger         *slog.Logger
	provisioned    sync.Map
	baseURL        string
	jwtSecret      []byte
	webhookSecret  []byte
	requestTimeout time.Duration
}

type Option func(*API)

// WithBaseURL is the public origin used to build share link URLs.
func WithBaseURL(u string) Option {
	return func(a *API) { a.baseURL = strings.TrimRight(u, "/") }
}

// WithWebhookSecret enables POST /webhooks/billing.
func WithWebhookSecret(secret string) Option {
	return func(a *API) { a.webhookSecret = []byte(secret) }
}

// WithRequestTimeout bounds every route except uploads. Default: 30s.
func WithRequestTimeout(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.requestTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

func New(svc Services, jwtSecret string, opts ...Option) *API {
	a := &API{
		svc:            svc,
		jwtSecret:      []byte(jwtSecret),
		logger:         logger.Discard(),
		requestTimeout: middlewares.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *API) Routes(r web.Router) {
	r.Group(func(r web.Router) {
		r.Use(middlewares.Timeout(a.requestTimeout))
		r.GET("/s/{token}", a.accessLink)
		r.GET("/public/files/{id}", a.accessPublic)
		if len(a.webhookSecret) > 0 {
			r.POST("/webhooks/billing", a.billingWebhook)
		}
	})

	r.Route("/api", func(r web.Router) {
		r.Use(middlewares.Auth(a.jwtSecret))
		r.POST("/account", a.provisionAccount)

		r.Group(func(r web.Router) {
			r.Use(a.ensureTenant)

			// Uploads are bounded by the server read timeout instead.
			r.POST("/files", a.uploadFile)

			r.Group(func(r web.Router) {
				r.Use(middlewares.Timeout(a.requestTimeout))

				r.GET("/quota", a.usage)
				r.GET("/quota/check", a.checkQuota)
				r.POST("/quota/resync", a.resyncQuota)
				r.GET("/plans", a.listPlans)

				r.GET("/folders", a.listFolder)
				r.POST("/folders", a.createFolder)
				r.DELETE("/folders/{id}", a.deleteFolder)

				r.GET("/files/{id}", a.getFile)
				r.GET("/files/{id}/download", a.ownerURL(sharing.Download))
				r.GET("/files/{id}/preview", a.ownerURL(sharing.Preview))
				r.DELETE("/files/{id}", a.deleteFile)
				r.POST("/files/{id}/star", a.starFile)
				r.POST("/files/{id}/move", a.moveFile)
				r.POST("/files/{id}/visibility", a.setVisibility)
				r.POST("/files/{id}/shares", a.issueShare)
				r.GET("/files/{id}/shares", a.listShares)
				r.DELETE("/shares/{id}", a.revokeShare)

				r.GET("/trash", a.listTrash)
				r.DELETE("/trash", a.emptyTrash)
				r.POST("/trash/{id}/restore", a.restore)
				r.DELETE("/trash/{id}", a.purge)
			})
		})
	})
}

// ensureTenant provisions the caller on its first request so a valid token
// is enough to start using the service.
func (a *API) ensureTenant(next web.HandlerFunc) web.HandlerFunc {
	return func(c web.Context) error {
		t, _ := middlewares.GetTenant(c)
		if _, ok := a.provisioned.Load(t.ID); !ok {
			if _, _, err := a.svc.Billing.Provision(c, t.ID, t.Email); err != nil {
				return err
			}
			a.provisioned.Store(t.ID, struct{}{})
		}
		return next(c)
	}
}

// tenantID is the authenticated caller; routes under /api always have one.
func tenantID(c web.Context) string {
	return middlewares.TenantID(c)
}

// ok renders the success envelope with fields merged in.
func ok(c web.Context, status int, fields map[string]any) error {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["success"] = true
	return c.JSON(status, body)
}

// optionalID reads an id that may be absent, where absent means the root.
func optionalID(raw string) *string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "root" {
		return nil
	}
	return &raw
}

// grantResponse answers with the URL, or redirects when asked to.
func grantResponse(c web.Context, g sharing.Grant, redirect bool) error {
	if redirect {
		c.SetHeader("Cache-Control", "no-store")
		return c.Redirect(http.StatusFound, g.URL)
	}
	return ok(c, http.StatusOK, map[string]any{"url": g.URL, "expires_at": g.ExpiresAt, "file": g.File})
}
