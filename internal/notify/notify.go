// Package notify delivers tenant notifications by email. Producers call
// Notify and never see delivery failures.
package notify

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/dmitrymomot/filevault/internal/quota"
	"github.com/dmitrymomot/filevault/internal/store"
	"github.com/dmitrymomot/filevault/pkg/job"
	"github.com/dmitrymomot/filevault/pkg/logger"
	"github.com/dmitrymomot/filevault/pkg/mailer"
)

// TaskSend delivers one queued notice.
const TaskSend = "send_notification"

// Templates that collapse duplicates queued within uniqueWindow.
var deduplicated = map[string]bool{quota.TemplateWarning: true}

const uniqueWindow = time.Minute

//go:embed templates
var embedded embed.FS

// Templates is the mailer template tree: one markdown file per template id
// and layouts/base.html.
func Templates() fs.FS {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}

type Notifier interface {
	Notify(ctx context.Context, tenantID, templateID string, data map[string]any)
}

// Notice is the payload of TaskSend.
type Notice struct {
	Data     map[string]any `json:"data"`
	TenantID string         `json:"tenant_id"`
	Template string         `json:"template"`
}

// Direct renders and sends inline.
type Direct struct {
	tenants store.Tenants
	mailer  *mailer.Mailer
	logger  *slog.Logger
}

func NewDirect(tenants store.Tenants, m *mailer.Mailer, log *slog.Logger) *Direct {
	if log == nil {
		log = logger.Discard()
	}
	return &Direct{tenants: tenants, mailer: m, logger: log}
}

func (d *Direct) Notify(ctx context.Context, tenantID, templateID string, data map[string]any) {
	if err := d.Deliver(ctx, Notice{TenantID: tenantID, Template: templateID, Data: data}); err != nil {
		d.logger.WarnContext(ctx, "notification not delivered",
			slog.String("tenant_id", tenantID),
			slog.String("template", templateID),
			slog.Any("error", err),
		)
	}
}

// Deliver sends n to the tenant's address and reports failures, which lets
// the queued task retry.
func (d *Direct) Deliver(ctx context.Context, n Notice) error {
	t, err := d.tenants.GetTenant(ctx, n.TenantID)
	if err != nil {
		return fmt.Errorf("notify: recipient: %w", err)
	}
	return d.mailer.Send(ctx, mailer.Message{
		To:       t.Email,
		Template: n.Template + ".md",
		Data:     n.Data,
		Tags:     map[string]string{"template": n.Template},
	})
}

// Handle runs TaskSend.
func (d *Direct) Handle(ctx context.Context, n Notice) error {
	return d.Deliver(ctx, n)
}

func (d *Direct) Name() string { return TaskSend }

// Queue hands notices to the job system; delivery happens in TaskSend.
type Queue struct {
	dispatcher job.Dispatcher
	logger     *slog.Logger
}

func NewQueue(d job.Dispatcher, log *slog.Logger) *Queue {
	if log == nil {
		log = logger.Discard()
	}
	return &Queue{dispatcher: d, logger: log}
}

func (q *Queue) Notify(ctx context.Context, tenantID, templateID string, data map[string]any) {
	opts := []job.EnqueueOption{job.MaxAttempts(5)}
	if deduplicated[templateID] {
		opts = append(opts, job.UniqueKey(tenantID+":"+templateID), job.UniqueFor(uniqueWindow))
	}
	err := q.dispatcher.Enqueue(context.WithoutCancel(ctx), TaskSend,
		Notice{TenantID: tenantID, Template: templateID, Data: data}, opts...)
	if err != nil {
		q.logger.WarnContext(ctx, "notification not queued",
			slog.String("tenant_id", tenantID),
			slog.String("template", templateID),
			slog.Any("error", err),
		)
	}
}

// Nop drops every notice.
type Nop struct{}

func (Nop) Notify(context.Context, string, string, map[string]any) {}

var (
	_ Notifier         = (*Direct)(nil)
	_ Notifier         = (*Queue)(nil)
	_ Notifier         = Nop{}
	_ job.Task[Notice] = (*Direct)(nil)
)
