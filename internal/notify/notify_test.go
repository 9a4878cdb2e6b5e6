package notify_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/filevault/internal/billing"
	"github.com/dmitrymomot/filevault/internal/notify"
	"github.com/dmitrymomot/filevault/internal/quota"
	"github.com/dmitrymomot/filevault/internal/store"
	tu "github.com/dmitrymomot/filevault/internal/testutil"
	"github.com/dmitrymomot/filevault/internal/trash"
	"github.com/dmitrymomot/filevault/pkg/job"
	"github.com/dmitrymomot/filevault/pkg/mailer"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, email *mailer.Email) error {
	return m.Called(email).Error(0)
}

func newDirect(t *testing.T, sender mailer.Sender) (*notify.Direct, string) {
	t.Helper()
	st := store.NewMemory()
	tenantID := tu.SeedTenant(t, st, 0)
	m := mailer.New(sender, mailer.NewRenderer(notify.Templates()), mailer.Config{})
	return notify.NewDirect(st, m, nil), tenantID
}

func TestDirect_RendersEveryTemplate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		template string
		data     map[string]any
		subject  string
	}{
		{billing.TemplateWelcome, map[string]any{"Email": "tenant@example.com", "Plan": "Free"}, "Welcome to FileVault"},
		{quota.TemplateWarning, map[string]any{"Percent": 91, "Used": "455 MiB", "Max": "500 MiB", "Plan": "Free"}, "You are using 91% of your storage"},
		{billing.TemplatePlanChanged, map[string]any{"Plan": "Basic", "PlanCode": "basic", "Storage": "5.0 GiB"}, "Your plan is now Basic"},
		{billing.TemplatePlanDowngrade, map[string]any{"Plan": "", "PlanCode": "", "Storage": "0 B"}, "Your subscription has ended"},
		{trash.TemplatePurged, map[string]any{"Files": 3, "RetentionDays": 30}, "Files removed from your trash"},
	}
	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			t.Parallel()
			sender := &mockSender{}
			sender.On("Send", mock.MatchedBy(func(e *mailer.Email) bool {
				return e.Subject == tt.subject &&
					assert.ObjectsAreEqual([]string{"tenant@example.com"}, e.To) &&
					e.Tags["template"] == tt.template
			})).Return(nil).Once()

			d, tenantID := newDirect(t, sender)
			require.NoError(t, d.Deliver(ctx, notify.Notice{TenantID: tenantID, Template: tt.template, Data: tt.data}))
			sender.AssertExpectations(t)
		})
	}
}

func TestDirect_NotifySwallowsErrors(t *testing.T) {
	t.Parallel()
	sender := &mockSender{}
	sender.On("Send", mock.Anything).Return(errors.New("smtp down")).Once()
	d, tenantID := newDirect(t, sender)

	assert.NotPanics(t, func() {
		d.Notify(context.Background(), tenantID, billing.TemplatePlanChanged, map[string]any{"Plan": "Pro", "PlanCode": "pro", "Storage": "50 GiB"})
	})
	sender.AssertExpectations(t)
}

func TestDirect_UnknownTenant(t *testing.T) {
	t.Parallel()
	d, _ := newDirect(t, &mockSender{})
	err := d.Deliver(context.Background(), notify.Notice{TenantID: "missing", Template: billing.TemplateWelcome})
	assert.Error(t, err)
}

func TestQueue_DeliversThroughTask(t *testing.T) {
	t.Parallel()
	sender := &mockSender{}
	sender.On("Send", mock.MatchedBy(func(e *mailer.Email) bool {
		return e.Subject == "Files removed from your trash"
	})).Return(nil).Once()
	d, tenantID := newDirect(t, sender)

	local := job.NewLocal(job.WithTask[notify.Notice](d))
	notify.NewQueue(local, nil).Notify(context.Background(), tenantID, trash.TemplatePurged, map[string]any{"Files": 2, "RetentionDays": 30})
	sender.AssertExpectations(t)
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Enqueue(_ context.Context, name string, payload any, opts ...job.EnqueueOption) error {
	return m.Called(name, payload, len(opts)).Error(0)
}

func TestQueue_DeduplicatesQuotaWarnings(t *testing.T) {
	t.Parallel()
	d := &mockDispatcher{}
	d.On("Enqueue", notify.TaskSend, mock.AnythingOfType("notify.Notice"), 3).Return(nil).Once()
	d.On("Enqueue", notify.TaskSend, mock.AnythingOfType("notify.Notice"), 1).Return(errors.New("queue down")).Once()

	q := notify.NewQueue(d, nil)
	q.Notify(context.Background(), "t1", quota.TemplateWarning, map[string]any{"Percent": 95})
	q.Notify(context.Background(), "t1", billing.TemplateWelcome, nil)
	d.AssertExpectations(t)
}
