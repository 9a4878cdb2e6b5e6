package testutil

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/dmitrymomot/filevault/internal/core"
)

const MB = int64(1 << 20)

// StaticPlan resolves every tenant to the same plan.
type StaticPlan struct {
	Plan core.Plan
	Err  error
}

func (s StaticPlan) ResolvePlan(context.Context, string) (core.Plan, error) {
	return s.Plan, s.Err
}

// Notification is one recorded Notify call.
type Notification struct {
	Data     map[string]any
	TenantID string
	Template string
}

// Notifier records notifications.
type Notifier struct {
	mu    sync.Mutex
	calls []Notification
}

func (n *Notifier) Notify(_ context.Context, tenantID, templateID string, data map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, Notification{TenantID: tenantID, Template: templateID, Data: data})
}

func (n *Notifier) Calls() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.calls...)
}

// Templates lists the template ids in call order.
func (n *Notifier) Templates() []string {
	var out []string
	for _, c := range n.Calls() {
		out = append(out, c.Template)
	}
	return out
}

// Bytes is an n byte body.
func Bytes(n int) io.Reader { return bytes.NewReader(make([]byte, n)) }
