// Package quota keeps the per-tenant storage counter. Admission is one
// conditional increment held as a reservation until the file row lands, so
// concurrent uploads can never overshoot a plan limit together.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dmitrymomot/filevault/internal/core"
	"github.com/dmitrymomot/filevault/internal/metrics"
	"github.com/dmitrymomot/filevault/internal/store"
	"github.com/dmitrymomot/filevault/pkg/id"
	"github.com/dmitrymomot/filevault/pkg/logger"
)

const (
	// TemplateWarning is sent once a reservation crosses the warning threshold.
	TemplateWarning = "quota_warning"

	// DefaultReservationTTL is how long an unsettled reservation counts
	// towards usage on resync. It outlives any upload the server accepts.
	DefaultReservationTTL = 24 * time.Hour
)

// PlanResolver returns the plan that bounds a tenant's usage.
type PlanResolver interface {
	ResolvePlan(ctx context.Context, tenantID string) (core.Plan, error)
}

// Notifier receives quota warnings.
type Notifier interface {
	Notify(ctx context.Context, tenantID, templateID string, data map[string]any)
}

// Usage is a snapshot of a tenant's consumption against its plan.
type Usage struct {
	Plan    core.Plan `json:"plan"`
	Used    int64     `json:"used_bytes"`
	Max     int64     `json:"max_bytes"`
	Percent float64   `json:"percent"`
	Files   int       `json:"files"`
	Trashed int       `json:"trashed_files"`
}

// Reservation is an admitted charge for an upload in flight. Settle it in
// the transaction that records the file, or Cancel it when the upload fails.
type Reservation struct {
	Usage
	ID       string
	TenantID string
	Bytes    int64
}

func newUsage(plan core.Plan, used int64) Usage {
	u := Usage{Plan: plan, Used: used, Max: plan.MaxBytes}
	if plan.MaxBytes > 0 {
		u.Percent = float64(used) / float64(plan.MaxBytes) * 100
	}
	return u
}

// Ledger enforces plan limits on the quota counter.
type Ledger struct {
	store    store.Quotas
	plans    PlanResolver
	notifier Notifier
	metrics  *metrics.Metrics
	clock    core.Clock
	logger   *slog.Logger
	warnAt   float64
	staleTTL time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithNotifier sends quota warnings through n.
func WithNotifier(n Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

// WithMetrics counts rejections and invariant violations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithClock sets the time source for reservations.
func WithClock(c core.Clock) Option {
	return func(l *Ledger) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithReservationTTL sets how long an unsettled reservation survives a
// resync. Default: DefaultReservationTTL.
func WithReservationTTL(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.staleTTL = d
		}
	}
}

// WithLogger sets the logger for invariant violations.
func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.logger = log
		}
	}
}

// WithWarningThreshold sets the usage fraction that triggers a warning.
// Default: 0.9.
func WithWarningThreshold(f float64) Option {
	return func(l *Ledger) {
		if f > 0 && f <= 1 {
			l.warnAt = f
		}
	}
}

// New returns a Ledger over st that takes limits from plans.
func New(st store.Quotas, plans PlanResolver, opts ...Option) *Ledger {
	l := &Ledger{
		store:    st,
		plans:    plans,
		clock:    core.SystemClock{},
		logger:   logger.Discard(),
		warnAt:   0.9,
		staleTTL: DefaultReservationTTL,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// In returns a ledger writing through tx.
func (l *Ledger) In(tx store.Quotas) *Ledger {
	c := *l
	c.store = tx
	return &c
}

// Usage reports the counter, the effective plan and file counts.
func (l *Ledger) Usage(ctx context.Context, tenantID string) (Usage, error) {
	plan, err := l.plans.ResolvePlan(ctx, tenantID)
	if err != nil {
		return Usage{}, err
	}
	profile, err := l.store.GetQuotaProfile(ctx, tenantID)
	if err != nil {
		return Usage{}, err
	}
	u := newUsage(plan, profile.UsedBytes)
	if u.Files, u.Trashed, err = l.store.CountFiles(ctx, tenantID); err != nil {
		return Usage{}, err
	}
	return u, nil
}

// CanAdmit reports whether n more bytes fit the plan. It is advisory;
// Reserve is the authoritative check. No resolvable plan admits nothing.
func (l *Ledger) CanAdmit(ctx context.Context, tenantID string, n int64) (bool, error) {
	if n < 0 {
		return false, core.Invalid("Size must not be negative")
	}
	plan, err := l.plans.ResolvePlan(ctx, tenantID)
	if errors.Is(err, core.ErrNoPlan) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	profile, err := l.store.GetQuotaProfile(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return profile.UsedBytes+n <= plan.MaxBytes, nil
}

// Reserve admits and charges n bytes in one step. It fails with
// core.ErrQuotaExceeded when the plan limit would be passed. The charge is
// held as a reservation until the file row is written, so a resync running
// meanwhile keeps counting it.
func (l *Ledger) Reserve(ctx context.Context, tenantID string, n int64) (Reservation, error) {
	if n < 0 {
		return Reservation{}, core.Invalid("Size must not be negative")
	}
	plan, err := l.plans.ResolvePlan(ctx, tenantID)
	if err != nil {
		return Reservation{}, err
	}

	r := core.Reservation{ID: id.New(), TenantID: tenantID, Bytes: n, CreatedAt: l.clock.Now()}
	used, ok, err := l.store.ReserveUsage(ctx, r, plan.MaxBytes)
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve quota: %w", err)
	}
	res := Reservation{Usage: newUsage(plan, used), ID: r.ID, TenantID: tenantID, Bytes: n}
	if !ok {
		l.metrics.QuotaRejected()
		return res, core.WithMessage(core.ErrQuotaExceeded, fmt.Sprintf(
			"Storage limit exceeded: %s of %s used, %s requested",
			humanize.IBytes(uint64(used)), humanize.IBytes(uint64(plan.MaxBytes)), humanize.IBytes(uint64(n)),
		))
	}

	l.warnIfCrossed(ctx, tenantID, plan, used-n, used)
	return res, nil
}

// Settle turns the reservation into stored bytes. Run it in the
// transaction that inserts the file row.
func (l *Ledger) Settle(ctx context.Context, r Reservation) error {
	ok, err := l.store.SettleReservation(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("settle reservation: %w", err)
	}
	if !ok {
		// Dropped as stale by a resync; the next resync counts the file row.
		l.logger.WarnContext(ctx, "settling a reservation that is no longer held",
			slog.String("tenant_id", r.TenantID),
			slog.String("reservation_id", r.ID),
			slog.Int64("bytes", r.Bytes),
		)
	}
	return nil
}

// Cancel returns the reserved bytes of a failed upload.
func (l *Ledger) Cancel(ctx context.Context, r Reservation) error {
	if _, _, err := l.store.CancelReservation(ctx, r.ID); err != nil {
		return fmt.Errorf("cancel reservation: %w", err)
	}
	return nil
}

// Release returns n bytes. The counter never goes below zero; an
// underflow is logged and counted as an invariant violation.
func (l *Ledger) Release(ctx context.Context, tenantID string, n int64) (int64, error) {
	if n < 0 {
		return 0, core.Invalid("Size must not be negative")
	}
	used, underflow, err := l.store.SubtractUsage(ctx, tenantID, n)
	if err != nil {
		return 0, fmt.Errorf("release quota: %w", err)
	}
	if underflow {
		l.metrics.InvariantViolation("quota_underflow")
		l.logger.ErrorContext(ctx, "quota counter underflow",
			slog.String("tenant_id", tenantID),
			slog.Int64("released", n),
			slog.Any("error", core.ErrInvariantViolation),
		)
	}
	return used, nil
}

// Resync overwrites the counter with the sum of the tenant's file sizes
// and live reservations. A changed value means the counter had drifted.
func (l *Ledger) Resync(ctx context.Context, tenantID string) (Usage, error) {
	before, after, err := l.store.RecomputeUsage(ctx, tenantID, l.clock.Now().Add(-l.staleTTL))
	if err != nil {
		return Usage{}, fmt.Errorf("resync quota: %w", err)
	}
	if before != after {
		l.metrics.InvariantViolation("quota_drift")
		l.logger.WarnContext(ctx, "quota counter drift corrected",
			slog.String("tenant_id", tenantID),
			slog.Int64("before", before),
			slog.Int64("after", after),
			slog.Any("error", core.ErrInvariantViolation),
		)
	}
	return l.Usage(ctx, tenantID)
}

func (l *Ledger) warnIfCrossed(ctx context.Context, tenantID string, plan core.Plan, before, after int64) {
	if l.notifier == nil || plan.MaxBytes <= 0 {
		return
	}
	threshold := int64(float64(plan.MaxBytes) * l.warnAt)
	if before >= threshold || after < threshold {
		return
	}
	l.notifier.Notify(ctx, tenantID, TemplateWarning, map[string]any{
		"Percent": int(after * 100 / plan.MaxBytes),
		"Used":    humanize.IBytes(uint64(after)),
		"Max":     humanize.IBytes(uint64(plan.MaxBytes)),
		"Plan":    plan.Name,
	})
}
