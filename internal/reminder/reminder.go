// Package reminder publishes an event for checkouts that were started but
// never paid, so a downstream mailer can nudge the customer.
package reminder

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/robfig/cron"
	"go.uber.org/zap"

	"github.com/xenking/conscious-checkout/internal/domain/order"
	"github.com/xenking/conscious-checkout/internal/events"
)

// Config controls the reminder job.
type Config struct {
	Enabled  bool          `yaml:"enabled" default:"true"`
	Schedule string        `yaml:"schedule" default:"@hourly"`
	After    time.Duration `yaml:"after" default:"24h"`
	Batch    int           `yaml:"batch" default:"100"`
}

// Orders is the slice of order storage the job needs.
type Orders interface {
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]order.Order, error)
	MarkReminded(ctx context.Context, id string, at time.Time) error
}

// Job finds stale pending orders and emits OrderAbandoned for each.
type Job struct {
	cfg    Config
	orders Orders
	pub    events.Publisher
	lg     *zap.Logger
	now    func() time.Time
}

// New creates a Job.
func New(cfg Config, orders Orders, pub events.Publisher, lg *zap.Logger) *Job {
	if cfg.Schedule == "" {
		cfg.Schedule = "@hourly"
	}
	if cfg.After <= 0 {
		cfg.After = 24 * time.Hour
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	return &Job{cfg: cfg, orders: orders, pub: pub, lg: lg, now: time.Now}
}

// RunOnce processes one batch and returns how many orders were reminded.
// An order is marked only after its event was accepted, so a failed publish
// is retried on the next run.
func (j *Job) RunOnce(ctx context.Context) (int, error) {
	now := j.now()
	stale, err := j.orders.ListStalePending(ctx, now.Add(-j.cfg.After), j.cfg.Batch)
	if err != nil {
		return 0, errors.Wrap(err, "list stale orders")
	}

	sent := 0
	for _, o := range stale {
		ev := events.New(events.OrderAbandoned, now, events.OrderPayload{
			OrderID:     o.ID,
			Email:       o.Email,
			Status:      string(o.PaymentStatus),
			TotalAmount: o.TotalAmount,
			Discount:    o.Discount,
			CouponCode:  o.CouponCode,
		})
		if err := j.pub.Publish(ctx, ev); err != nil {
			j.lg.Warn("Publish reminder", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		if err := j.orders.MarkReminded(ctx, o.ID, now); err != nil {
			return sent, errors.Wrapf(err, "mark order %s reminded", o.ID)
		}
		sent++
	}
	return sent, nil
}

// Start schedules the job until ctx is done.
func (j *Job) Start(ctx context.Context) error {
	c := cron.New()
	if err := c.AddFunc(j.cfg.Schedule, func() {
		n, err := j.RunOnce(ctx)
		if err != nil {
			j.lg.Error("Reminder run failed", zap.Error(err))
			return
		}
		if n > 0 {
			j.lg.Info("Reminders published", zap.Int("count", n))
		}
	}); err != nil {
		return errors.Wrapf(err, "schedule %q", j.cfg.Schedule)
	}

	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return nil
}
